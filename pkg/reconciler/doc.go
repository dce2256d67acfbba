// Package reconciler detects agents that have gone silent and removes them
// from the scheduler so their workload is rescheduled elsewhere.
//
// Unlike the manager-era reconciler this module grew out of, it owns a
// single concern: agent liveness. Container-group garbage collection
// (sweeping fully-terminated groups) lives directly on the scheduler's own
// gc loop, since that sweep needs no view of agent heartbeats at all.
package reconciler

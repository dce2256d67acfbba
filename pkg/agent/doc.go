// Package agent implements a simulated worker host.
//
// An Agent registers itself with a manager's Intent API, then heartbeats
// its reported container set on a fixed interval and applies whatever
// AgentCommands come back. It carries no container runtime: CreateContainer
// commands are recorded as Ready immediately, DestroyContainer commands
// just drop the local entry. This is enough to drive the scheduler's
// heartbeat-diffing and rolling-update pacing end to end without a real
// cgroup/mount/namespace layer underneath.
package agent

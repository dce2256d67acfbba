// Package cluster provides the raft-replicated control plane: a quorum of
// manager nodes agreeing on one ordered log of intent operations, each
// replayed deterministically into a scheduler.Scheduler.
//
// Unlike the single-entity-per-bucket store this package's predecessor
// wrote to on every operation, orbitFSM treats the Scheduler's in-memory
// state as authoritative and only mirrors ContainerGroupMeta into bbolt.
// Nothing reads that mirror back at startup; a restarted node rebuilds its
// state from the raft snapshot and log. Agent rosters are not part of the
// snapshot or the mirror, and a heartbeat from an unknown agent does not
// register it — the agent has to be added again through AddAgent.
package cluster

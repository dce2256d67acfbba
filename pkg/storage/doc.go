// Package storage persists container-group intent to disk using bbolt, the
// same embedded, transactional key-value engine the cluster's raft log
// uses for its own storage. A single bucket keyed by group id holds the
// latest ContainerGroupMeta snapshot; the scheduler's in-memory state is
// the source of truth for everything else (agent rosters, live placement)
// and is rebuilt from raft log replay on startup.
package storage

/*
Package api implements the HTTP+JSON Intent API served by each manager node.

It is the only write path into a Cluster's raft log and the read path
backing orbitctl and the per-agent heartbeat loop. Handlers are grouped by
resource: handlers_groups.go (container groups and their containers),
handlers_agents.go (agent roster and heartbeats), handlers_cluster.go (raft
join), plus health.go/server.go for liveness and readiness.

# Routing

Routes are registered on the stdlib's enhanced http.ServeMux (Go 1.22+),
using method-qualified patterns and {wildcard} path segments:

	s.mux.Handle("POST /v1/groups", instrument("SubmitGroup", http.HandlerFunc(s.handleSubmitGroup)))
	s.mux.Handle("GET /v1/groups/{id}", instrument("ShowGroup", http.HandlerFunc(s.handleShowGroup)))

No router dependency is pulled in for this: the standard mux's pattern
matching covers every route this API needs.

# Write path

Every mutating handler calls through to a *cluster.Cluster method, which
seals any nondeterministic identifiers (container group IDs, version
tokens) before proposing the operation to raft. A handler never mutates
scheduler state directly; it either proposes through the Cluster or reads
from the local *scheduler.Scheduler.

# Leader forwarding

Writes routed to a non-leader node fail inside cluster.apply with an
error naming the current leader; handlers surface that as a 500 and let
the caller retry against the leader address. Reads are always served
locally and may be briefly stale on a follower.

# Error mapping

writeError inspects the returned error: a *scheduler.OpError maps to the
appropriate 4xx via errors.go's errorStatus, anything else is a 500.

# Instrumentation

Every route is wrapped by middleware.go's instrument(), which records
orbit_api_requests_total and orbit_api_request_duration_seconds per
method using pkg/metrics.

# Join tokens

handleClusterJoin validates the request's token against the Cluster's
TokenManager before calling AddVoter, so only a node holding a token
minted by the current leader can join the raft quorum.

# Integration Points

  - pkg/cluster: processes every proposed operation and exposes the
    Scheduler for reads
  - pkg/metrics: request instrumentation and the /metrics endpoint
  - pkg/types: wire-level DTOs for requests and responses
  - pkg/scheduler: error classification via OpError/Status

# See Also

  - pkg/cluster for raft wiring and the Cluster API surface
  - pkg/scheduler for the placement and quota semantics behind each route
*/
package api

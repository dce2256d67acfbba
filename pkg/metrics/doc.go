/*
Package metrics provides Prometheus metrics collection and exposition for
the control plane.

All metrics are registered at package init against the default Prometheus
registry and exposed over HTTP for scraping.

# Metrics Catalog

Cluster metrics:

orbit_agents_total{pool, frozen}:
  - Gauge. Agent count by pool and frozen state.

orbit_container_groups_total:
  - Gauge. Total container groups.

orbit_containers_total{status}:
  - Gauge. Container count by lifecycle status.

orbit_agent_cpu_assigned_millicores / orbit_agent_memory_assigned_bytes:
  - Gauge. Sum of assigned capacity across all agents.

Raft metrics:

orbit_raft_is_leader:
  - Gauge. 1 if this node holds leadership, else 0.

orbit_raft_log_index / orbit_raft_applied_index:
  - Gauge. Current and last-applied raft log index.

API metrics:

orbit_api_requests_total{method, status}:
  - Counter.

orbit_api_request_duration_seconds{method}:
  - Histogram.

Scheduler metrics:

orbit_placement_latency_seconds:
  - Histogram. Duration of one placement tick.

orbit_containers_placed_total:
  - Counter.

orbit_placement_failures_total{reason}:
  - Counter.

orbit_agent_commands_emitted_total{action}:
  - Counter. Commands handed to an agent on heartbeat, by action.

Reconciler metrics:

orbit_reconciliation_cycles_total / orbit_reconciliation_duration_seconds:
  - Counter / Histogram.

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.PlacementLatency)

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "SubmitGroup")

	http.Handle("/metrics", metrics.Handler())

# Integration Points

  - pkg/cluster: raft and command metrics
  - pkg/scheduler: placement metrics
  - pkg/reconciler: reconciliation metrics
  - pkg/api: request metrics

# See Also

  - https://prometheus.io/docs/practices/histograms/
*/
package metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbit_agents_total",
			Help: "Total number of agents by pool and frozen state",
		},
		[]string{"pool", "frozen"},
	)

	ContainerGroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_container_groups_total",
			Help: "Total number of container groups",
		},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orbit_containers_total",
			Help: "Total number of containers by status",
		},
		[]string{"status"},
	)

	AgentCpuAssigned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_agent_cpu_assigned_millicores",
			Help: "Sum of assigned cpu across all agents, in millicores",
		},
	)

	AgentMemoryAssigned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_agent_memory_assigned_bytes",
			Help: "Sum of assigned memory across all agents, in bytes",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_raft_is_leader",
			Help: "Whether this node is the raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_raft_log_index",
			Help: "Current raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_raft_applied_index",
			Help: "Last applied raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbit_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	PlacementLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbit_placement_latency_seconds",
			Help:    "Time taken to run one placement tick, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainersPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbit_containers_placed_total",
			Help: "Total number of containers successfully placed",
		},
	)

	PlacementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_placement_failures_total",
			Help: "Total number of failed placement attempts by reason",
		},
		[]string{"reason"},
	)

	CommandsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_agent_commands_emitted_total",
			Help: "Total number of agent commands emitted on heartbeat, by action",
		},
		[]string{"action"},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orbit_reconciliation_cycles_total",
			Help: "Total number of agent-staleness reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orbit_reconciliation_duration_seconds",
			Help:    "Time taken to complete one reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		AgentsTotal,
		ContainerGroupsTotal,
		ContainersTotal,
		AgentCpuAssigned,
		AgentMemoryAssigned,
		RaftLeader,
		RaftLogIndex,
		RaftAppliedIndex,
		APIRequestsTotal,
		APIRequestDuration,
		PlacementLatency,
		ContainersPlaced,
		PlacementFailures,
		CommandsEmitted,
		ReconciliationCyclesTotal,
		ReconciliationDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

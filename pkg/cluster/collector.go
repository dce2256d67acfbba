package cluster

import (
	"time"

	"github.com/orbitctl/orbit/pkg/metrics"
)

// Collector periodically pulls a snapshot of cluster state into the
// Prometheus gauges, since the scheduler itself has no reason to know
// about metrics on every mutation.
type Collector struct {
	cluster *Cluster
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(c *Cluster) *Collector {
	return &Collector{
		cluster: c,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAgentMetrics()
	c.collectContainerGroupMetrics()
	c.collectContainerMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectAgentMetrics() {
	agents := c.cluster.Scheduler().ListAgents()

	counts := make(map[string]map[string]int)
	var cpuSum int
	var memSum int64

	for _, a := range agents {
		pool := a.Pool
		if pool == "" {
			pool = "default"
		}
		frozen := "false"
		if a.Frozen {
			frozen = "true"
		}
		if counts[pool] == nil {
			counts[pool] = make(map[string]int)
		}
		counts[pool][frozen]++
		cpuSum += a.AssignedCpu
		memSum += a.AssignedMem
	}

	metrics.AgentsTotal.Reset()
	for pool, byFrozen := range counts {
		for frozen, n := range byFrozen {
			metrics.AgentsTotal.WithLabelValues(pool, frozen).Set(float64(n))
		}
	}
	metrics.AgentCpuAssigned.Set(float64(cpuSum))
	metrics.AgentMemoryAssigned.Set(float64(memSum))
}

func (c *Collector) collectContainerGroupMetrics() {
	groups := c.cluster.Scheduler().ListContainerGroups()
	metrics.ContainerGroupsTotal.Set(float64(len(groups)))
}

func (c *Collector) collectContainerMetrics() {
	groups := c.cluster.Scheduler().ListContainerGroups()

	totals := make(map[string]int)
	for _, g := range groups {
		for status, n := range g.StateCount {
			totals[string(status)] += n
		}
	}

	metrics.ContainersTotal.Reset()
	for status, n := range totals {
		metrics.ContainersTotal.WithLabelValues(status).Set(float64(n))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.cluster.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.cluster.Stats()
	if lastIndex, ok := stats["last_log_index"]; ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"]; ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
}

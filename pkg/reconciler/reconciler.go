// Package reconciler runs the periodic sweep that keeps the scheduler's
// agent roster honest: agents that stop heartbeating are evicted so their
// containers get rescheduled elsewhere.
package reconciler

import (
	"time"

	"github.com/orbitctl/orbit/pkg/log"
	"github.com/orbitctl/orbit/pkg/metrics"
	"github.com/orbitctl/orbit/pkg/scheduler"
)

// DefaultHeartbeatTimeout is how long an agent may go without a heartbeat
// before it is considered down.
const DefaultHeartbeatTimeout = 30 * time.Second

// DefaultInterval is how often the reaper sweeps for stale agents.
const DefaultInterval = 10 * time.Second

// Reconciler periodically removes agents that have missed their heartbeat
// window from a Scheduler, freeing their containers for rescheduling.
type Reconciler struct {
	sched            *scheduler.Scheduler
	interval         time.Duration
	heartbeatTimeout time.Duration
	stopCh           chan struct{}
}

// New creates a Reconciler bound to sched. A zero interval or timeout falls
// back to the package defaults.
func New(sched *scheduler.Scheduler, interval, heartbeatTimeout time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Reconciler{
		sched:            sched,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Start launches the reaper loop in a goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop terminates the reaper loop. It must be called at most once.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			r.reapStaleAgents()
			timer.ObserveDuration(metrics.ReconciliationDuration)
			metrics.ReconciliationCyclesTotal.Inc()
		case <-r.stopCh:
			return
		}
	}
}

// reapStaleAgents removes every agent whose last heartbeat is older than
// the configured timeout. RemoveAgent folds each agent's containers back
// into Pending (or Terminated, for Destroying/Volum containers) so the
// placement loop picks them up on its own schedule.
func (r *Reconciler) reapStaleAgents() {
	for _, endpoint := range r.sched.StaleAgents(r.heartbeatTimeout) {
		log.WithAgentID(endpoint).Warn().Msg("agent missed heartbeat, removing")
		if err := r.sched.RemoveAgent(endpoint); err != nil {
			log.WithAgentID(endpoint).Error().Err(err).Msg("failed to remove stale agent")
		}
	}
}

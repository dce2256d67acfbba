package scheduler

import "time"

// SchedulerConfig carries every tunable the original treated as a
// process-wide mutable flag. It is passed explicitly to NewScheduler; the
// core never reads package-level mutable state.
type SchedulerConfig struct {
	// SchedInterval is the placement loop's per-agent tick period.
	SchedInterval time.Duration
	// ReservedPercent is the fraction of reported live usage counted
	// toward an agent's reserved headroom for BestEffort admission.
	ReservedPercent float64
	// MaxBatchPods caps the number of Batch-priority containers any one
	// agent may host concurrently.
	MaxBatchPods int
	// GcCheckInterval is the period of the ContainerGroup GC sweep.
	GcCheckInterval time.Duration
	// CheckContainerVersion enables the per-agent version-pacing check in
	// the placement loop; disabling it freezes already-placed containers
	// on their original Requirement version forever.
	CheckContainerVersion bool
}

// DefaultSchedulerConfig mirrors the defaults the original process carried
// as global flags.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SchedInterval:         300 * time.Millisecond,
		ReservedPercent:       0.8,
		MaxBatchPods:          200,
		GcCheckInterval:       30 * time.Second,
		CheckContainerVersion: true,
	}
}

package scheduler

import (
	"fmt"

	"github.com/orbitctl/orbit/pkg/types"
)

// QuotaConfig bounds per-user resource consumption. A zero value for any
// field means "no limit" for that dimension.
type QuotaConfig struct {
	MaxCpuPerUser       int
	MaxMemoryPerUser    int64
	MaxContainersPerUser int
}

// QuotaDecision is the result of checking a prospective Submit against a
// user's current allocation.
type QuotaDecision struct {
	Admit  bool
	Reason string
}

// MetaToQuota converts a raw ContainerGroupMeta plus a user's current
// aggregate allocation into an admit/reject decision. It is the external
// entry point named in the Intent API; Submit calls the locked variant
// internally under the same mutex.
func (s *Scheduler) MetaToQuota(meta types.ContainerGroupMeta) QuotaDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaToQuotaLocked(meta.UserName, meta.Desc, meta.Replica)
}

func (s *Scheduler) metaToQuotaLocked(user string, desc types.ContainerDesc, replica int) QuotaDecision {
	if s.quota.MaxCpuPerUser == 0 && s.quota.MaxMemoryPerUser == 0 && s.quota.MaxContainersPerUser == 0 {
		return QuotaDecision{Admit: true}
	}

	req := SealRequirement(desc, "")
	current := s.showUserAllocLocked(user)

	projectedCpu := current.AssignedCpu + req.CpuNeed*replica
	projectedMem := current.AssignedMemory + req.MemoryNeed*replica
	projectedCount := current.ContainerCount + replica

	if s.quota.MaxCpuPerUser > 0 && projectedCpu > s.quota.MaxCpuPerUser {
		return QuotaDecision{Admit: false, Reason: fmt.Sprintf("user %s would exceed cpu quota: %d > %d", user, projectedCpu, s.quota.MaxCpuPerUser)}
	}
	if s.quota.MaxMemoryPerUser > 0 && projectedMem > s.quota.MaxMemoryPerUser {
		return QuotaDecision{Admit: false, Reason: fmt.Sprintf("user %s would exceed memory quota: %d > %d", user, projectedMem, s.quota.MaxMemoryPerUser)}
	}
	if s.quota.MaxContainersPerUser > 0 && projectedCount > s.quota.MaxContainersPerUser {
		return QuotaDecision{Admit: false, Reason: fmt.Sprintf("user %s would exceed container quota: %d > %d", user, projectedCount, s.quota.MaxContainersPerUser)}
	}
	return QuotaDecision{Admit: true}
}

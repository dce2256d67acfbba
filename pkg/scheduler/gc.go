package scheduler

import (
	"github.com/orbitctl/orbit/pkg/events"
	"github.com/orbitctl/orbit/pkg/log"
	"github.com/orbitctl/orbit/pkg/types"
)

// tickGC sweeps terminated groups whose containers have all reached
// Terminated, erasing them from the Scheduler's in-memory state.
func (s *Scheduler) tickGC() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, g := range s.groups {
		if !g.Terminated {
			continue
		}
		if len(g.States[types.StatusTerminated]) != len(g.Containers) {
			continue
		}
		delete(s.groups, id)
		log.WithGroupID(id).Debug().Msg("container group garbage collected")
		s.publish(events.EventGroupGCed, "container group garbage collected", map[string]string{"groupId": id})
	}
}

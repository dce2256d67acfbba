package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/orbitctl/orbit/pkg/types"
)

// ContainerGroup is a replicated job: a desired replica count and a single
// Requirement shared across its containers.
type ContainerGroup struct {
	Id       string
	Name     string
	UserName string
	Priority types.Priority
	Replica  int

	SubmitTime     time.Time
	UpdateTime     time.Time
	LastUpdateTime time.Time // seconds-resolution pacing clock for rollout
	UpdateInterval time.Duration

	Terminated bool
	Paused     bool

	// ContainerDesc is the verbatim description used to issue CREATE
	// commands; kept alongside the structured Requirement derived from it.
	ContainerDesc types.ContainerDesc
	PrevDesc      *types.ContainerDesc
	Require       *Requirement

	Containers map[string]*Container
	States     map[types.ContainerStatus]map[string]*Container

	// LastSchedContainerId is the round-robin cursor for fair Pending
	// selection across placement ticks; not reset on Update.
	LastSchedContainerId string
}

func newContainerGroup(id, name, userName string, priority types.Priority, replica int, desc types.ContainerDesc, req *Requirement, now time.Time, updateInterval time.Duration) *ContainerGroup {
	g := &ContainerGroup{
		Id:             id,
		Name:           name,
		UserName:       userName,
		Priority:       priority,
		Replica:        replica,
		SubmitTime:     now,
		UpdateTime:     now,
		LastUpdateTime: now,
		UpdateInterval: updateInterval,
		ContainerDesc:  desc,
		Require:        req,
		Containers:     make(map[string]*Container),
		States:         make(map[types.ContainerStatus]map[string]*Container),
	}
	for _, s := range types.AllStatuses {
		g.States[s] = make(map[string]*Container)
	}
	return g
}

// containerId builds the canonical <group>.pod_<offset> id.
func containerId(groupId string, offset int) string {
	return fmt.Sprintf("%s.pod_%d", groupId, offset)
}

// addContainer inserts a freshly created container into the Pending bucket.
func (g *ContainerGroup) addContainer(c *Container) {
	g.Containers[c.Id] = c
	g.States[c.Status][c.Id] = c
}

// removeContainer erases a container entirely. Nothing in this package
// calls it.
func (g *ContainerGroup) removeContainer(id string) {
	if c, ok := g.Containers[id]; ok {
		delete(g.States[c.Status], id)
		delete(g.Containers, id)
	}
}

// transition moves a container from its current status bucket to newStatus,
// keeping the Σ-state invariant intact. Callers are responsible for the
// agent-side bookkeeping (Evict/Put) before or after calling this.
func (g *ContainerGroup) transition(c *Container, newStatus types.ContainerStatus) {
	delete(g.States[c.Status], c.Id)
	c.Status = newStatus
	g.States[newStatus][c.Id] = c
}

// liveReplicaCount is replica == |containers| - |states[Terminated]|.
func (g *ContainerGroup) liveReplicaCount() int {
	return len(g.Containers) - len(g.States[types.StatusTerminated])
}

// pendingAfterCursor returns Pending containers in id order, rotated to
// start just after LastSchedContainerId (wrapping to the first).
func (g *ContainerGroup) pendingAfterCursor() []*Container {
	pending := g.States[types.StatusPending]
	if len(pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if g.LastSchedContainerId != "" {
		for i, id := range ids {
			if id > g.LastSchedContainerId {
				start = i
				break
			}
			if i == len(ids)-1 {
				start = 0
			}
		}
	}
	out := make([]*Container, 0, len(ids))
	for i := 0; i < len(ids); i++ {
		out = append(out, pending[ids[(start+i)%len(ids)]])
	}
	return out
}

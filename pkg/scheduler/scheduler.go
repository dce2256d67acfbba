// Package scheduler implements the core placement and reconciliation
// engine: the Scheduler, the AgentState feasibility/bookkeeping oracle, and
// the Container/ContainerGroup lifecycle they drive.
//
// Every exported method that mutates state is called while holding the
// Scheduler's single mutex; this package never performs I/O itself, and
// never blocks while that mutex is held.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orbitctl/orbit/pkg/events"
	"github.com/orbitctl/orbit/pkg/log"
	"github.com/orbitctl/orbit/pkg/metrics"
	"github.com/orbitctl/orbit/pkg/types"
)

// Status is the synchronous result of an intent operation.
type Status string

const (
	StatusOK                Status = "OK"
	StatusUnknownGroup      Status = "UnknownGroup"
	StatusUnknownContainer  Status = "UnknownContainer"
	StatusUnknownAgent      Status = "UnknownAgent"
	StatusReplicaInvalid    Status = "ReplicaInvalid"
	StatusAlreadyTerminated Status = "AlreadyTerminated"
	StatusNotPaused         Status = "NotPaused"
	StatusNoPreviousDesc    Status = "NoPreviousDesc"
	StatusQuotaExceeded     Status = "QuotaExceeded"
)

// OpError is a structured, non-fatal failure returned synchronously from an
// intent operation. The core never panics on bad intent.
type OpError struct {
	Status  Status
	Message string
}

func (e *OpError) Error() string { return fmt.Sprintf("%s: %s", e.Status, e.Message) }

func opErr(s Status, format string, args ...interface{}) *OpError {
	return &OpError{Status: s, Message: fmt.Sprintf(format, args...)}
}

// Scheduler owns the set of AgentStates and ContainerGroups, runs the
// placement loop, processes intent mutations, and on each heartbeat
// produces the list of commands for that agent. All state is serialized
// under mu.
type Scheduler struct {
	mu sync.Mutex

	cfg   SchedulerConfig
	quota QuotaConfig

	agents map[string]*AgentState
	groups map[string]*ContainerGroup

	placementCursor string // last agent endpoint visited by the placement loop

	stopCh  chan struct{}
	stopped bool

	now func() time.Time // overridable for tests

	events *events.Broker // optional; nil until SetEvents is called
}

// SetEvents attaches an event broker the placement and GC loops publish
// container and group lifecycle transitions to. Must be called before
// Start, if at all; unset leaves publishing a no-op.
func (s *Scheduler) SetEvents(b *events.Broker) {
	s.events = b
}

func (s *Scheduler) publish(typ events.EventType, message string, meta map[string]string) {
	if s.events == nil {
		return
	}
	s.events.Publish(&events.Event{Type: typ, Message: message, Metadata: meta})
}

// NewScheduler constructs a Scheduler with the given config. No background
// loop runs until Start is called.
func NewScheduler(cfg SchedulerConfig, quota QuotaConfig) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		quota:  quota,
		agents: make(map[string]*AgentState),
		groups: make(map[string]*ContainerGroup),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the placement loop and the group-GC sweep as background
// goroutines. Both take the Scheduler's mutex on every tick and yield
// promptly.
func (s *Scheduler) Start() {
	go s.placementLoop()
	go s.gcLoop()
}

// Stop causes both background loops to exit. Stop does not block on intent
// calls already in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stopCh)
}

func (s *Scheduler) placementLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-time.After(s.cfg.SchedInterval):
			s.tickPlacement()
		}
	}
}

func (s *Scheduler) gcLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-time.After(s.cfg.GcCheckInterval):
			s.tickGC()
		}
	}
}

// ---- AddAgent / RemoveAgent / tag & pool mutation ----

// AddAgent registers a new agent and reconciles any containers it already
// reports (used when an agent reconnects after a restart).
func (s *Scheduler) AddAgent(endpoint string, totalCpu int, totalMem int64, devices []*Device, pool string, tags []string, reported []types.ReportedContainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := newAgentState(endpoint, totalCpu, totalMem, devices, pool, tags)
	a.LastHeartbeat = s.now()
	s.agents[endpoint] = a

	for _, rc := range reported {
		if rc.Status != types.StatusReady {
			continue
		}
		g, ok := s.groups[rc.GroupId]
		if !ok {
			continue
		}
		c, ok := g.Containers[rc.Id]
		if !ok {
			continue
		}
		req := g.Require
		if c.Requirement != nil && c.Requirement.Version != rc.Version {
			req = SealRequirement(rc.Desc, rc.Version)
		}
		c.Requirement = req
		if ok2, _ := a.TryPut(c, s.cfg); ok2 {
			a.Put(c)
			g.transition(c, types.StatusReady)
		}
	}

	a.SetReserved(s.cfg.ReservedPercent)
	return nil
}

// RemoveAgent tears down an agent: Destroying containers terminate, Volum
// containers terminate (no migration), everything else returns to Pending.
func (s *Scheduler) RemoveAgent(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[endpoint]
	if !ok {
		return opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}

	for id := range a.Containers {
		c := a.Containers[id]
		g, ok := s.groups[c.GroupId]
		if !ok {
			continue
		}
		switch {
		case c.Status == types.StatusDestroying:
			a.Evict(c)
			g.transition(c, types.StatusTerminated)
		case c.IsVolum():
			a.Evict(c)
			g.transition(c, types.StatusTerminated)
		default:
			a.Evict(c)
			g.transition(c, types.StatusPending)
		}
	}

	delete(s.agents, endpoint)
	return nil
}

func (s *Scheduler) AddTag(endpoint, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[endpoint]
	if !ok {
		return opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}
	a.Tags[tag] = true
	return nil
}

func (s *Scheduler) RemoveTag(endpoint, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[endpoint]
	if !ok {
		return opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}
	delete(a.Tags, tag)
	return nil
}

func (s *Scheduler) SetPool(endpoint, pool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[endpoint]
	if !ok {
		return opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}
	a.Pool = pool
	return nil
}

func (s *Scheduler) FreezeAgent(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[endpoint]
	if !ok {
		return opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}
	a.Frozen = true
	return nil
}

func (s *Scheduler) ThawAgent(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[endpoint]
	if !ok {
		return opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}
	a.Frozen = false
	return nil
}

// ---- Submit / Reload / Kill / ChangeReplica / Update / Rollback ----

// Submit creates a new ContainerGroup with `replica` Pending containers.
func (s *Scheduler) Submit(name string, desc types.ContainerDesc, replica int, priority types.Priority, user string) (string, error) {
	s.mu.Lock()
	now := s.now()
	id := NewContainerGroupId(name, now)
	version := NewVersionToken(now)
	s.mu.Unlock()
	return id, s.SubmitSealed(id, version, now, name, desc, replica, priority, user)
}

// SubmitSealed admits a container group under a caller-supplied id and
// version rather than minting its own. It exists so a replicated caller
// (the cluster FSM) can generate the id/version once on the log entry
// before Apply, keeping every replica's state machine deterministic —
// Submit's own id/version minting uses process-local randomness and must
// never run inside Apply.
func (s *Scheduler) SubmitSealed(id, version string, now time.Time, name string, desc types.ContainerDesc, replica int, priority types.Priority, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if replica < 0 {
		return opErr(StatusReplicaInvalid, "replica must be >= 0, got %d", replica)
	}

	if decision := s.metaToQuotaLocked(user, desc, replica); !decision.Admit {
		return opErr(StatusQuotaExceeded, decision.Reason)
	}

	desc.Version = version
	req := SealRequirement(desc, version)

	g := newContainerGroup(id, name, user, priority, replica, desc, req, now, 0)
	for i := 0; i < replica; i++ {
		c := &Container{
			Id:          containerId(id, i),
			GroupId:     id,
			Priority:    priority,
			Requirement: req,
			Status:      types.StatusPending,
		}
		g.addContainer(c)
	}
	s.groups[id] = g
	log.WithGroupID(id).Info().Msg("container group submitted")
	return nil
}

// Reload recreates a group's skeleton from persisted metadata at startup.
// Containers are recreated only once an agent later reports them.
func (s *Scheduler) Reload(meta types.ContainerGroupMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := SealRequirement(meta.Desc, meta.Desc.Version)
	g := newContainerGroup(meta.Id, meta.Name, meta.UserName, meta.Priority, meta.Replica, meta.Desc, req, meta.SubmitTime, time.Duration(meta.UpdateInterval)*time.Second)
	g.UpdateTime = meta.UpdateTime
	g.Terminated = meta.Status == types.GroupTerminated
	g.PrevDesc = meta.PrevDesc

	for i := 0; i < meta.Replica; i++ {
		c := &Container{
			Id:          containerId(meta.Id, i),
			GroupId:     meta.Id,
			Priority:    meta.Priority,
			Requirement: req,
			Status:      types.StatusPending,
		}
		g.addContainer(c)
	}
	s.groups[meta.Id] = g
	return nil
}

// Kill marks a group terminated: Pending containers terminate immediately,
// everything else moves to Destroying to await agent confirmation.
func (s *Scheduler) Kill(groupId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupId]
	if !ok {
		return opErr(StatusUnknownGroup, "group %s not known", groupId)
	}
	if g.Terminated {
		return nil // idempotent
	}
	g.Terminated = true

	for id := range g.States[types.StatusPending] {
		c := g.Containers[id]
		g.transition(c, types.StatusTerminated)
	}
	for _, st := range []types.ContainerStatus{types.StatusAllocating, types.StatusReady, types.StatusError, types.StatusFinish} {
		for id := range g.States[st] {
			c := g.Containers[id]
			g.transition(c, types.StatusDestroying)
		}
	}
	return nil
}

// ChangeReplica scales a group up or down. Scale-down first removes
// Pending containers, then moves live ones to Destroying; scale-up creates
// new Pending containers at the next free pod_i offset.
func (s *Scheduler) ChangeReplica(groupId string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupId]
	if !ok {
		return opErr(StatusUnknownGroup, "group %s not known", groupId)
	}
	if n < 0 {
		return opErr(StatusReplicaInvalid, "replica must be >= 0, got %d", n)
	}

	current := g.liveReplicaCount()
	if n < current {
		toRemove := current - n
		for _, st := range []types.ContainerStatus{types.StatusPending, types.StatusAllocating, types.StatusReady, types.StatusError, types.StatusFinish} {
			if toRemove == 0 {
				break
			}
			ids := make([]string, 0, len(g.States[st]))
			for id := range g.States[st] {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				if toRemove == 0 {
					break
				}
				c := g.Containers[id]
				if st == types.StatusPending {
					g.transition(c, types.StatusTerminated)
				} else {
					g.transition(c, types.StatusDestroying)
				}
				toRemove--
			}
		}
	} else if n > current {
		offset := len(g.Containers)
		for i := 0; i < n-current; i++ {
			c := &Container{
				Id:          containerId(groupId, offset+i),
				GroupId:     groupId,
				Priority:    g.Priority,
				Requirement: g.Require,
				Status:      types.StatusPending,
			}
			g.addContainer(c)
		}
	}
	g.Replica = n
	return nil
}

// Update seals a new Requirement version when desc differs structurally
// from the group's current one; Pending containers rebind immediately,
// placed containers are promoted by the placement loop's pacing tick.
func (s *Scheduler) Update(groupId string, desc types.ContainerDesc, interval time.Duration) (string, error) {
	s.mu.Lock()
	now := s.now()
	nextVersion := NewVersionToken(now)
	s.mu.Unlock()
	return s.UpdateSealed(groupId, desc, interval, nextVersion, now)
}

// UpdateSealed is Update with a caller-supplied new-version token, so a
// replicated caller can mint it once on the leader before Apply and have
// every replica converge on the same token. The token is spent only if
// desc actually differs from the group's current Requirement; on a no-op
// Update it is simply discarded.
func (s *Scheduler) UpdateSealed(groupId string, desc types.ContainerDesc, interval time.Duration, nextVersion string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(groupId, desc, interval, nextVersion, now)
}

func (s *Scheduler) updateLocked(groupId string, desc types.ContainerDesc, interval time.Duration, nextVersion string, now time.Time) (string, error) {
	g, ok := s.groups[groupId]
	if !ok {
		return "", opErr(StatusUnknownGroup, "group %s not known", groupId)
	}
	if g.Terminated {
		return "", opErr(StatusAlreadyTerminated, "group %s is terminated", groupId)
	}

	newReq := SealRequirement(desc, g.Require.Version)
	if !RequireHasDiff(g.Require, newReq) {
		g.UpdateTime = now
		g.UpdateInterval = interval
		return g.Require.Version, nil
	}

	prev := g.ContainerDesc
	g.PrevDesc = &prev
	desc.Version = nextVersion
	newReq = SealRequirement(desc, nextVersion)

	g.ContainerDesc = desc
	g.Require = newReq
	g.UpdateTime = now
	g.UpdateInterval = interval

	for id := range g.States[types.StatusPending] {
		g.Containers[id].Requirement = newReq
	}
	return nextVersion, nil
}

// Rollback is Update with the group's previously recorded description.
func (s *Scheduler) Rollback(groupId string) (string, error) {
	s.mu.Lock()
	now := s.now()
	nextVersion := NewVersionToken(now)
	s.mu.Unlock()
	return s.RollbackSealed(groupId, nextVersion, now)
}

// RollbackSealed is Rollback with a caller-supplied new-version token; see
// UpdateSealed.
func (s *Scheduler) RollbackSealed(groupId, nextVersion string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupId]
	if !ok {
		return "", opErr(StatusUnknownGroup, "group %s not known", groupId)
	}
	if g.PrevDesc == nil {
		return "", opErr(StatusNoPreviousDesc, "group %s has no previous description", groupId)
	}
	prev := *g.PrevDesc
	return s.updateLocked(groupId, prev, g.UpdateInterval, nextVersion, now)
}

// PauseUpdate halts the per-agent version-pacing tick for a group.
func (s *Scheduler) PauseUpdate(groupId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupId]
	if !ok {
		return opErr(StatusUnknownGroup, "group %s not known", groupId)
	}
	g.Paused = true
	return nil
}

// ContinueUpdate resumes a paused rollout, immediately promoting up to
// breakCount containers still on the previous Requirement version
// regardless of the pacing interval.
func (s *Scheduler) ContinueUpdate(groupId string, breakCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupId]
	if !ok {
		return opErr(StatusUnknownGroup, "group %s not known", groupId)
	}
	if !g.Paused {
		return opErr(StatusNotPaused, "group %s is not paused", groupId)
	}
	g.Paused = false

	promoted := 0
	for _, st := range []types.ContainerStatus{types.StatusReady, types.StatusAllocating} {
		if promoted >= breakCount {
			break
		}
		ids := make([]string, 0, len(g.States[st]))
		for id := range g.States[st] {
			ids = append(ids, id)
		}
		for _, id := range ids {
			if promoted >= breakCount {
				break
			}
			c := g.Containers[id]
			if c.Requirement.Version == g.Require.Version {
				continue
			}
			if a := s.agents[c.AllocatedAgent]; a != nil {
				a.Evict(c)
			}
			g.transition(c, types.StatusPending)
			c.Requirement = g.Require
			promoted++
		}
	}
	g.LastUpdateTime = s.now()
	return nil
}

// CancelUpdate restores the group's previous Requirement.
func (s *Scheduler) CancelUpdate(groupId string) error {
	_, err := s.Rollback(groupId)
	return err
}

// ChangeStatus is the external override path used by heartbeat processing
// and GC to force a container into newStatus, applying the lifecycle
// transition rules of the state machine.
func (s *Scheduler) ChangeStatus(groupId, containerId string, newStatus types.ContainerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupId]
	if !ok {
		return opErr(StatusUnknownGroup, "group %s not known", groupId)
	}
	c, ok := g.Containers[containerId]
	if !ok {
		return opErr(StatusUnknownContainer, "container %s not known", containerId)
	}
	s.changeStatusLocked(g, c, newStatus)
	return nil
}

func (s *Scheduler) changeStatusLocked(g *ContainerGroup, c *Container, newStatus types.ContainerStatus) {
	if holdsAgentResources(c.Status) && !holdsAgentResources(newStatus) {
		if a, ok := s.agents[c.AllocatedAgent]; ok {
			a.Evict(c)
		}
	}
	switch newStatus {
	case types.StatusPending, types.StatusTerminated:
		c.clearAllocation()
		c.Requirement = g.Require
	case types.StatusReady:
		c.LastResError = types.ErrOk
	}
	g.transition(c, newStatus)
}

// ---- Placement loop ----

func (s *Scheduler) sortedAgentEndpoints() []string {
	out := make([]string, 0, len(s.agents))
	for ep := range s.agents {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// nextAgent returns the agent immediately after placementCursor in sorted
// endpoint order, wrapping to the first.
func (s *Scheduler) nextAgent() (*AgentState, bool) {
	eps := s.sortedAgentEndpoints()
	if len(eps) == 0 {
		return nil, false
	}
	idx := 0
	for i, ep := range eps {
		if ep > s.placementCursor {
			idx = i
			break
		}
		if i == len(eps)-1 {
			idx = 0
		}
	}
	s.placementCursor = eps[idx]
	return s.agents[eps[idx]], true
}

// tickPlacement is the body of one placement-loop tick: it visits exactly
// one agent, performs the version-pacing and tag/pool checks, then attempts
// one placement per eligible ContainerGroup.
func (s *Scheduler) tickPlacement() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementLatency)

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.nextAgent()
	if !ok || a.Frozen {
		return
	}

	now := s.now()

	if s.cfg.CheckContainerVersion {
		for id, c := range a.Containers {
			g, ok := s.groups[c.GroupId]
			if !ok || g.Paused {
				continue
			}
			if c.Requirement.Version == g.Require.Version {
				continue
			}
			if now.Sub(g.LastUpdateTime) < g.UpdateInterval {
				continue
			}
			a.Evict(c)
			g.transition(g.Containers[id], types.StatusPending)
			g.Containers[id].Requirement = g.Require
			g.LastUpdateTime = now
			s.publish(events.EventContainerEvicted, "container evicted for rolling update", map[string]string{"groupId": g.Id, "containerId": id})
		}
	}

	for id, c := range a.Containers {
		g, ok := s.groups[c.GroupId]
		if !ok {
			continue
		}
		req := c.Requirement
		mismatch := (req.Tag != "" && !a.Tags[req.Tag]) || !req.PoolNames[a.Pool]
		if !mismatch {
			continue
		}
		code := types.ErrTagMismatch
		if req.Tag == "" || a.Tags[req.Tag] {
			code = types.ErrPoolMismatch
		}
		a.Evict(c)
		g.transition(g.Containers[id], types.StatusPending)
		g.Containers[id].LastResError = code
		s.publish(events.EventContainerEvicted, "container evicted: tag/pool mismatch", map[string]string{"groupId": g.Id, "containerId": id})
	}

	groupIds := make([]string, 0, len(s.groups))
	for id := range s.groups {
		groupIds = append(groupIds, id)
	}
	sort.Slice(groupIds, func(i, j int) bool {
		return s.groups[groupIds[i]].SubmitTime.Before(s.groups[groupIds[j]].SubmitTime)
	})

	for _, gid := range groupIds {
		g := s.groups[gid]
		candidates := g.pendingAfterCursor()
		if len(candidates) == 0 {
			continue
		}
		c := candidates[0]
		ok, reason := a.TryPut(c, s.cfg)
		if ok {
			a.Put(c)
			g.transition(c, types.StatusAllocating)
			metrics.ContainersPlaced.Inc()
			s.publish(events.EventContainerPlaced, "container placed", map[string]string{"groupId": gid, "containerId": c.Id, "agent": a.Endpoint})
		} else {
			metrics.PlacementFailures.WithLabelValues(string(reason)).Inc()
		}
		if !ok && isHardClassError(c.LastResError) {
			// Hard-class errors (including the initial Ok) are always
			// replaced by the newest reason; anything else is preserved
			// until a placement attempt succeeds (Put resets it to Ok).
			c.LastResError = reason
		}
		g.LastSchedContainerId = c.Id
	}
}

// isHardClassError reports whether code belongs to the hard class the
// placement loop always overwrites with the newest reason on failure,
// rather than preserving the prior (more specific) resource-shortage code.
// A container never tried yet carries the zero value, which counts as Ok.
func isHardClassError(code types.ResErrorCode) bool {
	switch code {
	case "", types.ErrOk, types.ErrTagMismatch, types.ErrPoolMismatch, types.ErrTooManyPods:
		return true
	default:
		return false
	}
}

// ---- Heartbeat reconciliation ----

// MakeCommand produces the authoritative list of actions for an agent in
// response to a heartbeat, diffing reported containers against intent.
func (s *Scheduler) MakeCommand(endpoint string, info types.AgentInfo) ([]types.AgentCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[endpoint]
	if !ok {
		cmds := make([]types.AgentCommand, 0, len(info.Containers))
		for _, rc := range info.Containers {
			cmds = append(cmds, types.AgentCommand{Action: types.ActionDestroyContainer, ContainerId: rc.Id, GroupId: rc.GroupId})
		}
		return cmds, nil
	}
	a.LastHeartbeat = s.now()

	for _, rc := range info.Containers {
		if c, ok := a.Containers[rc.Id]; ok {
			c.RemoteInfo = RemoteInfo{CpuUsed: rc.CpuUsed, MemUsed: rc.MemUsed, VolumesUsed: rc.VolumesUsed, PortsUsed: rc.PortsUsed}
		}
	}
	a.SetReserved(s.cfg.ReservedPercent)

	var cmds []types.AgentCommand
	reportedById := make(map[string]types.ReportedContainer, len(info.Containers))
	for _, rc := range info.Containers {
		localC, known := a.Containers[rc.Id]
		if !known {
			cmds = append(cmds, types.AgentCommand{Action: types.ActionDestroyContainer, ContainerId: rc.Id, GroupId: rc.GroupId})
			continue
		}
		if s.cfg.CheckContainerVersion && localC.Requirement.Version != rc.Version {
			cmds = append(cmds, types.AgentCommand{Action: types.ActionDestroyContainer, ContainerId: rc.Id, GroupId: rc.GroupId})
			continue
		}
		reportedById[rc.Id] = rc
	}

	for id, c := range a.Containers {
		g, ok := s.groups[c.GroupId]
		if !ok {
			continue
		}
		rc, reported := reportedById[id]
		cmds = append(cmds, s.reconcileOneLocked(g, c, reported, rc)...)
	}

	for _, cmd := range cmds {
		metrics.CommandsEmitted.WithLabelValues(string(cmd.Action)).Inc()
	}

	return cmds, nil
}

func (s *Scheduler) reconcileOneLocked(g *ContainerGroup, c *Container, reported bool, rc types.ReportedContainer) []types.AgentCommand {
	var cmds []types.AgentCommand
	switch c.Status {
	case types.StatusAllocating:
		switch {
		case !reported:
			cmds = append(cmds, s.createCommand(g, c))
		case rc.Status == types.StatusReady:
			s.changeStatusLocked(g, c, types.StatusReady)
			s.publish(events.EventContainerReady, "container ready", map[string]string{"groupId": g.Id, "containerId": c.Id})
		case rc.Status == types.StatusFinish:
			s.changeStatusLocked(g, c, types.StatusTerminated)
		case rc.Status == types.StatusError:
			cmds = append(cmds, types.AgentCommand{Action: types.ActionDestroyContainer, ContainerId: c.Id, GroupId: g.Id})
			s.changeStatusLocked(g, c, types.StatusPending)
			s.publish(events.EventContainerFailed, "container reported error", map[string]string{"groupId": g.Id, "containerId": c.Id})
		default:
			cmds = append(cmds, s.createCommand(g, c))
		}
	case types.StatusReady:
		switch {
		case !reported:
			s.changeStatusLocked(g, c, types.StatusPending)
		case rc.Status == types.StatusFinish:
			s.changeStatusLocked(g, c, types.StatusTerminated)
		case rc.Status == types.StatusError:
			cmds = append(cmds, types.AgentCommand{Action: types.ActionDestroyContainer, ContainerId: c.Id, GroupId: g.Id})
			s.changeStatusLocked(g, c, types.StatusPending)
			s.publish(events.EventContainerFailed, "container reported error", map[string]string{"groupId": g.Id, "containerId": c.Id})
		case rc.Status == types.StatusReady:
			// steady state, no command
		default:
			s.changeStatusLocked(g, c, types.StatusPending)
		}
	case types.StatusDestroying:
		switch {
		case !reported:
			s.changeStatusLocked(g, c, types.StatusTerminated)
		default:
			cmds = append(cmds, types.AgentCommand{Action: types.ActionDestroyContainer, ContainerId: c.Id, GroupId: g.Id})
		}
	}
	return cmds
}

func (s *Scheduler) createCommand(g *ContainerGroup, c *Container) types.AgentCommand {
	desc := g.ContainerDesc
	desc.SourcePaths = make([]string, len(c.AllocatedVolumes))
	for i, v := range c.AllocatedVolumes {
		desc.SourcePaths[i] = v.DevicePath
	}
	desc.RealPorts = append([]string(nil), c.AllocatedPorts...)
	return types.AgentCommand{Action: types.ActionCreateContainer, ContainerId: c.Id, GroupId: g.Id, Desc: &desc}
}

// ---- Manual preemption ----

// ManualSchedule is the only preemption path: it tries the non-Volum
// containers on endpoint one at a time, lowest priority first, evicting a
// single victim and putting it back if the group's next Pending container
// (per the placement cursor) still does not fit. It fails immediately on a
// tag/pool mismatch; it never evicts more than one victim.
func (s *Scheduler) ManualSchedule(endpoint, groupId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[endpoint]
	if !ok {
		return false, opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}
	g, ok := s.groups[groupId]
	if !ok {
		return false, opErr(StatusUnknownGroup, "group %s not known", groupId)
	}

	candidates := g.pendingAfterCursor()
	if len(candidates) == 0 {
		return false, nil
	}
	target := candidates[0]
	req := target.Requirement
	if req.Tag != "" && !a.Tags[req.Tag] {
		return false, opErr(StatusOK, string(types.ErrTagMismatch))
	}
	if !req.PoolNames[a.Pool] {
		return false, opErr(StatusOK, string(types.ErrPoolMismatch))
	}

	victims := make([]*Container, 0, len(a.Containers))
	for _, c := range a.Containers {
		if c.IsVolum() {
			continue
		}
		victims = append(victims, c)
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].Priority < victims[j].Priority })

	for _, v := range victims {
		vg, ok := s.groups[v.GroupId]
		if !ok {
			continue
		}
		a.Evict(v)
		if ok2, reason := a.TryPut(target, s.cfg); ok2 {
			a.Put(target)
			g.transition(target, types.StatusAllocating)
			vg.transition(v, types.StatusPending)
			return true, nil
		} else if reason == types.ErrTagMismatch || reason == types.ErrPoolMismatch {
			a.Put(v)
			return false, opErr(StatusOK, string(reason))
		}
		a.Put(v)
	}
	return false, nil
}

// ---- Reporting queries ----

// GroupSummary is a read-only snapshot of a ContainerGroup for external
// callers, who must never retain the live *ContainerGroup.
type GroupSummary struct {
	Id         string
	Name       string
	UserName   string
	Priority   types.Priority
	Replica    int
	Terminated bool
	Version    string
	StateCount map[types.ContainerStatus]int
}

func summarize(g *ContainerGroup) GroupSummary {
	counts := make(map[types.ContainerStatus]int, len(types.AllStatuses))
	for _, st := range types.AllStatuses {
		counts[st] = len(g.States[st])
	}
	return GroupSummary{
		Id: g.Id, Name: g.Name, UserName: g.UserName, Priority: g.Priority,
		Replica: g.Replica, Terminated: g.Terminated, Version: g.Require.Version,
		StateCount: counts,
	}
}

// ListContainerGroups returns a summary of every known group.
func (s *Scheduler) ListContainerGroups() []GroupSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GroupSummary, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, summarize(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// ShowContainerGroup returns the summary for one group.
func (s *Scheduler) ShowContainerGroup(id string) (GroupSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return GroupSummary{}, opErr(StatusUnknownGroup, "group %s not known", id)
	}
	return summarize(g), nil
}

// AgentSummary is a read-only snapshot of an AgentState.
type AgentSummary struct {
	Endpoint    string
	TotalCpu    int
	TotalMem    int64
	AssignedCpu int
	AssignedMem int64
	Pool        string
	Tags        []string
	Frozen      bool
	NumContainers int
}

// ShowAgent returns the summary for one agent.
func (s *Scheduler) ShowAgent(endpoint string) (AgentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[endpoint]
	if !ok {
		return AgentSummary{}, opErr(StatusUnknownAgent, "agent %s not known", endpoint)
	}
	tags := make([]string, 0, len(a.Tags))
	for t := range a.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return AgentSummary{
		Endpoint: a.Endpoint, TotalCpu: a.TotalCpu, TotalMem: a.TotalMem,
		AssignedCpu: a.AssignedCpu, AssignedMem: a.AssignedMem,
		Pool: a.Pool, Tags: tags, Frozen: a.Frozen, NumContainers: len(a.Containers),
	}, nil
}

// ListAgents returns a summary for every known agent.
func (s *Scheduler) ListAgents() []AgentSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentSummary, 0, len(s.agents))
	for _, a := range s.agents {
		tags := make([]string, 0, len(a.Tags))
		for t := range a.Tags {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		out = append(out, AgentSummary{
			Endpoint: a.Endpoint, TotalCpu: a.TotalCpu, TotalMem: a.TotalMem,
			AssignedCpu: a.AssignedCpu, AssignedMem: a.AssignedMem,
			Pool: a.Pool, Tags: tags, Frozen: a.Frozen, NumContainers: len(a.Containers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// UserAlloc aggregates a user's current resource usage/assignment, used for
// quota display and enforcement.
type UserAlloc struct {
	UserName      string
	UsedCpu       int
	UsedMemory    int64
	AssignedCpu   int
	AssignedMemory int64
	ContainerCount int
}

// ShowUserAlloc aggregates, for user, Σ CpuNeed/MemoryNeed across that
// user's Ready containers (used) and Allocating+Ready (assigned).
func (s *Scheduler) ShowUserAlloc(user string) UserAlloc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showUserAllocLocked(user)
}

func (s *Scheduler) showUserAllocLocked(user string) UserAlloc {
	alloc := UserAlloc{UserName: user}
	for _, g := range s.groups {
		if g.UserName != user {
			continue
		}
		for _, c := range g.States[types.StatusReady] {
			alloc.UsedCpu += c.Requirement.CpuNeed
			alloc.UsedMemory += c.Requirement.MemoryNeed
			alloc.ContainerCount++
		}
		for _, st := range []types.ContainerStatus{types.StatusReady, types.StatusAllocating} {
			for _, c := range g.States[st] {
				alloc.AssignedCpu += c.Requirement.CpuNeed
				alloc.AssignedMemory += c.Requirement.MemoryNeed
			}
		}
	}
	return alloc
}

// StaleAgents returns the endpoints of every agent whose last heartbeat is
// older than maxAge. An agent that has never heartbeat counts its
// registration time (AddAgent) as its first heartbeat, so a freshly added
// agent is never immediately reaped.
func (s *Scheduler) StaleAgents(maxAge time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var stale []string
	for ep, a := range s.agents {
		if a.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(a.LastHeartbeat) > maxAge {
			stale = append(stale, ep)
		}
	}
	sort.Strings(stale)
	return stale
}

// IsBeingShared reports whether groupId is referenced as a volumJobs
// dependency by any other live group — i.e. whether its Volum containers
// are still needed before the group can be safely killed.
func (s *Scheduler) IsBeingShared(groupId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, g := range s.groups {
		if id == groupId || g.Terminated {
			continue
		}
		for _, vj := range g.Require.VolumJobs {
			if vj == groupId {
				return true
			}
		}
	}
	return false
}

func groupToMeta(g *ContainerGroup) types.ContainerGroupMeta {
	status := types.GroupNormal
	if g.Terminated {
		status = types.GroupTerminated
	}
	return types.ContainerGroupMeta{
		Id:             g.Id,
		Name:           g.Name,
		UserName:       g.UserName,
		Priority:       g.Priority,
		SubmitTime:     g.SubmitTime,
		UpdateTime:     g.UpdateTime,
		Replica:        g.Replica,
		UpdateInterval: int(g.UpdateInterval / time.Second),
		Status:         status,
		Desc:           g.ContainerDesc,
		PrevDesc:       g.PrevDesc,
	}
}

// GroupMeta returns the persistable metadata snapshot for one group, used
// by the cluster layer to mirror intent into durable storage.
func (s *Scheduler) GroupMeta(id string) (types.ContainerGroupMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return types.ContainerGroupMeta{}, opErr(StatusUnknownGroup, "group %s not known", id)
	}
	return groupToMeta(g), nil
}

// ExportMetas returns a persistable metadata snapshot of every known group,
// used by the cluster layer's raft FSM to build a snapshot for compaction.
func (s *Scheduler) ExportMetas() []types.ContainerGroupMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ContainerGroupMeta, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, groupToMeta(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

package scheduler

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/orbitctl/orbit/pkg/types"
)

const (
	// MinPort and MaxPort bound the agent port range [1026, 9999].
	MinPort     = 1026
	MaxPort     = 9999
	TotalPorts  = MaxPort - MinPort + 1
)

// Device is one agent-local device path an agent advertises for volume
// placement.
type Device struct {
	Path      string
	Medium    types.VolumeMedium
	Total     int64
	Used      int64
	Exclusive bool // currently held exclusively by some container
}

// FreeSize is the space left on this device.
func (d *Device) FreeSize() int64 { return d.Total - d.Used }

// AgentState is the Scheduler's per-agent bookkeeping: totals, assigned,
// reserved (actual live usage), exclusive device ownership, assigned port
// set, and the containers currently placed here.
type AgentState struct {
	Endpoint string

	TotalCpu int
	TotalMem int64
	Devices  []*Device

	AssignedCpu     int
	DeepAssignedCpu int
	AssignedMem     int64
	DeepAssignedMem int64
	AssignedTmpfs   int64

	ReservedCpu     int
	DeepReservedCpu int
	ReservedMem     int64
	DeepReservedMem int64

	AssignedPorts map[string]bool

	Containers     map[string]*Container
	ContainerCounts map[string]int // groupId -> count of this group's containers here

	// VolumSlots tracks, for each on-agent Volum container, how many of its
	// slots are still free to be consumed by dependent Normal containers.
	VolumSlots map[string]int

	Pool   string
	Tags   map[string]bool
	Frozen bool

	LastHeartbeat time.Time
}

func newAgentState(endpoint string, totalCpu int, totalMem int64, devices []*Device, pool string, tags []string) *AgentState {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	return &AgentState{
		Endpoint:        endpoint,
		TotalCpu:        totalCpu,
		TotalMem:        totalMem,
		Devices:         devices,
		AssignedPorts:   make(map[string]bool),
		Containers:      make(map[string]*Container),
		ContainerCounts: make(map[string]int),
		VolumSlots:      make(map[string]int),
		Pool:            pool,
		Tags:            tagSet,
	}
}

// TryPut evaluates feasibility of placing c on this agent without mutating
// any state. It returns (true, Ok) when Put would succeed, or
// (false, reasonCode) for the first failing check, checked in the fixed
// order below.
func (a *AgentState) TryPut(c *Container, cfg SchedulerConfig) (bool, types.ResErrorCode) {
	req := c.Requirement

	if req.Tag != "" && !a.Tags[req.Tag] {
		return false, types.ErrTagMismatch
	}
	if !req.PoolNames[a.Pool] {
		return false, types.ErrPoolMismatch
	}
	if req.MaxPerHost > 0 && a.ContainerCounts[c.GroupId] >= req.MaxPerHost {
		return false, types.ErrTooManyPods
	}

	bestEffort := IsBestEffort(c.Priority)
	if !bestEffort {
		if a.AssignedCpu+req.CpuNeed > a.TotalCpu {
			return false, types.ErrNoCpu
		}
		if a.AssignedMem+req.MemoryNeed > a.TotalMem {
			return false, types.ErrNoMemory
		}
		if a.AssignedMem+req.MemoryNeed+a.AssignedTmpfs+req.TmpfsNeed > a.TotalMem {
			return false, types.ErrNoMemoryForTmpfs
		}
	} else {
		if a.ReservedCpu+a.DeepAssignedCpu+req.CpuNeed > a.TotalCpu {
			return false, types.ErrNoCpu
		}
		if a.ReservedMem+a.DeepAssignedMem+req.MemoryNeed > a.TotalMem {
			return false, types.ErrNoMemory
		}
		if a.AssignedMem+a.AssignedTmpfs+req.TmpfsNeed > a.TotalMem {
			return false, types.ErrNoMemoryForTmpfs
		}
	}

	if _, ok := a.assignDevices(req.NonTmpfsVolumes()); !ok {
		return false, types.ErrNoDevice
	}

	requested := req.PortCount()
	if requested+len(a.AssignedPorts) > TotalPorts {
		return false, types.ErrNoPort
	}
	if _, ok := a.assignPorts(req.Ports); !ok {
		return false, types.ErrPortConflict
	}

	if reasonCode, ok := a.checkVolumJobs(req.VolumJobs); !ok {
		return false, reasonCode
	}

	if c.Priority == types.PriorityBatch {
		batchCount := 0
		for _, lc := range a.Containers {
			if lc.Priority == types.PriorityBatch {
				batchCount++
			}
		}
		if batchCount >= cfg.MaxBatchPods {
			return false, types.ErrTooManyBatchPods
		}
	}

	return true, types.ErrOk
}

// assignDevices performs the backtracking assignment of each non-tmpfs
// volume to a device path, implemented as a recursive closure. It never
// mutates a.Devices; the caller must call commitDevices with the returned
// plan inside Put.
func (a *AgentState) assignDevices(volumes []types.VolumeSpec) ([]DeviceAllocation, bool) {
	if len(volumes) == 0 {
		return nil, true
	}
	// used/exclusiveHeld are a per-attempt overlay on top of the
	// agent's real device state, rolled back on backtrack by virtue of
	// never being written to a.Devices itself.
	used := make([]int64, len(a.Devices))
	exclusiveHeld := make([]bool, len(a.Devices)) // held exclusively by THIS assignment
	plan := make([]DeviceAllocation, len(volumes))

	var backtrack func(idx int) bool
	backtrack = func(idx int) bool {
		if idx == len(volumes) {
			return true
		}
		v := volumes[idx]
		for di, d := range a.Devices {
			if d.Medium != v.Medium {
				continue
			}
			if d.Exclusive || exclusiveHeld[di] {
				continue
			}
			free := d.FreeSize() - used[di]
			if free < v.Size {
				continue
			}
			if v.Exclusive && used[di] > 0 {
				continue
			}
			used[di] += v.Size
			if v.Exclusive {
				exclusiveHeld[di] = true
			}
			plan[idx] = DeviceAllocation{DevicePath: d.Path, Volume: v}
			if backtrack(idx + 1) {
				return true
			}
			used[di] -= v.Size
			if v.Exclusive {
				exclusiveHeld[di] = false
			}
		}
		return false
	}

	if !backtrack(0) {
		return nil, false
	}
	return plan, true
}

// assignPorts resolves every requested port to a concrete port string
// without mutating agent state; ports already in a.AssignedPorts or
// requested twice within this call are treated as collisions.
func (a *AgentState) assignPorts(specs []types.PortSpec) ([]string, bool) {
	if len(specs) == 0 {
		return nil, true
	}
	taken := make(map[string]bool, len(a.AssignedPorts))
	for p := range a.AssignedPorts {
		taken[p] = true
	}

	resolved := make([]string, len(specs))
	maxFixed := 0
	dynIdx := make([]int, 0, len(specs))

	for i, s := range specs {
		if s.IsDynamic() {
			dynIdx = append(dynIdx, i)
			continue
		}
		if taken[s.Port] {
			return nil, false
		}
		taken[s.Port] = true
		resolved[i] = s.Port
		if n := portToInt(s.Port); n > maxFixed {
			maxFixed = n
		}
	}

	if len(dynIdx) == 0 {
		return resolved, true
	}

	var cursor int
	hasFixed := maxFixed > 0
	if hasFixed {
		cursor = maxFixed + 1
		if cursor > MaxPort {
			return nil, false
		}
	} else {
		span := MaxPort - MinPort + 1 - len(dynIdx) + 1
		if span <= 0 {
			return nil, false
		}
		cursor = MinPort + rand.Intn(span)
	}

	assignedDyn := 0
	tries := 0
	for assignedDyn < len(dynIdx) && tries < TotalPorts {
		port := cursor
		if port > MaxPort {
			if hasFixed {
				return nil, false
			}
			port = MinPort + (port - MaxPort - 1)
		}
		ps := intToPort(port)
		if !taken[ps] {
			taken[ps] = true
			resolved[dynIdx[assignedDyn]] = ps
			assignedDyn++
		} else if hasFixed {
			return nil, false
		}
		cursor++
		tries++
	}
	if assignedDyn < len(dynIdx) {
		return nil, false
	}
	return resolved, true
}

func portToInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func intToPort(n int) string {
	return strconv.Itoa(n)
}

// checkVolumJobs verifies, for each referenced volum group, that at least
// one of its on-agent containers has a free slot. It does not mutate state.
func (a *AgentState) checkVolumJobs(volumJobs []string) (types.ResErrorCode, bool) {
	for _, groupId := range volumJobs {
		found := false
		for cid, slots := range a.VolumSlots {
			lc, ok := a.Containers[cid]
			if !ok || lc.GroupId != groupId {
				continue
			}
			if slots > 0 {
				found = true
				break
			}
		}
		if !found {
			return types.ErrNoVolumContainer, false
		}
	}
	return types.ErrOk, true
}

// Put commits the placement of c, previously validated by TryPut under the
// same Scheduler-held mutex. It mutates every accounting field TryPut
// checked and assigns concrete device paths, port numbers, and volum
// container ids onto c.
func (a *AgentState) Put(c *Container) {
	req := c.Requirement
	bestEffort := IsBestEffort(c.Priority)

	if bestEffort {
		a.DeepAssignedCpu += req.CpuNeed
		a.DeepAssignedMem += req.MemoryNeed
	} else {
		a.AssignedCpu += req.CpuNeed
		a.AssignedMem += req.MemoryNeed
	}
	a.AssignedTmpfs += req.TmpfsNeed

	if plan, ok := a.assignDevices(req.NonTmpfsVolumes()); ok {
		a.commitDevices(plan)
		c.AllocatedVolumes = plan
	}

	if ports, ok := a.assignPorts(req.Ports); ok {
		for _, p := range ports {
			a.AssignedPorts[p] = true
		}
		c.AllocatedPorts = ports
	}

	c.AllocatedVolumContainers = a.consumeVolumSlots(req.VolumJobs)

	a.Containers[c.Id] = c
	a.ContainerCounts[c.GroupId]++
	if c.IsVolum() {
		a.VolumSlots[c.Id] = volumSlotCapacity
	}

	c.AllocatedAgent = a.Endpoint
	c.LastResError = types.ErrOk

	if a.AssignedCpu > a.TotalCpu || a.AssignedMem > a.TotalMem {
		panic("orbit: agent over-assigned after Put")
	}
}

// volumSlotCapacity is the number of dependent Normal containers a single
// Volum container can back concurrently. One, matching the original's
// volum_jobs_free_ set: a Volum container is consumed entirely by whichever
// Normal container picks it, and only becomes available again on eviction.
const volumSlotCapacity = 1

func (a *AgentState) commitDevices(plan []DeviceAllocation) {
	for _, alloc := range plan {
		for _, d := range a.Devices {
			if d.Path == alloc.DevicePath {
				d.Used += alloc.Volume.Size
				if alloc.Volume.Exclusive {
					d.Exclusive = true
				}
				break
			}
		}
	}
}

func (a *AgentState) consumeVolumSlots(volumJobs []string) []string {
	chosen := make([]string, 0, len(volumJobs))
	for _, groupId := range volumJobs {
		for cid, slots := range a.VolumSlots {
			lc, ok := a.Containers[cid]
			if !ok || lc.GroupId != groupId || slots <= 0 {
				continue
			}
			a.VolumSlots[cid]--
			chosen = append(chosen, cid)
			break
		}
	}
	return chosen
}

// Evict reverses every bookkeeping effect of Put for c, restoring freed
// volum slots (only if the volum container is still on this agent) and
// removing c from the agent's containers map.
func (a *AgentState) Evict(c *Container) {
	req := c.Requirement
	if req == nil {
		return
	}
	bestEffort := IsBestEffort(c.Priority)
	if bestEffort {
		a.DeepAssignedCpu -= req.CpuNeed
		a.DeepAssignedMem -= req.MemoryNeed
	} else {
		a.AssignedCpu -= req.CpuNeed
		a.AssignedMem -= req.MemoryNeed
	}
	a.AssignedTmpfs -= req.TmpfsNeed

	for _, alloc := range c.AllocatedVolumes {
		for _, d := range a.Devices {
			if d.Path == alloc.DevicePath {
				d.Used -= alloc.Volume.Size
				if alloc.Volume.Exclusive {
					d.Exclusive = false
				}
				break
			}
		}
	}

	for _, p := range c.AllocatedPorts {
		delete(a.AssignedPorts, p)
	}

	for _, vcid := range c.AllocatedVolumContainers {
		if _, stillHere := a.Containers[vcid]; stillHere {
			if _, tracked := a.VolumSlots[vcid]; tracked {
				a.VolumSlots[vcid]++
			}
		}
	}

	delete(a.Containers, c.Id)
	delete(a.VolumSlots, c.Id)
	a.ContainerCounts[c.GroupId]--
	if a.ContainerCounts[c.GroupId] <= 0 {
		delete(a.ContainerCounts, c.GroupId)
	}

	c.clearAllocation()
}

// SetReserved recomputes the reserved headroom baseline used to gate
// BestEffort admission: Σ min(reservedPercent * reportedUsage, request)
// across the agent's live containers, split by priority class. Tmpfs sizes
// are added to the memory reservation in full, regardless of priority
// class — an intentionally preserved quirk, see DESIGN.md.
func (a *AgentState) SetReserved(reservedPercent float64) {
	var cpuR, deepCpuR int
	var memR, deepMemR int64

	for _, c := range a.Containers {
		if c.Requirement == nil {
			continue
		}
		reportedCpu := int(float64(c.RemoteInfo.CpuUsed) * reservedPercent)
		cpuReserve := min(reportedCpu, c.Requirement.CpuNeed)
		reportedMem := int64(float64(c.RemoteInfo.MemUsed) * reservedPercent)
		memReserve := min(reportedMem, c.Requirement.MemoryNeed)

		if IsBestEffort(c.Priority) {
			deepCpuR += cpuReserve
			deepMemR += memReserve
		} else {
			cpuR += cpuReserve
			memR += memReserve
		}
		memR += c.Requirement.TmpfsNeed
	}

	a.ReservedCpu = cpuR
	a.DeepReservedCpu = deepCpuR
	a.ReservedMem = memR
	a.DeepReservedMem = deepMemR
}

// Package types defines the data structures shared across orbit's package
// boundaries: the enums and wire shapes that cross from the scheduler core
// to the agent API, the cluster replication layer, and the metadata store.
//
// The scheduler's own internal model (Requirement, Container, ContainerGroup,
// AgentState) lives in pkg/scheduler next to the logic that operates on it;
// this package holds only what other packages need to agree on without
// importing the scheduler's full machinery.
package types

import "time"

// ContainerStatus is a position in the container lifecycle state machine.
type ContainerStatus string

const (
	StatusPending    ContainerStatus = "Pending"
	StatusAllocating ContainerStatus = "Allocating"
	StatusReady      ContainerStatus = "Ready"
	StatusFinish     ContainerStatus = "Finish"
	StatusError      ContainerStatus = "Error"
	StatusDestroying ContainerStatus = "Destroying"
	StatusTerminated ContainerStatus = "Terminated"
)

// AllStatuses enumerates every bucket a ContainerGroup partitions its
// containers into. Order is not semantically meaningful.
var AllStatuses = []ContainerStatus{
	StatusPending, StatusAllocating, StatusReady,
	StatusFinish, StatusError, StatusDestroying, StatusTerminated,
}

// Priority is a scheduling/preemption priority class. Lower values are
// preempted first; BestEffort is always the lowest.
type Priority int

const (
	PriorityBestEffort Priority = iota
	PriorityBatch
	PriorityService
	PriorityMonitor
)

func (p Priority) String() string {
	switch p {
	case PriorityBestEffort:
		return "BestEffort"
	case PriorityBatch:
		return "Batch"
	case PriorityService:
		return "Service"
	case PriorityMonitor:
		return "Monitor"
	default:
		return "Unknown"
	}
}

// VolumeMedium is the storage class of a requested volume.
type VolumeMedium string

const (
	MediumSSD   VolumeMedium = "SSD"
	MediumDisk  VolumeMedium = "DISK"
	MediumBFS   VolumeMedium = "BFS"
	MediumTmpfs VolumeMedium = "TMPFS"
)

// ContainerKind distinguishes ordinary workload containers from the
// volume-providing Volum kind.
type ContainerKind string

const (
	ContainerNormal ContainerKind = "Normal"
	ContainerVolum  ContainerKind = "Volum"
)

// ResErrorCode is the last placement/resource reason recorded on a container.
type ResErrorCode string

const (
	ErrOk               ResErrorCode = "Ok"
	ErrNoCpu            ResErrorCode = "NoCpu"
	ErrNoMemory         ResErrorCode = "NoMemory"
	ErrNoMemoryForTmpfs ResErrorCode = "NoMemoryForTmpfs"
	ErrNoDevice         ResErrorCode = "NoDevice"
	ErrNoPort           ResErrorCode = "NoPort"
	ErrPortConflict     ResErrorCode = "PortConflict"
	ErrTagMismatch      ResErrorCode = "TagMismatch"
	ErrPoolMismatch     ResErrorCode = "PoolMismatch"
	ErrTooManyPods      ResErrorCode = "TooManyPods"
	ErrNoVolumContainer ResErrorCode = "NoVolumContainer"
	ErrTooManyBatchPods ResErrorCode = "TooManyBatchPods"
)

// IsPlacementMismatch reports whether code is a sticky placement-mismatch
// class error (never replaced by a transient resource shortage).
func (c ResErrorCode) IsPlacementMismatch() bool {
	switch c {
	case ErrTagMismatch, ErrPoolMismatch, ErrTooManyPods, ErrNoVolumContainer:
		return true
	default:
		return false
	}
}

// GroupStatus is the persisted lifecycle status of a ContainerGroup.
type GroupStatus string

const (
	GroupNormal     GroupStatus = "Normal"
	GroupTerminated GroupStatus = "Terminated"
)

// CommandAction is the verb an AgentCommand instructs an agent to perform.
type CommandAction string

const (
	ActionCreateContainer  CommandAction = "CreateContainer"
	ActionDestroyContainer CommandAction = "DestroyContainer"
)

// ContainerDesc is the verbatim, user-submitted description of a container's
// image/command/requirement. The scheduler treats it as opaque except for
// the requirement fields it needs for placement; CreateContainer commands
// carry a copy of it filled in with concrete allocations.
type ContainerDesc struct {
	Image         string            `json:"image,omitempty"`
	Command       []string          `json:"command,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Tag           string            `json:"tag,omitempty"`
	PoolNames     []string          `json:"poolNames"`
	MaxPerHost    int               `json:"maxPerHost,omitempty"`
	Cpu           []CpuRequired     `json:"cpu"`
	Memory        []MemoryRequired  `json:"memory"`
	Ports         []PortSpec        `json:"ports,omitempty"`
	Volumes       []VolumeSpec      `json:"volumes,omitempty"`
	TcpThrots     []TcpThrot        `json:"tcpThrots,omitempty"`
	Blkios        []Blkio           `json:"blkios,omitempty"`
	VolumJobs     []string          `json:"volumJobs,omitempty"`
	ContainerType ContainerKind     `json:"containerType,omitempty"`
	Version       string            `json:"version,omitempty"`
	V2Support     bool              `json:"v2Support,omitempty"`

	// Filled in by the scheduler on CREATE commands; empty on submission.
	SourcePaths []string `json:"sourcePaths,omitempty"`
	RealPorts   []string `json:"realPorts,omitempty"`
}

// CpuRequired is one cgroup's cpu share request.
type CpuRequired struct {
	MilliCore int  `json:"milliCore"`
	Excess    bool `json:"excess"`
}

// MemoryRequired is one cgroup's memory request.
type MemoryRequired struct {
	Size            int64 `json:"size"`
	Excess          bool  `json:"excess"`
	UseGalaxyKiller bool  `json:"useGalaxyKiller"`
}

// PortSpec requests either the literal "dynamic" or a fixed port string.
type PortSpec struct {
	Port     string `json:"port"`
	PortName string `json:"portName,omitempty"`
}

// IsDynamic reports whether this port request is the "dynamic" sentinel.
func (p PortSpec) IsDynamic() bool { return p.Port == "dynamic" }

// VolumeSpec requests a volume mount.
type VolumeSpec struct {
	Size      int64        `json:"size"`
	Medium    VolumeMedium `json:"medium"`
	Exclusive bool         `json:"exclusive"`
	DestPath  string       `json:"destPath"`
	ReadOnly  bool         `json:"readOnly,omitempty"`
}

// TcpThrot is a per-container tcp bandwidth quota.
type TcpThrot struct {
	RecvBpsQuota int64 `json:"recvBpsQuota"`
	SendBpsQuota int64 `json:"sendBpsQuota"`
	Excess       bool  `json:"excess"`
}

// Blkio is a per-container block-io weight.
type Blkio struct {
	Weight int `json:"weight"`
}

// ContainerGroupMeta is the layout persisted for a ContainerGroup and
// replayed through Reload at startup.
type ContainerGroupMeta struct {
	Id             string         `json:"id"`
	Name           string         `json:"name"`
	UserName       string         `json:"userName"`
	Priority       Priority       `json:"priority"`
	SubmitTime     time.Time      `json:"submitTime"`
	UpdateTime     time.Time      `json:"updateTime"`
	Replica        int            `json:"replica"`
	UpdateInterval int            `json:"updateInterval"`
	Status         GroupStatus    `json:"status"`
	Desc           ContainerDesc  `json:"desc"`
	PrevDesc       *ContainerDesc `json:"prevDesc,omitempty"`
}

// ReportedContainer is one entry of an agent's heartbeat payload.
type ReportedContainer struct {
	Id          string          `json:"id"`
	GroupId     string          `json:"groupId"`
	Status      ContainerStatus `json:"status"`
	Desc        ContainerDesc   `json:"desc"`
	Version     string          `json:"version"`
	CpuUsed     int             `json:"cpuUsed"`
	MemUsed     int64           `json:"memUsed"`
	VolumesUsed []int64         `json:"volumesUsed,omitempty"`
	PortsUsed   []string        `json:"portsUsed,omitempty"`
}

// AgentInfo is the heartbeat payload an agent reports on each tick.
type AgentInfo struct {
	Endpoint   string              `json:"endpoint"`
	Containers []ReportedContainer `json:"containers"`
}

// AgentCommand is one corrective action the scheduler emits for an agent
// in response to a heartbeat.
type AgentCommand struct {
	Action      CommandAction  `json:"action"`
	ContainerId string         `json:"containerId"`
	GroupId     string         `json:"groupId"`
	Desc        *ContainerDesc `json:"desc,omitempty"`
}

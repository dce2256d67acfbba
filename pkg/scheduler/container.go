package scheduler

import (
	"github.com/orbitctl/orbit/pkg/types"
)

// DeviceAllocation pairs a resolved device path with the volume it backs.
type DeviceAllocation struct {
	DevicePath string
	Volume     types.VolumeSpec
}

// RemoteInfo is the last resource usage an agent reported for a container.
type RemoteInfo struct {
	CpuUsed     int
	MemUsed     int64
	VolumesUsed []int64
	PortsUsed   []string
}

// Container is one placeable unit: a single replica of a ContainerGroup.
type Container struct {
	Id       string
	GroupId  string
	Priority types.Priority

	// Requirement is shared by reference with every other container of the
	// same ContainerGroup version; it is swapped, never mutated in place.
	Requirement *Requirement

	Status types.ContainerStatus

	AllocatedAgent           string
	AllocatedVolumes         []DeviceAllocation
	AllocatedPorts           []string
	AllocatedVolumContainers []string

	LastResError types.ResErrorCode
	RemoteInfo   RemoteInfo
}

// IsVolum reports whether this container exists solely to provide a shared
// on-host data volume to dependent containers.
func (c *Container) IsVolum() bool {
	return c.Requirement != nil && c.Requirement.ContainerType == types.ContainerVolum
}

// holdsAgentResources reports whether a container in this status is
// expected to have a non-empty AllocatedAgent and be present in that
// agent's containers map.
func holdsAgentResources(status types.ContainerStatus) bool {
	switch status {
	case types.StatusAllocating, types.StatusReady, types.StatusDestroying:
		return true
	default:
		return false
	}
}

// clearAllocation resets every field the container carries while it holds
// no agent resources, as required on entry to Pending or Terminated.
func (c *Container) clearAllocation() {
	c.AllocatedAgent = ""
	c.AllocatedVolumes = nil
	c.AllocatedPorts = nil
	c.AllocatedVolumContainers = nil
	c.RemoteInfo = RemoteInfo{}
}

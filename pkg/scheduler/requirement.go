package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orbitctl/orbit/pkg/types"
)

// Requirement is an immutable, versioned description of a container's
// resource and constraint needs. All containers of one ContainerGroup
// version share the same *Requirement by reference; a mutation mints a new
// version rather than changing one in place.
type Requirement struct {
	Tag           string
	PoolNames     map[string]bool
	MaxPerHost    int
	Cpu           []types.CpuRequired
	Memory        []types.MemoryRequired
	Ports         []types.PortSpec
	Volumes       []types.VolumeSpec
	TcpThrots     []types.TcpThrot
	Blkios        []types.Blkio
	VolumJobs     []string
	ContainerType types.ContainerKind
	Version       string
	V2Support     bool

	// Derived, computed once at Seal time.
	CpuNeed   int
	MemoryNeed int64
	TmpfsNeed int64
	DiskNeed  int64
	SsdNeed   int64
}

// SealRequirement builds an immutable Requirement from a submitted
// ContainerDesc, stamped with the caller-supplied version token. It never
// mints a token itself; Reload passes the desc's previously-minted version.
func SealRequirement(desc types.ContainerDesc, version string) *Requirement {
	pools := make(map[string]bool, len(desc.PoolNames))
	for _, p := range desc.PoolNames {
		pools[p] = true
	}
	r := &Requirement{
		Tag:           desc.Tag,
		PoolNames:     pools,
		MaxPerHost:    desc.MaxPerHost,
		Cpu:           append([]types.CpuRequired(nil), desc.Cpu...),
		Memory:        append([]types.MemoryRequired(nil), desc.Memory...),
		Ports:         append([]types.PortSpec(nil), desc.Ports...),
		Volumes:       append([]types.VolumeSpec(nil), desc.Volumes...),
		TcpThrots:     append([]types.TcpThrot(nil), desc.TcpThrots...),
		Blkios:        append([]types.Blkio(nil), desc.Blkios...),
		VolumJobs:     append([]string(nil), desc.VolumJobs...),
		ContainerType: desc.ContainerType,
		Version:       version,
		V2Support:     desc.V2Support,
	}
	if r.ContainerType == "" {
		r.ContainerType = types.ContainerNormal
	}
	r.computeDerived()
	return r
}

func (r *Requirement) computeDerived() {
	r.CpuNeed = 0
	for _, c := range r.Cpu {
		r.CpuNeed += c.MilliCore
	}
	r.MemoryNeed = 0
	for _, m := range r.Memory {
		r.MemoryNeed += m.Size
	}
	r.TmpfsNeed, r.DiskNeed, r.SsdNeed = 0, 0, 0
	for _, v := range r.Volumes {
		switch v.Medium {
		case types.MediumTmpfs:
			r.TmpfsNeed += v.Size
		case types.MediumDisk, types.MediumBFS:
			r.DiskNeed += v.Size
		case types.MediumSSD:
			r.SsdNeed += v.Size
		}
	}
}

// NonTmpfsVolumes returns the ordered subset of Volumes that require a
// device path assignment (every medium except TMPFS).
func (r *Requirement) NonTmpfsVolumes() []types.VolumeSpec {
	out := make([]types.VolumeSpec, 0, len(r.Volumes))
	for _, v := range r.Volumes {
		if v.Medium != types.MediumTmpfs {
			out = append(out, v)
		}
	}
	return out
}

// PortCount is the total number of ports requested across all cgroups.
func (r *Requirement) PortCount() int { return len(r.Ports) }

// IsBestEffort reports whether containers of this kind are accounted for
// against headroom rather than hard totals; priority is tracked on the
// ContainerGroup, not the Requirement, but call sites keep this helper
// for symmetry with the rest of the priority-class vocabulary.
func IsBestEffort(p types.Priority) bool { return p == types.PriorityBestEffort }

// RequireHasDiff returns true iff any field that should trigger a new
// Requirement version differs between v1 and v2. The version token itself
// is never consulted — it is the diff's output, not its input.
func RequireHasDiff(v1, v2 *Requirement) bool {
	if v1 == nil || v2 == nil {
		return v1 != v2
	}
	if v1.ContainerType != v2.ContainerType {
		return true
	}
	if v1.Tag != v2.Tag {
		return true
	}
	if v1.V2Support != v2.V2Support {
		return true
	}
	if v1.MaxPerHost != v2.MaxPerHost {
		return true
	}
	if stringSliceDiff(v1.VolumJobs, v2.VolumJobs) {
		return true
	}
	if len(v1.Cpu) != len(v2.Cpu) {
		return true
	}
	for i := range v1.Cpu {
		if v1.Cpu[i] != v2.Cpu[i] {
			return true
		}
	}
	if len(v1.Memory) != len(v2.Memory) {
		return true
	}
	for i := range v1.Memory {
		if v1.Memory[i] != v2.Memory[i] {
			return true
		}
	}
	if len(v1.Volumes) != len(v2.Volumes) {
		return true
	}
	for i := range v1.Volumes {
		if v1.Volumes[i] != v2.Volumes[i] {
			return true
		}
	}
	if len(v1.Ports) != len(v2.Ports) {
		return true
	}
	for i := range v1.Ports {
		if v1.Ports[i] != v2.Ports[i] {
			return true
		}
	}
	if len(v1.TcpThrots) != len(v2.TcpThrots) {
		return true
	}
	for i := range v1.TcpThrots {
		if v1.TcpThrots[i] != v2.TcpThrots[i] {
			return true
		}
	}
	if len(v1.Blkios) != len(v2.Blkios) {
		return true
	}
	for i := range v1.Blkios {
		if v1.Blkios[i] != v2.Blkios[i] {
			return true
		}
	}
	return false
}

func stringSliceDiff(a, b []string) bool {
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}

// NewVersionToken mints an opaque version token of the form
// ver_<yyyymmdd_hh:mm:ss>_<uuid-suffix>, used to pace rolling updates and
// reject stale heartbeats.
func NewVersionToken(now time.Time) string {
	return fmt.Sprintf("ver_%s_%s", now.Format("20060102_15:04:05"), uuid.New().String()[:8])
}

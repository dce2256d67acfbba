package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/orbitctl/orbit/pkg/log"
	"github.com/orbitctl/orbit/pkg/scheduler"
	"github.com/orbitctl/orbit/pkg/storage"
	"github.com/orbitctl/orbit/pkg/types"
	"github.com/hashicorp/raft"
)

// orbitFSM is the Raft finite state machine backing a cluster. Every
// committed log entry replays deterministically against an in-process
// scheduler.Scheduler, which is why every op's arguments (including any
// newly minted id or version token) are computed once by the leader and
// carried in the log entry rather than regenerated by each replica.
type orbitFSM struct {
	mu    sync.Mutex
	sched *scheduler.Scheduler
	store storage.Store
}

func newOrbitFSM(sched *scheduler.Scheduler, store storage.Store) *orbitFSM {
	return &orbitFSM{sched: sched, store: store}
}

// Command is one entry in the Raft log: an intent operation and its
// JSON-encoded, already-sealed arguments.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type submitGroupArgs struct {
	Id       string              `json:"id"`
	Version  string              `json:"version"`
	Now      time.Time           `json:"now"`
	Name     string              `json:"name"`
	Desc     types.ContainerDesc `json:"desc"`
	Replica  int                 `json:"replica"`
	Priority types.Priority      `json:"priority"`
	User     string              `json:"user"`
}

type updateGroupArgs struct {
	GroupId     string              `json:"groupId"`
	Desc        types.ContainerDesc `json:"desc"`
	IntervalSec int64               `json:"intervalSec"`
	NextVersion string              `json:"nextVersion"`
	Now         time.Time           `json:"now"`
}

type rollbackGroupArgs struct {
	GroupId     string    `json:"groupId"`
	NextVersion string    `json:"nextVersion"`
	Now         time.Time `json:"now"`
}

type groupIdArgs struct {
	GroupId string `json:"groupId"`
}

type changeReplicaArgs struct {
	GroupId string `json:"groupId"`
	Replica int    `json:"replica"`
}

type continueUpdateArgs struct {
	GroupId    string `json:"groupId"`
	BreakCount int    `json:"breakCount"`
}

type changeStatusArgs struct {
	GroupId     string               `json:"groupId"`
	ContainerId string               `json:"containerId"`
	NewStatus   types.ContainerStatus `json:"newStatus"`
}

type addAgentArgs struct {
	Endpoint string                    `json:"endpoint"`
	TotalCpu int                       `json:"totalCpu"`
	TotalMem int64                     `json:"totalMem"`
	Devices  []*scheduler.Device       `json:"devices"`
	Pool     string                    `json:"pool"`
	Tags     []string                  `json:"tags"`
	Reported []types.ReportedContainer `json:"reported"`
}

type endpointArgs struct {
	Endpoint string `json:"endpoint"`
}

type endpointTagArgs struct {
	Endpoint string `json:"endpoint"`
	Tag      string `json:"tag"`
}

type endpointPoolArgs struct {
	Endpoint string `json:"endpoint"`
	Pool     string `json:"pool"`
}

type manualScheduleArgs struct {
	Endpoint string `json:"endpoint"`
	GroupId  string `json:"groupId"`
}

// applyResult is what Apply returns through the raft future; Cluster's
// wrapper methods unpack it back into (value, error).
type applyResult struct {
	Value interface{}
	Err   error
}

// Apply decodes and replays one committed log entry against the scheduler.
func (f *orbitFSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return applyResult{Err: fmt.Errorf("decode command: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "submit_group":
		var a submitGroupArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		err := f.sched.SubmitSealed(a.Id, a.Version, a.Now, a.Name, a.Desc, a.Replica, a.Priority, a.User)
		if err == nil {
			f.persistGroup(a.Id)
		}
		return applyResult{Value: a.Id, Err: err}

	case "update_group":
		var a updateGroupArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		v, err := f.sched.UpdateSealed(a.GroupId, a.Desc, time.Duration(a.IntervalSec)*time.Second, a.NextVersion, a.Now)
		if err == nil {
			f.persistGroup(a.GroupId)
		}
		return applyResult{Value: v, Err: err}

	case "rollback_group":
		var a rollbackGroupArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		v, err := f.sched.RollbackSealed(a.GroupId, a.NextVersion, a.Now)
		if err == nil {
			f.persistGroup(a.GroupId)
		}
		return applyResult{Value: v, Err: err}

	case "kill_group":
		var a groupIdArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		err := f.sched.Kill(a.GroupId)
		if err == nil {
			f.persistGroup(a.GroupId)
		}
		return applyResult{Err: err}

	case "change_replica":
		var a changeReplicaArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		err := f.sched.ChangeReplica(a.GroupId, a.Replica)
		if err == nil {
			f.persistGroup(a.GroupId)
		}
		return applyResult{Err: err}

	case "pause_update":
		var a groupIdArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.PauseUpdate(a.GroupId)}

	case "continue_update":
		var a continueUpdateArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.ContinueUpdate(a.GroupId, a.BreakCount)}

	case "change_container_status":
		var a changeStatusArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.ChangeStatus(a.GroupId, a.ContainerId, a.NewStatus)}

	case "add_agent":
		var a addAgentArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.AddAgent(a.Endpoint, a.TotalCpu, a.TotalMem, a.Devices, a.Pool, a.Tags, a.Reported)}

	case "remove_agent":
		var a endpointArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.RemoveAgent(a.Endpoint)}

	case "add_tag":
		var a endpointTagArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.AddTag(a.Endpoint, a.Tag)}

	case "remove_tag":
		var a endpointTagArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.RemoveTag(a.Endpoint, a.Tag)}

	case "set_pool":
		var a endpointPoolArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.SetPool(a.Endpoint, a.Pool)}

	case "freeze_agent":
		var a endpointArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.FreezeAgent(a.Endpoint)}

	case "thaw_agent":
		var a endpointArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.sched.ThawAgent(a.Endpoint)}

	case "manual_schedule":
		var a manualScheduleArgs
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return applyResult{Err: err}
		}
		ok, err := f.sched.ManualSchedule(a.Endpoint, a.GroupId)
		return applyResult{Value: ok, Err: err}

	default:
		return applyResult{Err: fmt.Errorf("unknown command: %s", cmd.Op)}
	}
}

// persistGroup mirrors one group's metadata into durable storage. Errors
// are logged, not returned: storage is a recovery aid, not the source of
// truth, and must never cause the raft log to diverge from itself.
func (f *orbitFSM) persistGroup(id string) {
	meta, err := f.sched.GroupMeta(id)
	if err != nil {
		return
	}
	if err := f.store.SaveGroup(&meta); err != nil {
		log.WithGroupID(id).Error().Err(err).Msg("failed to persist container group")
	}
}

// Snapshot captures every known group's metadata for log compaction.
// Agent rosters are excluded: after a restore an agent stays unknown until
// it is added again through AddAgent, and until then its heartbeats are
// answered with DestroyContainer for every container it reports.
func (f *orbitFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &orbitSnapshot{Groups: f.sched.ExportMetas()}, nil
}

// Restore replays a snapshot's group metadata back into the scheduler.
func (f *orbitFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap orbitSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, meta := range snap.Groups {
		if err := f.sched.Reload(meta); err != nil {
			return fmt.Errorf("restore group %s: %w", meta.Id, err)
		}
		m := meta
		if err := f.store.SaveGroup(&m); err != nil {
			log.WithGroupID(meta.Id).Error().Err(err).Msg("failed to persist restored container group")
		}
	}
	return nil
}

type orbitSnapshot struct {
	Groups []types.ContainerGroupMeta
}

func (s *orbitSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *orbitSnapshot) Release() {}

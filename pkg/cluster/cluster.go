// Package cluster wires the scheduler into a raft quorum: every mutating
// intent operation is replicated through raft.Raft before it is applied to
// a node's local scheduler.Scheduler, so every manager in the quorum
// converges on the same placement decisions. Reads go straight to the
// local scheduler, which is safe because it only ever advances by
// replaying committed log entries.
package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/orbitctl/orbit/pkg/events"
	"github.com/orbitctl/orbit/pkg/scheduler"
	"github.com/orbitctl/orbit/pkg/storage"
	"github.com/orbitctl/orbit/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config holds the parameters needed to construct a Cluster.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Cluster is one manager node's control-plane: a raft.Raft instance
// replicating intent operations into a scheduler.Scheduler, backed by a
// bbolt-based storage.Store for crash recovery.
type Cluster struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *orbitFSM
	store  storage.Store
	sched  *scheduler.Scheduler
	tokens *TokenManager
	events *events.Broker
}

// New creates a Cluster bound to an already-constructed Scheduler. Call
// Bootstrap or Join next to actually stand up the raft instance.
func New(cfg Config, sched *scheduler.Scheduler) (*Cluster, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	sched.SetEvents(broker)

	return &Cluster{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      newOrbitFSM(sched, store),
		store:    store,
		sched:    sched,
		tokens:   NewTokenManager(),
		events:   broker,
	}, nil
}

// Scheduler exposes the local scheduler for read-only queries; callers
// must never call a mutating Scheduler method directly, since that would
// diverge from the raft log the rest of the quorum is replaying.
func (c *Cluster) Scheduler() *scheduler.Scheduler { return c.sched }

// Tokens exposes the join-token manager so the API layer can mint and
// validate tokens for incoming join requests.
func (c *Cluster) Tokens() *TokenManager { return c.tokens }

// Events exposes the cluster event broker so callers can subscribe to
// placement and membership notifications for observability.
func (c *Cluster) Events() *events.Broker { return c.events }

func (c *Cluster) publish(typ events.EventType, message string, meta map[string]string) {
	c.events.Publish(&events.Event{Type: typ, Message: message, Metadata: meta})
}

// raftConfig builds the shared raft.Config used by both Bootstrap and
// Join. The defaults ship tuned for WAN deployments; these values target
// sub-10-second failover on a LAN-latency cluster.
func (c *Cluster) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(c.nodeID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

func (c *Cluster) newRaft() (*raft.Raft, error) {
	addr, err := net.ResolveTCPAddr("tcp", c.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(c.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(c.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(c.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(c.raftConfig(), c.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}
	return r, nil
}

// Bootstrap initializes a brand new single-node raft cluster with this
// node as its only member.
func (c *Cluster) Bootstrap() error {
	r, err := c.newRaft()
	if err != nil {
		return err
	}
	c.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(c.nodeID), Address: raft.ServerAddress(c.bindAddr)}},
	}
	if err := c.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	return nil
}

type joinRequest struct {
	NodeID   string `json:"nodeId"`
	RaftAddr string `json:"raftAddr"`
	Token    string `json:"token"`
}

// Join starts this node's raft instance and asks the leader at
// leaderAPIAddr to add it as a voter, authenticated by token.
func (c *Cluster) Join(leaderAPIAddr, token string) error {
	r, err := c.newRaft()
	if err != nil {
		return err
	}
	c.raft = r

	body, err := json.Marshal(joinRequest{NodeID: c.nodeID, RaftAddr: c.bindAddr, Token: token})
	if err != nil {
		return fmt.Errorf("encode join request: %w", err)
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/v1/cluster/join", leaderAPIAddr), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contact leader: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leader rejected join: %s", resp.Status)
	}
	return nil
}

// AddVoter adds a new manager node to the raft configuration. Only the
// leader may call this; it backs the server side of Join.
func (c *Cluster) AddVoter(nodeID, raftAddr string) error {
	if c.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !c.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", c.LeaderAddr())
	}
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(raftAddr), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a manager node from the raft configuration.
func (c *Cluster) RemoveServer(nodeID string) error {
	if c.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !c.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	future := c.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// IsLeader reports whether this node currently holds raft leadership.
func (c *Cluster) IsLeader() bool {
	return c.raft != nil && c.raft.State() == raft.Leader
}

// LeaderAddr returns the raft bind address of the current leader.
func (c *Cluster) LeaderAddr() string {
	if c.raft == nil {
		return ""
	}
	return string(c.raft.Leader())
}

// Stats returns a snapshot of the raft node's internal counters, exported
// through pkg/metrics.
func (c *Cluster) Stats() map[string]uint64 {
	if c.raft == nil {
		return nil
	}
	return map[string]uint64{
		"last_log_index": c.raft.LastIndex(),
		"applied_index":  c.raft.AppliedIndex(),
	}
}

// Shutdown stops raft and closes the storage backend.
func (c *Cluster) Shutdown() error {
	c.events.Stop()
	if c.raft != nil {
		if err := c.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}

// apply marshals cmd and submits it to the raft log, blocking until it is
// committed and applied, then unpacks the FSM's result.
func (c *Cluster) apply(op string, args interface{}) (interface{}, error) {
	if c.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	if !c.IsLeader() {
		return nil, fmt.Errorf("not the leader, current leader: %s", c.LeaderAddr())
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", op, err)
	}
	cmd := Command{Op: op, Data: data}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	future := c.raft.Apply(payload, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("apply %s: %w", op, err)
	}
	res, ok := future.Response().(applyResult)
	if !ok {
		return nil, fmt.Errorf("apply %s: unexpected fsm response %T", op, future.Response())
	}
	return res.Value, res.Err
}

// SubmitGroup mints a group id/version on the leader and replicates the
// submission through raft.
func (c *Cluster) SubmitGroup(name string, desc types.ContainerDesc, replica int, priority types.Priority, user string) (string, error) {
	now := time.Now()
	id := scheduler.NewContainerGroupId(name, now)
	version := scheduler.NewVersionToken(now)
	v, err := c.apply("submit_group", submitGroupArgs{Id: id, Version: version, Now: now, Name: name, Desc: desc, Replica: replica, Priority: priority, User: user})
	if err != nil {
		return "", err
	}
	id, _ = v.(string)
	c.publish(events.EventGroupSubmitted, "group submitted", map[string]string{"groupId": id, "name": name})
	return id, nil
}

// UpdateGroup mints a next-version token on the leader and replicates the
// update through raft.
func (c *Cluster) UpdateGroup(groupId string, desc types.ContainerDesc, interval time.Duration) (string, error) {
	now := time.Now()
	nextVersion := scheduler.NewVersionToken(now)
	v, err := c.apply("update_group", updateGroupArgs{GroupId: groupId, Desc: desc, IntervalSec: int64(interval / time.Second), NextVersion: nextVersion, Now: now})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	c.publish(events.EventGroupUpdateStarted, "rolling update started", map[string]string{"groupId": groupId, "version": s})
	return s, nil
}

// RollbackGroup replicates a rollback to the group's previous description.
func (c *Cluster) RollbackGroup(groupId string) (string, error) {
	now := time.Now()
	nextVersion := scheduler.NewVersionToken(now)
	v, err := c.apply("rollback_group", rollbackGroupArgs{GroupId: groupId, NextVersion: nextVersion, Now: now})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// CancelUpdate is RollbackGroup under the name the Intent API exposes it
// as: restoring the previous description cancels an in-flight rollout.
func (c *Cluster) CancelUpdate(groupId string) error {
	_, err := c.RollbackGroup(groupId)
	return err
}

// KillGroup replicates termination of a group.
func (c *Cluster) KillGroup(groupId string) error {
	_, err := c.apply("kill_group", groupIdArgs{GroupId: groupId})
	if err == nil {
		c.publish(events.EventGroupKilled, "group killed", map[string]string{"groupId": groupId})
	}
	return err
}

// ChangeReplica replicates a replica-count change for a group.
func (c *Cluster) ChangeReplica(groupId string, n int) error {
	_, err := c.apply("change_replica", changeReplicaArgs{GroupId: groupId, Replica: n})
	return err
}

// PauseUpdate replicates pausing a group's rollout pacing.
func (c *Cluster) PauseUpdate(groupId string) error {
	_, err := c.apply("pause_update", groupIdArgs{GroupId: groupId})
	return err
}

// ContinueUpdate replicates resuming a paused rollout.
func (c *Cluster) ContinueUpdate(groupId string, breakCount int) error {
	_, err := c.apply("continue_update", continueUpdateArgs{GroupId: groupId, BreakCount: breakCount})
	return err
}

// ChangeContainerStatus replicates an agent-reported container status
// transition.
func (c *Cluster) ChangeContainerStatus(groupId, containerId string, newStatus types.ContainerStatus) error {
	_, err := c.apply("change_container_status", changeStatusArgs{GroupId: groupId, ContainerId: containerId, NewStatus: newStatus})
	return err
}

// AddAgent replicates registration of a new agent.
func (c *Cluster) AddAgent(endpoint string, totalCpu int, totalMem int64, devices []*scheduler.Device, pool string, tags []string, reported []types.ReportedContainer) error {
	_, err := c.apply("add_agent", addAgentArgs{Endpoint: endpoint, TotalCpu: totalCpu, TotalMem: totalMem, Devices: devices, Pool: pool, Tags: tags, Reported: reported})
	if err == nil {
		c.publish(events.EventAgentJoined, "agent joined", map[string]string{"endpoint": endpoint})
	}
	return err
}

// RemoveAgent replicates deregistration of an agent.
func (c *Cluster) RemoveAgent(endpoint string) error {
	_, err := c.apply("remove_agent", endpointArgs{Endpoint: endpoint})
	if err == nil {
		c.publish(events.EventAgentDown, "agent removed", map[string]string{"endpoint": endpoint})
	}
	return err
}

// AddTag replicates adding a scheduling tag to an agent.
func (c *Cluster) AddTag(endpoint, tag string) error {
	_, err := c.apply("add_tag", endpointTagArgs{Endpoint: endpoint, Tag: tag})
	return err
}

// RemoveTag replicates removing a scheduling tag from an agent.
func (c *Cluster) RemoveTag(endpoint, tag string) error {
	_, err := c.apply("remove_tag", endpointTagArgs{Endpoint: endpoint, Tag: tag})
	return err
}

// SetPool replicates reassigning an agent to a pool.
func (c *Cluster) SetPool(endpoint, pool string) error {
	_, err := c.apply("set_pool", endpointPoolArgs{Endpoint: endpoint, Pool: pool})
	return err
}

// FreezeAgent replicates freezing an agent against new placements.
func (c *Cluster) FreezeAgent(endpoint string) error {
	_, err := c.apply("freeze_agent", endpointArgs{Endpoint: endpoint})
	if err == nil {
		c.publish(events.EventAgentFrozen, "agent frozen", map[string]string{"endpoint": endpoint})
	}
	return err
}

// ThawAgent replicates thawing a previously frozen agent.
func (c *Cluster) ThawAgent(endpoint string) error {
	_, err := c.apply("thaw_agent", endpointArgs{Endpoint: endpoint})
	return err
}

// ManualSchedule replicates a manual preemption attempt.
func (c *Cluster) ManualSchedule(endpoint, groupId string) (bool, error) {
	v, err := c.apply("manual_schedule", manualScheduleArgs{Endpoint: endpoint, GroupId: groupId})
	if err != nil {
		return false, err
	}
	ok, _ := v.(bool)
	return ok, nil
}

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/orbitctl/orbit/pkg/log"
	"github.com/orbitctl/orbit/pkg/scheduler"
	"github.com/orbitctl/orbit/pkg/types"
)

// Config holds the parameters a simulated agent registers itself with.
type Config struct {
	Endpoint    string
	ManagerAddr string
	TotalCpu    int
	TotalMem    int64
	Devices     []*scheduler.Device
	Pool        string
	Tags        []string

	HeartbeatInterval time.Duration
}

// Agent is a bookkeeping stand-in for a real worker host. It registers with
// a manager, heartbeats its reported container set on a timer, and executes
// the AgentCommands it gets back by updating its own local state only — it
// never touches cgroups, mounts, or process namespaces. It exists to drive
// the scheduler's heartbeat-diffing and rolling-update pacing without a real
// container runtime underneath.
type Agent struct {
	cfg    Config
	client *http.Client

	mu         sync.RWMutex
	containers map[string]*types.ReportedContainer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAgent creates an agent bound to cfg. Call Start to register and begin
// heartbeating.
func NewAgent(cfg Config) *Agent {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	return &Agent{
		cfg:        cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		containers: make(map[string]*types.ReportedContainer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

type deviceDTO struct {
	Path      string             `json:"path"`
	Medium    types.VolumeMedium `json:"medium"`
	Total     int64              `json:"total"`
	Used      int64              `json:"used"`
	Exclusive bool               `json:"exclusive"`
}

type addAgentRequest struct {
	Endpoint string      `json:"endpoint"`
	TotalCpu int         `json:"totalCpu"`
	TotalMem int64       `json:"totalMem"`
	Devices  []deviceDTO `json:"devices,omitempty"`
	Pool     string      `json:"pool,omitempty"`
	Tags     []string    `json:"tags,omitempty"`
}

// Start registers the agent with its manager and begins the heartbeat loop.
// It returns once registration succeeds; the loop runs in the background
// until Stop is called.
func (a *Agent) Start() error {
	devices := make([]deviceDTO, 0, len(a.cfg.Devices))
	for _, d := range a.cfg.Devices {
		devices = append(devices, deviceDTO{Path: d.Path, Medium: d.Medium, Total: d.Total, Used: d.Used, Exclusive: d.Exclusive})
	}
	req := addAgentRequest{
		Endpoint: a.cfg.Endpoint, TotalCpu: a.cfg.TotalCpu, TotalMem: a.cfg.TotalMem,
		Devices: devices, Pool: a.cfg.Pool, Tags: a.cfg.Tags,
	}
	if err := a.post("/v1/agents", req, nil); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	log.WithAgentID(a.cfg.Endpoint).Info().Str("manager", a.cfg.ManagerAddr).Msg("agent registered")

	go a.heartbeatLoop()
	return nil
}

// Stop halts the heartbeat loop and waits for it to exit.
func (a *Agent) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *Agent) heartbeatLoop() {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.sendHeartbeat(); err != nil {
				log.WithAgentID(a.cfg.Endpoint).Warn().Err(err).Msg("heartbeat failed")
			}
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) sendHeartbeat() error {
	a.mu.RLock()
	reported := make([]types.ReportedContainer, 0, len(a.containers))
	for _, c := range a.containers {
		reported = append(reported, *c)
	}
	a.mu.RUnlock()

	info := types.AgentInfo{Endpoint: a.cfg.Endpoint, Containers: reported}
	var cmds []types.AgentCommand
	if err := a.post(fmt.Sprintf("/v1/agents/%s/heartbeat", a.cfg.Endpoint), info, &cmds); err != nil {
		return err
	}
	for _, cmd := range cmds {
		a.executeCommand(cmd)
	}
	return nil
}

// executeCommand applies a single command to the agent's local reported
// state. This is the entire "execution" a simulated agent performs: it
// never pulls an image, creates a cgroup, or mounts a volume. A real agent
// would do that work here and report the outcome on the next heartbeat;
// this one reports success immediately.
func (a *Agent) executeCommand(cmd types.AgentCommand) {
	logger := log.WithAgentID(a.cfg.Endpoint)
	switch cmd.Action {
	case types.ActionCreateContainer:
		if cmd.Desc == nil {
			logger.Warn().Str("container", cmd.ContainerId).Msg("create command missing desc")
			return
		}
		a.mu.Lock()
		a.containers[cmd.ContainerId] = &types.ReportedContainer{
			Id:      cmd.ContainerId,
			GroupId: cmd.GroupId,
			Status:  types.StatusReady,
			Desc:    *cmd.Desc,
			Version: cmd.Desc.Version,
		}
		a.mu.Unlock()
		logger.Info().Str("container", cmd.ContainerId).Str("group", cmd.GroupId).Msg("container created")
	case types.ActionDestroyContainer:
		a.mu.Lock()
		delete(a.containers, cmd.ContainerId)
		a.mu.Unlock()
		logger.Info().Str("container", cmd.ContainerId).Msg("container destroyed")
	default:
		logger.Warn().Str("action", string(cmd.Action)).Msg("unknown command action")
	}
}

func (a *Agent) post(path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ManagerAddr+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("manager returned %s: %s", resp.Status, errBody["error"])
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Package client implements a thin HTTP+JSON client for the Intent API,
// used by cmd/orbitctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/orbitctl/orbit/pkg/events"
	"github.com/orbitctl/orbit/pkg/scheduler"
	"github.com/orbitctl/orbit/pkg/types"
)

// Client wraps an HTTP connection to a single manager's Intent API. It does
// not retry against other managers on its own; callers that hit a "not the
// leader" error must reconnect to the address the error names.
type Client struct {
	addr string
	http *http.Client
	// stream is used for long-lived requests (StreamEvents) that must not
	// be cut off by http.Client's fixed deadline, and rely solely on ctx.
	stream *http.Client
}

// NewClient creates a client bound to addr, e.g. "http://127.0.0.1:8080".
func NewClient(addr string) *Client {
	return &Client{
		addr:   addr,
		http:   &http.Client{Timeout: 10 * time.Second},
		stream: &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, errBody["error"])
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// SubmitGroup submits a new container group.
func (c *Client) SubmitGroup(ctx context.Context, name string, desc types.ContainerDesc, replica int, priority types.Priority, user string) (string, error) {
	req := map[string]interface{}{"name": name, "desc": desc, "replica": replica, "priority": priority, "user": user}
	var out map[string]string
	if err := c.do(ctx, http.MethodPost, "/v1/groups", req, &out); err != nil {
		return "", err
	}
	return out["id"], nil
}

// ListGroups returns a summary of every known container group.
func (c *Client) ListGroups(ctx context.Context) ([]scheduler.GroupSummary, error) {
	var out []scheduler.GroupSummary
	err := c.do(ctx, http.MethodGet, "/v1/groups", nil, &out)
	return out, err
}

// ShowGroup returns the summary for one container group.
func (c *Client) ShowGroup(ctx context.Context, id string) (*scheduler.GroupSummary, error) {
	var out scheduler.GroupSummary
	if err := c.do(ctx, http.MethodGet, "/v1/groups/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KillGroup terminates every container in a group and marks it terminated.
func (c *Client) KillGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/groups/"+id, nil, nil)
}

// UpdateGroup starts a rolling update to a new ContainerDesc.
func (c *Client) UpdateGroup(ctx context.Context, id string, desc types.ContainerDesc, interval time.Duration) (string, error) {
	req := map[string]interface{}{"desc": desc, "intervalSec": int64(interval / time.Second)}
	var out map[string]string
	if err := c.do(ctx, http.MethodPut, "/v1/groups/"+id, req, &out); err != nil {
		return "", err
	}
	return out["version"], nil
}

// RollbackGroup reverts a group to its previous ContainerDesc.
func (c *Client) RollbackGroup(ctx context.Context, id string) (string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodPost, "/v1/groups/"+id+"/rollback", nil, &out); err != nil {
		return "", err
	}
	return out["version"], nil
}

// CancelUpdate aborts an in-progress rolling update by rolling the group
// back to its previous ContainerDesc, the same as RollbackGroup.
func (c *Client) CancelUpdate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/"+id+"/cancel-update", nil, nil)
}

// ChangeReplica resizes a group's replica count.
func (c *Client) ChangeReplica(ctx context.Context, id string, replica int) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/"+id+"/replica", map[string]int{"replica": replica}, nil)
}

// PauseUpdate pauses an in-progress rolling update after its current batch.
func (c *Client) PauseUpdate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/"+id+"/pause", nil, nil)
}

// ContinueUpdate resumes a paused rolling update for breakCount more containers.
func (c *Client) ContinueUpdate(ctx context.Context, id string, breakCount int) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/"+id+"/continue", map[string]int{"breakCount": breakCount}, nil)
}

// ChangeContainerStatus manually transitions one container's status
// (orbitctl's "group preempt" sends StatusTerminated). It is separate from
// ManualSchedule, the scheduler's preemption path.
func (c *Client) ChangeContainerStatus(ctx context.Context, groupID, containerID string, status types.ContainerStatus) error {
	return c.do(ctx, http.MethodPost, "/v1/groups/"+groupID+"/containers/"+containerID+"/status", map[string]string{"status": string(status)}, nil)
}

// ShowUserAlloc reports a user's current aggregate resource usage.
func (c *Client) ShowUserAlloc(ctx context.Context, user string) (*scheduler.UserAlloc, error) {
	var out scheduler.UserAlloc
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+user+"/alloc", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAgents returns a summary of every known agent.
func (c *Client) ListAgents(ctx context.Context) ([]scheduler.AgentSummary, error) {
	var out []scheduler.AgentSummary
	err := c.do(ctx, http.MethodGet, "/v1/agents", nil, &out)
	return out, err
}

// ShowAgent returns the summary for a single agent.
func (c *Client) ShowAgent(ctx context.Context, endpoint string) (*scheduler.AgentSummary, error) {
	var out scheduler.AgentSummary
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveAgent decommissions an agent, freeing its containers for rescheduling.
func (c *Client) RemoveAgent(ctx context.Context, endpoint string) error {
	return c.do(ctx, http.MethodDelete, "/v1/agents/"+endpoint, nil, nil)
}

// AddTag attaches a placement tag to an agent.
func (c *Client) AddTag(ctx context.Context, endpoint, tag string) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+endpoint+"/tags", map[string]string{"tag": tag}, nil)
}

// RemoveTag removes a placement tag from an agent.
func (c *Client) RemoveTag(ctx context.Context, endpoint, tag string) error {
	return c.do(ctx, http.MethodDelete, "/v1/agents/"+endpoint+"/tags/"+tag, nil, nil)
}

// SetPool reassigns an agent's placement pool.
func (c *Client) SetPool(ctx context.Context, endpoint, pool string) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+endpoint+"/pool", map[string]string{"pool": pool}, nil)
}

// FreezeAgent marks an agent ineligible for new placements.
func (c *Client) FreezeAgent(ctx context.Context, endpoint string) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+endpoint+"/freeze", nil, nil)
}

// ThawAgent makes a frozen agent eligible for placement again.
func (c *Client) ThawAgent(ctx context.Context, endpoint string) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+endpoint+"/thaw", nil, nil)
}

// ManualSchedule forces one pending container of groupID onto endpoint,
// bypassing the normal placement scan.
func (c *Client) ManualSchedule(ctx context.Context, endpoint, groupID string) (bool, error) {
	var out map[string]bool
	if err := c.do(ctx, http.MethodPost, "/v1/agents/"+endpoint+"/schedule?groupId="+groupID, nil, &out); err != nil {
		return false, err
	}
	return out["scheduled"], nil
}

// StreamEvents connects to GET /v1/events and invokes fn for each event
// decoded from the newline-delimited JSON stream, until ctx is canceled or
// the connection drops. It does not use Client.do since the response body
// is read incrementally rather than fully decoded.
func (c *Client) StreamEvents(ctx context.Context, fn func(*events.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/v1/events", nil)
	if err != nil {
		return err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("GET /v1/events: %s: %s", resp.Status, errBody["error"])
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev events.Event
		if err := dec.Decode(&ev); err != nil {
			return err
		}
		fn(&ev)
	}
}

// GenerateJoinToken asks the manager at addr (presumed to be the leader)
// to mint a token authorizing one new manager node to join its raft quorum.
func (c *Client) GenerateJoinToken(ctx context.Context, ttl time.Duration) (string, error) {
	req := map[string]int64{"ttlSeconds": int64(ttl / time.Second)}
	var out map[string]string
	if err := c.do(ctx, http.MethodPost, "/v1/cluster/tokens", req, &out); err != nil {
		return "", err
	}
	return out["token"], nil
}

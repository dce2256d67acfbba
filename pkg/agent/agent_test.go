package agent

import (
	"testing"

	"github.com/orbitctl/orbit/pkg/types"
	"github.com/stretchr/testify/assert"
)

func newTestAgent() *Agent {
	return NewAgent(Config{Endpoint: "10.0.0.1:7000", ManagerAddr: "http://127.0.0.1:0"})
}

func TestExecuteCommand_CreateContainer(t *testing.T) {
	a := newTestAgent()
	desc := types.ContainerDesc{Image: "nginx:latest", Version: "ver_1"}

	a.executeCommand(types.AgentCommand{
		Action:      types.ActionCreateContainer,
		ContainerId: "c1",
		GroupId:     "job_1",
		Desc:        &desc,
	})

	a.mu.RLock()
	c, ok := a.containers["c1"]
	a.mu.RUnlock()

	require := assert.New(t)
	require.True(ok)
	require.Equal(types.StatusReady, c.Status)
	require.Equal("job_1", c.GroupId)
	require.Equal("ver_1", c.Version)
}

func TestExecuteCommand_CreateContainerMissingDesc(t *testing.T) {
	a := newTestAgent()
	a.executeCommand(types.AgentCommand{Action: types.ActionCreateContainer, ContainerId: "c1"})

	a.mu.RLock()
	_, ok := a.containers["c1"]
	a.mu.RUnlock()
	assert.False(t, ok)
}

func TestExecuteCommand_DestroyContainer(t *testing.T) {
	a := newTestAgent()
	a.containers["c1"] = &types.ReportedContainer{Id: "c1", Status: types.StatusReady}

	a.executeCommand(types.AgentCommand{Action: types.ActionDestroyContainer, ContainerId: "c1"})

	a.mu.RLock()
	_, ok := a.containers["c1"]
	a.mu.RUnlock()
	assert.False(t, ok)
}

func TestExecuteCommand_UnknownAction(t *testing.T) {
	a := newTestAgent()
	a.executeCommand(types.AgentCommand{Action: "Bogus", ContainerId: "c1"})

	a.mu.RLock()
	_, ok := a.containers["c1"]
	a.mu.RUnlock()
	assert.False(t, ok)
}

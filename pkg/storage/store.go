package storage

import (
	"github.com/orbitctl/orbit/pkg/types"
)

// Store persists container-group intent. The cluster FSM writes to it on
// every group mutation; nothing in the repository reads it back at startup,
// where state comes from the raft snapshot and log instead.
type Store interface {
	SaveGroup(meta *types.ContainerGroupMeta) error
	GetGroup(id string) (*types.ContainerGroupMeta, error)
	ListGroups() ([]*types.ContainerGroupMeta, error)
	DeleteGroup(id string) error

	Close() error
}

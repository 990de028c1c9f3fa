// Package node holds the bare metal node record and its stores.
//
// The record owns the persisted provisioning position of a node; the state
// machine itself keeps nothing across restarts.
package node

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/librescoot/metalfsm"
	"github.com/librescoot/metalfsm/states"
)

// Node is a bare metal node as tracked by the conductor.
type Node struct {
	UUID   uuid.UUID `json:"uuid"`
	Name   string    `json:"name,omitempty"`
	Driver string    `json:"driver"`

	// DriverInfo holds what the driver needs to reach the node, for
	// example its management address and credentials.
	DriverInfo map[string]string `json:"driver_info,omitempty"`
	// DriverInternalInfo is scratch space owned by the driver.
	DriverInternalInfo map[string]string `json:"driver_internal_info,omitempty"`

	ProvisionState       metalfsm.StateID  `json:"provision_state"`
	TargetProvisionState metalfsm.StateID  `json:"target_provision_state,omitempty"`
	PowerState           states.PowerState `json:"power_state"`
	LastError            string            `json:"last_error,omitempty"`

	// Ports are the network fabric ports attached to the node.
	Ports []string `json:"ports,omitempty"`

	ProvisionUpdatedAt time.Time `json:"provision_updated_at,omitzero"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// New returns an enrolled node in the NoState provision state.
func New(name, driver string, driverInfo map[string]string) *Node {
	now := time.Now().UTC()
	return &Node{
		UUID:               uuid.New(),
		Name:               name,
		Driver:             driver,
		DriverInfo:         maps.Clone(driverInfo),
		DriverInternalInfo: map[string]string{},
		ProvisionState:     states.NoState,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Cursor returns the persisted machine position of the node.
func (n *Node) Cursor() metalfsm.Cursor {
	return metalfsm.Cursor{Current: n.ProvisionState, Target: n.TargetProvisionState}
}

// SetCursor records a new machine position.
func (n *Node) SetCursor(c metalfsm.Cursor) {
	if n.ProvisionState != c.Current {
		n.ProvisionUpdatedAt = time.Now().UTC()
	}
	n.ProvisionState = c.Current
	n.TargetProvisionState = c.Target
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	c.DriverInfo = maps.Clone(n.DriverInfo)
	c.DriverInternalInfo = maps.Clone(n.DriverInternalInfo)
	c.Ports = slices.Clone(n.Ports)
	return &c
}

// Store persists nodes.
type Store interface {
	// Create stores a new node. It fails with ErrAlreadyExists if the UUID
	// is taken.
	Create(ctx context.Context, n *Node) error
	// Get returns the node or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Node, error)
	// Update replaces an existing node or fails with ErrNotFound.
	Update(ctx context.Context, n *Node) error
	// Delete removes a node or fails with ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns all nodes ordered by creation time.
	List(ctx context.Context) ([]*Node, error)
}

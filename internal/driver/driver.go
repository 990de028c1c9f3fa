// Package driver defines the hardware driver boundary used by the conductor.
//
// Drivers are called synchronously from state machine reactions. Their
// errors never reach the state machine as such; the conductor maps them to
// provisioning events.
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

// BootDevice is a device a node can boot from.
type BootDevice string

// Boot devices
const (
	BootPXE  BootDevice = "pxe"
	BootDisk BootDevice = "disk"
)

// DeployStatus tells the conductor how a deploy call ended.
type DeployStatus int

const (
	// DeployComplete means the image is written and the node can go active.
	DeployComplete DeployStatus = iota
	// DeployWaiting means the driver expects a callback from the node
	// before deployment can continue.
	DeployWaiting
)

// Power controls the power of a node.
type Power interface {
	// Validate checks that the node carries the driver info the interface
	// needs.
	Validate(n *node.Node) error
	PowerState(ctx context.Context, n *node.Node) (states.PowerState, error)
	// SetPowerState moves the node to the requested power state and
	// fails with ErrPowerStateFailure if it did not get there.
	SetPowerState(ctx context.Context, n *node.Node, state states.PowerState) error
}

// Management controls boot settings of a node.
type Management interface {
	Validate(n *node.Node) error
	SupportedBootDevices() []BootDevice
	// SetBootDevice selects the device for the next boot. Drivers may
	// record it in the node's driver internal info, so callers persist the
	// node afterwards.
	SetBootDevice(ctx context.Context, n *node.Node, dev BootDevice, persistent bool) error
	BootDevice(ctx context.Context, n *node.Node) (BootDevice, bool, error)
}

// Deploy writes and removes instance images.
type Deploy interface {
	Validate(n *node.Node) error
	// Deploy starts a deployment.
	Deploy(ctx context.Context, n *node.Node) (DeployStatus, error)
	// Continue finishes a deployment once the node called back.
	Continue(ctx context.Context, n *node.Node) error
	// TearDown removes the instance from the node.
	TearDown(ctx context.Context, n *node.Node) error
}

// Driver groups the interfaces that together manage one kind of node.
type Driver struct {
	Name       string
	Power      Power
	Management Management
	Deploy     Deploy
}

// Validate runs every interface's validation.
func (d *Driver) Validate(n *node.Node) error {
	if d.Power != nil {
		if err := d.Power.Validate(n); err != nil {
			return fmt.Errorf("power: %w", err)
		}
	}
	if d.Management != nil {
		if err := d.Management.Validate(n); err != nil {
			return fmt.Errorf("management: %w", err)
		}
	}
	if d.Deploy != nil {
		if err := d.Deploy.Validate(n); err != nil {
			return fmt.Errorf("deploy: %w", err)
		}
	}
	return nil
}

// Registry maps driver names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewRegistry returns a registry holding drivers.
func NewRegistry(drivers ...*Driver) *Registry {
	r := &Registry{drivers: make(map[string]*Driver)}
	for _, d := range drivers {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a driver.
func (r *Registry) Register(d *Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Name] = d
}

// Get returns the named driver or ErrDriverNotFound.
func (r *Registry) Get(name string) (*Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDriverNotFound, name)
	}
	return d, nil
}

// Names returns the registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for n := range r.drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

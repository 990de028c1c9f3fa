// Package fake provides an in-memory driver for tests and simulations.
package fake

import (
	"context"
	"slices"
	"sync"

	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

// Name is the driver name the fake registers under.
const Name = "fake"

// Driver is a configurable in-memory driver. Set the exported error fields
// to make the corresponding call fail.
type Driver struct {
	mu sync.Mutex

	// DeployStatus is what Deploy reports on success.
	DeployStatus driver.DeployStatus

	DeployErr   error
	ContinueErr error
	TearDownErr error
	PowerErr    error

	power map[string]states.PowerState
	boot  map[string]driver.BootDevice
	calls []string
}

// New returns a fake driver whose deploys complete immediately.
func New() *Driver {
	return &Driver{
		power: make(map[string]states.PowerState),
		boot:  make(map[string]driver.BootDevice),
	}
}

// Driver wraps the fake in a driver.Driver.
func (f *Driver) Driver() *driver.Driver {
	return &driver.Driver{
		Name:       Name,
		Power:      f,
		Management: f,
		Deploy:     f,
	}
}

// Calls returns the names of the calls made so far.
func (f *Driver) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Set changes configuration under the driver's lock.
func (f *Driver) Set(fn func(f *Driver)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *Driver) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *Driver) Validate(*node.Node) error {
	return nil
}

func (f *Driver) PowerState(_ context.Context, n *node.Node) (states.PowerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("power_state")
	if f.PowerErr != nil {
		return states.PowerUnknown, f.PowerErr
	}
	if ps, ok := f.power[n.UUID.String()]; ok {
		return ps, nil
	}
	return states.PowerOff, nil
}

func (f *Driver) SetPowerState(_ context.Context, n *node.Node, state states.PowerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set_power_state:" + string(state))
	if f.PowerErr != nil {
		return f.PowerErr
	}
	switch state {
	case states.PowerOn, states.PowerOff:
		f.power[n.UUID.String()] = state
	case states.Reboot:
		f.power[n.UUID.String()] = states.PowerOn
	default:
		return driver.ErrInvalidParameter
	}
	return nil
}

func (f *Driver) SupportedBootDevices() []driver.BootDevice {
	return []driver.BootDevice{driver.BootPXE, driver.BootDisk}
}

func (f *Driver) SetBootDevice(_ context.Context, n *node.Node, dev driver.BootDevice, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set_boot_device:" + string(dev))
	f.boot[n.UUID.String()] = dev
	return nil
}

func (f *Driver) BootDevice(_ context.Context, n *node.Node) (driver.BootDevice, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dev, ok := f.boot[n.UUID.String()]; ok {
		return dev, true, nil
	}
	return driver.BootDisk, true, nil
}

func (f *Driver) Deploy(_ context.Context, n *node.Node) (driver.DeployStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("deploy")
	if f.DeployErr != nil {
		return 0, f.DeployErr
	}
	f.power[n.UUID.String()] = states.PowerOn
	return f.DeployStatus, nil
}

func (f *Driver) Continue(_ context.Context, _ *node.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("continue")
	return f.ContinueErr
}

func (f *Driver) TearDown(_ context.Context, n *node.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("tear_down")
	if f.TearDownErr != nil {
		return f.TearDownErr
	}
	f.power[n.UUID.String()] = states.PowerOff
	return nil
}

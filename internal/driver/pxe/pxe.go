// Package pxe implements a network boot deploy interface on top of any
// power and management interface.
//
// A deployment network boots the node into the deploy ramdisk and waits for
// the ramdisk to call back. Once it did, the image is on disk and the node
// is rebooted from it.
package pxe

import (
	"context"
	"fmt"

	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

// Deploy is the PXE deploy interface.
type Deploy struct {
	power      driver.Power
	management driver.Management
}

// New returns a deploy interface driving the node through p and m.
func New(p driver.Power, m driver.Management) *Deploy {
	return &Deploy{power: p, management: m}
}

// Driver bundles p and m with PXE deploy under name.
func Driver(name string, p driver.Power, m driver.Management) *driver.Driver {
	return &driver.Driver{
		Name:       name,
		Power:      p,
		Management: m,
		Deploy:     New(p, m),
	}
}

// Validate checks that the node can be network booted.
func (d *Deploy) Validate(n *node.Node) error {
	if d.power == nil {
		return driver.ErrNoPowerInterface
	}
	if d.management == nil {
		return driver.ErrNoManageInterface
	}
	return nil
}

// Deploy reboots the node into the deploy ramdisk.
func (d *Deploy) Deploy(ctx context.Context, n *node.Node) (driver.DeployStatus, error) {
	if err := d.management.SetBootDevice(ctx, n, driver.BootPXE, false); err != nil {
		return driver.DeployWaiting, fmt.Errorf("%w: %v", driver.ErrDeploymentFailed, err)
	}
	if err := d.reboot(ctx, n); err != nil {
		return driver.DeployWaiting, fmt.Errorf("%w: %v", driver.ErrDeploymentFailed, err)
	}
	return driver.DeployWaiting, nil
}

// Continue boots the freshly written image.
func (d *Deploy) Continue(ctx context.Context, n *node.Node) error {
	if err := d.management.SetBootDevice(ctx, n, driver.BootDisk, true); err != nil {
		return fmt.Errorf("%w: %v", driver.ErrDeploymentFailed, err)
	}
	if err := d.reboot(ctx, n); err != nil {
		return fmt.Errorf("%w: %v", driver.ErrDeploymentFailed, err)
	}
	return nil
}

// TearDown powers the node off.
func (d *Deploy) TearDown(ctx context.Context, n *node.Node) error {
	if err := d.power.SetPowerState(ctx, n, states.PowerOff); err != nil {
		return fmt.Errorf("%w: %v", driver.ErrTearDownFailed, err)
	}
	n.PowerState = states.PowerOff
	return nil
}

// reboot power cycles the node. A node that is off is simply powered on,
// which also applies a one-shot boot device.
func (d *Deploy) reboot(ctx context.Context, n *node.Node) error {
	ps, err := d.power.PowerState(ctx, n)
	if err != nil {
		return err
	}
	if ps == states.PowerOn {
		if err := d.power.SetPowerState(ctx, n, states.PowerOff); err != nil {
			return err
		}
	}
	if err := d.power.SetPowerState(ctx, n, states.PowerOn); err != nil {
		return err
	}
	n.PowerState = states.PowerOn
	return nil
}

package conductor

import (
	"context"
	"fmt"

	"github.com/librescoot/metalfsm"
	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/fabric"
	"github.com/librescoot/metalfsm/states"
)

// bindReactions attaches the driver work to the provisioning graph. Every
// reaction turns the outcome of a driver call into the next event; driver
// errors end up in the node's last error, never in the run.
func (c *Conductor) bindReactions(m *metalfsm.Machine) error {
	bindings := []struct {
		state metalfsm.StateID
		event metalfsm.EventID
		fn    metalfsm.ReactionFunc
	}{
		{states.Deploying, states.EventActive, c.deploy},
		{states.Deploying, states.EventRebuild, c.deploy},
		{states.Deploying, states.EventResume, c.continueDeploy},
		{states.DeployDone, states.EventDone, c.finishDeploy},
		{states.Deleting, states.EventDelete, c.tearDown},
	}
	for _, b := range bindings {
		if err := m.AddReaction(b.state, b.event, b.fn); err != nil {
			return fmt.Errorf("bind reaction %s/%s: %w", b.state, b.event, err)
		}
	}
	return nil
}

func (c *Conductor) deploy(ctx context.Context, _, _ metalfsm.StateID, _ metalfsm.EventID, _ ...any) (metalfsm.EventID, error) {
	t, err := taskFrom(ctx)
	if err != nil {
		return metalfsm.NoEvent, err
	}
	d := t.driver
	if d.Deploy == nil {
		t.fail("Failed to deploy", driver.ErrNoDeployInterface)
		return states.EventFail, nil
	}

	if err := c.preparePorts(ctx, t); err != nil {
		t.fail("Failed to update ports", err)
		return states.EventFail, nil
	}

	if d.Management != nil {
		err := d.Management.SetBootDevice(ctx, t.node, driver.BootPXE, false)
		c.metrics.recordDriverCall(d.Name, "set_boot_device", err)
		if err != nil {
			t.fail("Failed to set boot device", err)
			return states.EventFail, nil
		}
	}

	status, err := d.Deploy.Deploy(ctx, t.node)
	c.metrics.recordDriverCall(d.Name, "deploy", err)
	if err != nil {
		t.fail("Failed to deploy", err)
		return states.EventFail, nil
	}
	if status == driver.DeployWaiting {
		return states.EventWait, nil
	}
	return states.EventDone, nil
}

func (c *Conductor) continueDeploy(ctx context.Context, _, _ metalfsm.StateID, _ metalfsm.EventID, _ ...any) (metalfsm.EventID, error) {
	t, err := taskFrom(ctx)
	if err != nil {
		return metalfsm.NoEvent, err
	}
	if t.driver.Deploy == nil {
		t.fail("Failed to continue deploy", driver.ErrNoDeployInterface)
		return states.EventFail, nil
	}
	err = t.driver.Deploy.Continue(ctx, t.node)
	c.metrics.recordDriverCall(t.driver.Name, "continue_deploy", err)
	if err != nil {
		t.fail("Failed to continue deploy", err)
		return states.EventFail, nil
	}
	return states.EventDone, nil
}

func (c *Conductor) finishDeploy(context.Context, metalfsm.StateID, metalfsm.StateID, metalfsm.EventID, ...any) (metalfsm.EventID, error) {
	return states.EventNextState, nil
}

func (c *Conductor) tearDown(ctx context.Context, _, _ metalfsm.StateID, _ metalfsm.EventID, _ ...any) (metalfsm.EventID, error) {
	t, err := taskFrom(ctx)
	if err != nil {
		return metalfsm.NoEvent, err
	}
	if t.driver.Deploy == nil {
		t.fail("Failed to tear down", driver.ErrNoDeployInterface)
		return states.EventError, nil
	}
	err = t.driver.Deploy.TearDown(ctx, t.node)
	c.metrics.recordDriverCall(t.driver.Name, "tear_down", err)
	if err != nil {
		t.fail("Failed to tear down", err)
		return states.EventError, nil
	}
	return states.EventDone, nil
}

// preparePorts points every port of the node at the PXE boot server.
func (c *Conductor) preparePorts(ctx context.Context, t *task) error {
	if c.ports == nil || len(c.dhcpOptions) == 0 {
		return nil
	}
	for _, id := range t.node.Ports {
		if _, err := c.ports.UpdatePort(ctx, id, fabric.PortUpdate{DHCPOptions: c.dhcpOptions}); err != nil {
			return err
		}
	}
	return nil
}

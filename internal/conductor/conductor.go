// Package conductor drives bare metal nodes through the provisioning state
// machine.
//
// All nodes share one frozen machine whose reactions call into the node's
// driver. Each operation locks the node, restores a private cursor from the
// node record, runs the machine until it settles and persists the record
// after every committed transition.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/librescoot/metalfsm"
	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/fabric"
	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

// Provision targets accepted by Provision
const (
	TargetActive  = "active"
	TargetDeleted = "deleted"
	TargetRebuild = "rebuild"
)

var targetEvents = map[string]metalfsm.EventID{
	TargetActive:  states.EventActive,
	TargetDeleted: states.EventDelete,
	TargetRebuild: states.EventRebuild,
}

// Targets returns the accepted provision targets, sorted.
func Targets() []string {
	return []string{TargetActive, TargetDeleted, TargetRebuild}
}

// PortUpdater changes attributes of fabric ports.
type PortUpdater interface {
	UpdatePort(ctx context.Context, portID string, upd fabric.PortUpdate) (*fabric.Port, error)
}

// Conductor orchestrates provisioning of nodes.
type Conductor struct {
	store   node.Store
	drivers *driver.Registry
	machine *metalfsm.Machine

	ports       PortUpdater
	dhcpOptions []fabric.DHCPOption
	observer    Observer

	locks   *locks
	timers  *timers
	metrics *Metrics
	logger  *slog.Logger

	callbackTimeout time.Duration
	workers         int

	closeOnce sync.Once
}

// Option configures a Conductor.
type Option func(*Conductor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) {
		c.logger = l
	}
}

// WithMetrics sets the metrics the conductor records into.
func WithMetrics(m *Metrics) Option {
	return func(c *Conductor) {
		c.metrics = m
	}
}

// Observer is told about every committed transition of every node.
type Observer func(id uuid.UUID, from, to metalfsm.StateID, event metalfsm.EventID)

// WithObserver registers fn as the transition observer.
func WithObserver(fn Observer) Option {
	return func(c *Conductor) {
		c.observer = fn
	}
}

// WithCallbackTimeout bounds how long a node may wait for its deploy
// callback. Zero disables the timeout.
func WithCallbackTimeout(d time.Duration) Option {
	return func(c *Conductor) {
		c.callbackTimeout = d
	}
}

// WithWorkers limits how many nodes ProvisionAll drives at once.
func WithWorkers(n int) Option {
	return func(c *Conductor) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithPortUpdater makes deployments set the given DHCP options on every
// port of the node first.
func WithPortUpdater(p PortUpdater, opts []fabric.DHCPOption) Option {
	return func(c *Conductor) {
		c.ports = p
		c.dhcpOptions = opts
	}
}

// New returns a conductor persisting nodes in store and driving them with
// the drivers in registry.
func New(store node.Store, registry *driver.Registry, opts ...Option) (*Conductor, error) {
	c := &Conductor{
		store:   store,
		drivers: registry,
		locks:   newLocks(),
		metrics: NewMetrics(),
		logger:  slog.Default(),
		workers: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timers = newTimers(c.logger)

	m := states.NewDefinition(metalfsm.WithLogger(c.logger))
	if err := c.bindReactions(m); err != nil {
		return nil, err
	}
	m.Freeze()
	c.machine = m

	return c, nil
}

// Machine returns the frozen machine the conductor drives nodes with.
func (c *Conductor) Machine() *metalfsm.Machine {
	return c.machine
}

// Close stops pending callback timers.
func (c *Conductor) Close() {
	c.closeOnce.Do(c.timers.stopAll)
}

// Enroll registers a new node in the NoState provision state.
func (c *Conductor) Enroll(ctx context.Context, name, driverName string, driverInfo map[string]string, ports []string) (*node.Node, error) {
	if _, err := c.drivers.Get(driverName); err != nil {
		return nil, err
	}
	n := node.New(name, driverName, driverInfo)
	n.Ports = slices.Clone(ports)
	if err := c.store.Create(ctx, n); err != nil {
		return nil, err
	}
	c.logger.Info("node enrolled", "node", n.UUID, "name", name, "driver", driverName)
	return n, nil
}

// Get returns a node.
func (c *Conductor) Get(ctx context.Context, id uuid.UUID) (*node.Node, error) {
	return c.store.Get(ctx, id)
}

// List returns all nodes.
func (c *Conductor) List(ctx context.Context) ([]*node.Node, error) {
	return c.store.List(ctx)
}

// Delete removes a node that is not provisioned.
func (c *Conductor) Delete(ctx context.Context, id uuid.UUID) error {
	release, err := c.locks.acquire(id, "delete")
	if err != nil {
		return err
	}
	defer release()

	n, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.ProvisionState != states.NoState {
		return fmt.Errorf("%w: %s is in provision state %q", ErrNodeInUse, id, n.ProvisionState)
	}
	c.timers.stop(id)
	return c.store.Delete(ctx, id)
}

// Provision asks for node id to be moved towards target and drives it until
// it settles. The returned node reflects where it settled; a failed
// deployment is not an error, it shows in the node's state and last error.
func (c *Conductor) Provision(ctx context.Context, id uuid.UUID, target string) (*node.Node, error) {
	event, ok := targetEvents[target]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return c.drive(ctx, id, "provision "+target, target, event)
}

// Continue resumes a deployment waiting for its callback.
func (c *Conductor) Continue(ctx context.Context, id uuid.UUID) (*node.Node, error) {
	return c.drive(ctx, id, "continue deploy", TargetActive, states.EventResume)
}

// AvailableTargets returns the provision targets n can be moved towards
// from where it is.
func (c *Conductor) AvailableTargets(n *node.Node) []string {
	targets := []string{}
	cursor := c.machine.ShallowCopy()
	if err := cursor.Restore(n.Cursor()); err != nil {
		return targets
	}
	for _, t := range Targets() {
		if cursor.TestEvent(targetEvents[t]) {
			targets = append(targets, t)
		}
	}
	return targets
}

func (c *Conductor) drive(ctx context.Context, id uuid.UUID, purpose, target string, event metalfsm.EventID) (*node.Node, error) {
	release, err := c.locks.acquire(id, purpose)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := c.newTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.driver.Validate(t.node); err != nil {
		return nil, err
	}
	if err := c.run(ctx, t, target, event); err != nil {
		return t.node, err
	}
	return t.node, nil
}

func (c *Conductor) newTask(ctx context.Context, id uuid.UUID) (*task, error) {
	n, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := c.drivers.Get(n.Driver)
	if err != nil {
		return nil, err
	}
	return &task{
		node:   n,
		driver: d,
		logger: c.logger.With("node", n.UUID, "driver", d.Name),
	}, nil
}

// run drives the node's cursor from event until the reached state has no
// reaction left. The caller holds the node lock.
func (c *Conductor) run(ctx context.Context, t *task, target string, event metalfsm.EventID) error {
	start := time.Now()

	cursor := c.machine.ShallowCopy(
		metalfsm.WithLogger(t.logger),
		metalfsm.WithStateChangeCallback(func(from, to metalfsm.StateID, event metalfsm.EventID) {
			c.metrics.recordTransition(from, to, event)
			if c.observer != nil {
				c.observer(t.node.UUID, from, to, event)
			}
		}),
	)
	if err := cursor.Restore(t.node.Cursor()); err != nil {
		return err
	}
	if !cursor.TestEvent(event) {
		return fmt.Errorf("%w: %q can not handle %q in provision state %q",
			ErrInvalidStateRequest, t.node.UUID, event, t.node.ProvisionState)
	}

	c.timers.stop(t.node.UUID)
	t.node.LastError = ""

	ctx = withTask(ctx, t)
	r := cursor.Runner(event, metalfsm.WithoutInitialize())
	for {
		step, err := r.Next(ctx)
		if err != nil {
			t.logger.Error("provisioning stopped", "state", cursor.CurrentState(), "last_event", r.Last().Event, "error", err)
			return errors.Join(err, c.persist(ctx, t, cursor, false))
		}
		settled := !step.Reacts || step.Terminal
		if err := c.persist(ctx, t, cursor, settled); err != nil {
			return err
		}
		if settled {
			break
		}
	}

	c.metrics.recordProvision(target, t.node.ProvisionState, time.Since(start))
	t.logger.Info("node settled", "state", t.node.ProvisionState, "last_error", t.node.LastError)

	if t.node.ProvisionState == states.DeployWait {
		c.armCallbackTimeout(t.node.UUID)
	}
	return nil
}

// persist stores the cursor position in the node record. A node that
// settled keeps a target only while it waits for its deploy callback.
func (c *Conductor) persist(ctx context.Context, t *task, cursor *metalfsm.Machine, settled bool) error {
	pos := cursor.Cursor()
	if settled && pos.Current != states.DeployWait {
		pos.Target = ""
	}
	t.node.SetCursor(pos)
	t.node.UpdatedAt = time.Now().UTC()
	if err := c.store.Update(ctx, t.node); err != nil {
		return fmt.Errorf("persist node %s: %w", t.node.UUID, err)
	}
	return nil
}

func (c *Conductor) armCallbackTimeout(id uuid.UUID) {
	if c.callbackTimeout <= 0 {
		return
	}
	c.timers.start(id, c.callbackTimeout, func() error {
		return c.callbackTimedOut(id)
	})
}

// callbackTimedOut fails a deployment whose callback never arrived. A
// locked node is retried when the timer fires again.
func (c *Conductor) callbackTimedOut(id uuid.UUID) error {
	ctx := context.Background()
	release, err := c.locks.acquire(id, "callback timeout")
	if err != nil {
		return err
	}
	defer release()

	t, err := c.newTask(ctx, id)
	if errors.Is(err, node.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if t.node.ProvisionState != states.DeployWait {
		return nil
	}

	c.metrics.recordTimeout()
	if err := c.run(ctx, t, TargetActive, states.EventError); err != nil {
		return err
	}
	t.node.LastError = "Timeout reached while waiting for callback for node " + id.String()
	t.logger.Warn("deploy callback timed out", "timeout", c.callbackTimeout)
	return c.store.Update(ctx, t.node)
}

// RecoverTimers re-arms callback timeouts for nodes left waiting by a
// previous process. Nodes already past their deadline time out right away.
func (c *Conductor) RecoverTimers(ctx context.Context) error {
	if c.callbackTimeout <= 0 {
		return nil
	}
	nodes, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.ProvisionState != states.DeployWait {
			continue
		}
		remaining := max(c.callbackTimeout-time.Since(n.ProvisionUpdatedAt), time.Millisecond)
		id := n.UUID
		c.timers.start(id, remaining, func() error {
			return c.callbackTimedOut(id)
		})
	}
	return nil
}

// Result is the outcome of one node in ProvisionAll.
type Result struct {
	Node *node.Node
	Err  error
}

// ProvisionAll provisions the given nodes in parallel, at most the
// configured number of workers at a time. Results are in the order of ids.
// The returned error joins every per-node error.
func (c *Conductor) ProvisionAll(ctx context.Context, ids []uuid.UUID, target string) ([]Result, error) {
	if _, ok := targetEvents[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	results := make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, id := range ids {
		g.Go(func() error {
			n, err := c.Provision(ctx, id, target)
			if err != nil {
				err = fmt.Errorf("node %s: %w", id, err)
			}
			results[i] = Result{Node: n, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// SetPowerState changes the power of a node and records the result.
func (c *Conductor) SetPowerState(ctx context.Context, id uuid.UUID, state states.PowerState) (*node.Node, error) {
	release, err := c.locks.acquire(id, "set power state")
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := c.newTask(ctx, id)
	if err != nil {
		return nil, err
	}
	p := t.driver.Power
	if p == nil {
		return nil, driver.ErrNoPowerInterface
	}
	if err := p.Validate(t.node); err != nil {
		return nil, err
	}

	err = p.SetPowerState(ctx, t.node, state)
	c.metrics.recordDriverCall(t.driver.Name, "set_power_state", err)
	if err != nil {
		t.fail("Failed to change power state", err)
		if ps, perr := p.PowerState(ctx, t.node); perr == nil {
			t.node.PowerState = ps
		}
	} else {
		t.node.LastError = ""
		t.node.PowerState = state
		if state == states.Reboot {
			t.node.PowerState = states.PowerOn
		}
	}
	t.node.UpdatedAt = time.Now().UTC()
	if uerr := c.store.Update(ctx, t.node); uerr != nil {
		return nil, errors.Join(err, uerr)
	}
	return t.node, err
}

// SetBootDevice selects the boot device of a node.
func (c *Conductor) SetBootDevice(ctx context.Context, id uuid.UUID, dev driver.BootDevice, persistent bool) (*node.Node, error) {
	release, err := c.locks.acquire(id, "set boot device")
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := c.newTask(ctx, id)
	if err != nil {
		return nil, err
	}
	mgmt := t.driver.Management
	if mgmt == nil {
		return nil, driver.ErrNoManageInterface
	}
	if err := mgmt.Validate(t.node); err != nil {
		return nil, err
	}
	if !slices.Contains(mgmt.SupportedBootDevices(), dev) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBoot, dev)
	}

	err = mgmt.SetBootDevice(ctx, t.node, dev, persistent)
	c.metrics.recordDriverCall(t.driver.Name, "set_boot_device", err)
	if err != nil {
		return nil, err
	}
	t.node.UpdatedAt = time.Now().UTC()
	if err := c.store.Update(ctx, t.node); err != nil {
		return nil, err
	}
	return t.node, nil
}

// RefreshPowerState reads the node's power state from its driver.
func (c *Conductor) RefreshPowerState(ctx context.Context, id uuid.UUID) (*node.Node, error) {
	release, err := c.locks.acquire(id, "power state sync")
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := c.newTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.driver.Power == nil {
		return nil, driver.ErrNoPowerInterface
	}
	ps, err := t.driver.Power.PowerState(ctx, t.node)
	c.metrics.recordDriverCall(t.driver.Name, "power_state", err)
	if err != nil {
		return nil, err
	}
	t.node.PowerState = ps
	t.node.UpdatedAt = time.Now().UTC()
	if err := c.store.Update(ctx, t.node); err != nil {
		return nil, err
	}
	return t.node, nil
}

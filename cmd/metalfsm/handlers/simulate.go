package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/librescoot/metalfsm"
	"github.com/librescoot/metalfsm/internal/conductor"
	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/driver/fake"
	"github.com/librescoot/metalfsm/internal/logger"
	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

// SimulateOptions controls a simulated provisioning round.
type SimulateOptions struct {
	Nodes   int
	Workers int
	// Wait makes deployments wait for a callback, which the simulation
	// then delivers.
	Wait bool
	// FailDeploy makes every deployment fail.
	FailDeploy bool
	// Teardown deletes the instances again after deploying.
	Teardown bool
}

type transitionLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *transitionLog) record(_ uuid.UUID, from, to metalfsm.StateID, event metalfsm.EventID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, fmt.Sprintf("%s -(%s)-> %s", from, event, to))
}

// Simulate enrolls nodes backed by the fake driver, deploys them and
// prints where each one ended up.
func Simulate(ctx context.Context, w io.Writer, opts SimulateOptions) error {
	if opts.Nodes <= 0 {
		return errors.New("at least one node is required")
	}

	drv := fake.New()
	drv.Set(func(f *fake.Driver) {
		if opts.Wait {
			f.DeployStatus = driver.DeployWaiting
		}
		if opts.FailDeploy {
			f.DeployErr = driver.ErrDeploymentFailed
		}
	})

	c, err := conductor.New(node.NewMemoryStore(), driver.NewRegistry(drv.Driver()),
		conductor.WithLogger(logger.Discard()),
		conductor.WithWorkers(opts.Workers),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	ids := make([]uuid.UUID, 0, opts.Nodes)
	for i := range opts.Nodes {
		n, err := c.Enroll(ctx, fmt.Sprintf("sim-%02d", i), fake.Name, nil, nil)
		if err != nil {
			return err
		}
		ids = append(ids, n.UUID)
	}

	results, err := c.ProvisionAll(ctx, ids, conductor.TargetActive)
	if err != nil {
		return err
	}

	if opts.Wait {
		for i, r := range results {
			if r.Node.ProvisionState != states.DeployWait {
				continue
			}
			n, err := c.Continue(ctx, r.Node.UUID)
			if err != nil {
				return err
			}
			results[i].Node = n
		}
	}

	if opts.Teardown {
		var deletable []uuid.UUID
		for _, r := range results {
			if r.Node.ProvisionState == states.Active || r.Node.ProvisionState == states.DeployFail {
				deletable = append(deletable, r.Node.UUID)
			}
		}
		torn, err := c.ProvisionAll(ctx, deletable, conductor.TargetDeleted)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*node.Node, len(torn))
		for _, r := range torn {
			byID[r.Node.UUID] = r.Node
		}
		for i, r := range results {
			if n, ok := byID[r.Node.UUID]; ok {
				results[i].Node = n
			}
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tUUID\tPROVISION STATE\tPOWER\tLAST ERROR")
	for _, r := range results {
		n := r.Node
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n.Name, n.UUID, n.ProvisionState, powerOf(ctx, drv, n), n.LastError)
	}
	return tw.Flush()
}

func powerOf(ctx context.Context, drv *fake.Driver, n *node.Node) states.PowerState {
	ps, err := drv.PowerState(ctx, n)
	if err != nil {
		return states.PowerUnknown
	}
	return ps
}

// Trace walks a single node through a full deploy and tear down and writes
// every committed transition.
func Trace(ctx context.Context, w io.Writer, wait bool) error {
	drv := fake.New()
	if wait {
		drv.Set(func(f *fake.Driver) { f.DeployStatus = driver.DeployWaiting })
	}

	log := &transitionLog{}
	c, err := conductor.New(node.NewMemoryStore(), driver.NewRegistry(drv.Driver()),
		conductor.WithLogger(logger.Discard()),
		conductor.WithObserver(log.record),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Enroll(ctx, "trace", fake.Name, nil, nil)
	if err != nil {
		return err
	}
	if _, err := c.Provision(ctx, n.UUID, conductor.TargetActive); err != nil {
		return err
	}
	if wait {
		if _, err := c.Continue(ctx, n.UUID); err != nil {
			return err
		}
	}
	if _, err := c.Provision(ctx, n.UUID, conductor.TargetDeleted); err != nil {
		return err
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, s := range log.steps {
		if _, err := fmt.Fprintln(w, s); err != nil {
			return err
		}
	}
	return nil
}

package metalfsm

import (
	"context"
	"fmt"
)

// Runner drives a machine one committed transition at a time.
//
// Every call to Next or Send applies exactly one event and returns the
// resulting Step. Between calls the runner is suspended; the caller decides
// how it resumes. Send injects an external event, Next lets the reaction
// bound to the last transition produce the event. Both can be mixed freely
// within one run.
//
// Only one Runner may be active per Machine at a time.
type Runner struct {
	m          *Machine
	event      EventID
	initialize bool

	started  bool
	done     bool
	last     Step
	reaction *Reaction
}

// RunOption is a functional option for configuring a Runner
type RunOption func(*Runner)

// WithoutInitialize keeps the machine's current state instead of moving it
// to the start state before the first event.
func WithoutInitialize() RunOption {
	return func(r *Runner) {
		r.initialize = false
	}
}

// Runner returns a runner that starts by processing event
func (m *Machine) Runner(event EventID, opts ...RunOption) *Runner {
	r := &Runner{
		m:          m,
		event:      event,
		initialize: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next resumes the run. The first call processes the initial event; later
// calls invoke the pending reaction and process the event it returns.
func (r *Runner) Next(ctx context.Context) (Step, error) {
	return r.resume(ctx, NoEvent)
}

// Send resumes the run with an injected event, which takes precedence over
// any pending reaction. Sending before the first step replaces the initial
// event. Sending NoEvent is the same as calling Next.
func (r *Runner) Send(ctx context.Context, event EventID) (Step, error) {
	return r.resume(ctx, event)
}

// Done reports whether the run is over: a terminal state was reached, the
// context was cancelled or a step failed.
func (r *Runner) Done() bool {
	return r.done
}

// Last returns the most recent step
func (r *Runner) Last() Step {
	return r.last
}

func (r *Runner) resume(ctx context.Context, injected EventID) (Step, error) {
	if r.done {
		return Step{}, ErrRunnerDone
	}
	// Cancellation is only honoured here, between committed transitions.
	if err := ctx.Err(); err != nil {
		r.done = true
		return Step{}, err
	}

	if !r.started {
		r.started = true
		if injected != NoEvent {
			r.event = injected
		}
		if r.initialize {
			if err := r.m.Initialize(); err != nil {
				r.done = true
				return Step{}, err
			}
		}
		return r.step(r.event)
	}

	event := injected
	if event == NoEvent {
		if r.reaction == nil {
			return Step{}, r.stall()
		}
		next, err := r.reaction.Call(ctx, r.last.From, r.last.To, r.last.Event)
		if err != nil {
			r.done = true
			return Step{}, err
		}
		if next == NoEvent {
			return Step{}, r.stall()
		}
		event = next
	}
	return r.step(event)
}

func (r *Runner) step(event EventID) (Step, error) {
	from := r.m.CurrentState()
	reaction, terminal, err := r.m.ProcessEvent(event)
	if err != nil {
		r.done = true
		return Step{}, err
	}
	r.reaction = reaction
	r.last = Step{
		From:     from,
		To:       r.m.CurrentState(),
		Event:    event,
		Terminal: terminal,
		Reacts:   reaction != nil,
	}
	if terminal {
		r.done = true
	}
	return r.last, nil
}

func (r *Runner) stall() error {
	r.done = true
	r.m.logger.Debug("run stalled", "from", r.last.From, "state", r.last.To, "event", r.last.Event)
	return fmt.Errorf("%w: no reaction (or sent event) available in new state %q (moved to from state %q in response to event %q)",
		ErrStalled, r.last.To, r.last.From, r.last.Event)
}

// Run drives the machine from event using reactions only, until a terminal
// state is reached. It returns the steps taken, including the failing
// run's completed steps when an error is returned.
func (m *Machine) Run(ctx context.Context, event EventID, opts ...RunOption) ([]Step, error) {
	r := m.Runner(event, opts...)
	var steps []Step
	for !r.Done() {
		st, err := r.Next(ctx)
		if err != nil {
			return steps, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

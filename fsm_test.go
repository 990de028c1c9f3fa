package metalfsm

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// Test states
const (
	stateA     StateID = "a"
	stateB     StateID = "b"
	stateC     StateID = "c"
	stateFinal StateID = "final"
)

// Test events
const (
	evGo   EventID = "go"
	evBack EventID = "back"
	evNext EventID = "next"
	evDone EventID = "done"
)

func buildABC(t *testing.T) *Machine {
	t.Helper()
	m, err := NewDefinition().
		State(stateA).
		State(stateB).
		State(stateC).
		FinalState(stateFinal).
		Transition(stateA, evGo, stateB).
		Transition(stateB, evBack, stateA).
		Transition(stateB, evNext, stateC).
		Transition(stateC, evDone, stateFinal).
		Initial(stateA).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return m
}

func TestBasicTransition(t *testing.T) {
	m := buildABC(t)

	if m.Initialized() {
		t.Fatal("machine should not be initialized before Initialize")
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if m.CurrentState() != stateA {
		t.Errorf("expected state %s, got %s", stateA, m.CurrentState())
	}

	if _, _, err := m.ProcessEvent(evGo); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if m.CurrentState() != stateB {
		t.Errorf("expected state %s, got %s", stateB, m.CurrentState())
	}

	if _, _, err := m.ProcessEvent(evBack); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if m.CurrentState() != stateA {
		t.Errorf("expected state %s, got %s", stateA, m.CurrentState())
	}
}

func TestProcessBeforeInitialize(t *testing.T) {
	m := buildABC(t)

	if _, _, err := m.ProcessEvent(evGo); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
	if m.TestEvent(evGo) {
		t.Error("TestEvent should be false before initialization")
	}
	if m.Terminated() {
		t.Error("uninitialized machine should not be terminated")
	}
}

func TestNoTransition(t *testing.T) {
	m := buildABC(t)
	m.Initialize()

	if m.TestEvent(evBack) {
		t.Error("TestEvent should be false for an undefined edge")
	}
	if _, _, err := m.ProcessEvent(evBack); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
	if m.CurrentState() != stateA {
		t.Errorf("state changed on rejected event: %s", m.CurrentState())
	}
}

func TestEntryExitHooks(t *testing.T) {
	type call struct {
		kind  string
		state StateID
		event EventID
	}
	var calls []call

	m := New(WithStartState(stateA))
	m.AddState(stateA, WithOnExit(func(s StateID, e EventID) error {
		calls = append(calls, call{"exit", s, e})
		return nil
	}))
	m.AddState(stateB, WithOnEnter(func(s StateID, e EventID) error {
		calls = append(calls, call{"enter", s, e})
		return nil
	}))
	m.AddTransition(stateA, stateB, evGo)
	m.Freeze()
	m.Initialize()

	if _, _, err := m.ProcessEvent(evGo); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	want := []call{{"exit", stateA, evGo}, {"enter", stateB, evGo}}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestHookFailureKeepsState(t *testing.T) {
	errHook := errors.New("hook failed")
	var failExit, failEnter bool

	m := New(WithStartState(stateA))
	m.AddState(stateA, WithOnExit(func(StateID, EventID) error {
		if failExit {
			return errHook
		}
		return nil
	}))
	m.AddState(stateB, WithOnEnter(func(StateID, EventID) error {
		if failEnter {
			return errHook
		}
		return nil
	}), WithTarget(stateA))
	m.AddTransition(stateA, stateB, evGo)
	m.Freeze()
	m.Initialize()

	failExit = true
	if _, _, err := m.ProcessEvent(evGo); !errors.Is(err, errHook) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if m.CurrentState() != stateA || m.TargetState() != "" {
		t.Errorf("cursor moved after exit hook failure: %v", m.Cursor())
	}

	failExit, failEnter = false, true
	if _, _, err := m.ProcessEvent(evGo); !errors.Is(err, errHook) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if m.CurrentState() != stateA || m.TargetState() != "" {
		t.Errorf("cursor moved after entry hook failure: %v", m.Cursor())
	}

	// Retry once the cause is gone
	failEnter = false
	if _, _, err := m.ProcessEvent(evGo); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if m.CurrentState() != stateB {
		t.Errorf("expected state %s, got %s", stateB, m.CurrentState())
	}
}

func TestFrozenRejectsDefinition(t *testing.T) {
	m := buildABC(t)

	if !m.Frozen() {
		t.Fatal("Build should freeze the machine")
	}
	m.Freeze() // idempotent

	noop := func(context.Context, StateID, StateID, EventID, ...any) (EventID, error) { return NoEvent, nil }
	if err := m.AddState("new"); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddState: expected ErrFrozen, got %v", err)
	}
	if err := m.AddTransition(stateA, stateC, evNext); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddTransition: expected ErrFrozen, got %v", err)
	}
	if err := m.AddReaction(stateB, evGo, noop); !errors.Is(err, ErrFrozen) {
		t.Errorf("AddReaction: expected ErrFrozen, got %v", err)
	}
}

func TestDefinitionErrors(t *testing.T) {
	noop := func(context.Context, StateID, StateID, EventID, ...any) (EventID, error) { return NoEvent, nil }

	m := New()
	if err := m.AddState(stateA); err != nil {
		t.Fatalf("add state: %v", err)
	}
	if err := m.AddState(stateA); !errors.Is(err, ErrDuplicateDefinition) {
		t.Errorf("duplicate state: expected ErrDuplicateDefinition, got %v", err)
	}
	if err := m.AddState(stateB, WithTarget("missing")); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("unknown target: expected ErrUnknownReference, got %v", err)
	}
	if m.HasState(stateB) {
		t.Error("state with unknown target should not be registered")
	}
	if err := m.AddTransition(stateA, "missing", evGo); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("unknown end: expected ErrUnknownReference, got %v", err)
	}
	if err := m.AddTransition("missing", stateA, evGo); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("unknown start: expected ErrUnknownReference, got %v", err)
	}
	if n := m.Events(); n != 0 {
		t.Errorf("expected no edges after failed adds, got %d", n)
	}
	if err := m.AddReaction("missing", evGo, noop); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("reaction on unknown state: expected ErrUnknownReference, got %v", err)
	}
	if err := m.AddReaction(stateA, evGo, noop); err != nil {
		t.Fatalf("add reaction: %v", err)
	}
	if err := m.AddReaction(stateA, evGo, noop); !errors.Is(err, ErrDuplicateDefinition) {
		t.Errorf("duplicate reaction: expected ErrDuplicateDefinition, got %v", err)
	}
}

func TestTransitionOverwrite(t *testing.T) {
	m := New(WithStartState(stateA))
	m.AddState(stateA)
	m.AddState(stateB)
	m.AddState(stateC)
	m.AddTransition(stateA, stateB, evGo)
	if err := m.AddTransition(stateA, stateC, evGo); err != nil {
		t.Fatalf("overwrite should not fail: %v", err)
	}

	want := []Transition{{From: stateA, Event: evGo, To: stateC}}
	if got := m.Transitions(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	m.Initialize()
	m.ProcessEvent(evGo)
	if m.CurrentState() != stateC {
		t.Errorf("expected last registration to win, got %s", m.CurrentState())
	}
}

func TestTerminalState(t *testing.T) {
	m := buildABC(t)

	if err := m.InitializeAt(stateFinal); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation for terminal start, got %v", err)
	}
	if err := m.InitializeAt("missing"); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference for unknown start, got %v", err)
	}

	m.InitializeAt(stateC)
	_, terminal, err := m.ProcessEvent(evDone)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !terminal || !m.Terminated() {
		t.Fatal("expected terminal state")
	}

	for _, ev := range []EventID{evGo, evBack, evNext, evDone} {
		if m.TestEvent(ev) {
			t.Errorf("TestEvent(%s) should be false in a terminal state", ev)
		}
		if _, _, err := m.ProcessEvent(ev); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("ProcessEvent(%s): expected ErrInvalidOperation, got %v", ev, err)
		}
	}
}

func TestInitializeTerminatedAgreement(t *testing.T) {
	m := buildABC(t)
	for _, s := range m.States() {
		err := m.InitializeAt(s)
		if m.IsTerminal(s) {
			if err == nil {
				t.Errorf("InitializeAt(%s) should fail for a terminal state", s)
			}
			continue
		}
		if err != nil {
			t.Fatalf("InitializeAt(%s): %v", s, err)
		}
		if m.Terminated() {
			t.Errorf("Terminated() true after InitializeAt(%s)", s)
		}
	}
}

func TestTargetTracking(t *testing.T) {
	m, err := NewDefinition().
		State(stateFinal).
		State(stateC, WithTarget(stateFinal)).
		State(stateB, WithTarget(stateC)).
		State(stateA).
		Transition(stateA, evGo, stateB).
		Transition(stateB, evBack, stateA).
		Transition(stateB, evNext, stateC).
		Transition(stateC, evDone, stateFinal).
		Initial(stateA).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	m.Initialize()

	steps := []struct {
		event  EventID
		state  StateID
		target StateID
	}{
		{evGo, stateB, stateC},
		{evBack, stateA, stateC}, // not reached yet, kept
		{evGo, stateB, stateC},
		{evNext, stateC, stateFinal}, // reached, then re-armed from c
		{evDone, stateFinal, ""},
	}
	for _, s := range steps {
		if _, _, err := m.ProcessEvent(s.event); err != nil {
			t.Fatalf("%s: %v", s.event, err)
		}
		if m.CurrentState() != s.state || m.TargetState() != s.target {
			t.Errorf("after %s: expected (%s, %q), got (%s, %q)",
				s.event, s.state, s.target, m.CurrentState(), m.TargetState())
		}
	}
}

func TestShallowCopy(t *testing.T) {
	m := buildABC(t)
	c := m.ShallowCopy()

	if c.Initialized() {
		t.Error("shallow copy should be uninitialized")
	}
	if !c.Frozen() {
		t.Error("shallow copy of a frozen machine should be frozen")
	}

	m.Initialize()
	c.Initialize()
	c.ProcessEvent(evGo)

	if m.CurrentState() != stateA || c.CurrentState() != stateB {
		t.Errorf("cursors are not independent: %s / %s", m.CurrentState(), c.CurrentState())
	}
	if !reflect.DeepEqual(m.States(), c.States()) || !reflect.DeepEqual(m.Transitions(), c.Transitions()) {
		t.Error("shallow copy should report the same definition")
	}
}

func TestShallowCopySharesDefinition(t *testing.T) {
	m := New()
	m.AddState(stateA)
	c := m.ShallowCopy()
	c.AddState(stateB)
	m.AddTransition(stateA, stateB, evGo)

	if !reflect.DeepEqual(m.States(), c.States()) || !reflect.DeepEqual(m.Transitions(), c.Transitions()) {
		t.Errorf("definitions diverged: %v / %v", m.Transitions(), c.Transitions())
	}
}

func TestDeepCopy(t *testing.T) {
	m := buildABC(t)
	c := m.Copy()

	if c.Frozen() || c.Initialized() {
		t.Fatal("deep copy should be unfrozen and uninitialized")
	}
	if err := c.AddState("extra"); err != nil {
		t.Fatalf("add to copy: %v", err)
	}
	if err := c.AddTransition(stateA, stateC, evNext); err != nil {
		t.Fatalf("add transition to copy: %v", err)
	}
	if m.HasState("extra") || m.Events() != 4 {
		t.Errorf("deep copy changes leaked into original: %v", m.Transitions())
	}

	// and the other way round
	o := New()
	o.AddState(stateA)
	oc := o.Copy()
	o.AddState(stateB)
	if oc.HasState(stateB) {
		t.Error("original changes leaked into deep copy")
	}
}

func TestTransitionsOrder(t *testing.T) {
	m := buildABC(t)
	want := []Transition{
		{stateA, evGo, stateB},
		{stateB, evBack, stateA},
		{stateB, evNext, stateC},
		{stateC, evDone, stateFinal},
	}
	if got := m.Transitions(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if m.Events() != len(want) {
		t.Errorf("expected %d events, got %d", len(want), m.Events())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var seen []Transition
	m := buildABC(t).ShallowCopy(WithStateChangeCallback(func(from, to StateID, ev EventID) {
		seen = append(seen, Transition{From: from, Event: ev, To: to})
	}))
	m.Initialize()
	m.ProcessEvent(evGo)
	m.ProcessEvent(evBack) // committed
	m.ProcessEvent(evDone) // rejected, not reported

	want := []Transition{{stateA, evGo, stateB}, {stateB, evBack, stateA}}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("expected %v, got %v", want, seen)
	}
}

func TestCursorRestore(t *testing.T) {
	m := buildABC(t)
	if err := m.Restore(Cursor{Current: stateFinal}); err != nil {
		t.Fatalf("restore to terminal state: %v", err)
	}
	if !m.Terminated() {
		t.Error("expected terminated after restore")
	}
	if err := m.Restore(Cursor{Current: "missing"}); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference, got %v", err)
	}
	if err := m.Restore(Cursor{Current: stateA, Target: "missing"}); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference for target, got %v", err)
	}
	if m.CurrentState() != stateFinal {
		t.Errorf("failed restore moved the cursor: %s", m.CurrentState())
	}
}

func TestDefinitionKeepsFirstError(t *testing.T) {
	_, err := NewDefinition().
		State(stateA).
		Transition(stateA, evGo, "missing").
		State(stateA).
		Build()
	if !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference, got %v", err)
	}

	_, err = NewDefinition().FinalState(stateFinal).Initial(stateFinal).Build()
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation for terminal initial state, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	react := func(context.Context, StateID, StateID, EventID, ...any) (EventID, error) { return evNext, nil }
	m, err := NewDefinition().
		State(stateC).
		State(stateB, WithTarget(stateC)).
		State(stateA).
		Transition(stateA, evGo, stateB).
		Reaction(stateB, evGo, react).
		Initial(stateA).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	d := m.Describe()
	if d.Start != stateA || len(d.States) != 3 || len(d.Transitions) != 1 {
		t.Fatalf("unexpected description: %+v", d)
	}
	b := d.States[1]
	if b.Name != stateB || b.Target != stateC || !reflect.DeepEqual(b.Reactions, []EventID{evGo}) {
		t.Errorf("unexpected state info: %+v", b)
	}
}

// Package states defines the provisioning states of a bare metal node and
// the state machine connecting them.
//
// The machine returned by Machine is built and frozen once per process.
// Every node drives its own cursor over it, obtained from NewCursor.
package states

import (
	"sync"

	"github.com/librescoot/metalfsm"
)

// Provisioning states
const (
	// NoState is the provision state of a newly enrolled node, and of a
	// node whose tear down completed.
	NoState metalfsm.StateID = "no-state"

	// Active means the node is deployed and associated with an instance.
	Active metalfsm.StateID = "active"

	// DeployWait means the node is waiting for the driver to call back
	// before deployment continues.
	DeployWait metalfsm.StateID = "wait call-back"

	// Deploying means the node is being deployed. A node also returns here
	// from DeployWait once the callback arrived (disk partitioning and
	// image copying).
	Deploying metalfsm.StateID = "deploying"

	// DeployFail means the deployment failed.
	DeployFail metalfsm.StateID = "deploy failed"

	// DeployDone means the deployment succeeded. It is mainly a target
	// state; a deployed node moves on to Active.
	DeployDone metalfsm.StateID = "deploy complete"

	// Deleting means the node is being torn down.
	Deleting metalfsm.StateID = "deleting"

	// Deleted means tear down succeeded. It is mainly a target state; a
	// torn down node ends in NoState.
	Deleted metalfsm.StateID = "deleted"

	// Error means processing failed; the node's last error says why.
	Error metalfsm.StateID = "error"

	// Rebuild means the node is being rebuilt.
	Rebuild metalfsm.StateID = "rebuild"
)

// Provisioning events
const (
	EventActive    metalfsm.EventID = "active"
	EventFail      metalfsm.EventID = "fail"
	EventRebuild   metalfsm.EventID = "rebuild"
	EventWait      metalfsm.EventID = "wait"
	EventResume    metalfsm.EventID = "resume"
	EventDone      metalfsm.EventID = "done"
	EventNextState metalfsm.EventID = "next-state"
	EventDelete    metalfsm.EventID = "delete"
	EventError     metalfsm.EventID = "error"
)

// PowerState is the power status of a node as reported by its driver.
type PowerState string

// Power states
const (
	PowerOn  PowerState = "power on"
	PowerOff PowerState = "power off"
	Reboot   PowerState = "rebooting"

	// PowerUnknown is used before the power state was ever read.
	PowerUnknown PowerState = ""
)

// NewDefinition returns the provisioning state machine without freezing it.
// Callers that need reactions bound to the graph start from here; everyone
// else uses Machine.
func NewDefinition(opts ...metalfsm.MachineOption) *metalfsm.Machine {
	opts = append([]metalfsm.MachineOption{metalfsm.WithStartState(NoState)}, opts...)
	m, err := metalfsm.NewDefinition(opts...).
		// Stable states
		State(NoState).
		State(Active).
		State(Error).
		// Deploy states
		State(DeployDone, metalfsm.WithTarget(Active)).
		State(Deploying, metalfsm.WithTarget(DeployDone)).
		State(DeployWait).
		State(DeployFail).
		State(Rebuild, metalfsm.WithTarget(DeployDone)).
		// Delete states
		State(Deleted, metalfsm.WithTarget(NoState)).
		State(Deleting, metalfsm.WithTarget(Deleted)).

		// From NoState a deployment may be started
		Transition(NoState, EventActive, Deploying).
		// A deployment may fail, and a failed one may be retried
		Transition(Deploying, EventFail, DeployFail).
		Transition(DeployFail, EventRebuild, Deploying).
		// A deployment may wait on external callbacks
		Transition(Deploying, EventWait, DeployWait).
		Transition(DeployWait, EventResume, Deploying).
		// A deployment may complete and be marked active
		Transition(Deploying, EventDone, DeployDone).
		Transition(DeployDone, EventNextState, Active).
		// An active instance may be re-deployed or deleted
		Transition(Active, EventRebuild, Deploying).
		Transition(Active, EventDelete, Deleting).
		// Waiting and failed deployments may be deleted too
		Transition(DeployWait, EventDelete, Deleting).
		Transition(DeployFail, EventDelete, Deleting).
		// A delete may complete
		Transition(Deleting, EventDone, NoState).
		// Most states can fail into Error
		Transition(NoState, EventError, Error).
		Transition(Deploying, EventError, Error).
		Transition(DeployWait, EventError, Error).
		Transition(Active, EventError, Error).
		Transition(Rebuild, EventError, Error).
		Transition(Deleting, EventError, Error).
		// An errored instance can be rebuilt or deleted
		Transition(Error, EventRebuild, Deploying).
		Transition(Error, EventDelete, Deleting).
		Unfrozen()
	if err != nil {
		// The graph is static; a failure here is a programming error.
		panic(err)
	}
	return m
}

var machine = sync.OnceValue(func() *metalfsm.Machine {
	m := NewDefinition()
	m.Freeze()
	return m
})

// Machine returns the frozen process-wide provisioning state machine. Do not
// drive it directly; use NewCursor.
func Machine() *metalfsm.Machine {
	return machine()
}

// NewCursor returns an uninitialized machine sharing the frozen definition.
func NewCursor(opts ...metalfsm.MachineOption) *metalfsm.Machine {
	return machine().ShallowCopy(opts...)
}

// IsStable reports whether a node may rest in state s between requests.
func IsStable(s metalfsm.StateID) bool {
	switch s {
	case NoState, Active, Error, DeployWait, DeployFail:
		return true
	}
	return false
}

package metalfsm

import "errors"

var (
	// ErrDuplicateDefinition is returned when a state or a (state, event)
	// reaction is defined twice.
	ErrDuplicateDefinition = errors.New("duplicate definition")

	// ErrUnknownReference is returned when a definition or initialization
	// names a state that does not exist.
	ErrUnknownReference = errors.New("unknown state")

	// ErrFrozen is returned by definition calls made after Freeze.
	ErrFrozen = errors.New("frozen machine can't be modified")

	// ErrInvalidOperation is returned when processing from an uninitialized
	// or terminal machine, when no transition exists for the event, or when
	// initializing into a terminal state.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrStalled is returned by a Runner that has neither an injected event
	// nor a reaction to continue from a non-terminal state.
	ErrStalled = errors.New("unable to progress")

	// ErrRunnerDone is returned when a finished Runner is resumed.
	ErrRunnerDone = errors.New("runner is done")
)

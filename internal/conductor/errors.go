package conductor

import "errors"

var (
	ErrNodeLocked          = errors.New("node is locked by another operation")
	ErrInvalidTarget       = errors.New("invalid provision target")
	ErrInvalidStateRequest = errors.New("requested provision state change is not allowed from the current state")
	ErrNodeInUse           = errors.New("node is in use")
	ErrNoTask              = errors.New("reaction called without a node task")
	ErrUnsupportedBoot     = errors.New("boot device not supported by driver")
)

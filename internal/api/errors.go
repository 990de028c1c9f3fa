package api

import (
	"errors"
	"net/http"

	"github.com/librescoot/metalfsm/internal/conductor"
	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/node"
)

var (
	// ErrInvalidUUID is returned for a node path segment that is not a UUID.
	ErrInvalidUUID = errors.New("invalid node uuid")

	// ErrInvalidBody is returned for request bodies or query parameters that
	// do not decode.
	ErrInvalidBody = errors.New("invalid request body")

	// ErrStart wraps listener failures of Server.Run.
	ErrStart = errors.New("failed to start HTTP server")

	// ErrShutdown wraps failures of the graceful shutdown.
	ErrShutdown = errors.New("failed to shutdown HTTP server gracefully")
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidUUID),
		errors.Is(err, ErrInvalidBody),
		errors.Is(err, conductor.ErrInvalidTarget),
		errors.Is(err, conductor.ErrUnsupportedBoot),
		errors.Is(err, driver.ErrInvalidDriverInfo),
		errors.Is(err, driver.ErrInvalidParameter),
		errors.Is(err, driver.ErrDriverNotFound):
		return http.StatusBadRequest
	case errors.Is(err, node.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conductor.ErrNodeLocked),
		errors.Is(err, conductor.ErrInvalidStateRequest),
		errors.Is(err, conductor.ErrNodeInUse),
		errors.Is(err, node.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, driver.ErrNoPowerInterface),
		errors.Is(err, driver.ErrNoManageInterface),
		errors.Is(err, driver.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, driver.ErrPowerStateFailure),
		errors.Is(err, driver.ErrCommandFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

package driver

import "errors"

var (
	ErrDriverNotFound    = errors.New("driver not found")
	ErrInvalidDriverInfo = errors.New("invalid driver info")
	ErrInvalidParameter  = errors.New("invalid parameter value")
	ErrPowerStateFailure = errors.New("failed to change power state")
	ErrUnsupported       = errors.New("operation not supported by driver")
	ErrDriverLoad        = errors.New("driver can not be loaded")
	ErrCommandFailed     = errors.New("driver command failed")
	ErrDeploymentFailed  = errors.New("deployment failed")
	ErrTearDownFailed    = errors.New("tear down failed")
	ErrNoDeployInterface = errors.New("driver has no deploy interface")
	ErrNoPowerInterface  = errors.New("driver has no power interface")
	ErrNoManageInterface = errors.New("driver has no management interface")
)

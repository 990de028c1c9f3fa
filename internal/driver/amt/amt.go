// Package amt implements power and boot device control for Intel AMT
// nodes by running the amttool command line client.
//
// AMT cannot set a persistent boot device. The requested device is kept in
// the node's driver internal info and applied on the next power on.
package amt

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/librescoot/metalfsm/internal/driver"
	"github.com/librescoot/metalfsm/internal/node"
	"github.com/librescoot/metalfsm/states"
)

// Driver info and driver internal info keys
const (
	InfoAddress  = "amt_address"
	InfoPassword = "amt_password"

	internalBootDevice     = "amt_boot_device"
	internalBootPersistent = "amt_boot_persistent"
)

// RequiredProperties lists the driver info keys the driver needs.
var RequiredProperties = map[string]string{
	InfoAddress:  "IP address or host name of the node. Required.",
	InfoPassword: "Password. Required.",
}

var bootDeviceArg = map[driver.BootDevice]string{
	driver.BootPXE:  "pxe",
	driver.BootDisk: "hd",
}

// Executor runs an external command and returns its output.
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecExecutor runs commands with os/exec.
type ExecExecutor struct{}

func (ExecExecutor) Execute(ctx context.Context, name string, args ...string) (string, string, error) {
	var stdout, stderr strings.Builder
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Driver is the AMT power and management interface.
type Driver struct {
	toolPath string
	exec     Executor
	logger   *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithExecutor replaces the command executor.
func WithExecutor(e Executor) Option {
	return func(d *Driver) {
		d.exec = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// New returns an AMT driver running the amttool binary at toolPath. It
// fails if the binary does not exist, unless a custom executor is given.
func New(toolPath string, opts ...Option) (*Driver, error) {
	d := &Driver{toolPath: toolPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	if d.exec == nil {
		if _, err := os.Stat(toolPath); err != nil {
			return nil, fmt.Errorf("%w: unable to locate amttool binary at %s: %v", driver.ErrDriverLoad, toolPath, err)
		}
		d.exec = ExecExecutor{}
	}
	return d, nil
}

type info struct {
	address  string
	password string
}

func parseDriverInfo(n *node.Node) (info, error) {
	i := info{
		address:  n.DriverInfo[InfoAddress],
		password: n.DriverInfo[InfoPassword],
	}
	if i.address == "" || i.password == "" {
		return info{}, fmt.Errorf("%w: missing one or more of the following required parameters: %s, %s",
			driver.ErrInvalidDriverInfo, InfoAddress, InfoPassword)
	}
	return i, nil
}

// Validate checks the node's driver info.
func (d *Driver) Validate(n *node.Node) error {
	_, err := parseDriverInfo(n)
	return err
}

func (d *Driver) run(ctx context.Context, op string, args ...string) (string, error) {
	out, stderr, err := d.exec.Execute(ctx, d.toolPath, args...)
	if err != nil {
		d.logger.Error("amttool failed", "op", op, "error", err, "stderr", stderr)
		return "", fmt.Errorf("%w: amttool %s: %v", driver.ErrCommandFailed, op, err)
	}
	return out, nil
}

// prepare re-registers the node with amttool before every command.
func (d *Driver) prepare(ctx context.Context, i info) error {
	if _, err := d.run(ctx, "rm", "rm", i.address); err != nil {
		return err
	}
	_, err := d.run(ctx, "add", "add", i.address, i.address, i.password)
	return err
}

func (d *Driver) command(ctx context.Context, i info, command string) error {
	if err := d.prepare(ctx, i); err != nil {
		return err
	}
	_, err := d.run(ctx, command, i.address, command)
	return err
}

func (d *Driver) status(ctx context.Context, i info) (states.PowerState, error) {
	if err := d.prepare(ctx, i); err != nil {
		return states.PowerUnknown, err
	}
	out, err := d.run(ctx, "status", i.address, "status")
	if err != nil {
		return states.PowerUnknown, err
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "on"):
			return states.PowerOn, nil
		case strings.HasPrefix(line, "off"):
			return states.PowerOff, nil
		case strings.HasPrefix(line, "reboot"):
			return states.Reboot, nil
		}
	}
	return states.PowerUnknown, fmt.Errorf("%w: unrecognized amttool status output", driver.ErrPowerStateFailure)
}

// PowerState reads the current power state.
func (d *Driver) PowerState(ctx context.Context, n *node.Node) (states.PowerState, error) {
	i, err := parseDriverInfo(n)
	if err != nil {
		return states.PowerUnknown, err
	}
	return d.status(ctx, i)
}

// SetPowerState powers the node on or off, or reboots it. Powering on
// applies a boot device requested through SetBootDevice; a non persistent
// request is dropped afterwards.
func (d *Driver) SetPowerState(ctx context.Context, n *node.Node, state states.PowerState) error {
	i, err := parseDriverInfo(n)
	if err != nil {
		return err
	}

	switch state {
	case states.PowerOn:
		command := "on"
		oneShot := false
		if dev := driver.BootDevice(n.DriverInternalInfo[internalBootDevice]); dev != "" {
			if bootDeviceArg[dev] == "pxe" {
				command = "pxeboot"
			}
			persistent, _ := strconv.ParseBool(n.DriverInternalInfo[internalBootPersistent])
			oneShot = !persistent
		}
		err = d.command(ctx, i, command)
		// A one-shot request is only used up by a power on that happened.
		if err == nil && oneShot {
			delete(n.DriverInternalInfo, internalBootDevice)
			delete(n.DriverInternalInfo, internalBootPersistent)
		}
	case states.PowerOff:
		err = d.command(ctx, i, "off")
	case states.Reboot:
		err = d.command(ctx, i, "reboot")
	default:
		return fmt.Errorf("%w: set power state called with invalid power state %q", driver.ErrInvalidParameter, state)
	}
	if err != nil {
		return err
	}

	want := state
	if state == states.Reboot {
		want = states.PowerOn
	}
	got, err := d.status(ctx, i)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: requested %q, node reports %q", driver.ErrPowerStateFailure, state, got)
	}
	return nil
}

// SupportedBootDevices returns the devices AMT can boot from.
func (d *Driver) SupportedBootDevices() []driver.BootDevice {
	return []driver.BootDevice{driver.BootPXE, driver.BootDisk}
}

// SetBootDevice records the device for the next power on.
func (d *Driver) SetBootDevice(_ context.Context, n *node.Node, dev driver.BootDevice, persistent bool) error {
	if _, ok := bootDeviceArg[dev]; !ok {
		return fmt.Errorf("%w: invalid boot device %q specified", driver.ErrInvalidParameter, dev)
	}
	if n.DriverInternalInfo == nil {
		n.DriverInternalInfo = make(map[string]string)
	}
	n.DriverInternalInfo[internalBootDevice] = string(dev)
	n.DriverInternalInfo[internalBootPersistent] = strconv.FormatBool(persistent)
	return nil
}

// BootDevice returns the recorded boot device, defaulting to disk.
func (d *Driver) BootDevice(_ context.Context, n *node.Node) (driver.BootDevice, bool, error) {
	dev := driver.BootDevice(n.DriverInternalInfo[internalBootDevice])
	if dev == "" {
		return driver.BootDisk, true, nil
	}
	persistent, _ := strconv.ParseBool(n.DriverInternalInfo[internalBootPersistent])
	return dev, persistent, nil
}

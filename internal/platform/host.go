package platform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// defaultCommandTimeout bounds each privileged command.
const defaultCommandTimeout = 15 * time.Second

// ErrCommandFailed is returned (wrapped) when a host command exits non-zero
// or times out.
var ErrCommandFailed = errors.New("platform: command failed")

// Host is the set of host operations used during recovery.
type Host interface {
	// PathExists reports whether the device node is present.
	PathExists(path string) bool

	// ListPorts returns the device nodes matching any of the glob patterns,
	// sorted and without duplicates.
	ListPorts(patterns []string) []string

	// DriverLoaded reports whether the serial driver module is loaded.
	DriverLoaded(ctx context.Context) (bool, error)

	// UnloadDriver removes the serial driver module.
	UnloadDriver(ctx context.Context) error

	// LoadDriver loads the serial driver module.
	LoadDriver(ctx context.Context) error
}

// Config configures the Linux host.
type Config struct {
	// DriverModule is the kernel module backing the radio's USB serial
	// bridge, e.g. "cp210x" or "ch341".
	DriverModule string

	// UseSudo runs rmmod and modprobe through "sudo -n".
	UseSudo bool

	// CommandTimeout bounds each command. Default: 15 seconds.
	CommandTimeout time.Duration
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner runs commands with os/exec.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Linux implements Host with standard Linux tools.
type Linux struct {
	cfg Config
	run Runner
}

// Ensure Linux implements Host.
var _ Host = (*Linux)(nil)

// NewLinux creates a Linux host.
func NewLinux(cfg Config) *Linux {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	return &Linux{cfg: cfg, run: execRunner}
}

// PathExists reports whether path exists.
func (l *Linux) PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ListPorts expands the glob patterns. Malformed patterns are skipped.
func (l *Linux) ListPorts(patterns []string) []string {
	var found []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		found = append(found, matches...)
	}
	slices.Sort(found)
	return slices.Compact(found)
}

// DriverLoaded checks the lsmod listing for the configured module.
func (l *Linux) DriverLoaded(ctx context.Context) (bool, error) {
	output, err := l.command(ctx, false, "lsmod")
	if err != nil {
		return false, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == l.cfg.DriverModule {
			return true, nil
		}
	}
	return false, nil
}

// UnloadDriver runs rmmod for the configured module.
func (l *Linux) UnloadDriver(ctx context.Context) error {
	_, err := l.command(ctx, l.cfg.UseSudo, "rmmod", l.cfg.DriverModule)
	return err
}

// LoadDriver runs modprobe for the configured module.
func (l *Linux) LoadDriver(ctx context.Context) error {
	_, err := l.command(ctx, l.cfg.UseSudo, "modprobe", l.cfg.DriverModule)
	return err
}

// command runs name under the command timeout, optionally via sudo.
func (l *Linux) command(ctx context.Context, privileged bool, name string, args ...string) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, l.cfg.CommandTimeout)
	defer cancel()

	if privileged {
		args = append([]string{"-n", name}, args...)
		name = "sudo"
	}
	cmdline := strings.Join(append([]string{name}, args...), " ")

	output, err := l.run(cmdCtx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s cancelled: %w", ErrCommandFailed, cmdline, ctx.Err())
		}
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s timed out after %v", ErrCommandFailed, cmdline, l.cfg.CommandTimeout)
		}
		return nil, fmt.Errorf("%w: %s: %w (output: %s)", ErrCommandFailed, cmdline, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

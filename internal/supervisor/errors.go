package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrSelfTestFailed is returned when a freshly opened connection does not
	// report itself connected.
	ErrSelfTestFailed = errors.New("supervisor: connection self test failed")

	// ErrClosed is returned when the supervisor has been closed.
	ErrClosed = errors.New("supervisor: closed")
)

// DriverResetError reports which step of the driver reset failed.
type DriverResetError struct {
	// Step is "check", "unload" or "load".
	Step string
	Err  error
}

func (e *DriverResetError) Error() string {
	return fmt.Sprintf("supervisor: driver reset %s: %v", e.Step, e.Err)
}

func (e *DriverResetError) Unwrap() error {
	return e.Err
}

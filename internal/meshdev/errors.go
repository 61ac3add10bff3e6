package meshdev

import (
	"errors"
	"fmt"
)

// Domain errors for the Meshtastic device driver.
var (
	// ErrTransport is the sentinel every TransportError matches via errors.Is.
	ErrTransport = errors.New("meshdev: transport failure")

	// ErrNotConnected is returned when a write is attempted on a closed or
	// failed connection.
	ErrNotConnected = errors.New("meshdev: not connected")

	// ErrHandshakeTimeout is returned when the device does not finish sending
	// its configuration within Config.ConfigTimeout.
	ErrHandshakeTimeout = errors.New("meshdev: config handshake timed out")

	// ErrFrameTooLarge is returned when a frame header announces a payload
	// larger than MaxFrameSize.
	ErrFrameTooLarge = errors.New("meshdev: frame too large")

	// ErrMalformed is returned when a protobuf payload cannot be decoded.
	ErrMalformed = errors.New("meshdev: malformed protobuf")

	// ErrInvalidAddress is returned when the device address cannot be parsed.
	ErrInvalidAddress = errors.New("meshdev: invalid device address")
)

// TransportError describes a failure on the device transport.
type TransportError struct {
	// Op is the failing operation: "open", "handshake", "read", "write" or "close".
	Op string

	// Path is the device address as configured.
	Path string

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("meshdev: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport so callers can match the class
// without unwrapping to the concrete cause.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

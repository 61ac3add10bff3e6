package mesh

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the mesh bridge package.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("mesh: bridge already started")

	// ErrBrokerUnavailable is returned by Start when the broker session is
	// not up. The bridge cannot run without it.
	ErrBrokerUnavailable = errors.New("mesh: broker not connected")

	// ErrDecodeFailed is matched by every ProtocolDecodeError.
	ErrDecodeFailed = errors.New("mesh: payload decode failed")

	// ErrUnknownCommand is returned for an unrecognised bridge command.
	ErrUnknownCommand = errors.New("mesh: unknown bridge command")
)

// ProtocolDecodeError reports a packet field that could not be extracted.
// The packet is still bridged with whatever could be decoded.
type ProtocolDecodeError struct {
	Field string // payload that failed, e.g. "position"
	Value string // what was observed
	Err   error
}

func (e *ProtocolDecodeError) Error() string {
	return fmt.Sprintf("mesh: decode %s (%s): %v", e.Field, e.Value, e.Err)
}

func (e *ProtocolDecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDecodeFailed) match any decode error.
func (e *ProtocolDecodeError) Is(target error) bool {
	return target == ErrDecodeFailed
}

// BrokerError reports a message that could not be published.
type BrokerError struct {
	Topic string

	// Fields lists the payload's keys and JSON value types, for diagnosis.
	Fields []string

	Err error
}

func (e *BrokerError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("mesh: publish %s: %v", e.Topic, e.Err)
	}
	return fmt.Sprintf("mesh: publish %s [%s]: %v", e.Topic, strings.Join(e.Fields, " "), e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

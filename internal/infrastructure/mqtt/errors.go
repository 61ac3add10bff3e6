package mqtt

import "errors"

// Sentinel errors. Operations wrap them in *Error; match with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)

// Error records the broker operation and topic that failed.
type Error struct {
	Op    string // "connect", "publish" or "subscribe"
	Topic string
	Err   error
}

func (e *Error) Error() string {
	if e.Topic == "" {
		return "mqtt " + e.Op + ": " + e.Err.Error()
	}
	return "mqtt " + e.Op + " " + e.Topic + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

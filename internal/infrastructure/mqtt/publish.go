package mqtt

import "fmt"

// maxPayloadSize caps a single message at 1MB; a nodes_summary for a large
// mesh stays well below it.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic.
//
// The bridge retains per-node records and nodes_summary only; packets and
// bridge_status are events. Every publish waits for paho up to
// defaultPublishTimeout, which for QoS 0 means until the message is written.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return &Error{Op: "publish", Topic: topic,
			Err: fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)}
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return &Error{Op: "publish", Topic: topic, Err: fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)}
	}
	if err := token.Error(); err != nil {
		return &Error{Op: "publish", Topic: topic, Err: fmt.Errorf("%w: %w", ErrPublishFailed, err)}
	}
	return nil
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

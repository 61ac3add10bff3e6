package mqtt

import "fmt"

// Subscribe routes messages matching filter to handler and keeps the route
// for replay after a reconnect. A route that the broker refuses is not kept.
//
//	err := client.Subscribe(topics.BridgeCommand(), 1, bridge.handleCommand)
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := validate(filter, qos); err != nil {
		return err
	}
	if handler == nil {
		return &Error{Op: "subscribe", Topic: filter, Err: fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)}
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routeMu.Lock()
	c.routes[filter] = route{filter: filter, qos: qos, handler: handler}
	c.routeMu.Unlock()

	token := c.client.Subscribe(filter, qos, c.dispatch(handler))
	var err error
	if !token.WaitTimeout(defaultPublishTimeout) {
		err = fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	} else if tokenErr := token.Error(); tokenErr != nil {
		err = fmt.Errorf("%w: %w", ErrSubscribeFailed, tokenErr)
	}
	if err != nil {
		c.routeMu.Lock()
		delete(c.routes, filter)
		c.routeMu.Unlock()
		return &Error{Op: "subscribe", Topic: filter, Err: err}
	}

	c.log().Info("subscribed", "topic", filter, "qos", qos)
	return nil
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

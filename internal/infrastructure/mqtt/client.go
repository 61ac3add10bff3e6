package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/config"
)

// Client is the bridge's connection to the MQTT broker.
//
// Paho owns reconnection. Client adds the pieces the bridge relies on:
// the offline will on bridge_status, routes that survive a reconnect, and
// a connect hook so the bridge can republish its retained state.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// routes are replayed against the broker after every reconnect.
	routes  map[string]route
	routeMu sync.RWMutex

	connected atomic.Bool

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	logger atomic.Pointer[Logger]
}

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Info(string, ...any)  {}

// route is one topic filter the bridge listens on.
type route struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message. Paho calls handlers from its
// own goroutines; a returned error is logged and otherwise dropped.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and blocks until the first
// connection succeeds or defaultConnectTimeout passes.
//
// The will is registered before dialing, so a bridge that dies without
// calling Close still produces an "offline" bridge_status event.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)

	c := &Client{
		cfg:    cfg,
		routes: make(map[string]route),
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("reconnecting to MQTT broker", "broker", cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, &Error{Op: "connect", Err: fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)}
	}
	if err := token.Error(); err != nil {
		return nil, &Error{Op: "connect", Err: fmt.Errorf("%w: %w", ErrConnectionFailed, err)}
	}

	// The paho connect handler is asynchronous.
	c.connected.Store(true)

	return c, nil
}

func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.replayRoutes()

	c.hookMu.RLock()
	hook := c.onConnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)

	c.hookMu.RLock()
	hook := c.onDisconnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// replayRoutes resubscribes every route after a reconnect. Failures are
// logged; the next reconnect tries again.
func (c *Client) replayRoutes() {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()

	for _, r := range c.routes {
		token := c.client.Subscribe(r.filter, r.qos, c.dispatch(r.handler))
		if token.WaitTimeout(defaultPublishTimeout) && token.Error() != nil {
			c.log().Warn("resubscribe failed", "topic", r.filter, "error", token.Error())
		}
	}
}

// Close disconnects cleanly, giving queued publishes a short quiesce
// period. The broker does not send the will after a clean disconnect.
// Safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while paho is between connections.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a hook run after the initial connect and after
// every reconnect, once routes have been replayed.
func (c *Client) SetOnConnect(hook func()) {
	c.hookMu.Lock()
	c.onConnect = hook
	c.hookMu.Unlock()
}

// SetOnDisconnect registers a hook run when paho reports a lost connection.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = hook
	c.hookMu.Unlock()
}

// SetLogger sets the logger. A nil logger silences the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		c.logger.Store(nil)
		return
	}
	c.logger.Store(&logger)
}

func (c *Client) log() Logger {
	if l := c.logger.Load(); l != nil {
		return *l
	}
	return noopLogger{}
}

// dispatch adapts a MessageHandler to paho, recovering handler panics so
// one bad command payload cannot take down paho's router.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

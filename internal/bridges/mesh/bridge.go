package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshtastic-bridge/internal/meshdev"
	"github.com/nerrad567/meshtastic-bridge/internal/platform"
	"github.com/nerrad567/meshtastic-bridge/internal/supervisor"
)

// Bridge defaults.
const (
	defaultStatusEvery    = 100
	defaultStatusInterval = time.Second
	defaultJoinTimeout    = 5 * time.Second

	// storeTimeout bounds one node store write.
	storeTimeout = 2 * time.Second
)

// Status kinds published by the bridge itself.
const (
	StatusBridge          = "bridge_status"
	StatusConnectionEvent = "connection_event"
	StatusPeriodicUpdate  = "periodic_update"
	StatusSnapshot        = "status"
)

// Bridge commands accepted on <prefix>/bridge_command.
const (
	CommandReconnect    = "reconnect"
	CommandPublishNodes = "publish_nodes"
	CommandStatus       = "status"
)

// Broker is the MQTT session the bridge publishes through.
// *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// DeviceDialer opens the mesh device and delivers its events to h.
type DeviceDialer func(ctx context.Context, h meshdev.Handlers) (supervisor.Conn, error)

// TelemetrySink receives every bridged packet for time-series storage.
type TelemetrySink interface {
	RecordPacket(ev PacketEvent)
}

// Config holds bridge settings.
type Config struct {
	TopicPrefix string
	QoS         byte

	// StatusEvery publishes periodic_update each time the packet count
	// crosses a multiple of it. Default: 100.
	StatusEvery int

	// StatusInterval is how often the packet count is checked. Default: 1s.
	StatusInterval time.Duration

	// JoinTimeout bounds how long Stop waits for background tasks. Default: 5s.
	JoinTimeout time.Duration

	// QueueSize bounds the publish queue. Default: 1024.
	QueueSize int
}

// Options holds the collaborators of a bridge.
type Options struct {
	Config Config

	// Broker is the connected MQTT session. Required.
	Broker Broker

	// Dial opens the device. Required.
	Dial DeviceDialer

	// Supervisor configures liveness monitoring and recovery.
	Supervisor supervisor.Config

	// Host performs path checks and driver resets. Optional.
	Host platform.Host

	// Store persists node records. Optional.
	Store NodeRepository

	// Telemetry records packets in a time-series store. Optional.
	Telemetry TelemetrySink

	Logger Logger
}

// Bridge wires the device, the node registry and the broker together.
//
// Data path: device packet → Normalizer → Registry → Publisher → broker.
// Control path: the Supervisor owns the device connection and is kept
// informed of liveness by the packet callbacks.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        Config
	broker     Broker
	topics     mqtt.Topics
	registry   *Registry
	normalizer *Normalizer
	publisher  *Publisher
	supervisor *supervisor.Supervisor
	store      NodeRepository
	telemetry  TelemetrySink
	logger     Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if opts.Dial == nil {
		return nil, fmt.Errorf("device dialer is required")
	}

	cfg := opts.Config
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = defaultStatusEvery
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	b := &Bridge{
		cfg:       cfg,
		broker:    opts.Broker,
		topics:    mqtt.NewTopics(cfg.TopicPrefix),
		registry:  NewRegistry(),
		store:     opts.Store,
		telemetry: opts.Telemetry,
		logger:    logger,
	}
	b.normalizer = NewNormalizer(b.registry, logger)
	b.publisher = NewPublisher(opts.Broker, PublisherConfig{
		Topics:       b.topics,
		QoS:          cfg.QoS,
		QueueSize:    cfg.QueueSize,
		Nodes:        b.registry.Snapshot,
		MessageCount: b.normalizer.Count,
		Logger:       logger,
	})
	b.registry.SetUpdateHook(b.nodeChanged)

	handlers := meshdev.Handlers{
		OnPacket:      b.handlePacket,
		OnConnected:   b.handleConnected,
		OnNodeUpdated: b.handleNodeUpdated,
	}
	sup, err := supervisor.New(opts.Supervisor, supervisor.Options{
		Dial: func(ctx context.Context) (supervisor.Conn, error) {
			return opts.Dial(ctx, handlers)
		},
		Host:         opts.Host,
		Status:       b.publisher,
		RefreshNodes: b.refreshNodes,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating supervisor: %w", err)
	}
	b.supervisor = sup

	return b, nil
}

// Start brings the bridge up. Only an unavailable broker is an error; a
// device that cannot be opened is retried by the supervisor.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}
	if !b.broker.IsConnected() {
		return ErrBrokerUnavailable
	}
	b.started = true

	b.publisher.Start()

	b.broker.SetOnConnect(func() {
		b.logger.Info("MQTT connected")
		b.publisher.PublishStatus(StatusBridge, "connected")
	})
	b.broker.SetOnDisconnect(func(err error) {
		b.logger.Warn("MQTT disconnected", "error", err)
		b.publisher.PublishStatus(StatusBridge, "mqtt_disconnected")
	})
	b.publisher.PublishStatus(StatusBridge, "connected")

	b.loadStoredNodes(ctx)

	if err := b.broker.Subscribe(b.topics.BridgeCommand(), 1, b.handleCommand); err != nil {
		b.logger.Warn("bridge commands unavailable", "topic", b.topics.BridgeCommand(), "error", err)
	}

	if err := b.supervisor.Connect(ctx); err != nil {
		b.logger.Warn("device not available at startup, will retry", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.supervisor.Run(runCtx)
	}()
	go func() {
		defer b.wg.Done()
		b.statusLoop(runCtx)
	}()

	b.logger.Info("bridge started",
		"topic_prefix", b.topics.Prefix(),
		"nodes", b.registry.Len(),
		"device_connected", b.supervisor.Connected(),
	)
	return nil
}

// Stop shuts the bridge down: background tasks are cancelled and joined
// within JoinTimeout, the device is closed, a final status is published and
// the publish queue is drained. The caller closes the broker afterwards.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		cancel := b.cancel
		b.mu.Unlock()

		if cancel != nil {
			cancel()
			if !waitTimeout(&b.wg, b.cfg.JoinTimeout) {
				b.logger.Warn("background tasks did not stop in time", "timeout", b.cfg.JoinTimeout.String())
			}
		}

		if err := b.supervisor.Close(); err != nil {
			b.logger.Warn("closing device connection", "error", err)
		}

		b.publisher.PublishStatus(StatusBridge, "disconnecting")
		b.publisher.Close(b.cfg.JoinTimeout)

		b.logger.Info("bridge stopped", "packets", b.normalizer.Count())
	})
}

// waitTimeout waits for wg, returning false if timeout elapses first.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// statusLoop publishes periodic_update once per StatusEvery packets.
func (b *Bridge) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.StatusInterval)
	defer ticker.Stop()

	every := uint64(b.cfg.StatusEvery) //nolint:gosec // validated positive
	var reported uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := b.normalizer.Count()
			if milestone := count / every; milestone > reported {
				reported = milestone
				b.publisher.PublishStatus(StatusPeriodicUpdate, map[string]any{
					"packets": count,
					"uptime":  b.publisher.Uptime().Seconds(),
				})
			}
		}
	}
}

// handlePacket runs on the device callback goroutine.
func (b *Bridge) handlePacket(p meshdev.Packet) {
	b.supervisor.MarkAlive()

	ev := b.normalizer.Normalize(p)
	b.logPacket(ev)
	b.publisher.PublishEvent(ev)

	if b.telemetry != nil {
		b.telemetry.RecordPacket(ev)
	}
}

func (b *Bridge) logPacket(ev PacketEvent) {
	switch ev.MessageType {
	case MessageText:
		b.logger.Info("text message", "from", ev.FromName, "to", ev.ToName, "text", *ev.Text)
	case MessageNodeInfo:
		b.logger.Info("node info", "from", ev.FromName, "node_id", ev.FromID)
	case MessagePosition:
		b.logger.Info("position", "from", ev.FromName)
	case MessageTelemetry:
		b.logger.Debug("telemetry", "from", ev.FromName)
	default:
		b.logger.Debug("packet", "from", ev.FromName, "port", ev.PortNum)
	}
}

func (b *Bridge) handleConnected() {
	b.logger.Info("device connection established")
	b.supervisor.MarkAlive()
	b.publisher.PublishStatus(StatusConnectionEvent, "established")
}

func (b *Bridge) handleNodeUpdated(n meshdev.Node) {
	b.supervisor.MarkAlive()

	u, err := nodeUpdate(n)
	if err != nil {
		b.logger.Warn("node report partially invalid", "node_id", u.NodeID, "error", err)
	}
	rec := b.registry.Apply(u)
	b.logger.Info("node updated",
		"node_id", rec.NodeID,
		"name", b.registry.ResolveDisplayName(rec.NodeID),
		"hw_model", rec.HWModel,
	)
}

// refreshNodes merges the device's node table after every (re)connect.
func (b *Bridge) refreshNodes(nodes []meshdev.Node) {
	updates := make([]NodeUpdate, 0, len(nodes))
	for _, n := range nodes {
		u, err := nodeUpdate(n)
		if err != nil {
			b.logger.Warn("node report partially invalid", "node_id", u.NodeID, "error", err)
		}
		updates = append(updates, u)
	}
	records := b.registry.Refresh(updates)

	b.publisher.PublishNodes(records)
	b.persist(func(ctx context.Context) error {
		return b.store.SaveAll(ctx, records)
	})
	b.logger.Info("node table refreshed", "nodes", len(records))
}

// nodeChanged is the registry update hook.
func (b *Bridge) nodeChanged(rec NodeRecord) {
	b.publisher.PublishNode(rec)
	b.persist(func(ctx context.Context) error {
		return b.store.Save(ctx, rec)
	})
}

func (b *Bridge) persist(save func(ctx context.Context) error) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := save(ctx); err != nil {
		b.logger.Warn("node store write failed", "error", err)
	}
}

func (b *Bridge) loadStoredNodes(ctx context.Context) {
	if b.store == nil {
		return
	}
	records, err := b.store.List(ctx)
	if err != nil {
		b.logger.Warn("failed to load stored nodes", "error", err)
		return
	}
	b.registry.Load(records)
	b.logger.Info("loaded stored nodes", "count", len(records))
}

// commandMessage is a bridge_command payload. A bare command word is
// accepted as well.
type commandMessage struct {
	Command string `json:"command"`
}

// handleCommand runs on the MQTT client's goroutine.
func (b *Bridge) handleCommand(_ string, payload []byte) error {
	var cmd commandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.Command = strings.TrimSpace(string(payload))
	}

	b.logger.Info("received bridge command", "command", cmd.Command)

	switch cmd.Command {
	case CommandReconnect:
		b.supervisor.RequestReconnect()
	case CommandPublishNodes:
		b.publisher.PublishNodes(b.registry.Snapshot())
	case CommandStatus:
		b.publisher.PublishStatus(StatusSnapshot, b.Status())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	return nil
}

// Status is a point-in-time view of the bridge.
type Status struct {
	SupervisorState string  `json:"supervisor_state"`
	DeviceConnected bool    `json:"device_connected"`
	Nodes           int     `json:"nodes"`
	Packets         uint64  `json:"packets"`
	LastPacket      string  `json:"last_packet"`
	Uptime          float64 `json:"uptime"`
}

// Status returns the current bridge status.
func (b *Bridge) Status() Status {
	return Status{
		SupervisorState: string(b.supervisor.State()),
		DeviceConnected: b.supervisor.Connected(),
		Nodes:           b.registry.Len(),
		Packets:         b.normalizer.Count(),
		LastPacket:      b.supervisor.LastPacket().UTC().Format(time.RFC3339),
		Uptime:          b.publisher.Uptime().Seconds(),
	}
}

// Registry returns the node registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

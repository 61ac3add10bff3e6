package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshtastic-bridge/internal/meshdev"
	"github.com/nerrad567/meshtastic-bridge/internal/platform"
)

// State is the connection supervisor state.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateStale              State = "stale"
	StateRecoveringNormal   State = "recovering_normal"
	StateRecoveringAdvanced State = "recovering_advanced"
	StateBackoffWait        State = "backoff_wait"
)

// Status message kinds published by the supervisor.
const (
	StatusSupervisorState  = "supervisor_state"
	StatusRecovery         = "recovery"
	StatusMeshtastic       = "meshtastic_status"
	StatusConnectionHealth = "connection_health"
)

// Conn is an open device connection. *meshdev.Client satisfies it.
type Conn interface {
	NodeCount() int
	Nodes() []meshdev.Node
	IsConnected() bool
	Close() error
}

// DialFunc opens a device connection.
type DialFunc func(ctx context.Context) (Conn, error)

// StatusReporter mirrors supervisor activity to an external observer.
type StatusReporter interface {
	PublishStatus(kind string, value any)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// noopStatus discards status messages.
type noopStatus struct{}

func (noopStatus) PublishStatus(string, any) {}

// Config holds supervisor timing and recovery settings.
type Config struct {
	// DevicePath is the serial device node checked during advanced
	// recovery. Empty for network devices, which skips the path check and
	// driver reset.
	DevicePath string

	ConnectionTimeout    time.Duration
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	BackoffWait          time.Duration
	SettleDelay          time.Duration

	DriverResetEnabled bool
	UnloadDelay        time.Duration
	ReloadDelay        time.Duration
	PortPatterns       []string
}

// DefaultConfig returns the stock timings.
func DefaultConfig(devicePath string) Config {
	return Config{
		DevicePath:           devicePath,
		ConnectionTimeout:    300 * time.Second,
		HeartbeatInterval:    60 * time.Second,
		ReconnectDelay:       10 * time.Second,
		MaxReconnectAttempts: 5,
		BackoffWait:          60 * time.Second,
		SettleDelay:          2 * time.Second,
		DriverResetEnabled:   true,
		UnloadDelay:          2 * time.Second,
		ReloadDelay:          3 * time.Second,
		PortPatterns:         []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/cu.usbserial*", "/dev/cu.SLAB_USBtoUART*"},
	}
}

// Options wires the supervisor's collaborators.
type Options struct {
	// Dial opens the device. Required.
	Dial DialFunc

	// Host performs path checks and driver resets. Nil skips both.
	Host platform.Host

	// Status receives state and recovery messages. Optional.
	Status StatusReporter

	// RefreshNodes receives the full node table after every successful
	// connection. Optional.
	RefreshNodes func([]meshdev.Node)

	// Logger is optional.
	Logger Logger
}

// Supervisor owns the device connection.
//
// Thread Safety:
//   - Connect, Heartbeat and Reconnect are serialised by opMu.
//   - MarkAlive, State, Attempts and LastPacket are safe from any goroutine.
//   - Close may be called while a ladder is running; the ladder notices and
//     discards any connection it opens afterwards.
type Supervisor struct {
	cfg     Config
	dial    DialFunc
	host    platform.Host
	status  StatusReporter
	refresh func([]meshdev.Node)
	logger  Logger

	// opMu serialises every operation that can open a connection.
	opMu sync.Mutex

	mu       sync.Mutex
	conn     Conn
	state    State
	attempts int
	closed   bool

	// lastPacket is unix nanoseconds; it only moves forward.
	lastPacket atomic.Int64

	reconnectReq chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a supervisor in the Disconnected state.
func New(cfg Config, opts Options) (*Supervisor, error) {
	if opts.Dial == nil {
		return nil, fmt.Errorf("supervisor: dial function is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("supervisor: heartbeat interval must be positive")
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}

	s := &Supervisor{
		cfg:          cfg,
		dial:         opts.Dial,
		host:         opts.Host,
		status:       opts.Status,
		refresh:      opts.RefreshNodes,
		logger:       opts.Logger,
		state:        StateDisconnected,
		reconnectReq: make(chan struct{}, 1),
		now:          time.Now,
		sleep:        sleepContext,
	}
	if s.status == nil {
		s.status = noopStatus{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	s.lastPacket.Store(s.now().UnixNano())
	return s, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MarkAlive records proof of device liveness. The timestamp never moves
// backwards, so concurrent callers cannot undo each other.
func (s *Supervisor) MarkAlive() {
	s.markAliveAt(s.now())
}

func (s *Supervisor) markAliveAt(t time.Time) {
	v := t.UnixNano()
	for {
		cur := s.lastPacket.Load()
		if v <= cur {
			return
		}
		if s.lastPacket.CompareAndSwap(cur, v) {
			return
		}
	}
}

// LastPacket returns the time of the last liveness proof.
func (s *Supervisor) LastPacket() time.Time {
	return time.Unix(0, s.lastPacket.Load())
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the reconnect attempt counter.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connected reports whether a connection is open and healthy at the driver level.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn != nil && conn.IsConnected()
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev == next {
		return
	}
	s.logger.Info("supervisor state changed", "from", string(prev), "to", string(next))
	s.status.PublishStatus(StatusSupervisorState, string(next))
}

// Connect opens the device connection.
//
// On success the state is Connected, the attempt counter is zero and the
// liveness timestamp is now. On failure the state is Disconnected; the
// heartbeat will retry.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.setState(StateConnecting)
	if err := s.open(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	return nil
}

// open replaces the connection handle. It only changes state on success.
func (s *Supervisor) open(ctx context.Context) error {
	s.closeConn()

	if s.isClosed() {
		return ErrClosed
	}

	conn, err := s.dial(ctx)
	if err != nil {
		s.logger.Error("device connection failed", "error", err)
		s.status.PublishStatus(StatusMeshtastic, "error: "+err.Error())
		return err
	}

	if !conn.IsConnected() {
		conn.Close() //nolint:errcheck // self test failure is the error of record
		s.logger.Error("device connection failed", "error", ErrSelfTestFailed)
		s.status.PublishStatus(StatusMeshtastic, "error: "+ErrSelfTestFailed.Error())
		return ErrSelfTestFailed
	}
	count := conn.NodeCount()
	s.logger.Info("connection test passed", "nodes", count)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close() //nolint:errcheck // supervisor closed while dialling
		return ErrClosed
	}
	s.conn = conn
	s.attempts = 0
	s.mu.Unlock()

	if s.refresh != nil {
		s.refresh(conn.Nodes())
	}

	s.MarkAlive()
	s.setState(StateConnected)
	s.status.PublishStatus(StatusMeshtastic, "connected")
	return nil
}

// closeConn drops the current connection handle, if any.
func (s *Supervisor) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn("closing device connection", "error", err)
		}
	}
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CheckHealth reports whether a liveness proof arrived within
// ConnectionTimeout of now, and publishes the verdict.
func (s *Supervisor) CheckHealth(now time.Time) bool {
	since := now.Sub(s.LastPacket())
	if since > s.cfg.ConnectionTimeout {
		s.logger.Warn("no packets received, connection may be dead", "since", since.Round(time.Second).String())
		s.status.PublishStatus(StatusConnectionHealth, fmt.Sprintf("stale_%ds", int64(since.Seconds())))
		return false
	}
	s.logger.Debug("connection healthy", "since", since.Round(time.Second).String())
	s.status.PublishStatus(StatusConnectionHealth, "healthy")
	return true
}

// Heartbeat runs one liveness check and, when it fails, the recovery ladder.
func (s *Supervisor) Heartbeat(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return
	}

	healthy := s.CheckHealth(s.now())
	connOpen := s.Connected()
	if healthy && connOpen {
		return
	}
	if !connOpen {
		s.logger.Warn("device connection is not open")
	}

	s.setState(StateStale)
	s.runLadder(ctx)
}

// Reconnect forces the recovery ladder regardless of health.
func (s *Supervisor) Reconnect(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return
	}
	s.logger.Info("reconnect requested")
	s.setState(StateStale)
	s.runLadder(ctx)
}

// RequestReconnect asks Run to perform a Reconnect on its goroutine. It
// never blocks; a request made while one is pending is merged with it.
func (s *Supervisor) RequestReconnect() {
	select {
	case s.reconnectReq <- struct{}{}:
	default:
	}
}

// Run drives the heartbeat until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.logger.Info("starting connection monitor", "interval", s.cfg.HeartbeatInterval.String())

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("connection monitor stopped")
			return
		case <-ticker.C:
			s.Heartbeat(ctx)
		case <-s.reconnectReq:
			s.Reconnect(ctx)
		}
	}
}

// Close closes the device connection. A running ladder stops opening
// connections once Close has been called.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.setState(StateDisconnected)

	if conn == nil {
		return nil
	}
	return conn.Close()
}

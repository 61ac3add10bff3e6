package meshdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts and sizes for the device connection.
const (
	// defaultBaudRate is the Meshtastic serial API speed.
	defaultBaudRate = 115200

	// defaultOpenTimeout bounds opening the serial port or TCP socket.
	defaultOpenTimeout = 10 * time.Second

	// defaultConfigTimeout bounds the want_config handshake.
	defaultConfigTimeout = 30 * time.Second

	// wakeSettle is the pause after the wake sequence before the first frame.
	wakeSettle = 100 * time.Millisecond

	// callbackQueueSize is the buffer size for the event callback queue.
	callbackQueueSize = 256
)

// Config holds device connection configuration.
type Config struct {
	// Address is the device address, see ParseAddress.
	Address string

	// BaudRate applies to serial transports. Default: 115200.
	BaudRate int

	// OpenTimeout bounds opening the transport. Default: 10 seconds.
	OpenTimeout time.Duration

	// ConfigTimeout bounds the want_config handshake. Default: 30 seconds.
	ConfigTimeout time.Duration

	// KeepaliveInterval is the period of ToRadio heartbeats. Zero disables them.
	KeepaliveInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Handlers are the event callbacks of a Client. Any of them may be nil.
type Handlers struct {
	// OnPacket is called for every received MeshPacket.
	OnPacket func(Packet)

	// OnConnected is called once the config handshake completes.
	OnConnected func()

	// OnNodeUpdated is called for every NodeInfo the device reports.
	OnNodeUpdated func(Node)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stats holds operational statistics.
type Stats struct {
	PacketsRx      uint64
	EventsDropped  uint64 // Events dropped due to full callback queue
	FramesInvalid  uint64 // Frames whose protobuf failed to decode
	BytesDiscarded uint64 // Debug console bytes between frames
	LastActivity   time.Time
	Connected      bool
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// eventKind discriminates queued callback events.
type eventKind int

const (
	eventPacket eventKind = iota
	eventConnected
	eventNodeUpdated
)

type event struct {
	kind   eventKind
	packet Packet
	node   Node
}

// Client is a connection to one Meshtastic radio.
type Client struct {
	cfg    Config
	kind   string
	target string
	port   io.ReadWriteCloser

	handlers Handlers

	writeMu sync.Mutex

	connected atomic.Bool
	myNodeNum atomic.Uint32

	nodesMu sync.RWMutex
	nodes   map[uint32]*Node

	// Handshake coordination
	nonce      uint32
	configDone *closeOnce
	readDone   *closeOnce
	readErr    error // set before readDone is closed

	events chan event

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Statistics
	packetsRx      atomic.Uint64
	eventsDropped  atomic.Uint64
	framesInvalid  atomic.Uint64
	bytesDiscarded atomic.Uint64
	lastActivity   atomic.Int64 // Unix nanoseconds
}

// Dial opens the device, performs the config handshake and starts
// delivering events to h.
//
// Dial returns once the device has sent its full node table. Any failure is
// a *TransportError (Op "open" or "handshake") and leaves nothing running.
func Dial(ctx context.Context, cfg Config, h Handlers) (*Client, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.ConfigTimeout == 0 {
		cfg.ConfigTimeout = defaultConfigTimeout
	}

	kind, target, err := ParseAddress(cfg.Address)
	if err != nil {
		return nil, &TransportError{Op: "open", Path: cfg.Address, Err: err}
	}

	openCtx, cancel := context.WithTimeout(ctx, cfg.OpenTimeout)
	port, err := openTransport(openCtx, kind, target, cfg.BaudRate)
	cancel()
	if err != nil {
		return nil, &TransportError{Op: "open", Path: cfg.Address, Err: err}
	}

	c := &Client{
		cfg:        cfg,
		kind:       kind,
		target:     target,
		port:       port,
		handlers:   h,
		nodes:      make(map[uint32]*Node),
		nonce:      rand.Uint32(), //nolint:gosec // handshake nonce, not a secret
		configDone: newCloseOnce(),
		readDone:   newCloseOnce(),
		events:     make(chan event, callbackQueueSize),
		done:       newCloseOnce(),
	}
	c.touch()

	c.wg.Add(2)
	go c.callbackWorker()
	go c.receiveLoop()

	if err := c.handshake(ctx); err != nil {
		c.Close() //nolint:errcheck // handshake error takes precedence
		return nil, &TransportError{Op: "handshake", Path: cfg.Address, Err: err}
	}

	c.connected.Store(true)
	c.enqueue(event{kind: eventConnected})
	c.logInfo("device connected", "address", cfg.Address, "my_node", FormatNodeID(c.myNodeNum.Load()), "nodes", c.NodeCount())

	if cfg.KeepaliveInterval > 0 {
		c.wg.Add(1)
		go c.keepaliveLoop()
	}

	return c, nil
}

// handshake wakes the device and waits for the config stream to finish.
func (c *Client) handshake(ctx context.Context) error {
	if c.kind == TransportSerial {
		if err := c.writeRaw(wakeSequence()); err != nil {
			return err
		}
		select {
		case <-time.After(wakeSettle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.writeFrame(encodeWantConfig(c.nonce)); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.ConfigTimeout)
	defer timer.Stop()

	select {
	case <-c.configDone.Done():
		return nil
	case <-c.readDone.Done():
		return c.readErr
	case <-timer.C:
		return ErrHandshakeTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop reads frames until the transport fails or Close is called.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	fr := newFrameReader(c.port)
	for {
		payload, err := fr.ReadFrame()
		c.bytesDiscarded.Store(fr.discarded)
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.touch()

		msg, err := decodeFromRadio(payload)
		if err != nil {
			c.framesInvalid.Add(1)
			c.logDebug("dropping undecodable frame", "error", err, "size", len(payload))
			continue
		}
		c.handleFromRadio(msg)
	}
}

// handleReadError ends the session. Errors caused by Close are not reported.
func (c *Client) handleReadError(err error) {
	if c.isClosed() {
		c.readErr = ErrNotConnected
		c.readDone.Close()
		return
	}
	c.readErr = err
	c.readDone.Close()

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		err = fmt.Errorf("device closed the stream: %w", err)
	}
	c.markDisconnected("read", err)
}

func (c *Client) handleFromRadio(msg fromRadio) {
	if msg.hasMyInfo {
		c.myNodeNum.Store(msg.myNodeNum)
	}

	if msg.nodeInfo != nil {
		c.storeNode(*msg.nodeInfo)
		c.enqueue(event{kind: eventNodeUpdated, node: *msg.nodeInfo})
	}

	if msg.hasConfigDone && msg.configCompleteID == c.nonce {
		c.configDone.Close()
	}

	if msg.packet != nil {
		c.packetsRx.Add(1)
		c.applyPacket(*msg.packet)
		c.enqueue(event{kind: eventPacket, packet: *msg.packet})
	}
}

// storeNode replaces the node table entry for n.Num.
func (c *Client) storeNode(n Node) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	c.nodes[n.Num] = &n
}

// applyPacket keeps the node table current from received traffic.
func (c *Client) applyPacket(p Packet) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()

	n, ok := c.nodes[p.From]
	if !ok {
		n = &Node{Num: p.From}
		c.nodes[p.From] = n
	}
	if p.RxTime > n.LastHeard {
		n.LastHeard = p.RxTime
	}
	if p.RxSNR != 0 {
		n.SNR = p.RxSNR
	}
	if p.Decoded == nil {
		return
	}

	switch p.Decoded.PortNum {
	case PortNodeInfo:
		if u, err := DecodeUser(p.Decoded.Payload); err == nil {
			n.User = &u
		}
	case PortPosition:
		if pos, err := DecodePosition(p.Decoded.Payload); err == nil {
			n.Position = &pos
		}
	case PortTelemetry:
		if t, err := DecodeTelemetry(p.Decoded.Payload); err == nil && t.DeviceMetrics != nil {
			n.DeviceMetrics = t.DeviceMetrics
		}
	}
}

// enqueue hands an event to the callback worker without blocking the reader.
func (c *Client) enqueue(ev event) {
	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.logWarn("callback queue full, dropping event", "kind", int(ev.kind))
	}
}

// callbackWorker delivers events in receive order.
func (c *Client) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Client) dispatch(ev event) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("event callback panic", "panic", fmt.Sprintf("%v", r))
		}
	}()

	switch ev.kind {
	case eventPacket:
		if c.handlers.OnPacket != nil {
			c.handlers.OnPacket(ev.packet)
		}
	case eventConnected:
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected()
		}
	case eventNodeUpdated:
		if c.handlers.OnNodeUpdated != nil {
			c.handlers.OnNodeUpdated(ev.node)
		}
	}
}

// keepaliveLoop sends periodic heartbeats so the serial API stays awake.
func (c *Client) keepaliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				return
			}
			if err := c.writeFrame(encodeHeartbeat()); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeFrame(payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	return c.writeRaw(frame)
}

func (c *Client) writeRaw(b []byte) error {
	if c.isClosed() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	_, err := c.port.Write(b)
	c.writeMu.Unlock()

	if err != nil {
		c.markDisconnected("write", err)
		return &TransportError{Op: "write", Path: c.cfg.Address, Err: err}
	}
	return nil
}

// markDisconnected records a transport failure once per session.
func (c *Client) markDisconnected(op string, err error) {
	if c.connected.CompareAndSwap(true, false) {
		c.logError("device connection lost", "op", op, "address", c.cfg.Address, "error", err)
	}
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// IsConnected reports whether the handshake completed and no transport
// error has occurred since.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// MyNodeNum returns the number of the locally attached radio.
func (c *Client) MyNodeNum() uint32 {
	return c.myNodeNum.Load()
}

// NodeCount returns the number of entries in the node table.
func (c *Client) NodeCount() int {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	return len(c.nodes)
}

// Nodes returns a copy of the node table ordered by node number.
func (c *Client) Nodes() []Node {
	c.nodesMu.RLock()
	out := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, *n)
	}
	c.nodesMu.RUnlock()

	slices.SortFunc(out, func(a, b Node) int {
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		PacketsRx:      c.packetsRx.Load(),
		EventsDropped:  c.eventsDropped.Load(),
		FramesInvalid:  c.framesInvalid.Load(),
		BytesDiscarded: c.bytesDiscarded.Load(),
		LastActivity:   time.Unix(0, c.lastActivity.Load()),
		Connected:      c.IsConnected(),
	}
}

// Close shuts the transport and waits for the client goroutines to exit.
// Events still queued are discarded. Close must not be called from a
// handler.
func (c *Client) Close() error {
	if c.isClosed() {
		return nil
	}
	c.done.Close()
	c.connected.Store(false)

	err := c.port.Close()
	c.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "close", Path: c.cfg.Address, Err: err}
	}
	return nil
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Error(msg, args...)
	}
}

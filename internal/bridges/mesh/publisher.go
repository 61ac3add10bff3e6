package mesh

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/mqtt"
)

// Publisher defaults.
const (
	defaultQueueSize    = 1024
	defaultDrainTimeout = 5 * time.Second
)

// MessagePublisher sends MQTT messages.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Topics mqtt.Topics
	QoS    byte

	// QueueSize bounds the outgoing queue. Default: 1024.
	QueueSize int

	// Nodes supplies the node list for nodes_summary. Required.
	Nodes func() []NodeRecord

	// MessageCount supplies the packet counter for bridge_status. Optional.
	MessageCount func() uint64

	Logger Logger
}

// outgoing is one queued message. A summary entry carries no payload; the
// worker builds it from the node list when it is dequeued.
type outgoing struct {
	topic    string
	payload  []byte
	retained bool
	summary  bool
}

// StatusMessage is the bridge_status payload.
type StatusMessage struct {
	StatusType   string    `json:"status_type"`
	Value        any       `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount uint64    `json:"message_count"`
	Uptime       float64   `json:"uptime"`
}

// NodesSummary is the nodes_summary payload.
type NodesSummary struct {
	TotalNodes int          `json:"total_nodes"`
	Nodes      []NodeRecord `json:"nodes"`
	Updated    time.Time    `json:"updated"`
}

// Publisher serialises bridge output and hands it to the broker from a
// single worker goroutine.
//
// Every Publish method returns immediately. Messages are dropped with a
// warning when the queue is full; marshal and broker failures are logged and
// otherwise ignored.
//
// Thread Safety: All methods are safe for concurrent use.
type Publisher struct {
	broker MessagePublisher
	topics mqtt.Topics
	qos    byte
	nodes  func() []NodeRecord
	count  func() uint64
	logger Logger

	start time.Time
	now   func() time.Time

	queue chan outgoing

	// summaryPending coalesces bursts of node updates into one summary.
	summaryPending atomic.Bool

	closeMu sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a publisher. Call Start to begin delivery.
func NewPublisher(broker MessagePublisher, cfg PublisherConfig) *Publisher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	count := cfg.MessageCount
	if count == nil {
		count = func() uint64 { return 0 }
	}
	nodes := cfg.Nodes
	if nodes == nil {
		nodes = func() []NodeRecord { return nil }
	}

	return &Publisher{
		broker: broker,
		topics: cfg.Topics,
		qos:    cfg.QoS,
		nodes:  nodes,
		count:  count,
		logger: logger,
		start:  time.Now(),
		now:    time.Now,
		queue:  make(chan outgoing, size),
	}
}

// Start launches the delivery worker. Calling it more than once is a no-op.
func (p *Publisher) Start() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.run()
}

// PublishEvent sends a packet event to <prefix>/packets and
// <prefix>/packets/<message_type>.
func (p *Publisher) PublishEvent(ev PacketEvent) {
	payload, ok := p.marshal(p.topics.Packets(), ev)
	if !ok {
		return
	}
	p.enqueue(outgoing{topic: p.topics.Packets(), payload: payload})
	p.enqueue(outgoing{topic: p.topics.PacketsByType(ev.MessageType), payload: payload})
}

// PublishNode sends a node record to <prefix>/nodes/<node_id>, followed by
// the node summary. Both are retained.
func (p *Publisher) PublishNode(rec NodeRecord) {
	p.publishNode(rec)
	p.requestSummary()
}

// PublishNodes sends every given record and a single summary.
func (p *Publisher) PublishNodes(records []NodeRecord) {
	for _, rec := range records {
		p.publishNode(rec)
	}
	p.requestSummary()
}

func (p *Publisher) publishNode(rec NodeRecord) {
	topic := p.topics.Node(rec.NodeID)
	payload, ok := p.marshal(topic, rec)
	if !ok {
		return
	}
	p.enqueue(outgoing{topic: topic, payload: payload, retained: true})
}

func (p *Publisher) requestSummary() {
	if !p.summaryPending.CompareAndSwap(false, true) {
		return
	}
	if !p.enqueue(outgoing{topic: p.topics.NodesSummary(), retained: true, summary: true}) {
		p.summaryPending.Store(false)
	}
}

// PublishStatus sends a bridge_status message.
func (p *Publisher) PublishStatus(kind string, value any) {
	msg := StatusMessage{
		StatusType:   kind,
		Value:        value,
		Timestamp:    p.now().UTC(),
		MessageCount: p.count(),
		Uptime:       p.Uptime().Seconds(),
	}
	topic := p.topics.BridgeStatus()
	payload, ok := p.marshal(topic, msg)
	if !ok {
		return
	}
	p.enqueue(outgoing{topic: topic, payload: payload})
}

func (p *Publisher) marshal(topic string, v any) ([]byte, bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("failed to encode MQTT payload",
			"error", &BrokerError{Topic: topic, Err: err},
			"type", fmt.Sprintf("%T", v),
		)
		return nil, false
	}
	return payload, true
}

// enqueue never blocks.
func (p *Publisher) enqueue(msg outgoing) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		p.logger.Debug("publisher closed, message dropped", "topic", msg.topic)
		return false
	}

	select {
	case p.queue <- msg:
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("publish queue full, message dropped", "topic", msg.topic)
		return false
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for msg := range p.queue {
		if msg.summary {
			p.summaryPending.Store(false)
			payload, ok := p.marshal(msg.topic, p.summary())
			if !ok {
				continue
			}
			msg.payload = payload
		}
		p.deliver(msg)
	}
}

func (p *Publisher) summary() NodesSummary {
	nodes := p.nodes()
	if nodes == nil {
		nodes = []NodeRecord{}
	}
	return NodesSummary{
		TotalNodes: len(nodes),
		Nodes:      nodes,
		Updated:    p.now().UTC(),
	}
}

func (p *Publisher) deliver(msg outgoing) {
	if err := p.broker.Publish(msg.topic, msg.payload, p.qos, msg.retained); err != nil {
		p.failed.Add(1)
		p.logger.Error("failed to publish MQTT message",
			"error", &BrokerError{Topic: msg.topic, Fields: describePayload(msg.payload), Err: err},
		)
		return
	}
	p.published.Add(1)
}

// describePayload lists the top-level keys of a JSON object with their
// value types, e.g. "from_id:string".
func describePayload(payload []byte) []string {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil
	}

	fields := make([]string, 0, len(obj))
	for k, v := range obj {
		fields = append(fields, k+":"+jsonType(v))
	}
	sort.Strings(fields)
	return fields
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// Close stops accepting messages and waits up to timeout for the queue to
// drain. A zero timeout uses the default.
func (p *Publisher) Close(timeout time.Duration) {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	close(p.queue)
	p.closeMu.Unlock()

	if !started {
		return
	}
	if timeout <= 0 {
		timeout = defaultDrainTimeout
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("publish queue not drained before timeout", "pending", len(p.queue))
	}
}

// PublisherStats holds publisher counters.
type PublisherStats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
	Pending   int
}

// Stats returns delivery counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
		Pending:   len(p.queue),
	}
}

// Uptime returns the time since the publisher was created.
func (p *Publisher) Uptime() time.Duration {
	return p.now().Sub(p.start)
}

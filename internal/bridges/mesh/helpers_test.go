package mesh

import (
	"encoding/json"
	"math"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/mqtt"
)

// Payload encoders for the port payloads the normalizer decodes.

func userPayload(id, longName, shortName string, hwModel uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, id)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, longName)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, shortName)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	return protowire.AppendVarint(b, hwModel)
}

func positionPayload(latI, lonI, alt int32) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, uint32(latI)) //nolint:gosec // sfixed32
	b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, uint32(lonI)) //nolint:gosec // sfixed32
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(alt))) //nolint:gosec // int32 sign extension
}

func telemetryPayload(battery uint32, voltage, chUtil, airUtil float32) []byte {
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(battery))
	for i, v := range []float32{voltage, chUtil, airUtil} {
		m = protowire.AppendTag(m, protowire.Number(i+2), protowire.Fixed32Type)
		m = protowire.AppendFixed32(m, math.Float32bits(v))
	}

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 1700000000)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// published is one message seen by fakeBroker.
type published struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// fakeBroker records publishes and simulates an MQTT session.
type fakeBroker struct {
	mu           sync.Mutex
	msgs         []published
	connected    bool
	publishErr   error
	handlers     map[string]mqtt.MessageHandler
	onConnect    func()
	onDisconnect func(error)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, published{Topic: topic, Payload: append([]byte(nil), payload...), QoS: qos, Retained: retained})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) SetOnConnect(cb func()) {
	f.mu.Lock()
	f.onConnect = cb
	f.mu.Unlock()
}

func (f *fakeBroker) SetOnDisconnect(cb func(error)) {
	f.mu.Lock()
	f.onDisconnect = cb
	f.mu.Unlock()
}

// deliver simulates an incoming message on a subscribed topic.
func (f *fakeBroker) deliver(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(topic, payload)
}

func (f *fakeBroker) Messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

// onTopic returns the messages published to topic.
func (f *fakeBroker) onTopic(topic string) []published {
	var out []published
	for _, m := range f.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// statuses returns the decoded bridge_status messages of the given kind.
func (f *fakeBroker) statuses(prefix, kind string) []StatusMessage {
	var out []StatusMessage
	for _, m := range f.onTopic(prefix + "/bridge_status") {
		var s StatusMessage
		if err := json.Unmarshal(m.Payload, &s); err != nil {
			continue
		}
		if s.StatusType == kind {
			out = append(out, s)
		}
	}
	return out
}

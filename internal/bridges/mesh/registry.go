package mesh

import (
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the mesh bridge.
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

// Registry is the in-memory table of every node the bridge has seen.
//
// Records are created on first reference and never removed. Every change
// made through Upsert, UpdateMetrics or Apply is passed to the update hook
// (normally the Publisher) after the registry lock is released, so the hook
// may read the registry.
//
// All public methods are thread-safe.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*NodeRecord
	order []string // insertion order, for Snapshot

	hookMu   sync.RWMutex
	onUpdate func(NodeRecord)

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*NodeRecord),
		now:   time.Now,
	}
}

// SetUpdateHook registers fn to receive a copy of every updated record.
func (r *Registry) SetUpdateHook(fn func(NodeRecord)) {
	r.hookMu.Lock()
	r.onUpdate = fn
	r.hookMu.Unlock()
}

func (r *Registry) notify(rec NodeRecord) {
	r.hookMu.RLock()
	fn := r.onUpdate
	r.hookMu.RUnlock()
	if fn != nil {
		fn(rec)
	}
}

// lookup returns the record for nodeID, creating it if needed.
// The caller holds mu.
func (r *Registry) lookup(nodeID string) *NodeRecord {
	rec, ok := r.nodes[nodeID]
	if !ok {
		fresh := newNodeRecord(nodeID)
		rec = &fresh
		r.nodes[nodeID] = rec
		r.order = append(r.order, nodeID)
	}
	return rec
}

// heard moves LastHeard forward to t.
func heard(rec *NodeRecord, t int64) {
	if t > rec.LastHeard {
		rec.LastHeard = t
	}
}

// Upsert records a node's identity. Empty fields keep their current value.
func (r *Registry) Upsert(nodeID, shortName, longName, hwModel string) NodeRecord {
	r.mu.Lock()
	rec := r.lookup(nodeID)
	if shortName != "" {
		rec.ShortName = shortName
	}
	if longName != "" {
		rec.LongName = longName
	}
	if hwModel != "" {
		rec.HWModel = hwModel
	}
	heard(rec, r.now().Unix())
	out := *rec
	r.mu.Unlock()

	r.notify(out)
	return out
}

// UpdateMetrics records a telemetry report for a node.
func (r *Registry) UpdateMetrics(nodeID string, m Metrics) NodeRecord {
	r.mu.Lock()
	rec := r.lookup(nodeID)
	setMetrics(rec, m)
	heard(rec, r.now().Unix())
	out := *rec
	r.mu.Unlock()

	r.notify(out)
	return out
}

func setMetrics(rec *NodeRecord, m Metrics) {
	rec.BatteryLevel = m.BatteryLevel
	rec.Voltage = m.Voltage
	rec.ChannelUtilization = m.ChannelUtilization
	rec.AirUtilTx = m.AirUtilTx
}

// Apply merges a node report from the device.
func (r *Registry) Apply(u NodeUpdate) NodeRecord {
	r.mu.Lock()
	out := r.apply(u)
	r.mu.Unlock()

	r.notify(out)
	return out
}

// apply merges u without notifying. The caller holds mu.
func (r *Registry) apply(u NodeUpdate) NodeRecord {
	rec := r.lookup(u.NodeID)
	if u.ShortName != "" {
		rec.ShortName = u.ShortName
	}
	if u.LongName != "" {
		rec.LongName = u.LongName
	}
	if u.HWModel != "" {
		rec.HWModel = u.HWModel
	}
	if u.SNR != nil {
		rec.SNR = *u.SNR
	}
	if u.Metrics != nil {
		setMetrics(rec, *u.Metrics)
	}
	heard(rec, u.LastHeard)
	return *rec
}

// Refresh merges a full node table without notifying, and returns the
// merged records. The caller publishes them in one batch.
func (r *Registry) Refresh(updates []NodeUpdate) []NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]NodeRecord, 0, len(updates))
	for _, u := range updates {
		out = append(out, r.apply(u))
	}
	return out
}

// Load preloads stored records. Stored values never overwrite fields
// already learned in this process.
func (r *Registry) Load(records []NodeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stored := range records {
		if stored.NodeID == "" {
			continue
		}
		if rec, ok := r.nodes[stored.NodeID]; ok {
			heard(rec, stored.LastHeard)
			continue
		}
		rec := stored
		r.nodes[rec.NodeID] = &rec
		r.order = append(r.order, rec.NodeID)
	}
}

// Touch makes sure a record exists for nodeID, without notifying.
func (r *Registry) Touch(nodeID string) NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.lookup(nodeID)
}

// Get returns a copy of the record for nodeID.
func (r *Registry) Get(nodeID string) (NodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.nodes[nodeID]
	if !ok {
		return NodeRecord{}, false
	}
	return *rec, true
}

// Len returns the number of known nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Snapshot returns copies of every record in insertion order.
func (r *Registry) Snapshot() []NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.nodes[id])
	}
	return out
}

// ResolveDisplayName returns the best human name for a node: its short
// name, else its long name, else FriendlyNodeID.
func (r *Registry) ResolveDisplayName(nodeID string) string {
	r.mu.RLock()
	rec, ok := r.nodes[nodeID]
	var short, long string
	if ok {
		short, long = rec.ShortName, rec.LongName
	}
	r.mu.RUnlock()

	if short != "" && short != DefaultShortName {
		return short
	}
	if long != "" && long != DefaultLongName {
		return long
	}
	return FriendlyNodeID(nodeID)
}

// FriendlyNodeID shortens a canonical node id for display:
// "!a1b2c3d4" becomes "Node-C3D4". Other ids are returned unchanged.
func FriendlyNodeID(nodeID string) string {
	if !strings.HasPrefix(nodeID, "!") || len(nodeID) < 2 {
		return nodeID
	}
	hex := nodeID[1:]
	if len(hex) > 4 {
		hex = hex[len(hex)-4:]
	}
	return "Node-" + strings.ToUpper(hex)
}

package mesh

import "time"

// Defaults for node identity fields that have not been learned yet.
const (
	DefaultShortName = "UNK"
	DefaultLongName  = "Unknown"
	DefaultHWModel   = "Unknown"
)

// Message types. The set is closed: every PacketEvent carries exactly one.
const (
	MessageText      = "text"
	MessageNodeInfo  = "nodeinfo"
	MessagePosition  = "position"
	MessageTelemetry = "telemetry"
	MessageOther     = "other"
)

// NodeRecord is the last known identity and telemetry of one mesh node.
type NodeRecord struct {
	NodeID    string `json:"node_id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	HWModel   string `json:"hw_model"`

	// LastHeard is unix seconds. It never moves backwards.
	LastHeard int64 `json:"last_heard"`

	SNR                float32 `json:"snr"`
	BatteryLevel       uint32  `json:"battery_level"`
	Voltage            float32 `json:"voltage"`
	ChannelUtilization float32 `json:"channel_utilization"`
	AirUtilTx          float32 `json:"air_util_tx"`
}

// newNodeRecord returns a record with the unknown-identity defaults.
func newNodeRecord(nodeID string) NodeRecord {
	return NodeRecord{
		NodeID:    nodeID,
		ShortName: DefaultShortName,
		LongName:  DefaultLongName,
		HWModel:   DefaultHWModel,
	}
}

// Metrics is a device telemetry report.
type Metrics struct {
	BatteryLevel       uint32
	Voltage            float32
	ChannelUtilization float32
	AirUtilTx          float32
}

// NodeUpdate is a full node report from the device's node table. Empty
// identity fields and nil pointers leave the stored value alone.
type NodeUpdate struct {
	NodeID    string
	ShortName string
	LongName  string
	HWModel   string

	// LastHeard is unix seconds; zero means the device has no record of it.
	LastHeard int64

	SNR     *float32
	Metrics *Metrics
}

// UserInfo is the identity carried by a nodeinfo packet.
type UserInfo struct {
	ID        string `json:"id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	HWModel   string `json:"hw_model"`
}

// PacketEvent is one received packet in the bridge's public event format.
//
// The type-specific fields are pointers so that exactly the fields of the
// event's MessageType appear in the JSON payload.
type PacketEvent struct {
	MessageCount uint64    `json:"message_count"`
	Timestamp    time.Time `json:"timestamp"`

	FromID   string `json:"from_id"`
	ToID     string `json:"to_id"`
	FromName string `json:"from_name"`
	ToName   string `json:"to_name"`

	HopLimit uint32  `json:"hop_limit"`
	HopStart uint32  `json:"hop_start"`
	WantAck  bool    `json:"want_ack"`
	ViaMQTT  bool    `json:"via_mqtt"`
	Channel  uint32  `json:"channel"`
	RSSI     int32   `json:"rssi"`
	SNR      float32 `json:"snr"`
	RxTime   uint32  `json:"rx_time"`

	PortNum     string `json:"port_num"`
	MessageType string `json:"message_type"`

	// text
	Text *string `json:"text,omitempty"`

	// nodeinfo
	UserInfo *UserInfo `json:"user_info,omitempty"`

	// position
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *int32   `json:"altitude,omitempty"`

	// telemetry
	BatteryLevel       *uint32  `json:"battery_level,omitempty"`
	Voltage            *float32 `json:"voltage,omitempty"`
	ChannelUtilization *float32 `json:"channel_utilization,omitempty"`
	AirUtilTx          *float32 `json:"air_util_tx,omitempty"`
}

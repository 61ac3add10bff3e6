package meshdev

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// BroadcastNum is the destination number of a packet sent to every node.
const BroadcastNum uint32 = 0xffffffff

// FormatNodeID renders a node number in the canonical "!%08x" form.
func FormatNodeID(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// Packet is a received MeshPacket.
type Packet struct {
	From     uint32
	To       uint32
	ID       uint32
	Channel  uint32
	HopLimit uint32
	HopStart uint32
	WantAck  bool
	ViaMQTT  bool
	RxTime   uint32
	RxSNR    float32
	RxRSSI   int32

	// Decoded is nil when the packet could not be decrypted by the radio.
	Decoded *Data

	// Encrypted holds the ciphertext when Decoded is nil.
	Encrypted []byte
}

// Data is the decoded application payload of a packet.
type Data struct {
	PortNum PortNum
	Payload []byte
}

// User is the identity a node broadcasts on NODEINFO_APP.
type User struct {
	ID        string
	LongName  string
	ShortName string
	HWModel   string
}

// Position is a POSITION_APP payload. Coordinates are degrees * 1e7.
// The Has flags record which fields were present on the wire; a
// time-only fix carries no coordinates at all.
type Position struct {
	LatitudeI  int32
	LongitudeI int32
	Altitude   int32

	HasLatitude  bool
	HasLongitude bool
	HasAltitude  bool
}

// DeviceMetrics is the device health part of a telemetry payload.
type DeviceMetrics struct {
	BatteryLevel       uint32
	Voltage            float32
	ChannelUtilization float32
	AirUtilTx          float32
}

// Telemetry is a TELEMETRY_APP payload. Only device metrics are decoded;
// DeviceMetrics is nil for environment and other telemetry variants.
type Telemetry struct {
	Time          uint32
	DeviceMetrics *DeviceMetrics
}

// Node is one entry of the device's node table.
type Node struct {
	Num           uint32
	User          *User
	Position      *Position
	SNR           float32
	LastHeard     uint32
	DeviceMetrics *DeviceMetrics
}

// ID returns the canonical node id.
func (n Node) ID() string {
	return FormatNodeID(n.Num)
}

// fromRadio is the subset of FromRadio the driver acts on.
type fromRadio struct {
	packet           *Packet
	myNodeNum        uint32
	hasMyInfo        bool
	nodeInfo         *Node
	configCompleteID uint32
	hasConfigDone    bool
}

// FromRadio field numbers.
const (
	fromRadioPacket         protowire.Number = 2
	fromRadioMyInfo         protowire.Number = 3
	fromRadioNodeInfo       protowire.Number = 4
	fromRadioConfigComplete protowire.Number = 7
)

// ToRadio field numbers.
const (
	toRadioWantConfigID protowire.Number = 3
	toRadioHeartbeat    protowire.Number = 7
)

// field is one decoded protobuf field. Only the member matching Type is set.
type field struct {
	Num     protowire.Number
	Type    protowire.Type
	Varint  uint64
	Fixed32 uint32
	Fixed64 uint64
	Bytes   []byte
}

// walk calls visit for every field in b, in wire order.
func walk(b []byte, visit func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.Fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.Fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

// expect returns an error when a known field arrives with the wrong wire type.
func expect(msg string, f field, typ protowire.Type) error {
	if f.Type != typ {
		return fmt.Errorf("%w: %s field %d has wire type %d, want %d", ErrMalformed, msg, f.Num, f.Type, typ)
	}
	return nil
}

func float32Of(f field) float32 {
	return math.Float32frombits(f.Fixed32)
}

func decodeFromRadio(b []byte) (fromRadio, error) {
	var fr fromRadio
	err := walk(b, func(f field) error {
		switch f.Num {
		case fromRadioPacket:
			if err := expect("FromRadio", f, protowire.BytesType); err != nil {
				return err
			}
			p, err := decodeMeshPacket(f.Bytes)
			if err != nil {
				return err
			}
			fr.packet = &p
		case fromRadioMyInfo:
			if err := expect("FromRadio", f, protowire.BytesType); err != nil {
				return err
			}
			num, err := decodeMyNodeInfo(f.Bytes)
			if err != nil {
				return err
			}
			fr.myNodeNum, fr.hasMyInfo = num, true
		case fromRadioNodeInfo:
			if err := expect("FromRadio", f, protowire.BytesType); err != nil {
				return err
			}
			n, err := decodeNodeInfo(f.Bytes)
			if err != nil {
				return err
			}
			fr.nodeInfo = &n
		case fromRadioConfigComplete:
			if err := expect("FromRadio", f, protowire.VarintType); err != nil {
				return err
			}
			fr.configCompleteID, fr.hasConfigDone = uint32(f.Varint), true //nolint:gosec // proto uint32
		}
		return nil
	})
	return fr, err
}

func decodeMeshPacket(b []byte) (Packet, error) {
	var p Packet
	err := walk(b, func(f field) error {
		var err error
		switch f.Num {
		case 1:
			if err = expect("MeshPacket", f, protowire.Fixed32Type); err == nil {
				p.From = f.Fixed32
			}
		case 2:
			if err = expect("MeshPacket", f, protowire.Fixed32Type); err == nil {
				p.To = f.Fixed32
			}
		case 3:
			if err = expect("MeshPacket", f, protowire.VarintType); err == nil {
				p.Channel = uint32(f.Varint) //nolint:gosec // proto uint32
			}
		case 4:
			if err = expect("MeshPacket", f, protowire.BytesType); err == nil {
				var d Data
				if d, err = decodeData(f.Bytes); err == nil {
					p.Decoded = &d
				}
			}
		case 5:
			if err = expect("MeshPacket", f, protowire.BytesType); err == nil {
				p.Encrypted = append([]byte(nil), f.Bytes...)
			}
		case 6:
			if err = expect("MeshPacket", f, protowire.Fixed32Type); err == nil {
				p.ID = f.Fixed32
			}
		case 7:
			if err = expect("MeshPacket", f, protowire.Fixed32Type); err == nil {
				p.RxTime = f.Fixed32
			}
		case 8:
			if err = expect("MeshPacket", f, protowire.Fixed32Type); err == nil {
				p.RxSNR = float32Of(f)
			}
		case 9:
			if err = expect("MeshPacket", f, protowire.VarintType); err == nil {
				p.HopLimit = uint32(f.Varint) //nolint:gosec // proto uint32
			}
		case 10:
			if err = expect("MeshPacket", f, protowire.VarintType); err == nil {
				p.WantAck = f.Varint != 0
			}
		case 12:
			if err = expect("MeshPacket", f, protowire.VarintType); err == nil {
				p.RxRSSI = int32(f.Varint) //nolint:gosec // proto int32 is sign-extended
			}
		case 14:
			if err = expect("MeshPacket", f, protowire.VarintType); err == nil {
				p.ViaMQTT = f.Varint != 0
			}
		case 15:
			if err = expect("MeshPacket", f, protowire.VarintType); err == nil {
				p.HopStart = uint32(f.Varint) //nolint:gosec // proto uint32
			}
		}
		return err
	})
	return p, err
}

func decodeData(b []byte) (Data, error) {
	var d Data
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			if err := expect("Data", f, protowire.VarintType); err != nil {
				return err
			}
			d.PortNum = PortNum(int32(f.Varint)) //nolint:gosec // proto enum
		case 2:
			if err := expect("Data", f, protowire.BytesType); err != nil {
				return err
			}
			d.Payload = append([]byte(nil), f.Bytes...)
		}
		return nil
	})
	return d, err
}

// DecodeUser decodes a NODEINFO_APP payload.
func DecodeUser(b []byte) (User, error) {
	var u User
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1, 2, 3:
			if err := expect("User", f, protowire.BytesType); err != nil {
				return err
			}
			switch f.Num {
			case 1:
				u.ID = string(f.Bytes)
			case 2:
				u.LongName = string(f.Bytes)
			case 3:
				u.ShortName = string(f.Bytes)
			}
		case 5:
			if err := expect("User", f, protowire.VarintType); err != nil {
				return err
			}
			u.HWModel = HWModelName(f.Varint)
		}
		return nil
	})
	return u, err
}

// DecodePosition decodes a POSITION_APP payload.
func DecodePosition(b []byte) (Position, error) {
	var p Position
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			if err := expect("Position", f, protowire.Fixed32Type); err != nil {
				return err
			}
			p.LatitudeI = int32(f.Fixed32) //nolint:gosec // sfixed32
			p.HasLatitude = true
		case 2:
			if err := expect("Position", f, protowire.Fixed32Type); err != nil {
				return err
			}
			p.LongitudeI = int32(f.Fixed32) //nolint:gosec // sfixed32
			p.HasLongitude = true
		case 3:
			if err := expect("Position", f, protowire.VarintType); err != nil {
				return err
			}
			p.Altitude = int32(f.Varint) //nolint:gosec // proto int32 is sign-extended
			p.HasAltitude = true
		}
		return nil
	})
	return p, err
}

// DecodeTelemetry decodes a TELEMETRY_APP payload. When the device metrics
// are malformed, the fields read before the fault are kept and the error is
// returned alongside them.
func DecodeTelemetry(b []byte) (Telemetry, error) {
	var t Telemetry
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			if err := expect("Telemetry", f, protowire.Fixed32Type); err != nil {
				return err
			}
			t.Time = f.Fixed32
		case 2:
			if err := expect("Telemetry", f, protowire.BytesType); err != nil {
				return err
			}
			m, err := decodeDeviceMetrics(f.Bytes)
			t.DeviceMetrics = &m
			return err
		}
		return nil
	})
	return t, err
}

func decodeDeviceMetrics(b []byte) (DeviceMetrics, error) {
	var m DeviceMetrics
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			if err := expect("DeviceMetrics", f, protowire.VarintType); err != nil {
				return err
			}
			m.BatteryLevel = uint32(f.Varint) //nolint:gosec // proto uint32
		case 2, 3, 4:
			if err := expect("DeviceMetrics", f, protowire.Fixed32Type); err != nil {
				return err
			}
			switch f.Num {
			case 2:
				m.Voltage = float32Of(f)
			case 3:
				m.ChannelUtilization = float32Of(f)
			case 4:
				m.AirUtilTx = float32Of(f)
			}
		}
		return nil
	})
	return m, err
}

func decodeMyNodeInfo(b []byte) (uint32, error) {
	var num uint32
	err := walk(b, func(f field) error {
		if f.Num != 1 {
			return nil
		}
		if err := expect("MyNodeInfo", f, protowire.VarintType); err != nil {
			return err
		}
		num = uint32(f.Varint) //nolint:gosec // proto uint32
		return nil
	})
	return num, err
}

func decodeNodeInfo(b []byte) (Node, error) {
	var n Node
	err := walk(b, func(f field) error {
		switch f.Num {
		case 1:
			if err := expect("NodeInfo", f, protowire.VarintType); err != nil {
				return err
			}
			n.Num = uint32(f.Varint) //nolint:gosec // proto uint32
		case 2:
			if err := expect("NodeInfo", f, protowire.BytesType); err != nil {
				return err
			}
			u, err := DecodeUser(f.Bytes)
			if err != nil {
				return err
			}
			n.User = &u
		case 3:
			if err := expect("NodeInfo", f, protowire.BytesType); err != nil {
				return err
			}
			p, err := DecodePosition(f.Bytes)
			if err != nil {
				return err
			}
			n.Position = &p
		case 4:
			if err := expect("NodeInfo", f, protowire.Fixed32Type); err != nil {
				return err
			}
			n.SNR = float32Of(f)
		case 5:
			if err := expect("NodeInfo", f, protowire.Fixed32Type); err != nil {
				return err
			}
			n.LastHeard = f.Fixed32
		case 6:
			if err := expect("NodeInfo", f, protowire.BytesType); err != nil {
				return err
			}
			m, err := decodeDeviceMetrics(f.Bytes)
			if err != nil {
				return err
			}
			n.DeviceMetrics = &m
		}
		return nil
	})
	return n, err
}

// encodeWantConfig builds a ToRadio asking the device to stream its config
// and node table, terminated by a config_complete_id equal to nonce.
func encodeWantConfig(nonce uint32) []byte {
	b := protowire.AppendTag(nil, toRadioWantConfigID, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(nonce))
}

// encodeHeartbeat builds an empty ToRadio heartbeat.
func encodeHeartbeat() []byte {
	b := protowire.AppendTag(nil, toRadioHeartbeat, protowire.BytesType)
	return protowire.AppendBytes(b, nil)
}

package mesh

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/meshtastic-bridge/internal/meshdev"
)

// coordScale converts fixed-point coordinates to degrees.
const coordScale = 1e7

var (
	errInvalidUTF8 = errors.New("invalid UTF-8")
	errNonFinite   = errors.New("not a finite number")
)

// Normalizer turns raw device packets into PacketEvents, keeping the
// registry up to date with identities and telemetry seen on the way.
//
// Normalize never fails: a payload that cannot be decoded is logged and the
// event carries whatever could be extracted.
type Normalizer struct {
	registry *Registry
	logger   Logger
	seq      atomic.Uint64
	now      func() time.Time
}

// NewNormalizer creates a normalizer backed by registry.
func NewNormalizer(registry *Registry, logger Logger) *Normalizer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Normalizer{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Count returns the number of packets normalized so far.
func (n *Normalizer) Count() uint64 {
	return n.seq.Load()
}

// Normalize converts one packet.
func (n *Normalizer) Normalize(p meshdev.Packet) PacketEvent {
	ev, err := n.normalize(p)
	if err != nil {
		n.logger.Warn("packet payload could not be fully decoded",
			"from", ev.FromID,
			"message_type", ev.MessageType,
			"error", err,
		)
	}
	return ev
}

func (n *Normalizer) normalize(p meshdev.Packet) (PacketEvent, error) {
	var errs []error

	snr, err := finite("snr", p.RxSNR)
	if err != nil {
		errs = append(errs, err)
	}

	fromID := meshdev.FormatNodeID(p.From)
	toID := meshdev.FormatNodeID(p.To)

	n.registry.Touch(fromID)
	if p.To != meshdev.BroadcastNum {
		n.registry.Touch(toID)
	}

	ev := PacketEvent{
		MessageCount: n.seq.Add(1),
		Timestamp:    n.now().UTC(),
		FromID:       fromID,
		ToID:         toID,
		FromName:     n.registry.ResolveDisplayName(fromID),
		ToName:       n.registry.ResolveDisplayName(toID),
		HopLimit:     p.HopLimit,
		HopStart:     p.HopStart,
		WantAck:      p.WantAck,
		ViaMQTT:      p.ViaMQTT,
		Channel:      p.Channel,
		RSSI:         p.RxRSSI,
		SNR:          snr,
		RxTime:       p.RxTime,
	}

	if p.Decoded == nil {
		ev.MessageType = MessageOther
		ev.PortNum = meshdev.PortUnknown.String()
		return ev, errors.Join(errs...)
	}

	ev.PortNum = p.Decoded.PortNum.String()
	payload := p.Decoded.Payload

	var payloadErr error
	switch p.Decoded.PortNum {
	case meshdev.PortTextMessage:
		ev.MessageType = MessageText
		payloadErr = n.text(&ev, payload)
	case meshdev.PortNodeInfo:
		ev.MessageType = MessageNodeInfo
		payloadErr = n.nodeInfo(&ev, payload)
	case meshdev.PortPosition:
		ev.MessageType = MessagePosition
		payloadErr = n.position(&ev, payload)
	case meshdev.PortTelemetry:
		ev.MessageType = MessageTelemetry
		payloadErr = n.telemetry(&ev, payload)
	default:
		ev.MessageType = MessageOther
	}
	if payloadErr != nil {
		errs = append(errs, payloadErr)
	}
	return ev, errors.Join(errs...)
}

func (n *Normalizer) text(ev *PacketEvent, payload []byte) error {
	var err error
	text := string(payload)
	if !utf8.Valid(payload) {
		err = decodeError("text", payload, errInvalidUTF8)
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	ev.Text = &text
	return err
}

func (n *Normalizer) nodeInfo(ev *PacketEvent, payload []byte) error {
	u, err := meshdev.DecodeUser(payload)
	if err != nil {
		err = decodeError("user", payload, err)
	}
	if u == (meshdev.User{}) {
		return err
	}

	ev.UserInfo = &UserInfo{
		ID:        u.ID,
		ShortName: u.ShortName,
		LongName:  u.LongName,
		HWModel:   u.HWModel,
	}
	n.registry.Upsert(ev.FromID, u.ShortName, u.LongName, u.HWModel)
	ev.FromName = n.registry.ResolveDisplayName(ev.FromID)
	return err
}

func (n *Normalizer) position(ev *PacketEvent, payload []byte) error {
	pos, err := meshdev.DecodePosition(payload)

	if pos.HasLatitude {
		lat := float64(pos.LatitudeI) / coordScale
		ev.Latitude = &lat
	}
	if pos.HasLongitude {
		lon := float64(pos.LongitudeI) / coordScale
		ev.Longitude = &lon
	}
	if pos.HasAltitude {
		alt := pos.Altitude
		ev.Altitude = &alt
	}

	if err != nil {
		return decodeError("position", payload, err)
	}
	return nil
}

func (n *Normalizer) telemetry(ev *PacketEvent, payload []byte) error {
	t, decodeErr := meshdev.DecodeTelemetry(payload)
	if t.DeviceMetrics == nil {
		// Environment and other telemetry variants are bridged untyped.
		if decodeErr != nil {
			return decodeError("telemetry", payload, decodeErr)
		}
		return nil
	}

	m, err := deviceMetrics(*t.DeviceMetrics)
	ev.BatteryLevel = &m.BatteryLevel
	ev.Voltage = &m.Voltage
	ev.ChannelUtilization = &m.ChannelUtilization
	ev.AirUtilTx = &m.AirUtilTx

	if decodeErr != nil {
		// A truncated report would zero the stored metrics; keep them.
		return errors.Join(decodeError("telemetry", payload, decodeErr), err)
	}
	n.registry.UpdateMetrics(ev.FromID, m)
	return err
}

// deviceMetrics converts device metrics, replacing NaN or infinite floats
// with zero. JSON cannot carry them.
func deviceMetrics(dm meshdev.DeviceMetrics) (Metrics, error) {
	voltage, vErr := finite("voltage", dm.Voltage)
	chUtil, cErr := finite("channel_utilization", dm.ChannelUtilization)
	airUtil, aErr := finite("air_util_tx", dm.AirUtilTx)

	return Metrics{
		BatteryLevel:       dm.BatteryLevel,
		Voltage:            voltage,
		ChannelUtilization: chUtil,
		AirUtilTx:          airUtil,
	}, errors.Join(vErr, cErr, aErr)
}

// finite returns v, or 0 and a ProtocolDecodeError when v is NaN or infinite.
func finite(field string, v float32) (float32, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ProtocolDecodeError{Field: field, Value: fmt.Sprint(v), Err: errNonFinite}
	}
	return v, nil
}

func decodeError(field string, payload []byte, err error) *ProtocolDecodeError {
	return &ProtocolDecodeError{
		Field: field,
		Value: fmt.Sprintf("%d bytes", len(payload)),
		Err:   err,
	}
}

// nodeUpdate converts a device node table entry. Non-finite floats are
// dropped and reported; the rest of the entry is still returned.
func nodeUpdate(n meshdev.Node) (NodeUpdate, error) {
	u := NodeUpdate{
		NodeID:    n.ID(),
		LastHeard: int64(n.LastHeard),
	}
	if n.User != nil {
		u.ShortName = n.User.ShortName
		u.LongName = n.User.LongName
		u.HWModel = n.User.HWModel
	}

	var errs []error
	if n.SNR != 0 {
		if snr, err := finite("snr", n.SNR); err != nil {
			errs = append(errs, err)
		} else {
			u.SNR = &snr
		}
	}
	if n.DeviceMetrics != nil {
		m, err := deviceMetrics(*n.DeviceMetrics)
		if err != nil {
			errs = append(errs, err)
		}
		u.Metrics = &m
	}
	return u, errors.Join(errs...)
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceMetrics = "device_metrics"
	MeasurementPosition      = "position"
	MeasurementLink          = "link_quality"
	MeasurementPackets       = "packets"
)

// DeviceMetrics is one telemetry report from a node.
type DeviceMetrics struct {
	BatteryLevel       int64
	Voltage            float64
	ChannelUtilization float64
	AirUtilTx          float64
}

// WriteDeviceMetrics records battery and airtime telemetry for a node.
func (c *Client) WriteDeviceMetrics(nodeID string, m DeviceMetrics, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deviceMetricsPoint(nodeID, m, at))
}

// WritePosition records a position fix in degrees and metres.
func (c *Client) WritePosition(nodeID string, latitude, longitude float64, altitude int64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(positionPoint(nodeID, latitude, longitude, altitude, at))
}

// WriteLinkQuality records how a packet from nodeID was heard by the local radio.
// hopsAway is hop_start - hop_limit; it is negative when the sender did not
// report hop_start and is then omitted.
func (c *Client) WriteLinkQuality(nodeID string, rssi int64, snr float64, hopsAway int64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(linkPoint(nodeID, rssi, snr, hopsAway, at))
}

// WritePacket counts one bridged packet by message type.
func (c *Client) WritePacket(nodeID, messageType string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(packetPoint(nodeID, messageType, at))
}

func deviceMetricsPoint(nodeID string, m DeviceMetrics, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceMetrics,
		map[string]string{"node_id": nodeID},
		map[string]interface{}{
			"battery_level":       m.BatteryLevel,
			"voltage":             m.Voltage,
			"channel_utilization": m.ChannelUtilization,
			"air_util_tx":         m.AirUtilTx,
		},
		at,
	)
}

func positionPoint(nodeID string, latitude, longitude float64, altitude int64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPosition,
		map[string]string{"node_id": nodeID},
		map[string]interface{}{
			"latitude":  latitude,
			"longitude": longitude,
			"altitude":  altitude,
		},
		at,
	)
}

func linkPoint(nodeID string, rssi int64, snr float64, hopsAway int64, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"rssi": rssi,
		"snr":  snr,
	}
	if hopsAway >= 0 {
		fields["hops_away"] = hopsAway
	}
	return write.NewPoint(MeasurementLink, map[string]string{"node_id": nodeID}, fields, at)
}

func packetPoint(nodeID, messageType string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPackets,
		map[string]string{
			"node_id":      nodeID,
			"message_type": messageType,
		},
		map[string]interface{}{"count": int64(1)},
		at,
	)
}

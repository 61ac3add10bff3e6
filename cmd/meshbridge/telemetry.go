package main

import (
	"time"

	"github.com/nerrad567/meshtastic-bridge/internal/bridges/mesh"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/influxdb"
)

// pointWriter is the subset of *influxdb.Client the telemetry sink uses.
type pointWriter interface {
	WritePacket(nodeID, messageType string, at time.Time)
	WriteLinkQuality(nodeID string, rssi int64, snr float64, hopsAway int64, at time.Time)
	WritePosition(nodeID string, latitude, longitude float64, altitude int64, at time.Time)
	WriteDeviceMetrics(nodeID string, m influxdb.DeviceMetrics, at time.Time)
}

// influxTelemetry adapts the InfluxDB client to mesh.TelemetrySink.
type influxTelemetry struct {
	writer pointWriter
}

// RecordPacket implements mesh.TelemetrySink.
func (t *influxTelemetry) RecordPacket(ev mesh.PacketEvent) {
	at := ev.Timestamp
	node := ev.FromID

	t.writer.WritePacket(node, ev.MessageType, at)

	// Packets relayed from MQTT were never heard over the air.
	if !ev.ViaMQTT && (ev.RSSI != 0 || ev.SNR != 0) {
		t.writer.WriteLinkQuality(node, int64(ev.RSSI), float64(ev.SNR), hopsAway(ev), at)
	}

	if ev.Latitude != nil && ev.Longitude != nil {
		var alt int64
		if ev.Altitude != nil {
			alt = int64(*ev.Altitude)
		}
		t.writer.WritePosition(node, *ev.Latitude, *ev.Longitude, alt, at)
	}

	if ev.BatteryLevel != nil {
		m := influxdb.DeviceMetrics{BatteryLevel: int64(*ev.BatteryLevel)}
		if ev.Voltage != nil {
			m.Voltage = float64(*ev.Voltage)
		}
		if ev.ChannelUtilization != nil {
			m.ChannelUtilization = float64(*ev.ChannelUtilization)
		}
		if ev.AirUtilTx != nil {
			m.AirUtilTx = float64(*ev.AirUtilTx)
		}
		t.writer.WriteDeviceMetrics(node, m, at)
	}
}

// hopsAway is -1 when the sender did not report hop_start.
func hopsAway(ev mesh.PacketEvent) int64 {
	if ev.HopStart == 0 || ev.HopStart < ev.HopLimit {
		return -1
	}
	return int64(ev.HopStart - ev.HopLimit)
}

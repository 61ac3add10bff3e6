// Package influxdb records mesh telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. The bridge writes:
//   - device_metrics: battery level, voltage, channel utilization, air util tx
//   - position: latitude, longitude (degrees), altitude
//   - link_quality: RSSI, SNR and hop distance of every received packet
//   - packets: one count per bridged packet, tagged by message type
//
// All measurements are tagged with node_id (canonical "!xxxxxxxx" form).
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePosition("!12345678", 51.5, -0.12, 35, time.Now())
//
// Writes are non-blocking; batch errors arrive through SetOnError.
package influxdb

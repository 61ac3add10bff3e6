// Package mqtt provides MQTT client connectivity for the bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS and retain control
//   - Topic subscriptions (the operator command topic)
//   - Last Will and Testament (LWT) for offline detection
//   - Topic naming under a configurable prefix
//
// # Topics
//
//	<prefix>/packets                 every normalized packet
//	<prefix>/packets/<message_type>  text, nodeinfo, position, telemetry, other
//	<prefix>/nodes/<node_id>         retained node record
//	<prefix>/nodes_summary           retained list of all nodes
//	<prefix>/bridge_status           status events and the last will
//	<prefix>/bridge_command          operator commands (subscribed)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	client.Publish(topics.Packets(), payload, 0, false)
package mqtt

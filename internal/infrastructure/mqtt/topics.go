package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "meshtastic"

// Topics builds the bridge's topic names under a configurable prefix.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("meshtastic")
//	topics.Node("!12345678") // "meshtastic/nodes/!12345678"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for the given prefix. Trailing slashes are
// trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the configured prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// Packets is the stream of every normalized packet.
//
// Example: meshtastic/packets
func (t Topics) Packets() string {
	return t.prefix + "/packets"
}

// PacketsByType is the per-message-type packet stream.
//
// Example: meshtastic/packets/text
func (t Topics) PacketsByType(messageType string) string {
	return t.prefix + "/packets/" + messageType
}

// Node is the retained record for one node.
//
// Example: meshtastic/nodes/!12345678
func (t Topics) Node(nodeID string) string {
	return t.prefix + "/nodes/" + nodeID
}

// NodesSummary is the retained list of every known node.
func (t Topics) NodesSummary() string {
	return t.prefix + "/nodes_summary"
}

// BridgeStatus carries status events and the last will.
func (t Topics) BridgeStatus() string {
	return t.prefix + "/bridge_status"
}

// BridgeCommand receives operator commands for the bridge.
func (t Topics) BridgeCommand() string {
	return t.prefix + "/bridge_command"
}

package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("meshtastic")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Packets", topics.Packets(), "meshtastic/packets"},
		{"PacketsByType", topics.PacketsByType("position"), "meshtastic/packets/position"},
		{"Node", topics.Node("!12345678"), "meshtastic/nodes/!12345678"},
		{"NodesSummary", topics.NodesSummary(), "meshtastic/nodes_summary"},
		{"BridgeStatus", topics.BridgeStatus(), "meshtastic/bridge_status"},
		{"BridgeCommand", topics.BridgeCommand(), "meshtastic/bridge_command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestNewTopics_Prefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", DefaultTopicPrefix},
		{"site/mesh/", "site/mesh"},
		{"mesh", "mesh"},
	}
	for _, tt := range tests {
		if got := NewTopics(tt.in).Prefix(); got != tt.want {
			t.Errorf("NewTopics(%q).Prefix() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// Package mesh bridges a Meshtastic radio to MQTT.
//
// # Architecture
//
//	┌──────────────┐ packets ┌────────────┐ events ┌───────────┐  MQTT
//	│ meshdev      │────────►│ Normalizer │───────►│ Publisher │────────► Broker
//	│ (device)     │         └─────┬──────┘        └─────▲─────┘
//	└──────▲───────┘               │ identities          │ node records
//	       │ owns                  ▼ and telemetry       │
//	┌──────┴───────┐         ┌────────────┐──────────────┘
//	│ Supervisor   │         │ Registry   │────────► SQLite node store
//	└──────────────┘         └────────────┘
//
// The Supervisor (package supervisor) owns the device connection. The packet
// callbacks only tell it that the device is alive.
//
// # Topics
//
// All topics live under a configurable prefix (default "meshtastic"):
//
//	<prefix>/packets                every packet event
//	<prefix>/packets/<type>         text, nodeinfo, position, telemetry, other
//	<prefix>/nodes/<node_id>        one node record (retained)
//	<prefix>/nodes_summary          every known node (retained)
//	<prefix>/bridge_status          status events and the last will
//	<prefix>/bridge_command         reconnect, publish_nodes, status
//
// # Node IDs
//
// Nodes are identified by their number in the canonical "!%08x" form, e.g.
// "!a1b2c3d4". Until a node's names are learned it is displayed as
// "Node-C3D4".
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package mesh

// Package meshdev is a receive-side driver for Meshtastic radios.
//
// It speaks the Meshtastic stream API over a USB serial port or the
// device's TCP port (4403). Every protobuf message on the stream is wrapped
// in a four byte header:
//
//	0x94 0xC3 <len hi> <len lo> <protobuf payload, len <= 512>
//
// Bytes outside a frame are the device's debug console and are discarded.
//
// On Dial the client wakes the device, sends a ToRadio want_config_id and
// reads FromRadio messages until the matching config_complete_id arrives.
// The node table (MyNodeInfo plus one NodeInfo per known node) is built
// from that exchange and kept current from later NODEINFO and TELEMETRY
// packets.
//
// Thread Safety:
//   - All Client methods are safe for concurrent use.
//   - Handlers run on a single callback worker, in receive order.
//
// The client never reconnects on its own. A read or write failure marks it
// disconnected and IsConnected reports false; reopening is the caller's job.
//
// Only the subset of the Meshtastic protobufs needed to receive and
// classify packets is decoded, using google.golang.org/protobuf/encoding/protowire.
package meshdev

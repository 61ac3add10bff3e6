// Package supervisor owns the Meshtastic device connection and keeps it
// alive.
//
// A heartbeat runs every HeartbeatInterval. When no packet has been seen
// for longer than ConnectionTimeout, or the connection has dropped, the
// supervisor walks a recovery ladder:
//
//  1. Up to MaxReconnectAttempts plain reconnects, ReconnectDelay apart.
//  2. One more plain reconnect.
//  3. A device path check. When the path is missing the candidate serial
//     ports are logged.
//  4. A driver reset (unload and reload the USB serial kernel module),
//     whether or not the path exists.
//  5. A final reconnect after SettleDelay.
//
// If every step fails the supervisor waits BackoffWait, resets the attempt
// counter and leaves the next heartbeat to start over. Path checks and the
// driver reset are skipped for TCP devices.
//
// State transitions happen only inside Connect, Heartbeat and Reconnect, and
// all three are serialised so two ladders never share a connection handle.
// Packet callbacks only call MarkAlive, which moves the liveness timestamp
// forward atomically.
//
// Every transition and every failed ladder step is logged and mirrored to
// the StatusReporter as supervisor_state and recovery status messages.
package supervisor

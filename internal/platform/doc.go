// Package platform wraps the host operations the connection supervisor
// needs when a serial radio stops responding: checking that the device
// node exists, listing candidate serial ports, and reloading the USB serial
// kernel module.
//
// The Linux implementation shells out to lsmod, rmmod and modprobe,
// optionally through "sudo -n" so a missing sudoers rule fails fast instead
// of waiting on a password prompt. Every command runs under a timeout and
// respects the caller's context.
//
// Suggested sudoers rule for the bridge user:
//
//	meshbridge ALL=(root) NOPASSWD: /usr/sbin/rmmod cp210x, /usr/sbin/modprobe cp210x
package platform

package meshdev

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"go.bug.st/serial"
)

// Transport kinds.
const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
)

// defaultTCPPort is the Meshtastic stream API port on network-attached radios.
const defaultTCPPort = "4403"

// ParseAddress splits a device address into its transport kind and target.
//
// Supported formats:
//   - "/dev/ttyUSB0" (serial)
//   - "serial:///dev/ttyUSB0" (serial)
//   - "tcp://192.168.1.50:4403" (TCP, port defaults to 4403)
func ParseAddress(address string) (kind, target string, err error) {
	if address == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.Contains(address, "://") {
		return TransportSerial, address, nil
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	switch u.Scheme {
	case TransportSerial:
		if u.Path == "" {
			return "", "", fmt.Errorf("%w: %q has no device path", ErrInvalidAddress, address)
		}
		return TransportSerial, u.Path, nil
	case TransportTCP:
		if u.Host == "" {
			return "", "", fmt.Errorf("%w: %q has no host", ErrInvalidAddress, address)
		}
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), defaultTCPPort)
		}
		return TransportTCP, host, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported scheme %q (use serial or tcp)", ErrInvalidAddress, u.Scheme)
	}
}

// openTransport opens the byte stream to the device.
func openTransport(ctx context.Context, kind, target string, baudRate int) (io.ReadWriteCloser, error) {
	switch kind {
	case TransportTCP:
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return openSerial(ctx, target, baudRate)
	}
}

// openSerial opens a serial port. serial.Open does not take a context, so
// it runs in a goroutine and an abandoned port is closed once it opens.
func openSerial(ctx context.Context, path string, baudRate int) (io.ReadWriteCloser, error) {
	type result struct {
		port serial.Port
		err  error
	}
	done := make(chan result, 1)
	go func() {
		port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
		done <- result{port: port, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return r.port, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.port.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// ListSerialPorts returns the serial ports the OS reports.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

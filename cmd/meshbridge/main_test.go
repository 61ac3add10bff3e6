package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/meshtastic-bridge/internal/bridges/mesh"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/config"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshtastic-bridge/internal/meshdev"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

// TestRun_InvalidConfigValues verifies validation errors stop startup.
func TestRun_InvalidConfigValues(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
bridge:
  status_every: 0
`)

	err := run(context.Background(), path)
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("run() error = %v, want ErrInvalidConfig", err)
	}
}

// TestRun_BrokerUnavailable verifies an unreachable broker is fatal.
func TestRun_BrokerUnavailable(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
database:
  enabled: true
  path: "`+filepath.Join(dir, "nodes.db")+`"
device:
  address: "/dev/nonexistent-radio"
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil {
		t.Fatal("run() should fail without a broker")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("run() error = %v, want MQTT connect failure", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "nodes.db")); statErr != nil {
		t.Errorf("node store not created before broker connect: %v", statErr)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("MESHBRIDGE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("MESHBRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestSupervisorConfig(t *testing.T) {
	tests := []struct {
		address  string
		wantPath string
		wantErr  bool
	}{
		{"/dev/ttyUSB0", "/dev/ttyUSB0", false},
		{"serial:///dev/ttyACM1", "/dev/ttyACM1", false},
		{"tcp://192.168.1.50", "", false},
		{"tcp://radio.local:4403", "", false},
		{"bluetooth://AA:BB", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			cfg := config.Default()
			cfg.Device.Address = tt.address
			cfg.Supervisor.MaxReconnectAttempts = 3

			got, err := supervisorConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("supervisorConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got.DevicePath != tt.wantPath {
				t.Errorf("DevicePath = %q, want %q", got.DevicePath, tt.wantPath)
			}
			if got.MaxReconnectAttempts != 3 {
				t.Errorf("MaxReconnectAttempts = %d, want 3", got.MaxReconnectAttempts)
			}
			if got.HeartbeatInterval != cfg.Supervisor.HeartbeatInterval {
				t.Errorf("HeartbeatInterval = %v, want %v", got.HeartbeatInterval, cfg.Supervisor.HeartbeatInterval)
			}
			if got.DriverResetEnabled != cfg.Recovery.DriverResetEnabled {
				t.Errorf("DriverResetEnabled = %v, want %v", got.DriverResetEnabled, cfg.Recovery.DriverResetEnabled)
			}
		})
	}
}

// TestDeviceDialer_FailureReturnsNilConn guards against a typed nil
// leaking through the Conn interface.
func TestDeviceDialer_FailureReturnsNilConn(t *testing.T) {
	dial := deviceDialer(config.DeviceConfig{
		Address:       "/dev/nonexistent-meshbridge-test",
		BaudRate:      115200,
		OpenTimeout:   time.Second,
		ConfigTimeout: time.Second,
	}, nil)

	conn, err := dial(context.Background(), meshdev.Handlers{})
	if err == nil {
		t.Fatal("dial() should fail for a missing device")
	}
	if conn != nil {
		t.Errorf("dial() conn = %#v, want nil interface", conn)
	}
}

// fakeWriter records the points written by influxTelemetry.
type fakeWriter struct {
	packets   []string
	links     []int64
	positions int
	metrics   []influxdb.DeviceMetrics
}

func (f *fakeWriter) WritePacket(_ string, messageType string, _ time.Time) {
	f.packets = append(f.packets, messageType)
}

func (f *fakeWriter) WriteLinkQuality(_ string, _ int64, _ float64, hopsAway int64, _ time.Time) {
	f.links = append(f.links, hopsAway)
}

func (f *fakeWriter) WritePosition(string, float64, float64, int64, time.Time) {
	f.positions++
}

func (f *fakeWriter) WriteDeviceMetrics(_ string, m influxdb.DeviceMetrics, _ time.Time) {
	f.metrics = append(f.metrics, m)
}

func TestInfluxTelemetry_RecordPacket(t *testing.T) {
	w := &fakeWriter{}
	sink := &influxTelemetry{writer: w}

	lat, lon := 51.5, -0.12
	battery := uint32(80)
	voltage := float32(4)

	sink.RecordPacket(mesh.PacketEvent{FromID: "!1", MessageType: mesh.MessageText, RSSI: -90, SNR: 5, HopStart: 3, HopLimit: 1})
	sink.RecordPacket(mesh.PacketEvent{FromID: "!1", MessageType: mesh.MessagePosition, RSSI: -80, Latitude: &lat, Longitude: &lon})
	sink.RecordPacket(mesh.PacketEvent{FromID: "!1", MessageType: mesh.MessageTelemetry, ViaMQTT: true, RSSI: -70,
		BatteryLevel: &battery, Voltage: &voltage})
	sink.RecordPacket(mesh.PacketEvent{FromID: "!1", MessageType: mesh.MessageOther})

	wantPackets := []string{"text", "position", "telemetry", "other"}
	if strings.Join(w.packets, ",") != strings.Join(wantPackets, ",") {
		t.Errorf("packets = %v, want %v", w.packets, wantPackets)
	}
	if len(w.links) != 2 || w.links[0] != 2 || w.links[1] != -1 {
		t.Errorf("link hops = %v, want [2 -1]", w.links)
	}
	if w.positions != 1 {
		t.Errorf("positions = %d, want 1", w.positions)
	}
	if len(w.metrics) != 1 || w.metrics[0].BatteryLevel != 80 || w.metrics[0].Voltage != 4 {
		t.Errorf("metrics = %+v", w.metrics)
	}
}

func TestMergePorts(t *testing.T) {
	got := mergePorts([]string{"/dev/ttyUSB1", "/dev/ttyS0"}, []string{"/dev/ttyUSB1", "/dev/ttyACM0"})
	want := []string{"/dev/ttyACM0", "/dev/ttyS0", "/dev/ttyUSB1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("mergePorts() = %v, want %v", got, want)
	}
}

func TestPrintPorts(t *testing.T) {
	var buf bytes.Buffer
	printPorts(&buf, "/dev/ttyUSB0", []string{"/dev/ttyACM0", "/dev/ttyUSB0"})
	if buf.String() != "  /dev/ttyACM0\n* /dev/ttyUSB0\n" {
		t.Errorf("printPorts() = %q", buf.String())
	}

	buf.Reset()
	printPorts(&buf, "/dev/ttyUSB0", nil)
	if buf.String() != "No serial ports found\n" {
		t.Errorf("printPorts() = %q", buf.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "meshbridge dev") {
		t.Errorf("version output = %q", buf.String())
	}
}

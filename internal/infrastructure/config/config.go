package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned (wrapped) when validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the root configuration structure for the Meshtastic bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Device     DeviceConfig     `yaml:"device"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Database   DatabaseConfig   `yaml:"database"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DeviceConfig describes how to reach the Meshtastic radio.
type DeviceConfig struct {
	// Address is a serial device path ("/dev/ttyUSB0"), a serial URL
	// ("serial:///dev/ttyUSB0") or the device's TCP stream API
	// ("tcp://192.168.1.50:4403").
	Address  string `yaml:"address"`
	BaudRate int    `yaml:"baud_rate"`

	// OpenTimeout bounds the transport open.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// ConfigTimeout bounds the want_config handshake that loads the node table.
	ConfigTimeout time.Duration `yaml:"config_timeout"`

	// KeepaliveInterval is how often a heartbeat frame is sent to keep the
	// device's serial API from timing out. Zero disables it.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// SupervisorConfig controls liveness monitoring and the recovery ladder.
type SupervisorConfig struct {
	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	BackoffWait          time.Duration `yaml:"backoff_wait"`
	SettleDelay          time.Duration `yaml:"settle_delay"`
	JoinTimeout          time.Duration `yaml:"join_timeout"`
}

// RecoveryConfig controls the host-level serial driver reset.
type RecoveryConfig struct {
	DriverResetEnabled bool          `yaml:"driver_reset_enabled"`
	DriverModule       string        `yaml:"driver_module"`
	UseSudo            bool          `yaml:"use_sudo"`
	UnloadDelay        time.Duration `yaml:"unload_delay"`
	ReloadDelay        time.Duration `yaml:"reload_delay"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	PortPatterns       []string      `yaml:"port_patterns"`
}

// BridgeConfig contains orchestrator settings.
type BridgeConfig struct {
	// StatusEvery publishes a periodic_update status each time this many
	// packets have been processed.
	StatusEvery int `yaml:"status_every"`
}

// DatabaseConfig contains SQLite node store settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
// For example: MESHBRIDGE_MQTT_HOST, MESHBRIDGE_DEVICE_ADDRESS
//
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with the bridge's stock values.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshtastic_bridge",
			},
			QoS:         0,
			TopicPrefix: "meshtastic",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Device: DeviceConfig{
			Address:           "/dev/ttyUSB0",
			BaudRate:          115200,
			OpenTimeout:       10 * time.Second,
			ConfigTimeout:     30 * time.Second,
			KeepaliveInterval: 5 * time.Minute,
		},
		Supervisor: SupervisorConfig{
			ConnectionTimeout:    300 * time.Second,
			HeartbeatInterval:    60 * time.Second,
			ReconnectDelay:       10 * time.Second,
			MaxReconnectAttempts: 5,
			BackoffWait:          60 * time.Second,
			SettleDelay:          2 * time.Second,
			JoinTimeout:          5 * time.Second,
		},
		Recovery: RecoveryConfig{
			DriverResetEnabled: true,
			DriverModule:       "cp210x",
			UseSudo:            true,
			UnloadDelay:        2 * time.Second,
			ReloadDelay:        3 * time.Second,
			CommandTimeout:     15 * time.Second,
			PortPatterns: []string{
				"/dev/ttyUSB*",
				"/dev/ttyACM*",
				"/dev/cu.usbserial*",
				"/dev/cu.SLAB_USBtoUART*",
			},
		},
		Bridge: BridgeConfig{
			StatusEvery: 100,
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/meshbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "meshtastic",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path: "/tmp/meshtastic_bridge.log",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("MESHBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MESHBRIDGE_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}

	// Device
	if v := os.Getenv("MESHBRIDGE_DEVICE_ADDRESS"); v != "" {
		cfg.Device.Address = v
	}

	// Supervisor timings
	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"MESHBRIDGE_CONNECTION_TIMEOUT", &cfg.Supervisor.ConnectionTimeout},
		{"MESHBRIDGE_HEARTBEAT_INTERVAL", &cfg.Supervisor.HeartbeatInterval},
		{"MESHBRIDGE_RECONNECT_DELAY", &cfg.Supervisor.ReconnectDelay},
		{"MESHBRIDGE_BACKOFF_WAIT", &cfg.Supervisor.BackoffWait},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	if v := os.Getenv("MESHBRIDGE_MAX_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MESHBRIDGE_MAX_RECONNECT_ATTEMPTS: %w", err)
		}
		cfg.Supervisor.MaxReconnectAttempts = n
	}

	// Storage
	if v := os.Getenv("MESHBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MESHBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("MESHBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// All problems are reported together so an operator can fix the file in one pass.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	} else if strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
		errs = append(errs, "mqtt.topic_prefix must not contain wildcards")
	}

	// Device validation
	if c.Device.Address == "" {
		errs = append(errs, "device.address is required")
	}
	if c.Device.BaudRate <= 0 {
		errs = append(errs, "device.baud_rate must be positive")
	}

	// Supervisor validation
	s := c.Supervisor
	if s.ConnectionTimeout <= 0 {
		errs = append(errs, "supervisor.connection_timeout must be positive")
	}
	if s.HeartbeatInterval <= 0 {
		errs = append(errs, "supervisor.heartbeat_interval must be positive")
	}
	if s.ReconnectDelay < 0 || s.BackoffWait < 0 || s.SettleDelay < 0 {
		errs = append(errs, "supervisor delays must not be negative")
	}
	if s.MaxReconnectAttempts < 1 {
		errs = append(errs, "supervisor.max_reconnect_attempts must be at least 1")
	}
	if s.JoinTimeout <= 0 {
		errs = append(errs, "supervisor.join_timeout must be positive")
	}

	// Recovery validation
	if c.Recovery.DriverResetEnabled && c.Recovery.DriverModule == "" {
		errs = append(errs, "recovery.driver_module is required when driver reset is enabled")
	}

	if c.Bridge.StatusEvery < 1 {
		errs = append(errs, "bridge.status_every must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the node store is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Output) {
	case "file", "both":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required for file output")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns host:port for the MQTT broker.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/meshtastic-bridge/internal/bridges/mesh"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/config"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/database"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshtastic-bridge/internal/meshdev"
	"github.com/nerrad567/meshtastic-bridge/internal/platform"
	"github.com/nerrad567/meshtastic-bridge/internal/supervisor"
)

// run is the actual application logic, separated from main for testability.
//
// Only an unreachable broker or a broken config stops the bridge from
// starting. A missing radio is retried by the supervisor.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting meshtastic bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Node store (optional)
	var (
		db    *database.DB
		store mesh.NodeRepository
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		store = mesh.NewSQLiteNodeRepository(db.DB)
		log.Info("node store ready", "path", db.Path())
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", cfg.BrokerAddress(),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", cfg.MQTT.TopicPrefix,
	)

	// Connect to InfluxDB (optional)
	var (
		influxClient *influxdb.Client
		telemetry    mesh.TelemetrySink
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = &influxTelemetry{writer: influxClient}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	supCfg, err := supervisorConfig(cfg)
	if err != nil {
		return err
	}

	bridge, err := mesh.New(mesh.Options{
		Config: mesh.Config{
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         mqttClient.QoS(),
			StatusEvery: cfg.Bridge.StatusEvery,
			JoinTimeout: cfg.Supervisor.JoinTimeout,
		},
		Broker:     mqttClient,
		Dial:       deviceDialer(cfg.Device, log),
		Supervisor: supCfg,
		Host: platform.NewLinux(platform.Config{
			DriverModule:   cfg.Recovery.DriverModule,
			UseSudo:        cfg.Recovery.UseSudo,
			CommandTimeout: cfg.Recovery.CommandTimeout,
		}),
		Store:     store,
		Telemetry: telemetry,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	// Runs before the MQTT defer so the final status still goes out.
	defer bridge.Stop()

	log.Info("initialisation complete, waiting for shutdown signal", "device", cfg.Device.Address)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens the node store and applies migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // migration failure is the error of record
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// supervisorConfig maps the file config onto the supervisor's settings.
// Network-attached radios get no device path, which disables the path check
// and driver reset.
func supervisorConfig(cfg *config.Config) (supervisor.Config, error) {
	kind, target, err := meshdev.ParseAddress(cfg.Device.Address)
	if err != nil {
		return supervisor.Config{}, fmt.Errorf("device address: %w", err)
	}
	devicePath := ""
	if kind == meshdev.TransportSerial {
		devicePath = target
	}

	return supervisor.Config{
		DevicePath:           devicePath,
		ConnectionTimeout:    cfg.Supervisor.ConnectionTimeout,
		HeartbeatInterval:    cfg.Supervisor.HeartbeatInterval,
		ReconnectDelay:       cfg.Supervisor.ReconnectDelay,
		MaxReconnectAttempts: cfg.Supervisor.MaxReconnectAttempts,
		BackoffWait:          cfg.Supervisor.BackoffWait,
		SettleDelay:          cfg.Supervisor.SettleDelay,
		DriverResetEnabled:   cfg.Recovery.DriverResetEnabled,
		UnloadDelay:          cfg.Recovery.UnloadDelay,
		ReloadDelay:          cfg.Recovery.ReloadDelay,
		PortPatterns:         cfg.Recovery.PortPatterns,
	}, nil
}

// deviceDialer opens the radio with meshdev.
func deviceDialer(cfg config.DeviceConfig, log meshdev.Logger) mesh.DeviceDialer {
	return func(ctx context.Context, h meshdev.Handlers) (supervisor.Conn, error) {
		client, err := meshdev.Dial(ctx, meshdev.Config{
			Address:           cfg.Address,
			BaudRate:          cfg.BaudRate,
			OpenTimeout:       cfg.OpenTimeout,
			ConfigTimeout:     cfg.ConfigTimeout,
			KeepaliveInterval: cfg.KeepaliveInterval,
			Logger:            log,
		}, h)
		if err != nil {
			// A nil *Client must not become a non-nil Conn.
			return nil, err
		}
		return client, nil
	}
}

// healthCheck verifies the infrastructure connections before the bridge
// starts. db and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

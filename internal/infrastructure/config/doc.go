// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MESHBRIDGE_*)
//   - Validation of required fields
//   - Default value handling
//
// Defaults match the behaviour operators expect from the bridge out of the
// box: broker on localhost:1883, topic prefix "meshtastic", radio on
// /dev/ttyUSB0, a 300s liveness timeout checked every 60s, five 10s-spaced
// reconnect attempts, then driver reset, then a 60s backoff.
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/meshbridge/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.TopicPrefix)
package config

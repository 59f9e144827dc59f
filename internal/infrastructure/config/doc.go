// Package config handles loading and validating Nexlytix Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Secrets (HMAC key, API key, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - signature_mode "optional" lets unsigned payloads through; use "required" in production
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Topic())
package config

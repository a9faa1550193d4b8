// Package config handles loading and validating the Control4 bridge service
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//
// Device and director settings for the Control4 bridge live in a separate
// file (protocols.control4.config_file) owned by the bridge package.
//
// Secrets (MQTT password, InfluxDB token, JWT secret) should be supplied via
// environment variables and the config file kept at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config

// Package logging provides structured logging for the Control4 bridge.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge started", "devices", 4)
//	logger.Error("snapshot failed", "device_id", 123, "error", err)
//
// Never log director tokens, MQTT passwords or JWT secrets.
package logging

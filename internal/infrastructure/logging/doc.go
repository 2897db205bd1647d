// Package logging provides structured logging for softbus.
//
// This package wraps Go's standard log/slog package so every component
// (registries, dispatch engine, transports, API) logs with the same
// default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	devices.SetLogger(logger.Component("device"))
//	logger.Info("starting service", "port", 8080)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging

// Package logging provides structured logging for the service.
//
// It wraps log/slog with JSON output for production, text output for
// development, default service/version fields and level filtering.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("credential synced", "username", cred.Username)
//
// Never log broker passwords or management API tokens.
package logging

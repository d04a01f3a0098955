// Package logging builds the service's slog logger from the logging section
// of config.yaml (level, json or text format, stdout or stderr). Every entry
// carries service and version attributes, and credential-bearing keys such as
// password and refresh_token are replaced with [REDACTED].
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("session created", "user_id", u.ID)
package logging

// Package logging builds the hub's log/slog logger from config.yaml.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Entries carry service and version; Component adds the subsystem:
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("workspace").Warn("root failed", "tab_id", tabID, "block_id", blockID)
//
// Attributes named password, token or authorization are written as
// [redacted].
package logging

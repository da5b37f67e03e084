package extensions

import "errors"

// Domain errors for the built-in extensions.
var (
	// ErrMQTTUnavailable is returned when an mqtt block runs without an MQTT client.
	ErrMQTTUnavailable = errors.New("extensions: mqtt client not available")

	// ErrTelemetryUnavailable is returned when a telemetry block runs without a point writer.
	ErrTelemetryUnavailable = errors.New("extensions: telemetry writer not available")

	// ErrVariablesUnavailable is returned when a data block runs without a variable store.
	ErrVariablesUnavailable = errors.New("extensions: variable store not available")

	// ErrMissingPrototype is returned when a procedure definition has no prototype.
	ErrMissingPrototype = errors.New("extensions: procedure definition has no prototype")

	// ErrDivisionByZero is returned by operator_divide and operator_mod.
	ErrDivisionByZero = errors.New("extensions: division by zero")

	// ErrInvalidPath is returned when a file path escapes the files root.
	ErrInvalidPath = errors.New("extensions: path outside files root")
)

// Package config loads config.yaml for the hub and blockctl.
//
// Load starts from the built-in defaults, layers the file over them, then
// applies the GRAYLOGIC_* environment variables listed in envOverrides.
// Secrets (the MQTT password, the InfluxDB token) are expected to arrive
// that way rather than sit in the file. Validate reports every bad setting
// in one error so a broken deployment is fixed in one pass.
//
// Durations are stored as integers: seconds for network settings,
// milliseconds under workspace. The accessor methods convert them.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	srv.ReadTimeout = cfg.API.Timeouts.ReadTimeout()
package config

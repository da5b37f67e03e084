// Package extensions provides the built-in workspace extensions.
//
// Each extension binds a family of opcodes ("control_wait", "mqtt_publish",
// ...) to workspace handlers. RegisterAll installs every extension whose
// collaborators are available:
//
//   - event: flag and broadcast hats, broadcast command
//   - control: wait, repeat, forever, if, if/else, wait until
//   - procedures and argument: procedure definitions, calls and arguments
//   - operator: arithmetic, comparison, logic and text
//   - data: variable reporters and setters (needs a variable store)
//   - mqtt: publish and message hats (needs an MQTT client)
//   - telemetry: InfluxDB points (needs a point writer)
//   - filesystem: file-presence hats rooted at a sandbox directory
//
// Extensions whose collaborator is missing are still registered; their
// blocks fail with a reported error when run.
package extensions

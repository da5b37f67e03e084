// Package api implements the HTTP REST API and WebSocket server for the
// workspace hub.
//
// This package provides:
//   - REST endpoints to store, reload, inspect and remove workspace documents
//   - Broadcast injection into every loaded tab
//   - WebSocket hub for block notifications and tab status events
//   - MQTT bridge: remote broadcasts in, notifications out
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Channels
//
// WebSocket clients subscribe by sending
//
//	{"type": "subscribe", "payload": {"channels": ["workspace.notification"]}}
//
// and then receive "event" messages for that channel. HubNotifier plugs the
// hub into the engine as a workspace.Notifier.
//
// # Graceful Degradation
//
// The server operates without MQTT. Remote broadcasts and retained tab
// status topics are simply unavailable.
package api

package api

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace/extensions"
)

// topics builds MQTT topic strings.
var topics mqtt.Topics

// notificationQoS is the QoS used for UI notifications.
const notificationQoS = 1

// Publisher publishes MQTT messages. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTNotifier publishes workspace notifications to the UI notification
// topic. Publishing happens on a separate goroutine so Notify never waits
// on the broker.
type MQTTNotifier struct {
	Publisher Publisher
	Logger    workspace.Logger
}

// Notify implements workspace.Notifier.
func (n MQTTNotifier) Notify(msg workspace.Notification) {
	if n.Publisher == nil {
		return
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	go func() {
		if err := n.Publisher.Publish(topics.WorkspaceNotification(), payload, notificationQoS, false); err != nil && n.Logger != nil {
			n.Logger.Debug("notification not published", "tab_id", msg.TabID, "error", err)
		}
	}()
}

// subscribeBroadcasts relays broadcasts received on
// graylogic/workspace/broadcast/{key} to every loaded tab.
func (s *Server) subscribeBroadcasts() error {
	if s.mqtt == nil {
		return nil
	}
	topic := topics.AllWorkspaceBroadcasts()
	s.logger.Info("subscribing to remote broadcasts", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, s.handleRemoteBroadcast)
}

// handleRemoteBroadcast signals the broadcast named by the topic. A JSON
// payload is decoded; anything else is passed on as text. An empty payload
// sends the broadcast name.
func (s *Server) handleRemoteBroadcast(topic string, payload []byte) error {
	key, ok := topics.BroadcastKey(topic)
	if !ok {
		return nil
	}

	var value any = key
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &value); err != nil {
			value = string(payload)
		}
	}

	woken := s.engine.SignalAll(extensions.BroadcastKey(key), value)
	s.logger.Debug("remote broadcast signalled", "key", key, "woken", woken)
	return nil
}

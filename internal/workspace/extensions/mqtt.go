package extensions

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Runtime value keys set by mqtt_whenmessagereceived for its chain.
const (
	PayloadKey = "payload"
	TopicKey   = "topic"
)

// mqttQoS is the QoS used for workspace publishes and subscriptions.
const mqttQoS = 1

// MessageKey is the lock key a received MQTT message is signalled on.
func MessageKey(topic string) string {
	return "mqtt:" + topic
}

// MQTT publishes messages and starts chains on received messages.
//
// The broker subscription for a topic is shared by every hat listening on
// it and is removed when the last of them is released.
type MQTT struct {
	client MQTTClient
	logger workspace.Logger

	mu   sync.Mutex
	subs map[string]map[*workspace.Block]struct{}
}

// NewMQTT creates the mqtt extension. client may be nil.
func NewMQTT(client MQTTClient, logger workspace.Logger) *MQTT {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTT{
		client: client,
		logger: logger,
		subs:   make(map[string]map[*workspace.Block]struct{}),
	}
}

// ID implements workspace.Extension.
func (*MQTT) ID() string { return "mqtt" }

// Blocks implements workspace.Extension.
func (m *MQTT) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"publish":             {Kind: workspace.KindCommand, Handle: m.publish},
		"whenmessagereceived": {Kind: workspace.KindHat, Handle: m.whenMessageReceived},
		"payload":             {Kind: workspace.KindReporter, Evaluate: messageValue(PayloadKey)},
		"topic":               {Kind: workspace.KindReporter, Evaluate: messageValue(TopicKey)},
	}
}

func (m *MQTT) publish(ctx context.Context, b *workspace.Block) error {
	if m.client == nil {
		return ErrMQTTUnavailable
	}
	topic, err := b.InputString(ctx, "TOPIC")
	if err != nil {
		return err
	}
	payload, err := b.InputBytes(ctx, "PAYLOAD")
	if err != nil {
		return err
	}
	retain, err := b.InputBool(ctx, "RETAIN")
	if err != nil {
		return err
	}
	return m.client.Publish(topic, payload, mqttQoS, retain)
}

// whenMessageReceived runs its chain for every message on TOPIC, with the
// payload and topic available to the chain as runtime values.
func (m *MQTT) whenMessageReceived(ctx context.Context, b *workspace.Block) error {
	if m.client == nil {
		return ErrMQTTUnavailable
	}
	topic, err := b.InputString(ctx, "TOPIC")
	if err != nil {
		return err
	}

	lock := b.Tab().Locks().GetOrCreateLock(b, MessageKey(topic), workspace.AnyValue())
	if err := m.subscribe(topic, b); err != nil {
		return err
	}
	b.AddReleaseListener(func() { m.unsubscribe(topic, b) })

	for lock.Await(ctx, 0) {
		msg, _ := lock.LastValue().(message)
		b.SetValue(TopicKey, msg.topic)
		b.SetValue(PayloadKey, string(msg.payload))
		if err := b.HandleNext(ctx); err != nil {
			return err
		}
	}
	return nil
}

type message struct {
	topic   string
	payload []byte
}

func (m *MQTT) subscribe(topic string, b *workspace.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listeners, ok := m.subs[topic]
	if !ok {
		err := m.client.Subscribe(topic, mqttQoS, func(received string, payload []byte) error {
			m.deliver(topic, message{topic: received, payload: append([]byte(nil), payload...)})
			return nil
		})
		if err != nil {
			return err
		}
		listeners = make(map[*workspace.Block]struct{})
		m.subs[topic] = listeners
	}
	listeners[b] = struct{}{}
	return nil
}

func (m *MQTT) unsubscribe(topic string, b *workspace.Block) {
	m.mu.Lock()
	listeners := m.subs[topic]
	delete(listeners, b)
	last := len(listeners) == 0
	if last {
		delete(m.subs, topic)
	}
	m.mu.Unlock()

	if last {
		if err := m.client.Unsubscribe(topic); err != nil {
			m.logger.Warn("mqtt unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// deliver signals every hat subscribed to topic.
func (m *MQTT) deliver(topic string, msg message) {
	m.mu.Lock()
	tabs := make(map[*workspace.Tab]struct{})
	for b := range m.subs[topic] {
		tabs[b.Tab()] = struct{}{}
	}
	m.mu.Unlock()

	for tab := range tabs {
		tab.Locks().SignalAll(MessageKey(topic), msg)
	}
}

// Subscriptions returns the number of topics with an active subscription.
func (m *MQTT) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func messageValue(key string) workspace.EvaluateFunc {
	return func(_ context.Context, b *workspace.Block) (any, error) {
		v, _ := b.Value(key)
		return workspace.ToString(v), nil
	}
}

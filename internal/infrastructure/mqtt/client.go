package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
)

// Errors returned by the client. Broker failures wrap one of these with %w.
var (
	ErrNotConnected      = errors.New("mqtt: not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrInvalidTopic      = errors.New("mqtt: invalid topic")
	ErrInvalidQoS        = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrPayloadTooLarge   = errors.New("mqtt: payload too large")
)

// Logger receives handler failures. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler receives one message. A returned error is logged; the
// message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Option configures a Client at Connect.
type Option func(*Client)

// WithLogger sets where handler errors and panics are logged.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnConnect registers fn to run after every (re)connect, once
// subscriptions are restored.
func WithOnConnect(fn func()) Option {
	return func(c *Client) { c.onConnect = fn }
}

// WithOnConnectionLost registers fn to run when the broker link drops.
func WithOnConnectionLost(fn func(error)) Option {
	return func(c *Client) { c.onLost = fn }
}

// Client is the engine's broker link. mqtt blocks publish and subscribe
// through it, remote broadcasts arrive on it, and the hub announces its
// presence on the system status topic.
//
// Subscriptions are remembered and replayed after a reconnect. All methods
// are safe for concurrent use.
type Client struct {
	conn     pahomqtt.Client
	clientID string
	qos      byte

	logger    Logger
	onConnect func()
	onLost    func(error)

	connected atomic.Bool

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker in cfg and waits for the first connection.
// The broker publishes an offline presence message for the hub if the link
// dies without Close.
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := newClient(cfg.Broker.ClientID, byte(cfg.QoS), opts...)

	po := clientOptions(cfg)
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })
	c.conn = pahomqtt.NewClient(po)

	tok := c.conn.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		c.conn.Disconnect(0) // stops connect retries
		return nil, fmt.Errorf("%w: no answer from %s:%d within %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The connect handler runs on its own goroutine and may not have run yet.
	c.connected.Store(true)
	return c, nil
}

func newClient(clientID string, qos byte, opts ...Option) *Client {
	c := &Client{
		clientID: clientID,
		qos:      qos,
		logger:   noopLogger{},
		subs:     make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connectionUp replays subscriptions, then announces the hub online.
func (c *Client) connectionUp() {
	c.connected.Store(true)

	c.mu.Lock()
	replay := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		replay[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range replay {
		if err := wait(c.conn.Subscribe(topic, sub.qos, c.dispatch(sub.handler)), ErrSubscribeFailed); err != nil {
			c.logger.Warn("restoring MQTT subscription", "topic", topic, "error", err)
		}
	}

	c.conn.Publish(Topics{}.SystemStatus(), c.qos, true, presencePayload(c.clientID, "online", ""))

	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)
	if c.onLost != nil {
		c.onLost(err)
	}
}

// Close announces a clean shutdown and disconnects, giving in-flight
// messages a moment to drain.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.conn.Publish(Topics{}.SystemStatus(), c.qos, true,
			presencePayload(c.clientID, "offline", "shutdown"))
		tok.WaitTimeout(opTimeout)
	}
	c.conn.Disconnect(disconnectQuiesceMs)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker link is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.connected.Load() && c.conn.IsConnected()
}

// dispatch adapts h to paho. Errors are logged and panics recovered.
func (c *Client) dispatch(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panicked", "topic", topic, "panic", r)
			}
		}()
		if err := h(topic, msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler failed", "topic", topic, "error", err)
		}
	}
}

// wait blocks on tok for at most opTimeout and wraps a failure in kind.
func wait(tok pahomqtt.Token, kind error) error {
	if !tok.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: timed out after %v", kind, opTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

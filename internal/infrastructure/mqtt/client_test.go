package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
)

// fakeToken completes immediately with err, or never when stuck.
type fakeToken struct {
	err   error
	stuck bool
}

func (t fakeToken) Wait() bool                     { return !t.stuck }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.stuck }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.stuck {
		close(ch)
	}
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (fakeMessage) Duplicate() bool   { return false }
func (fakeMessage) Qos() byte         { return 1 }
func (fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string   { return m.topic }
func (fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte { return m.payload }
func (fakeMessage) Ack()              {}

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeConn records what the client asks of the broker.
type fakeConn struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
	published    []sent
	routes       map[string]pahomqtt.MessageHandler
	unsubscribed []string

	publishToken   fakeToken
	subscribeToken fakeToken
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true, routes: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) IsConnectionOpen() bool  { return f.IsConnected() }
func (f *fakeConn) Connect() pahomqtt.Token { return fakeToken{} }

func (f *fakeConn) Disconnect(uint) {
	f.mu.Lock()
	f.connected, f.disconnected = false, true
	f.mu.Unlock()
}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.published = append(f.published, sent{topic: topic, qos: qos, retained: retained, payload: b})
	return f.publishToken
}

func (f *fakeConn) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeToken.err == nil && !f.subscribeToken.stuck {
		f.routes[topic] = cb
	}
	return f.subscribeToken
}

func (f *fakeConn) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return fakeToken{err: errors.New("not supported")}
}

func (f *fakeConn) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.routes, topic)
	}
	f.unsubscribed = append(f.unsubscribed, topics...)
	return fakeToken{}
}

func (f *fakeConn) AddRoute(topic string, cb pahomqtt.MessageHandler) {
	f.mu.Lock()
	f.routes[topic] = cb
	f.mu.Unlock()
}

func (f *fakeConn) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver hands a message on topic to the handler subscribed to filter,
// as paho's router would.
func (f *fakeConn) deliver(t *testing.T, filter, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	cb := f.routes[filter]
	f.mu.Unlock()
	if cb == nil {
		t.Fatalf("no route for %s", filter)
	}
	cb(f, fakeMessage{topic: topic, payload: []byte(payload)})
}

func (f *fakeConn) lastPublished(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		t.Fatal("nothing published")
	}
	return f.published[len(f.published)-1]
}

func (f *fakeConn) dropLink() {
	f.mu.Lock()
	f.connected = false
	f.routes = make(map[string]pahomqtt.MessageHandler)
	f.mu.Unlock()
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func newTestClient(opts ...Option) (*Client, *fakeConn) {
	conn := newFakeConn()
	c := newClient("hub-test", 1, opts...)
	c.conn = conn
	c.connected.Store(true)
	return c, conn
}

func decodePresence(t *testing.T, b []byte) presence {
	t.Helper()
	var p presence
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("presence payload %q: %v", b, err)
	}
	return p
}

// =============================================================================
// Publish
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	tests := []struct {
		name         string
		topic        string
		qos          byte
		payload      []byte
		disconnected bool
		wantErr      error
	}{
		{name: "ok", topic: "graylogic/workspace/broadcast/doorbell", qos: 1, payload: []byte("front")},
		{name: "nil payload", topic: "a/b", qos: 0},
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "qos 3", topic: "a/b", qos: 3, wantErr: ErrInvalidQoS},
		{name: "too large", topic: "a/b", qos: 1, payload: make([]byte, maxPayload+1), wantErr: ErrPayloadTooLarge},
		{name: "at limit", topic: "a/b", qos: 1, payload: make([]byte, maxPayload)},
		{name: "disconnected", topic: "a/b", qos: 1, disconnected: true, wantErr: ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, conn := newTestClient()
			if tt.disconnected {
				c.connectionDown(errors.New("gone"))
			}
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Publish() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && len(conn.published) != 0 {
				t.Errorf("rejected publish reached the broker")
			}
		})
	}
}

func TestPublish_SendsToBroker(t *testing.T) {
	c, conn := newTestClient()

	topic := Topics{}.WorkspaceTabStatus("kitchen")
	if err := c.Publish(topic, []byte(`{"state":"running"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := conn.lastPublished(t)
	if got.topic != topic || got.qos != 1 || !got.retained || string(got.payload) != `{"state":"running"}` {
		t.Errorf("published %+v", got)
	}
}

func TestPublish_BrokerFailure(t *testing.T) {
	tests := []struct {
		name  string
		token fakeToken
		want  string
	}{
		{"rejected", fakeToken{err: errors.New("not authorised")}, "not authorised"},
		{"timeout", fakeToken{stuck: true}, "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, conn := newTestClient()
			conn.publishToken = tt.token

			err := c.Publish("a/b", []byte("x"), 1, false)
			if !errors.Is(err, ErrPublishFailed) {
				t.Fatalf("Publish() error = %v, want %v", err, ErrPublishFailed)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Publish() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Subscribe
// =============================================================================

func TestSubscribe_Validation(t *testing.T) {
	noop := func(string, []byte) error { return nil }
	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"qos 3", "a/b", 3, noop, ErrInvalidQoS},
		{"nil handler", "a/b", 1, nil, ErrSubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient()
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
			if n := c.SubscriptionCount(); n != 0 {
				t.Errorf("SubscriptionCount() = %d, want 0", n)
			}
		})
	}
}

func TestSubscribe_Disconnected(t *testing.T) {
	c, _ := newTestClient()
	c.connectionDown(nil)

	err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestSubscribe_DispatchesMessages(t *testing.T) {
	logger := &recordingLogger{}
	c, conn := newTestClient(WithLogger(logger))

	var got []string
	err := c.Subscribe(Topics{}.AllWorkspaceBroadcasts(), 1, func(topic string, payload []byte) error {
		key, _ := Topics{}.BroadcastKey(topic)
		switch string(payload) {
		case "fail":
			return errors.New("handler failed")
		case "panic":
			panic("handler panicked")
		}
		got = append(got, key+"="+string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	filter := Topics{}.AllWorkspaceBroadcasts()
	conn.deliver(t, filter, Topics{}.WorkspaceBroadcast("doorbell"), "front")
	conn.deliver(t, filter, Topics{}.WorkspaceBroadcast("doorbell"), "fail")
	conn.deliver(t, filter, Topics{}.WorkspaceBroadcast("alarm"), "panic")

	if len(got) != 1 || got[0] != "doorbell=front" {
		t.Errorf("handled %v, want [doorbell=front]", got)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want one for the failed handler", logger.warns)
	}
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want one for the panic", logger.errors)
	}
}

func TestSubscribe_FailureForgetsTopic(t *testing.T) {
	c, conn := newTestClient()
	conn.subscribeToken = fakeToken{err: errors.New("denied by ACL")}

	err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want %v", err, ErrSubscribeFailed)
	}
	if n := c.SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", n)
	}
}

func TestSubscribe_FailedReplaceKeepsPreviousHandler(t *testing.T) {
	c, conn := newTestClient()

	var first int
	if err := c.Subscribe("a/b", 1, func(string, []byte) error { first++; return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	conn.subscribeToken = fakeToken{stuck: true}
	if err := c.Subscribe("a/b", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("second Subscribe() error = %v, want %v", err, ErrSubscribeFailed)
	}

	// A reconnect replays whatever is remembered.
	conn.subscribeToken = fakeToken{}
	conn.dropLink()
	conn.connected = true
	c.connectionUp()
	conn.deliver(t, "a/b", "a/b", "x")

	if first != 1 {
		t.Errorf("first handler ran %d times, want 1", first)
	}
}

func TestUnsubscribe(t *testing.T) {
	c, conn := newTestClient()
	for _, topic := range []string{"a/b", "c/d"} {
		if err := c.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if n := c.SubscriptionCount(); n != 2 {
		t.Fatalf("SubscriptionCount() = %d, want 2", n)
	}

	if err := c.Unsubscribe("a/b"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if n := c.SubscriptionCount(); n != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", n)
	}
	if len(conn.unsubscribed) != 1 || conn.unsubscribed[0] != "a/b" {
		t.Errorf("broker unsubscribed %v, want [a/b]", conn.unsubscribed)
	}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want %v", err, ErrInvalidTopic)
	}
	c.connectionDown(nil)
	if err := c.Unsubscribe("c/d"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() while down error = %v, want %v", err, ErrNotConnected)
	}
}

// =============================================================================
// Connection lifecycle
// =============================================================================

func TestConnectionUp_ReplaysSubscriptionsAndAnnouncesOnline(t *testing.T) {
	var reconnects int
	c, conn := newTestClient(WithOnConnect(func() { reconnects++ }))

	received := make(map[string]string)
	for _, topic := range []string{Topics{}.AllWorkspaceBroadcasts(), "site/door/+"} {
		err := c.Subscribe(topic, 1, func(topic string, payload []byte) error {
			received[topic] = string(payload)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	conn.dropLink()
	c.connectionDown(errors.New("broker restarted"))
	conn.connected = true
	c.connectionUp()

	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	conn.deliver(t, "site/door/+", "site/door/front", "open")
	conn.deliver(t, Topics{}.AllWorkspaceBroadcasts(), Topics{}.WorkspaceBroadcast("doorbell"), "ring")
	if len(received) != 2 {
		t.Errorf("received %v, want both subscriptions replayed", received)
	}

	last := conn.lastPublished(t)
	if last.topic != (Topics{}).SystemStatus() || !last.retained {
		t.Errorf("announcement %+v, want retained on %s", last, Topics{}.SystemStatus())
	}
	if p := decodePresence(t, last.payload); p.Status != "online" || p.ClientID != "hub-test" {
		t.Errorf("presence = %+v, want online for hub-test", p)
	}
	if reconnects != 1 {
		t.Errorf("OnConnect ran %d times, want 1", reconnects)
	}
}

func TestConnectionDown(t *testing.T) {
	var lost error
	c, _ := newTestClient(WithOnConnectionLost(func(err error) { lost = err }))

	cause := errors.New("keepalive timeout")
	c.connectionDown(cause)

	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	if !errors.Is(lost, cause) {
		t.Errorf("OnConnectionLost got %v, want %v", lost, cause)
	}
	if err := c.Publish("a/b", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestClose(t *testing.T) {
	c, conn := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.disconnected {
		t.Error("Close() did not disconnect")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	p := decodePresence(t, conn.lastPublished(t).payload)
	if p.Status != "offline" || p.Reason != "shutdown" {
		t.Errorf("presence = %+v, want offline/shutdown", p)
	}
}

func TestClose_NotConnected(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on an unconnected client error = %v", err)
	}
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() = true on an unconnected client")
	}
}

func TestHealthCheck(t *testing.T) {
	c, _ := newTestClient()
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want %v", err, context.Canceled)
	}

	c.connectionDown(nil)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() while down error = %v, want %v", err, ErrNotConnected)
	}
}

// =============================================================================
// Options
// =============================================================================

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: "hub-test"},
		QoS:    1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		edit       func(*config.MQTTConfig)
		wantServer string
		wantUser   string
		wantTLS    bool
	}{
		{"plain", func(*config.MQTTConfig) {}, "tcp://127.0.0.1:1883", "", false},
		{"tls", func(c *config.MQTTConfig) { c.Broker.TLS = true; c.Broker.Port = 8883 }, "ssl://127.0.0.1:8883", "", true},
		{"auth", func(c *config.MQTTConfig) { c.Auth = config.MQTTAuthConfig{Username: "hub", Password: "pw"} }, "tcp://127.0.0.1:1883", "hub", false},
		{"ipv6", func(c *config.MQTTConfig) { c.Broker.Host = "::1" }, "tcp://[::1]:1883", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.edit(&cfg)
			opts := clientOptions(cfg)

			if len(opts.Servers) != 1 || opts.Servers[0].String() != tt.wantServer {
				t.Errorf("Servers = %v, want [%s]", opts.Servers, tt.wantServer)
			}
			if opts.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", opts.Username, tt.wantUser)
			}
			if gotTLS := opts.TLSConfig != nil && opts.TLSConfig.MinVersion == tls.VersionTLS12; gotTLS != tt.wantTLS {
				t.Errorf("TLS 1.2 configured = %v, want %v", gotTLS, tt.wantTLS)
			}
			if opts.ClientID != "hub-test" || !opts.CleanSession || !opts.AutoReconnect {
				t.Errorf("ClientID %q CleanSession %v AutoReconnect %v", opts.ClientID, opts.CleanSession, opts.AutoReconnect)
			}
			if opts.ConnectRetryInterval != time.Second || opts.MaxReconnectInterval != 5*time.Second {
				t.Errorf("retry %v max %v, want 1s and 5s", opts.ConnectRetryInterval, opts.MaxReconnectInterval)
			}
		})
	}
}

func TestClientOptions_Will(t *testing.T) {
	opts := clientOptions(testConfig())

	if !opts.WillEnabled || opts.WillTopic != (Topics{}).SystemStatus() || !opts.WillRetained || opts.WillQos != 1 {
		t.Fatalf("will enabled %v topic %q retained %v qos %d", opts.WillEnabled, opts.WillTopic, opts.WillRetained, opts.WillQos)
	}
	p := decodePresence(t, opts.WillPayload)
	if p.Status != "offline" || p.ClientID != "hub-test" || p.Reason == "" {
		t.Errorf("will presence = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("will timestamp %q: %v", p.Timestamp, err)
	}
}

// =============================================================================
// Broker round trip (needs Mosquitto on 127.0.0.1:1883)
// =============================================================================

func TestConnect_RoundTrip(t *testing.T) {
	nc, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	nc.Close()

	cfg := testConfig()
	cfg.Broker.ClientID = fmt.Sprintf("hub-test-%d", time.Now().UnixNano())
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	key := cfg.Broker.ClientID
	got := make(chan string, 1)
	err = client.Subscribe(Topics{}.AllWorkspaceBroadcasts(), 1, func(topic string, payload []byte) error {
		if k, _ := (Topics{}).BroadcastKey(topic); k == key {
			got <- string(payload)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish(Topics{}.WorkspaceBroadcast(key), []byte("ring"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case v := <-got:
		if v != "ring" {
			t.Errorf("received %q, want ring", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast did not arrive")
	}
}

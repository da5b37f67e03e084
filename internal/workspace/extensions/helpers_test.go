package extensions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// recorder is a "test" extension whose test_record block stores its VALUE input.
type recorder struct {
	mu     sync.Mutex
	values []any
}

func (r *recorder) ID() string { return "test" }

func (r *recorder) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"record": {Kind: workspace.KindCommand, Handle: func(ctx context.Context, b *workspace.Block) error {
			v, err := b.Input(ctx, "VALUE", true)
			if err != nil {
				return err
			}
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
			return nil
		}},
	}
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func (r *recorder) count() int {
	return len(r.all())
}

// memoryStore is an in-memory VariableStore.
type memoryStore struct {
	mu   sync.Mutex
	vals map[string]any
}

func newMemoryStore() *memoryStore {
	return &memoryStore{vals: make(map[string]any)}
}

func (m *memoryStore) GetVariable(_ context.Context, id string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[id]
	if !ok {
		return nil, workspace.ErrVariableNotFound
	}
	return v, nil
}

func (m *memoryStore) SetVariable(_ context.Context, id, _ string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[id] = value
	return nil
}

func (m *memoryStore) get(id string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[id]
}

// mockMQTT records publishes and captures subscription handlers.
type mockMQTT struct {
	mu           sync.Mutex
	published    []publishedMessage
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
}

type publishedMessage struct {
	topic    string
	payload  string
	retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	m.unsubscribed = append(m.unsubscribed, topic)
	return nil
}

func (m *mockMQTT) handler(topic string) mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

// mockPoints records telemetry points.
type mockPoints struct {
	mu     sync.Mutex
	points []point
}

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
}

func (m *mockPoints) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, point{measurement, tags, fields})
}

// setup registers the built-in extensions plus the recorder.
func setup(t *testing.T, deps Deps) (*workspace.Handlers, *recorder) {
	t.Helper()
	h := workspace.NewHandlers()
	if err := RegisterAll(h, deps); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	rec := &recorder{}
	if err := h.Register(rec); err != nil {
		t.Fatalf("Register(recorder) error = %v", err)
	}
	return h, rec
}

// newTab parses doc and attaches the handlers without starting any root.
func newTab(t *testing.T, doc string, h *workspace.Handlers, vars workspace.VariableStore) *workspace.Tab {
	t.Helper()
	tab, err := workspace.Parse("tab", "Test", []byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tab.Attach(workspace.Runtime{Handlers: h, Variables: vars, PollInterval: 5 * time.Millisecond})
	t.Cleanup(tab.Release)
	return tab
}

// startEngine loads doc into a fresh engine.
func startEngine(t *testing.T, doc string, h *workspace.Handlers) (*workspace.Engine, *workspace.Tab) {
	t.Helper()
	e := workspace.NewEngine(workspace.EngineOptions{
		Handlers: h,
		Config: workspace.EngineConfig{
			ReloadGrace:     time.Second,
			ProcedureSettle: 500 * time.Millisecond,
			PollInterval:    5 * time.Millisecond,
			RunOnceOpcodes:  []string{"data_setvariableto"},
			LoadConcurrency: 1,
		},
	})
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	tab, err := e.Reload(context.Background(), workspace.Document{ID: "tab", Content: []byte(doc)})
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	return e, tab
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

package workspace

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingNotifier collects notifications for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// recordingMetrics collects execution records.
type recordingMetrics struct {
	mu      sync.Mutex
	records []ExecutionRecord
}

func (r *recordingMetrics) WriteExecution(rec ExecutionRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *recordingMetrics) all() []ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecutionRecord(nil), r.records...)
}

// memoryVariables is an in-memory VariableStore.
type memoryVariables map[string]any

func (m memoryVariables) GetVariable(_ context.Context, id string) (any, error) {
	v, ok := m[id]
	if !ok {
		return nil, ErrVariableNotFound
	}
	return v, nil
}

// testExtension binds opcodes for tests.
type testExtension struct {
	id     string
	blocks map[string]Handler
}

func (e testExtension) ID() string                 { return e.id }
func (e testExtension) Blocks() map[string]Handler { return e.blocks }

// newTestHandlers registers the "test" extension with the given bindings.
func newTestHandlers(t *testing.T, blocks map[string]Handler) *Handlers {
	t.Helper()
	h := NewHandlers()
	if err := h.Register(testExtension{id: "test", blocks: blocks}); err != nil {
		t.Fatalf("registering test extension: %v", err)
	}
	return h
}

// parseTestTab parses doc and attaches a runtime.
func parseTestTab(t *testing.T, doc string, rt Runtime) *Tab {
	t.Helper()
	tab, err := Parse("tab-1", "Test", []byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tab.Attach(rt)
	t.Cleanup(tab.Release)
	return tab
}

// waitFor polls cond until it holds or timeout elapses.
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

// testEngineConfig uses short intervals so tests run quickly.
func testEngineConfig() EngineConfig {
	return EngineConfig{
		ReloadGrace:     time.Second,
		ProcedureSettle: 500 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		RunOnceOpcodes:  []string{"test_setonce"},
		LoadConcurrency: 2,
	}
}

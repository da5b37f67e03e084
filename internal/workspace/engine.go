package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EngineConfig holds the scheduling parameters of the engine.
type EngineConfig struct {
	// ReloadGrace bounds how long a reload or removal waits for the old
	// tab's roots to observe cancellation.
	ReloadGrace time.Duration

	// ProcedureSettle bounds how long ordinary roots wait for procedure
	// definitions to register.
	ProcedureSettle time.Duration

	// PollInterval is the event-condition tick of each tab's lock registry.
	PollInterval time.Duration

	// RunOnceOpcodes are executed synchronously when a tab starts instead
	// of being scheduled as long-lived roots.
	RunOnceOpcodes []string

	// LoadConcurrency bounds how many documents LoadAll reloads at once.
	LoadConcurrency int
}

// DefaultEngineConfig returns the default scheduling parameters.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ReloadGrace:     3 * time.Second,
		ProcedureSettle: 500 * time.Millisecond,
		PollInterval:    DefaultPollInterval,
		RunOnceOpcodes:  []string{"data_setvariableto", "data_changevariableby"},
		LoadConcurrency: 4,
	}
}

// EngineOptions configures an Engine. Handlers is required; every other
// collaborator is optional.
type EngineOptions struct {
	Handlers  *Handlers
	Variables VariableStore
	Entities  EntityResolver
	Notifier  Notifier
	Metrics   MetricsWriter
	Logger    Logger
	Config    EngineConfig
}

// Document is the stored source of one workspace.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine loads workspace documents into tabs and runs them.
//
// Reloads of the same document are serialized; different documents reload
// independently. Roots run on goroutines whose contexts derive from the
// engine, so Close stops every tab.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	opts    EngineOptions
	runOnce map[string]bool
	logger  Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.RWMutex
	tabs    map[string]*Tab
	reloads map[string]*sync.Mutex
	closed  bool
}

// NewEngine creates an engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	if opts.Handlers == nil {
		opts.Handlers = NewHandlers()
	}
	if opts.Config.LoadConcurrency < 1 {
		opts.Config.LoadConcurrency = 1
	}
	runOnce := make(map[string]bool, len(opts.Config.RunOnceOpcodes))
	for _, op := range opts.Config.RunOnceOpcodes {
		runOnce[op] = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:       opts,
		runOnce:    runOnce,
		logger:     opts.Logger,
		baseCtx:    ctx,
		baseCancel: cancel,
		tabs:       make(map[string]*Tab),
		reloads:    make(map[string]*sync.Mutex),
	}
}

// Handlers returns the engine's opcode table.
func (e *Engine) Handlers() *Handlers {
	return e.opts.Handlers
}

func (e *Engine) reloadLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.reloads[id]
	if !ok {
		m = &sync.Mutex{}
		e.reloads[id] = m
	}
	return m
}

// Reload (re)loads a document and starts its roots.
//
// The document is parsed first; an invalid document leaves the running tab
// untouched. Otherwise the previous tab is released and given up to
// ReloadGrace to wind down, then the new tab is started: procedure
// definitions first, then run-once roots synchronously, then every other
// root on its own goroutine.
//
// Returns:
//   - *Tab: the newly started tab
//   - error: nil on success, or:
//   - ErrInvalidDocument if the content cannot be parsed
//   - ErrEngineClosed if Close has been called
func (e *Engine) Reload(ctx context.Context, doc Document) (*Tab, error) {
	lock := e.reloadLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	tab, err := Parse(doc.ID, doc.Name, doc.Content)
	if err != nil {
		e.logger.Error("workspace document rejected", "tab_id", doc.ID, "error", err)
		return nil, err
	}

	e.mu.RLock()
	old := e.tabs[doc.ID]
	e.mu.RUnlock()
	if old != nil {
		old.setState(TabReloading)
		e.retire(ctx, old)
	}

	tab.Attach(Runtime{
		Handlers:     e.opts.Handlers,
		Variables:    e.opts.Variables,
		Entities:     e.opts.Entities,
		Notifier:     e.opts.Notifier,
		Metrics:      e.opts.Metrics,
		Logger:       e.logger,
		PollInterval: e.opts.Config.PollInterval,
	})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		tab.Release()
		return nil, ErrEngineClosed
	}
	e.tabs[doc.ID] = tab
	e.mu.Unlock()

	e.launch(ctx, tab)
	tab.setState(TabActive)

	e.logger.Info("workspace loaded",
		"tab_id", tab.ID,
		"name", tab.Name,
		"blocks", tab.BlockCount(),
		"roots", len(tab.Roots()),
		"reload", old != nil,
	)
	return tab, nil
}

// launch schedules the tab's roots.
func (e *Engine) launch(ctx context.Context, tab *Tab) {
	var definitions, runOnce, ordinary []*Block
	for _, root := range tab.Roots() {
		switch {
		case root.IsProcedureDefinition():
			definitions = append(definitions, root)
		case e.runOnce[root.FullOpcode()]:
			runOnce = append(runOnce, root)
		default:
			ordinary = append(ordinary, root)
		}
	}

	if len(definitions) > 0 {
		done := make([]<-chan struct{}, 0, len(definitions))
		for _, def := range definitions {
			done = append(done, tab.start(e.baseCtx, def))
		}
		e.settle(ctx, done)
	}

	for _, root := range runOnce {
		tab.runOnce(e.baseCtx, root)
	}
	for _, root := range ordinary {
		tab.start(e.baseCtx, root)
	}
}

// settle waits until every procedure definition has registered or the
// settle period has passed.
func (e *Engine) settle(ctx context.Context, done []<-chan struct{}) {
	timer := time.NewTimer(e.opts.Config.ProcedureSettle)
	defer timer.Stop()
	for _, ch := range done {
		select {
		case <-ch:
		case <-timer.C:
			e.logger.Warn("procedure definitions still running after settle period")
			return
		case <-ctx.Done():
			return
		}
	}
}

// retire releases a tab and waits for its roots to wind down.
func (e *Engine) retire(ctx context.Context, tab *Tab) {
	tab.Release()
	if !tab.Wait(ctx, e.opts.Config.ReloadGrace) {
		e.logger.Warn("workspace roots still running after grace period",
			"tab_id", tab.ID,
			"grace_ms", e.opts.Config.ReloadGrace.Milliseconds(),
		)
	}
}

// Remove releases a document's tab without loading a replacement.
func (e *Engine) Remove(ctx context.Context, id string) error {
	lock := e.reloadLock(id)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	tab, ok := e.tabs[id]
	if ok {
		delete(e.tabs, id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}

	e.retire(ctx, tab)
	e.logger.Info("workspace removed", "tab_id", id)
	return nil
}

// Tab returns the loaded tab for a document.
func (e *Engine) Tab(id string) (*Tab, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tab, ok := e.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	return tab, nil
}

// Tabs returns every loaded tab sorted by ID.
func (e *Engine) Tabs() []*Tab {
	e.mu.RLock()
	out := make([]*Tab, 0, len(e.tabs))
	for _, t := range e.tabs {
		out = append(out, t)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SignalAll offers value to the locks under key in every tab and returns
// how many accepted it.
func (e *Engine) SignalAll(key string, value any) int {
	woken := 0
	for _, tab := range e.Tabs() {
		woken += tab.Locks().SignalAll(key, value)
	}
	return woken
}

// LoadAll reloads every stored document, at most LoadConcurrency at a time.
// A document that fails to load does not stop the others; the failures are
// returned joined.
func (e *Engine) LoadAll(ctx context.Context, repo DocumentRepository) error {
	docs, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing workspace documents: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.opts.Config.LoadConcurrency)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if _, err := e.Reload(ctx, doc); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("loading %s: %w", doc.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("workspaces loaded", "documents", len(docs), "failed", len(errs))
	return errors.Join(errs...)
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close releases every tab and stops all roots. The engine cannot be used
// afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	tabs := make([]*Tab, 0, len(e.tabs))
	for _, t := range e.tabs {
		tabs = append(tabs, t)
	}
	e.tabs = make(map[string]*Tab)
	e.mu.Unlock()

	e.baseCancel()
	for _, t := range tabs {
		e.retire(ctx, t)
	}
	e.logger.Info("workspace engine closed", "tabs", len(tabs))
	return nil
}

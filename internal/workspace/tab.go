package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TabState is the lifecycle state of a tab.
type TabState int32

const (
	TabLoading TabState = iota
	TabActive
	TabReloading
	TabReleased
)

func (s TabState) String() string {
	switch s {
	case TabLoading:
		return "loading"
	case TabActive:
		return "active"
	case TabReloading:
		return "reloading"
	case TabReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runtime holds the collaborators a tab needs while executing.
type Runtime struct {
	Handlers     *Handlers
	Variables    VariableStore
	Entities     EntityResolver
	Notifier     Notifier
	Metrics      MetricsWriter
	Logger       Logger
	PollInterval time.Duration
}

// Procedure is a callable procedure registered by a definition root.
// Arguments are bound on the definition block, so calls from different
// roots are serialized. A recursive call from inside the body re-enters
// without blocking and restores the outer arguments when it returns.
type Procedure struct {
	Code          string
	Definition    *Block
	ArgumentIDs   []string
	ArgumentNames []string

	sem chan struct{}
}

type procedureCallKey struct {
	p *Procedure
}

// ArgumentValueKey is the runtime value key an argument is bound under.
func ArgumentValueKey(name string) string {
	return "argument:" + name
}

// Call binds args (by argument name) on the definition and runs its body.
// Waiting for another root's call to finish is abandoned when ctx ends.
// Arguments that were unbound before the call are unbound again afterwards.
func (p *Procedure) Call(ctx context.Context, args map[string]any) error {
	if ctx.Value(procedureCallKey{p}) == nil {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-p.sem }()
		ctx = context.WithValue(ctx, procedureCallKey{p}, true)
	}

	type binding struct {
		value any
		ok    bool
	}
	previous := make(map[string]binding, len(args))
	for name, value := range args {
		key := ArgumentValueKey(name)
		v, ok := p.Definition.LocalValue(key)
		previous[key] = binding{value: v, ok: ok}
		p.Definition.SetValue(key, value)
	}
	defer func() {
		for key, prev := range previous {
			if prev.ok {
				p.Definition.SetValue(key, prev.value)
			} else {
				p.Definition.DeleteValue(key)
			}
		}
	}()
	return p.Definition.HandleNext(ctx)
}

// Tab is one loaded workspace program: its blocks, locks and procedures.
//
// The block map is built by Parse and never modified afterwards. Tab owns
// every block; blocks reference each other by ID.
type Tab struct {
	ID   string
	Name string

	blocks   map[string]*Block
	comments int
	locks    *LockRegistry
	rt       Runtime

	state atomic.Int32

	procMu     sync.RWMutex
	procedures map[string]*Procedure

	execMu      sync.Mutex
	stopped     bool // set by Release; no execution may start afterwards
	executions  sync.WaitGroup
	releaseOnce sync.Once
}

func newTab(id, name string) *Tab {
	t := &Tab{
		ID:         id,
		Name:       name,
		blocks:     make(map[string]*Block),
		procedures: make(map[string]*Procedure),
		locks:      NewLockRegistry(nil),
		rt:         Runtime{Notifier: noopNotifier{}, Logger: noopLogger{}},
	}
	t.state.Store(int32(TabLoading))
	return t
}

// Attach wires the runtime collaborators. It must be called before the
// tab is started.
func (t *Tab) Attach(rt Runtime) {
	if rt.Notifier == nil {
		rt.Notifier = noopNotifier{}
	}
	if rt.Logger == nil {
		rt.Logger = noopLogger{}
	}
	t.rt = rt
	t.locks = NewLockRegistry(rt.Logger)
	if rt.PollInterval > 0 {
		t.locks.SetInterval(rt.PollInterval)
	}
}

// Runtime returns the tab's collaborators.
func (t *Tab) Runtime() Runtime {
	return t.rt
}

func (t *Tab) logger() Logger {
	return t.rt.Logger
}

// State returns the lifecycle state.
func (t *Tab) State() TabState {
	return TabState(t.state.Load())
}

func (t *Tab) setState(s TabState) {
	t.state.Store(int32(s))
}

// Locks returns the tab's lock registry.
func (t *Tab) Locks() *LockRegistry {
	return t.locks
}

// Block returns a block by ID, or nil.
func (t *Tab) Block(id string) *Block {
	if id == "" {
		return nil
	}
	return t.blocks[id]
}

// Blocks returns every block sorted by ID.
func (t *Tab) Blocks() []*Block {
	out := make([]*Block, 0, len(t.blocks))
	for _, b := range t.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Roots returns the top-level, non-shadow blocks sorted by ID.
func (t *Tab) Roots() []*Block {
	var out []*Block
	for _, b := range t.blocks {
		if b.IsRoot() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BlockCount returns the number of blocks.
func (t *Tab) BlockCount() int {
	return len(t.blocks)
}

// CommentCount returns the number of comments in the source document.
func (t *Tab) CommentCount() int {
	return t.comments
}

// DefineProcedure registers def as the body of the procedure named code,
// replacing any earlier definition.
func (t *Tab) DefineProcedure(code string, def *Block, argumentIDs, argumentNames []string) *Procedure {
	p := &Procedure{
		Code:          code,
		Definition:    def,
		ArgumentIDs:   argumentIDs,
		ArgumentNames: argumentNames,
		sem:           make(chan struct{}, 1),
	}
	t.procMu.Lock()
	t.procedures[code] = p
	t.procMu.Unlock()

	t.logger().Debug("procedure defined", "tab_id", t.ID, "block_id", def.ID, "procedure", code)
	return p
}

// Procedure returns a registered procedure.
func (t *Tab) Procedure(code string) (*Procedure, error) {
	t.procMu.RLock()
	defer t.procMu.RUnlock()
	p, ok := t.procedures[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, code)
	}
	return p, nil
}

// Procedures returns the registered procedure codes, sorted.
func (t *Tab) Procedures() []string {
	t.procMu.RLock()
	defer t.procMu.RUnlock()
	codes := make([]string, 0, len(t.procedures))
	for code := range t.procedures {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Notify sends a message about b to the tab's notifier.
func (t *Tab) Notify(b *Block, level Level, message string) {
	n := Notification{TabID: t.ID, Level: level, Message: message, Time: time.Now().UTC()}
	if b != nil {
		n.BlockID = b.ID
		n.Opcode = b.FullOpcode()
	}
	t.rt.Notifier.Notify(n)
}

// report logs err and sends it to the notifier, once per error value.
// It returns err so callers can write `return t.report(b, err)`.
func (t *Tab) report(b *Block, err error) error {
	var be *BlockError
	if errors.As(err, &be) {
		if be.reported {
			return err
		}
		be.reported = true
	}
	t.logger().Error("block failed",
		"tab_id", t.ID,
		"block_id", b.ID,
		"opcode", b.FullOpcode(),
		"error", err,
	)
	t.Notify(b, LevelError, err.Error())
	return err
}

// track counts a new execution unless the tab has been released.
func (t *Tab) track() bool {
	t.execMu.Lock()
	defer t.execMu.Unlock()
	if t.stopped {
		return false
	}
	t.executions.Add(1)
	return true
}

// start schedules root on its own goroutine with a fresh cancellable
// context derived from parent. The returned channel closes when it finishes,
// or is already closed when the tab has been released.
func (t *Tab) start(parent context.Context, root *Block) <-chan struct{} {
	if !t.track() {
		done := make(chan struct{})
		close(done)
		return done
	}
	ctx, exec := t.newExecution(parent, root)
	go func() {
		defer t.executions.Done()
		t.runRoot(ctx, root, exec)
	}()
	return exec.done
}

// runOnce executes root synchronously on the caller's goroutine.
func (t *Tab) runOnce(parent context.Context, root *Block) {
	if !t.track() {
		return
	}
	defer t.executions.Done()
	ctx, exec := t.newExecution(parent, root)
	t.runRoot(ctx, root, exec)
}

func (t *Tab) newExecution(parent context.Context, root *Block) (context.Context, *execution) {
	ctx, cancel := context.WithCancel(parent)
	exec := &execution{
		id:        uuid.New().String(),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}
	root.setExecution(exec)
	if root.Released() {
		// Released between scheduling and now: nothing may run.
		cancel()
	}
	return ctx, exec
}

// runRoot is the execution-context boundary: nothing escapes it.
func (t *Tab) runRoot(ctx context.Context, root *Block, exec *execution) {
	status := StatusCompleted
	defer func() {
		if r := recover(); r != nil {
			status = StatusFailed
			_ = t.report(root, blockError(root, fmt.Errorf("%w: %v", ErrHandlerPanic, r)))
		}
		exec.cancel()
		close(exec.done)
		t.recordExecution(root, exec, status)
	}()

	t.logger().Debug("root started",
		"tab_id", t.ID,
		"block_id", root.ID,
		"opcode", root.FullOpcode(),
		"execution_id", exec.id,
	)

	err := t.Run(ctx, root)
	switch {
	case err == nil:
	case isCancellation(ctx, err):
		status = StatusCancelled
	default:
		status = StatusFailed
		_ = t.report(root, blockError(root, err))
	}
}

func (t *Tab) recordExecution(root *Block, exec *execution, status ExecutionStatus) {
	duration := time.Since(exec.startedAt)
	t.logger().Debug("root finished",
		"tab_id", t.ID,
		"block_id", root.ID,
		"execution_id", exec.id,
		"status", status,
		"duration_ms", duration.Milliseconds(),
	)
	if t.rt.Metrics == nil {
		return
	}
	t.rt.Metrics.WriteExecution(ExecutionRecord{
		ExecutionID: exec.id,
		TabID:       t.ID,
		BlockID:     root.ID,
		Opcode:      root.FullOpcode(),
		Status:      status,
		StartedAt:   exec.startedAt,
		Duration:    duration,
	})
}

// Release tears the tab down: it cancels every root execution, releases the
// lock registry (running each lock's release listeners) and then releases
// every block. Only the first call has any effect.
func (t *Tab) Release() {
	t.releaseOnce.Do(func() {
		t.execMu.Lock()
		t.stopped = true
		t.execMu.Unlock()

		t.setState(TabReleased)
		for _, root := range t.Roots() {
			if exec := root.currentExecution(); exec != nil {
				exec.cancel()
			}
		}
		t.locks.Release()
		for _, b := range t.blocks {
			b.Release()
		}
		t.logger().Info("tab released", "tab_id", t.ID)
	})
}

// Wait blocks until every root execution has returned, ctx is done or
// timeout elapses. It reports whether all executions finished.
func (t *Tab) Wait(ctx context.Context, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.executions.Wait()
		close(done)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	case <-expired:
		return false
	}
}

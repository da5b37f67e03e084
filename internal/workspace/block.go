package workspace

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Well-known keys in a block's runtime values.
const (
	// ValueKey holds the last result of evaluating the block.
	ValueKey = "value"

	// ValueKeyLastChild holds the last value fetched from a block-reference input.
	ValueKeyLastChild = "last_child_value"
)

// OpcodeProcedureDefinition is the opcode of procedure-definition roots.
// These are scheduled before every other root when a tab loads.
const OpcodeProcedureDefinition = "procedures_definition"

// opcodeSeparator splits "extension_opcode" into its two parts.
const opcodeSeparator = "_"

// Field is a named field value. ReferenceID is set when the field points
// at another entity (a variable, a broadcast, a menu option).
type Field struct {
	Value       string `json:"value"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// Block is one node of a parsed workspace program.
//
// Structural data (opcode, links, fields, inputs) is fixed once the parser
// returns. Parent and Next are block IDs resolved through the owning Tab,
// so blocks never hold pointers to each other.
//
// Runtime values are guarded by the block's own mutex. A value missing on a
// block is looked up on its ancestors, which is how nested statements see
// loop counters and procedure arguments.
type Block struct {
	ID          string
	ExtensionID string
	Opcode      string
	ParentID    string
	NextID      string
	Shadow      bool
	TopLevel    bool
	Fields      map[string]Field
	Inputs      map[string]Input

	// Procedure signature, set on procedure definitions, prototypes and calls.
	ProcedureCode          string
	ProcedureArgumentIDs   []string
	ProcedureArgumentNames []string

	tab *Tab

	mu               sync.RWMutex
	values           map[string]any
	execution        *execution
	releaseListeners []func()
	released         bool
}

// execution is the cancellable task running a scheduled root.
type execution struct {
	id        string
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// ExecutionInfo is a read-only snapshot of a root's execution context.
type ExecutionInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
}

func newBlock(id string, tab *Tab) *Block {
	return &Block{
		ID:     id,
		Fields: make(map[string]Field),
		Inputs: make(map[string]Input),
		values: make(map[string]any),
		tab:    tab,
	}
}

// setOpcode splits a combined opcode at its first separator. Without a
// separator the whole string becomes the extension ID and the opcode is empty.
func (b *Block) setOpcode(combined string) {
	b.ExtensionID, b.Opcode, _ = strings.Cut(combined, opcodeSeparator)
}

// FullOpcode returns the combined "extension_opcode" form.
func (b *Block) FullOpcode() string {
	if b.Opcode == "" {
		return b.ExtensionID
	}
	return b.ExtensionID + opcodeSeparator + b.Opcode
}

// Tab returns the program that owns the block.
func (b *Block) Tab() *Tab {
	return b.tab
}

// Parent returns the enclosing block, or nil for a top-level block.
func (b *Block) Parent() *Block {
	if b.ParentID == "" {
		return nil
	}
	return b.tab.Block(b.ParentID)
}

// Next returns the following statement, or nil at the end of a chain.
func (b *Block) Next() *Block {
	if b.NextID == "" {
		return nil
	}
	return b.tab.Block(b.NextID)
}

// IsRoot reports whether the block can be scheduled on its own.
func (b *Block) IsRoot() bool {
	return b.TopLevel && !b.Shadow
}

// IsProcedureDefinition reports whether the block defines a callable procedure.
func (b *Block) IsProcedureDefinition() bool {
	return b.FullOpcode() == OpcodeProcedureDefinition
}

// Field returns a field by name.
func (b *Block) Field(name string) (Field, bool) {
	f, ok := b.Fields[name]
	return f, ok
}

// FieldValue returns a field's text value, or "" when the field is absent.
func (b *Block) FieldValue(name string) string {
	return b.Fields[name].Value
}

// InputBlock returns the block referenced by a block-reference input.
func (b *Block) InputBlock(name string) *Block {
	in, ok := b.Inputs[name].(BlockInput)
	if !ok || in.BlockID == "" {
		return nil
	}
	return b.tab.Block(in.BlockID)
}

// SetValue stores a runtime value on this block.
func (b *Block) SetValue(key string, value any) {
	b.mu.Lock()
	b.values[key] = value
	b.mu.Unlock()
}

// DeleteValue removes a runtime value from this block.
func (b *Block) DeleteValue(key string) {
	b.mu.Lock()
	delete(b.values, key)
	b.mu.Unlock()
}

// LocalValue returns a value stored on this block only.
func (b *Block) LocalValue(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, ok
}

// Value returns a runtime value from this block or its nearest ancestor.
func (b *Block) Value(key string) (any, bool) {
	// The hop limit guards against a corrupt document with a parent cycle.
	limit := 1
	if b.tab != nil {
		limit = len(b.tab.blocks) + 1
	}
	for cur := b; cur != nil && limit > 0; limit-- {
		if v, ok := cur.LocalValue(key); ok {
			return v, true
		}
		if cur.tab == nil {
			break
		}
		cur = cur.Parent()
	}
	return nil, false
}

// ValueKeys returns the keys stored on this block, sorted.
func (b *Block) ValueKeys() []string {
	b.mu.RLock()
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	b.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// AddReleaseListener registers fn to run when the block is released.
// If the block is already released fn runs immediately.
func (b *Block) AddReleaseListener(fn func()) {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		fn()
		return
	}
	b.releaseListeners = append(b.releaseListeners, fn)
	b.mu.Unlock()
}

// Released reports whether Release has been called.
func (b *Block) Released() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.released
}

// Release marks the block destroyed, cancels its execution context, runs
// its release listeners and then releases its parent, so releasing a nested
// block unwinds the root that owns it. Subsequent calls are no-ops.
func (b *Block) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	exec := b.execution
	listeners := b.releaseListeners
	b.releaseListeners = nil
	b.mu.Unlock()

	if exec != nil {
		exec.cancel()
	}
	for _, fn := range listeners {
		fn()
	}
	if parent := b.Parent(); parent != nil {
		parent.Release()
	}
}

func (b *Block) setExecution(e *execution) {
	b.mu.Lock()
	b.execution = e
	b.mu.Unlock()
}

func (b *Block) currentExecution() *execution {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.execution
}

// Execution describes the root's execution context, if it was scheduled.
func (b *Block) Execution() (ExecutionInfo, bool) {
	e := b.currentExecution()
	if e == nil {
		return ExecutionInfo{}, false
	}
	running := true
	select {
	case <-e.done:
		running = false
	default:
	}
	return ExecutionInfo{ID: e.id, StartedAt: e.startedAt, Running: running}, true
}

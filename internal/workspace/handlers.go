package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BlockKind tells the interpreter how a block participates in a chain.
type BlockKind int

const (
	// KindCommand is an ordinary statement; the chain continues with Next.
	KindCommand BlockKind = iota

	// KindHat starts a chain. The interpreter does not continue past a hat;
	// its handler re-enters the chain itself with HandleNext when triggered.
	KindHat

	// KindReporter computes a value.
	KindReporter

	// KindBoolean computes a true/false value.
	KindBoolean

	// KindConditional is a C-shaped statement that runs nested substacks.
	KindConditional
)

func (k BlockKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindHat:
		return "hat"
	case KindReporter:
		return "reporter"
	case KindBoolean:
		return "boolean"
	case KindConditional:
		return "conditional"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HandleFunc executes a block as a statement.
type HandleFunc func(ctx context.Context, b *Block) error

// EvaluateFunc computes a block's value.
type EvaluateFunc func(ctx context.Context, b *Block) (any, error)

// Handler is the binding for one opcode. Either function may be nil.
type Handler struct {
	Kind     BlockKind
	Handle   HandleFunc
	Evaluate EvaluateFunc
}

// Extension supplies a set of opcode bindings.
// Blocks is keyed by opcode without the extension prefix ("wait", not "control_wait").
type Extension interface {
	ID() string
	Blocks() map[string]Handler
}

// Handlers is the global opcode table, keyed by extension ID then opcode.
// It is populated at startup and read concurrently by every tab.
//
// Thread Safety: all methods are safe for concurrent use.
type Handlers struct {
	mu         sync.RWMutex
	extensions map[string]map[string]Handler
}

// NewHandlers creates an empty handler table.
func NewHandlers() *Handlers {
	return &Handlers{extensions: make(map[string]map[string]Handler)}
}

// Register adds every binding of an extension.
// Registering an opcode that is already bound returns ErrDuplicateOpcode
// and leaves the table unchanged.
func (h *Handlers) Register(ext Extension) error {
	id := ext.ID()
	if id == "" || strings.Contains(id, opcodeSeparator) {
		return fmt.Errorf("%w: invalid extension id %q", ErrUnknownExtension, id)
	}
	blocks := ext.Blocks()

	h.mu.Lock()
	defer h.mu.Unlock()

	existing := h.extensions[id]
	for opcode := range blocks {
		if _, dup := existing[opcode]; dup {
			return fmt.Errorf("%w: %s%s%s", ErrDuplicateOpcode, id, opcodeSeparator, opcode)
		}
	}
	if existing == nil {
		existing = make(map[string]Handler, len(blocks))
		h.extensions[id] = existing
	}
	for opcode, handler := range blocks {
		existing[opcode] = handler
	}
	return nil
}

// RegisterOpcode binds a single combined opcode such as "control_wait".
func (h *Handlers) RegisterOpcode(fullOpcode string, handler Handler) error {
	ext, opcode, _ := strings.Cut(fullOpcode, opcodeSeparator)
	return h.Register(singleExtension{id: ext, opcode: opcode, handler: handler})
}

// Lookup returns the binding for an extension opcode.
func (h *Handlers) Lookup(extensionID, opcode string) (Handler, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ext, ok := h.extensions[extensionID]
	if !ok {
		return Handler{}, fmt.Errorf("%w: %s", ErrUnknownExtension, extensionID)
	}
	handler, ok := ext[opcode]
	if !ok {
		return Handler{}, fmt.Errorf("%w: %s%s%s", ErrUnknownOpcode, extensionID, opcodeSeparator, opcode)
	}
	return handler, nil
}

// Extensions returns the registered extension IDs, sorted.
func (h *Handlers) Extensions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.extensions))
	for id := range h.extensions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Opcodes returns every registered combined opcode, sorted.
func (h *Handlers) Opcodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []string
	for id, ext := range h.extensions {
		for opcode := range ext {
			out = append(out, id+opcodeSeparator+opcode)
		}
	}
	sort.Strings(out)
	return out
}

type singleExtension struct {
	id      string
	opcode  string
	handler Handler
}

func (s singleExtension) ID() string { return s.id }

func (s singleExtension) Blocks() map[string]Handler {
	return map[string]Handler{s.opcode: s.handler}
}

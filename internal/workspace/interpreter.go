package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handle executes b as a statement and continues along its chain.
//
// A failing statement ends its chain only. Unresolved opcodes and handler
// failures are reported to the tab's notifier once, recorded against the
// running root (see Run) and swallowed, so an enclosing loop or hat carries
// on with its next iteration. A hat block terminates the chain after its own
// handler; it re-enters the chain with HandleNext when it is triggered.
//
// Cancellation of ctx and released blocks are returned without being
// reported: they must unwind every enclosing statement.
func (t *Tab) Handle(ctx context.Context, b *Block) error {
	for cur := b; cur != nil; cur = cur.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cur.Released() {
			return blockError(cur, ErrBlockReleased)
		}

		handler, err := t.lookup(cur)
		if err != nil {
			t.fail(ctx, cur, err)
			return nil
		}
		if handler.Handle == nil {
			t.fail(ctx, cur, blockError(cur, ErrNoExecutor))
			return nil
		}

		t.logger().Debug("handling block",
			"tab_id", t.ID,
			"block_id", cur.ID,
			"opcode", cur.FullOpcode(),
		)
		if err := t.invokeHandle(ctx, handler.Handle, cur); err != nil {
			if isCancellation(ctx, err) || errors.Is(err, ErrBlockReleased) {
				return err
			}
			t.fail(ctx, cur, blockError(cur, err))
			return nil
		}
		if handler.Kind == KindHat {
			return nil
		}
	}
	return nil
}

// fail reports a statement failure and records it on ctx's failure slot.
func (t *Tab) fail(ctx context.Context, b *Block, err error) {
	err = t.report(b, err)
	if f, ok := ctx.Value(failureKey{}).(*failure); ok {
		f.record(err)
	}
}

type failureKey struct{}

// failure holds the first statement failure seen while running a root.
type failure struct {
	mu  sync.Mutex
	err error
}

func (f *failure) record(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
}

func (f *failure) first() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Run executes root through HandleOrEvaluate and returns the first failure
// reported anywhere beneath it, even when the failing chain was swallowed
// by an enclosing loop or hat. Cancellation is returned as is.
func (t *Tab) Run(ctx context.Context, root *Block) error {
	f := &failure{}
	ctx = context.WithValue(ctx, failureKey{}, f)
	if err := t.HandleOrEvaluate(ctx, root); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return f.first()
}

// Evaluate computes b's value, stores it under ValueKey and returns it.
// Failures are reported and returned: a caller cannot continue without the value.
func (t *Tab) Evaluate(ctx context.Context, b *Block) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handler, err := t.lookup(b)
	if err != nil {
		return nil, t.report(b, err)
	}
	if handler.Evaluate == nil {
		return nil, t.report(b, blockError(b, ErrNoEvaluator))
	}

	value, err := t.invokeEvaluate(ctx, handler.Evaluate, b)
	if err != nil {
		if isCancellation(ctx, err) {
			return nil, err
		}
		return nil, t.report(b, blockError(b, err))
	}
	b.SetValue(ValueKey, value)
	return value, nil
}

// HandleOrEvaluate runs b as a statement when its opcode has a statement
// handler and evaluates it otherwise. Roots are scheduled through it.
func (t *Tab) HandleOrEvaluate(ctx context.Context, b *Block) error {
	handler, err := t.lookup(b)
	if err != nil {
		return t.report(b, err)
	}
	if handler.Handle != nil {
		return t.Handle(ctx, b)
	}
	_, err = t.Evaluate(ctx, b)
	return err
}

// HandleNext runs the chain that follows b. Hat handlers call it when triggered.
func (b *Block) HandleNext(ctx context.Context) error {
	next := b.Next()
	if next == nil {
		return nil
	}
	return b.tab.Handle(ctx, next)
}

// HandleSubstack runs the chain plugged into a C-shaped input such as
// SUBSTACK. An empty substack is not an error.
func (b *Block) HandleSubstack(ctx context.Context, name string) error {
	first := b.InputBlock(name)
	if first == nil {
		return nil
	}
	return b.tab.Handle(ctx, first)
}

// Evaluate computes this block's value through its tab.
func (b *Block) Evaluate(ctx context.Context) (any, error) {
	return b.tab.Evaluate(ctx, b)
}

func (t *Tab) lookup(b *Block) (Handler, error) {
	if t.rt.Handlers == nil {
		return Handler{}, blockError(b, fmt.Errorf("%w: %s", ErrUnknownExtension, b.ExtensionID))
	}
	h, err := t.rt.Handlers.Lookup(b.ExtensionID, b.Opcode)
	if err != nil {
		return Handler{}, blockError(b, err)
	}
	return h, nil
}

func (t *Tab) invokeHandle(ctx context.Context, fn HandleFunc, b *Block) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn(ctx, b)
}

func (t *Tab) invokeEvaluate(ctx context.Context, fn EvaluateFunc, b *Block) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn(ctx, b)
}

// isCancellation reports whether err is the result of ctx being cancelled
// rather than a failure of the block itself.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBlockReleased)
}

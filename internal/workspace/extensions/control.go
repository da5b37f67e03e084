package extensions

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// loopYield is the pause between iterations of an unbounded loop, so a
// forever block whose body never waits does not monopolise a CPU.
const loopYield = 10 * time.Millisecond

// IndexKey is the runtime value key holding a repeat loop's 1-based counter.
const IndexKey = "index"

// Control provides waits, loops and conditionals.
type Control struct{}

// ID implements workspace.Extension.
func (Control) ID() string { return "control" }

// Blocks implements workspace.Extension.
func (Control) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"wait":       {Kind: workspace.KindCommand, Handle: controlWait},
		"repeat":     {Kind: workspace.KindConditional, Handle: controlRepeat},
		"forever":    {Kind: workspace.KindConditional, Handle: controlForever},
		"if":         {Kind: workspace.KindConditional, Handle: controlIf},
		"if_else":    {Kind: workspace.KindConditional, Handle: controlIfElse},
		"wait_until": {Kind: workspace.KindCommand, Handle: controlWaitUntil},
	}
}

func controlWait(ctx context.Context, b *workspace.Block) error {
	seconds, err := b.InputFloat(ctx, "DURATION", 0)
	if err != nil {
		return err
	}
	return sleep(ctx, time.Duration(seconds*float64(time.Second)))
}

func controlRepeat(ctx context.Context, b *workspace.Block) error {
	times, err := b.InputInt(ctx, "TIMES", 0)
	if err != nil {
		return err
	}
	for i := 1; i <= times; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.SetValue(IndexKey, i)
		if err := b.HandleSubstack(ctx, "SUBSTACK"); err != nil {
			return err
		}
	}
	return nil
}

func controlForever(ctx context.Context, b *workspace.Block) error {
	for i := 1; ; i++ {
		b.SetValue(IndexKey, i)
		if err := b.HandleSubstack(ctx, "SUBSTACK"); err != nil {
			return err
		}
		if err := sleep(ctx, loopYield); err != nil {
			return err
		}
	}
}

func controlIf(ctx context.Context, b *workspace.Block) error {
	ok, err := b.InputBool(ctx, "CONDITION")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return b.HandleSubstack(ctx, "SUBSTACK")
}

func controlIfElse(ctx context.Context, b *workspace.Block) error {
	ok, err := b.InputBool(ctx, "CONDITION")
	if err != nil {
		return err
	}
	if ok {
		return b.HandleSubstack(ctx, "SUBSTACK")
	}
	return b.HandleSubstack(ctx, "SUBSTACK2")
}

// controlWaitUntil blocks until CONDITION holds. The condition is checked
// immediately and then on every tick of the tab's polling loop.
func controlWaitUntil(ctx context.Context, b *workspace.Block) error {
	ok, err := b.InputBool(ctx, "CONDITION")
	if err != nil || ok {
		return err
	}

	var condErr error
	cond := func() bool {
		held, err := b.InputBool(ctx, "CONDITION")
		if err != nil {
			condErr = err
			return true
		}
		return held
	}
	locks := b.Tab().Locks()
	lock := locks.ListenEvent(b, cond)
	defer locks.Unlisten(b)

	if !lock.Await(ctx, 0) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return workspace.ErrBlockReleased
	}
	return condErr
}

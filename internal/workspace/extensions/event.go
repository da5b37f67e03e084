package extensions

import (
	"context"
	"strings"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// BroadcastKey is the lock key a named broadcast is signalled on.
func BroadcastKey(name string) string {
	return "broadcast:" + strings.TrimSpace(name)
}

// Event provides chain-starting hats and broadcasts.
type Event struct{}

// ID implements workspace.Extension.
func (Event) ID() string { return "event" }

// Blocks implements workspace.Extension.
func (Event) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"whenflagclicked":       {Kind: workspace.KindHat, Handle: whenFlagClicked},
		"whenbroadcastreceived": {Kind: workspace.KindHat, Handle: whenBroadcastReceived},
		"broadcast":             {Kind: workspace.KindCommand, Handle: broadcast},
	}
}

// whenFlagClicked runs its chain once when the tab starts.
func whenFlagClicked(ctx context.Context, b *workspace.Block) error {
	return b.HandleNext(ctx)
}

// whenBroadcastReceived runs its chain every time the named broadcast is
// signalled, until the tab is released.
func whenBroadcastReceived(ctx context.Context, b *workspace.Block) error {
	name, err := b.MenuText(ctx, "BROADCAST_OPTION", "BROADCAST_OPTION", true)
	if err != nil {
		return err
	}
	lock := b.Tab().Locks().GetOrCreateLock(b, BroadcastKey(name), workspace.AnyValue())
	for lock.Await(ctx, 0) {
		if err := b.HandleNext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// broadcast signals every hat listening for the named broadcast.
func broadcast(ctx context.Context, b *workspace.Block) error {
	name, err := b.InputString(ctx, "BROADCAST_INPUT")
	if err != nil {
		return err
	}
	b.Tab().Locks().SignalAll(BroadcastKey(name), name)
	return nil
}

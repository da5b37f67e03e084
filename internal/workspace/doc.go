// Package workspace runs visual block programs ("workspaces") for the hub.
//
// A workspace document is parsed into a Tab: an arena of Blocks keyed by ID,
// linked through parent and next IDs. The Engine schedules every top-level,
// non-shadow block (a root) on its own goroutine with its own cancellable
// context. Each root's chain is interpreted by dispatching blocks to the
// opcode Handlers supplied by extensions:
//
//   - Handle runs a block as a statement and continues along its chain.
//   - Evaluate computes a block's value and caches it on the block.
//
// Roots coordinate through Locks held in the tab's LockRegistry: a handler
// awaits a named lock and another root (or the MQTT bridge, or the API)
// signals it. The registry also runs one polling loop per tab that turns
// EventConditions into signals.
//
// Reloading a document releases the old tab (cancelling its roots and
// releasing its locks) before the new one starts. Procedure definitions
// start first so calls made by other roots can find them.
//
// Usage:
//
//	handlers := workspace.NewHandlers()
//	_ = extensions.RegisterAll(handlers, deps)
//	engine := workspace.NewEngine(workspace.EngineOptions{
//	    Handlers: handlers,
//	    Config:   workspace.DefaultEngineConfig(),
//	})
//	defer engine.Close(ctx)
//	tab, err := engine.Reload(ctx, workspace.Document{ID: "kitchen", Content: data})
package workspace

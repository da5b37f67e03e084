package extensions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Filesystem starts chains when files appear under a sandbox directory.
type Filesystem struct {
	Root string
}

// ID implements workspace.Extension.
func (*Filesystem) ID() string { return "filesystem" }

// Blocks implements workspace.Extension.
func (f *Filesystem) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"whenfileexists": {Kind: workspace.KindHat, Handle: f.whenFileExists},
	}
}

// resolve maps a user path to a file under Root, rejecting paths that escape it.
func (f *Filesystem) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(f.Root, clean), nil
}

// whenFileExists runs its chain each time PATH goes from absent to present,
// including when it is already present at start.
func (f *Filesystem) whenFileExists(ctx context.Context, b *workspace.Block) error {
	path, err := b.InputString(ctx, "PATH")
	if err != nil {
		return err
	}
	full, err := f.resolve(path)
	if err != nil {
		return err
	}

	present := false
	appeared := func() bool {
		_, statErr := os.Stat(full)
		now := statErr == nil
		fire := now && !present
		present = now
		return fire
	}

	lock := b.Tab().Locks().ListenEvent(b, appeared)
	for lock.Await(ctx, 0) {
		b.SetValue(PathKey, full)
		if err := b.HandleNext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PathKey is the runtime value key holding the matched file path.
const PathKey = "path"

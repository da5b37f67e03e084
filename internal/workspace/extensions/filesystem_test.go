package extensions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilesystem_FileAppearingStartsChain(t *testing.T) {
	root := t.TempDir()
	h, rec := setup(t, Deps{FilesRoot: root})
	doc := `{"blocks": {
	  "hat": {"opcode": "filesystem_whenfileexists", "topLevel": true,
	          "inputs": {"PATH": [1, [10, "flags/ready"]]}, "next": "r"},
	  "r": {"opcode": "test_record", "parent": "hat", "inputs": {"VALUE": [1, [10, "seen"]]}}
	}}`
	_, tab := startEngine(t, doc, h)

	waitFor(t, time.Second, func() bool { return waitingOn(tab, "event:hat") == 1 })
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("chain ran before the file existed")
	}

	path := filepath.Join(root, "flags", "ready")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("1"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return rec.count() == 1 })

	// Still present: no further runs until it disappears and comes back.
	time.Sleep(30 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("chain ran %d times while the file stayed present, want 1", rec.count())
	}
	if v, _ := tab.Block("hat").LocalValue(PathKey); v != path {
		t.Errorf("path value = %v, want %s", v, path)
	}
}

func TestFilesystem_RejectsEscapingPaths(t *testing.T) {
	for _, p := range []string{"../etc/passwd", "/etc/passwd"} {
		h, _ := setup(t, Deps{FilesRoot: t.TempDir()})
		doc := `{"blocks": {"hat": {"opcode": "filesystem_whenfileexists", "topLevel": true,
		  "inputs": {"PATH": [1, [10, "` + p + `"]]}}}}`
		tab := newTab(t, doc, h, nil)

		err := tab.Run(context.Background(), tab.Block("hat"))
		if !errors.Is(err, ErrInvalidPath) {
			t.Errorf("%s: Run() error = %v, want %v", p, err, ErrInvalidPath)
		}
	}
}

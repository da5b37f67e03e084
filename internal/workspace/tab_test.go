package workspace

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

const procedureTabDocument = `{"blocks": {
  "def": {"opcode": "procedures_definition", "topLevel": true, "next": "body"},
  "body": {"opcode": "test_capture", "parent": "def"}
}}`

func TestProcedure_CallRestoresArguments(t *testing.T) {
	var captured atomic.Value
	handlers := newTestHandlers(t, map[string]Handler{
		"capture": {Kind: KindCommand, Handle: func(_ context.Context, b *Block) error {
			v, _ := b.Value(ArgumentValueKey("message"))
			captured.Store(v)
			return nil
		}},
	})
	tab := parseTestTab(t, procedureTabDocument, Runtime{Handlers: handlers})
	def := tab.Block("def")
	def.SetValue(ArgumentValueKey("loud"), "outer")
	p := tab.DefineProcedure("announce %s %b", def, []string{"a1", "a2"}, []string{"message", "loud"})

	if err := p.Call(context.Background(), map[string]any{"message": "hi", "loud": "inner"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := captured.Load(); got != "hi" {
		t.Errorf("bound message = %v, want hi", got)
	}
	if v, ok := def.LocalValue(ArgumentValueKey("message")); ok {
		t.Errorf("message still bound after call: %v", v)
	}
	if v, _ := def.LocalValue(ArgumentValueKey("loud")); v != "outer" {
		t.Errorf("loud = %v, want outer restored", v)
	}
}

func TestProcedure_CallGivesUpWhenContextEnds(t *testing.T) {
	var ran atomic.Int32
	handlers := newTestHandlers(t, map[string]Handler{
		"capture": {Kind: KindCommand, Handle: func(context.Context, *Block) error {
			ran.Add(1)
			return nil
		}},
	})
	tab := parseTestTab(t, procedureTabDocument, Runtime{Handlers: handlers})
	p := tab.DefineProcedure("busy", tab.Block("def"), nil, nil)

	// Another root holds the procedure.
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Call(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if n := ran.Load(); n != 0 {
		t.Errorf("body ran %d times, want 0", n)
	}
}

func TestTab_NoExecutionStartsAfterRelease(t *testing.T) {
	var ran atomic.Int32
	handlers := newTestHandlers(t, map[string]Handler{
		"run": {Kind: KindCommand, Handle: func(context.Context, *Block) error {
			ran.Add(1)
			return nil
		}},
	})
	doc := `{"blocks": {"root": {"opcode": "test_run", "topLevel": true}}}`
	tab := parseTestTab(t, doc, Runtime{Handlers: handlers})
	root := tab.Block("root")
	tab.Release()

	select {
	case <-tab.start(context.Background(), root):
	case <-time.After(time.Second):
		t.Fatal("start() on a released tab should return a closed channel")
	}
	tab.runOnce(context.Background(), root)

	if !tab.Wait(context.Background(), time.Second) {
		t.Error("Wait() = false, want true")
	}
	if n := ran.Load(); n != 0 {
		t.Errorf("root ran %d times after release, want 0", n)
	}
}

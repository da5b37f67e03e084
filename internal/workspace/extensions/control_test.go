package extensions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

func TestControl_RepeatRunsSubstack(t *testing.T) {
	h, rec := setup(t, Deps{})
	doc := `{"blocks": {
	  "loop": {"opcode": "control_repeat", "topLevel": true,
	           "inputs": {"TIMES": [1, [6, "3"]], "SUBSTACK": [2, "body"]}},
	  "body": {"opcode": "test_record", "parent": "loop", "inputs": {"VALUE": [1, [10, "tick"]]}}
	}}`
	tab := newTab(t, doc, h, nil)

	if err := tab.Run(context.Background(), tab.Block("loop")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := rec.count(); got != 3 {
		t.Errorf("body ran %d times, want 3", got)
	}
	if v, _ := tab.Block("loop").LocalValue(IndexKey); v != 3 {
		t.Errorf("index = %v, want 3", v)
	}
}

func TestControl_IfElse(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"condition holds", "5", "3", "then"},
		{"condition fails", "1", "3", "else"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, rec := setup(t, Deps{})
			doc := `{"blocks": {
			  "if": {"opcode": "control_if_else", "topLevel": true,
			         "inputs": {"CONDITION": [2, "cond"], "SUBSTACK": [2, "then"], "SUBSTACK2": [2, "else"]}},
			  "cond": {"opcode": "operator_gt", "parent": "if",
			           "inputs": {"OPERAND1": [1, [10, "` + tt.a + `"]], "OPERAND2": [1, [10, "` + tt.b + `"]]}},
			  "then": {"opcode": "test_record", "parent": "if", "inputs": {"VALUE": [1, [10, "then"]]}},
			  "else": {"opcode": "test_record", "parent": "if", "inputs": {"VALUE": [1, [10, "else"]]}}
			}}`
			tab := newTab(t, doc, h, nil)

			if err := tab.Run(context.Background(), tab.Block("if")); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			got := rec.all()
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("recorded %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestControl_IfWithoutConditionSkipsBody(t *testing.T) {
	h, rec := setup(t, Deps{})
	doc := `{"blocks": {
	  "if": {"opcode": "control_if", "topLevel": true, "inputs": {"SUBSTACK": [2, "body"]}, "next": "after"},
	  "body": {"opcode": "test_record", "parent": "if", "inputs": {"VALUE": [1, [10, "body"]]}},
	  "after": {"opcode": "test_record", "parent": "if", "inputs": {"VALUE": [1, [10, "after"]]}}
	}}`
	tab := newTab(t, doc, h, nil)

	if err := tab.Run(context.Background(), tab.Block("if")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := rec.all(); len(got) != 1 || got[0] != "after" {
		t.Errorf("recorded %v, want [after]", got)
	}
}

func TestControl_WaitStopsOnCancel(t *testing.T) {
	h, _ := setup(t, Deps{})
	doc := `{"blocks": {"w": {"opcode": "control_wait", "topLevel": true, "inputs": {"DURATION": [1, [5, "10"]]}}}}`
	tab := newTab(t, doc, h, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := tab.Run(ctx, tab.Block("w"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("wait ignored cancellation, took %v", elapsed)
	}
}

func TestControl_WaitUntilPollsCondition(t *testing.T) {
	store := newMemoryStore()
	h, rec := setup(t, Deps{Variables: store})
	doc := `{"blocks": {
	  "wait": {"opcode": "control_wait_until", "topLevel": true, "inputs": {"CONDITION": [2, "cond"]}, "next": "done"},
	  "cond": {"opcode": "operator_equals", "parent": "wait",
	           "inputs": {"OPERAND1": [3, "var", [10, ""]], "OPERAND2": [1, [10, "1"]]}},
	  "var": {"opcode": "data_variable", "parent": "cond", "fields": {"VARIABLE": ["ready", "v-ready"]}},
	  "done": {"opcode": "test_record", "parent": "wait", "inputs": {"VALUE": [1, [10, "done"]]}}
	}}`
	tab := newTab(t, doc, h, store)

	errc := make(chan error, 1)
	go func() { errc <- tab.Run(context.Background(), tab.Block("wait")) }()

	waitFor(t, time.Second, func() bool { return tab.Locks().Watching(tab.Block("wait")) })
	if rec.count() != 0 {
		t.Fatal("chain continued before the condition held")
	}
	_ = store.SetVariable(context.Background(), "v-ready", "ready", 1.0)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait_until did not finish after the condition held")
	}
	if rec.count() != 1 {
		t.Errorf("recorded %d values, want 1", rec.count())
	}
	if tab.Locks().Watching(tab.Block("wait")) {
		t.Error("condition still registered after wait_until returned")
	}
}

func TestControl_ForeverStopsOnRelease(t *testing.T) {
	h, rec := setup(t, Deps{})
	doc := `{"blocks": {
	  "loop": {"opcode": "control_forever", "topLevel": true, "inputs": {"SUBSTACK": [2, "body"]}},
	  "body": {"opcode": "test_record", "parent": "loop", "inputs": {"VALUE": [1, [10, "x"]]}}
	}}`
	_, tab := startEngine(t, doc, h)

	waitFor(t, time.Second, func() bool { return rec.count() >= 2 })
	tab.Release()
	if !tab.Wait(context.Background(), time.Second) {
		t.Fatal("forever loop did not stop after release")
	}
}

func TestControl_LoopsSurviveFailingStatement(t *testing.T) {
	h, rec := setup(t, Deps{})
	doc := `{"blocks": {
	  "loop": {"opcode": "control_repeat", "topLevel": true,
	           "inputs": {"TIMES": [1, [6, "3"]], "SUBSTACK": [2, "body"]}},
	  "body": {"opcode": "test_record", "parent": "loop", "next": "bad", "inputs": {"VALUE": [1, [10, "tick"]]}},
	  "bad": {"opcode": "test_missing", "parent": "body"}
	}}`
	tab := newTab(t, doc, h, nil)

	err := tab.Run(context.Background(), tab.Block("loop"))
	if !errors.Is(err, workspace.ErrUnknownOpcode) {
		t.Errorf("Run() error = %v, want %v", err, workspace.ErrUnknownOpcode)
	}
	if got := rec.count(); got != 3 {
		t.Errorf("body ran %d times, want 3", got)
	}
}

func TestControl_ForeverSurvivesFailingStatement(t *testing.T) {
	h, rec := setup(t, Deps{})
	doc := `{"blocks": {
	  "loop": {"opcode": "control_forever", "topLevel": true, "inputs": {"SUBSTACK": [2, "body"]}},
	  "body": {"opcode": "test_record", "parent": "loop", "next": "bad", "inputs": {"VALUE": [1, [10, "tick"]]}},
	  "bad": {"opcode": "test_missing", "parent": "body"}
	}}`
	tab := newTab(t, doc, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tab.Run(ctx, tab.Block("loop")) }()

	waitFor(t, time.Second, func() bool { return rec.count() >= 3 })
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("forever did not stop on cancel")
	}
}

package extensions

import (
	"context"
	"errors"
	"testing"
)

func TestTelemetry_WritePoint(t *testing.T) {
	points := &mockPoints{}
	h, _ := setup(t, Deps{Points: points})
	doc := `{"blocks": {"w": {"opcode": "telemetry_writepoint", "topLevel": true,
	  "inputs": {"MEASUREMENT": [1, [10, "boiler_temp"]], "VALUE": [1, [4, "61.5"]]}}}}`
	tab := newTab(t, doc, h, nil)

	if err := tab.Run(context.Background(), tab.Block("w")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(points.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(points.points))
	}
	p := points.points[0]
	if p.measurement != "boiler_temp" {
		t.Errorf("measurement = %q", p.measurement)
	}
	if p.fields["value"] != 61.5 {
		t.Errorf("fields = %v", p.fields)
	}
	if p.tags["tab_id"] != "tab" || p.tags["block_id"] != "w" {
		t.Errorf("tags = %v", p.tags)
	}
}

func TestTelemetry_Errors(t *testing.T) {
	tests := []struct {
		name   string
		deps   Deps
		inputs string
		want   error
	}{
		{"no writer", Deps{}, `"MEASUREMENT": [1, [10, "m"]]`, ErrTelemetryUnavailable},
		{"unset measurement", Deps{Points: &mockPoints{}}, `"MEASUREMENT": [1, [10, "-"]]`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := setup(t, tt.deps)
			doc := `{"blocks": {"w": {"opcode": "telemetry_writepoint", "topLevel": true, "inputs": {` + tt.inputs + `}}}}`
			tab := newTab(t, doc, h, nil)

			err := tab.Run(context.Background(), tab.Block("w"))
			if err == nil {
				t.Fatal("Run() error = nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}
}

package extensions

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Data provides variable reporters and setters backed by a variable store.
type Data struct {
	Variables VariableStore
}

// ID implements workspace.Extension.
func (*Data) ID() string { return "data" }

// Blocks implements workspace.Extension.
func (d *Data) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"variable":         {Kind: workspace.KindReporter, Evaluate: d.variable},
		"setvariableto":    {Kind: workspace.KindCommand, Handle: d.setVariable},
		"changevariableby": {Kind: workspace.KindCommand, Handle: d.changeVariable},
	}
}

// variableRef returns the ID and name of the VARIABLE field.
// Documents without variable IDs fall back to the name.
func variableRef(b *workspace.Block) (id, name string) {
	f, _ := b.Field("VARIABLE")
	id = f.ReferenceID
	if id == "" {
		id = f.Value
	}
	return id, f.Value
}

func (d *Data) variable(ctx context.Context, b *workspace.Block) (any, error) {
	if d.Variables == nil {
		return nil, ErrVariablesUnavailable
	}
	id, name := variableRef(b)
	v, err := d.Variables.GetVariable(ctx, id)
	if errors.Is(err, workspace.ErrVariableNotFound) {
		// An unset variable reads as zero.
		return float64(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading variable %q: %w", name, err)
	}
	return v, nil
}

func (d *Data) setVariable(ctx context.Context, b *workspace.Block) error {
	if d.Variables == nil {
		return ErrVariablesUnavailable
	}
	id, name := variableRef(b)
	v, err := b.Input(ctx, "VALUE", true)
	if err != nil {
		return err
	}
	return d.Variables.SetVariable(ctx, id, name, v)
}

func (d *Data) changeVariable(ctx context.Context, b *workspace.Block) error {
	if d.Variables == nil {
		return ErrVariablesUnavailable
	}
	id, name := variableRef(b)
	delta, err := b.InputFloat(ctx, "VALUE", 0)
	if err != nil {
		return err
	}
	current, err := d.variable(ctx, b)
	if err != nil {
		return err
	}
	return d.Variables.SetVariable(ctx, id, name, workspace.ToFloat(current, 0)+delta)
}

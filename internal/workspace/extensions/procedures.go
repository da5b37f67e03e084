package extensions

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
)

// Procedures provides custom block definitions and calls.
type Procedures struct{}

// ID implements workspace.Extension.
func (Procedures) ID() string { return "procedures" }

// Blocks implements workspace.Extension.
func (Procedures) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"definition": {Kind: workspace.KindHat, Handle: defineProcedure},
		"prototype":  {Kind: workspace.KindReporter, Evaluate: procedurePrototype},
		"call":       {Kind: workspace.KindCommand, Handle: callProcedure},
	}
}

// defineProcedure registers the definition under its prototype's code.
// The body runs only when the procedure is called.
func defineProcedure(_ context.Context, b *workspace.Block) error {
	proto := b.InputBlock("custom_block")
	if proto == nil || proto.ProcedureCode == "" {
		return ErrMissingPrototype
	}
	b.Tab().DefineProcedure(proto.ProcedureCode, b, proto.ProcedureArgumentIDs, proto.ProcedureArgumentNames)
	return nil
}

func procedurePrototype(_ context.Context, b *workspace.Block) (any, error) {
	return b.ProcedureCode, nil
}

// callProcedure evaluates the call's arguments and runs the procedure body.
// Arguments are matched to the definition by argument ID.
func callProcedure(ctx context.Context, b *workspace.Block) error {
	proc, err := b.Tab().Procedure(b.ProcedureCode)
	if err != nil {
		return err
	}

	args := make(map[string]any, len(b.ProcedureArgumentIDs))
	for i, argID := range b.ProcedureArgumentIDs {
		name := argumentName(proc, argID, i)
		if !b.HasInput(argID) {
			args[name] = ""
			continue
		}
		v, err := b.Input(ctx, argID, true)
		if err != nil {
			return fmt.Errorf("argument %s of %q: %w", name, proc.Code, err)
		}
		args[name] = v
	}
	return proc.Call(ctx, args)
}

// argumentName maps a call's argument ID to the definition's argument name.
func argumentName(proc *workspace.Procedure, argID string, pos int) string {
	for i, id := range proc.ArgumentIDs {
		if id == argID && i < len(proc.ArgumentNames) {
			return proc.ArgumentNames[i]
		}
	}
	if pos < len(proc.ArgumentNames) {
		return proc.ArgumentNames[pos]
	}
	return argID
}

// Arguments provides the reporters that read procedure arguments.
type Arguments struct{}

// ID implements workspace.Extension.
func (Arguments) ID() string { return "argument" }

// Blocks implements workspace.Extension.
func (Arguments) Blocks() map[string]workspace.Handler {
	return map[string]workspace.Handler{
		"reporter_string_number": {Kind: workspace.KindReporter, Evaluate: argumentValue},
		"reporter_boolean": {Kind: workspace.KindBoolean, Evaluate: func(ctx context.Context, b *workspace.Block) (any, error) {
			v, err := argumentValue(ctx, b)
			if err != nil {
				return false, err
			}
			return workspace.ToBool(v), nil
		}},
	}
}

// argumentValue reads the named argument bound on the enclosing definition.
// Outside a call the argument is empty.
func argumentValue(_ context.Context, b *workspace.Block) (any, error) {
	name := b.FieldValue("VALUE")
	if v, ok := b.Value(workspace.ArgumentValueKey(name)); ok {
		return v, nil
	}
	return "", nil
}

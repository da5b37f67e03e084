package workspace

import (
	"errors"
	"fmt"
)

// Domain errors for the workspace package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, workspace.ErrTabNotFound) {
//	    // handle not found case
//	}
var (
	// ErrTabNotFound is returned when no tab is loaded for a document ID.
	ErrTabNotFound = errors.New("workspace: tab not found")

	// ErrTabReleased is returned when operating on a tab that has been torn down.
	ErrTabReleased = errors.New("workspace: tab released")

	// ErrEngineClosed is returned when the engine has been shut down.
	ErrEngineClosed = errors.New("workspace: engine closed")

	// ErrInvalidDocument is returned when a workspace document cannot be parsed.
	ErrInvalidDocument = errors.New("workspace: invalid document")

	// ErrDocumentNotFound is returned when a stored document does not exist.
	ErrDocumentNotFound = errors.New("workspace: document not found")

	// ErrUnknownExtension is returned when no extension is registered for a block.
	ErrUnknownExtension = errors.New("workspace: unknown extension")

	// ErrUnknownOpcode is returned when the extension has no binding for the opcode.
	ErrUnknownOpcode = errors.New("workspace: unknown opcode")

	// ErrDuplicateOpcode is returned when two extensions bind the same opcode.
	ErrDuplicateOpcode = errors.New("workspace: opcode already registered")

	// ErrNoExecutor is returned when a block is run as a statement but only evaluates.
	ErrNoExecutor = errors.New("workspace: opcode has no statement handler")

	// ErrNoEvaluator is returned when a block is evaluated but has no evaluate handler.
	ErrNoEvaluator = errors.New("workspace: opcode has no evaluate handler")

	// ErrInputNotFound is returned when a block has no input with the requested name.
	ErrInputNotFound = errors.New("workspace: input not found")

	// ErrMenuValueRequired is returned when a required menu resolves to empty text.
	ErrMenuValueRequired = errors.New("workspace: menu value required")

	// ErrInvalidMenuValue is returned when a menu value is not one of the accepted options.
	ErrInvalidMenuValue = errors.New("workspace: invalid menu value")

	// ErrMalformedPrimitive is returned when an input tuple has an unknown shape.
	ErrMalformedPrimitive = errors.New("workspace: malformed primitive")

	// ErrProcedureNotFound is returned when a call references an undefined procedure.
	ErrProcedureNotFound = errors.New("workspace: procedure not found")

	// ErrBlockReleased is returned when running a block that has been released.
	ErrBlockReleased = errors.New("workspace: block released")

	// ErrVariableNotFound is returned when the variable store has no such variable.
	ErrVariableNotFound = errors.New("workspace: variable not found")

	// ErrHandlerPanic wraps a panic recovered from extension code.
	ErrHandlerPanic = errors.New("workspace: handler panic")
)

// BlockError ties a failure to the block that produced it.
// It unwraps to the underlying cause so errors.Is works with the sentinels above.
type BlockError struct {
	TabID   string
	BlockID string
	Opcode  string
	Err     error

	// reported is set once the error has been sent to the notifier, so
	// re-thrown evaluation failures are only surfaced once.
	reported bool
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %s (%s) in tab %s: %v", e.BlockID, e.Opcode, e.TabID, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// blockError wraps err with the identity of b unless it already carries one.
func blockError(b *Block, err error) error {
	if err == nil {
		return nil
	}
	var be *BlockError
	if errors.As(err, &be) {
		return err
	}
	tabID := ""
	if b.tab != nil {
		tabID = b.tab.ID
	}
	return &BlockError{TabID: tabID, BlockID: b.ID, Opcode: b.FullOpcode(), Err: err}
}

package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Variable is a stored workspace variable.
type Variable struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLiteVariableRepository stores variables in SQLite. Values are kept as
// JSON so numbers, text and booleans round-trip with their type.
//
// It implements VariableStore, VariableWriter and EntityResolver (a menu
// naming a variable resolves to the *Variable).
type SQLiteVariableRepository struct {
	db *sql.DB
}

// NewSQLiteVariableRepository creates a new SQLite-backed variable store.
func NewSQLiteVariableRepository(db *sql.DB) *SQLiteVariableRepository {
	return &SQLiteVariableRepository{db: db}
}

// Variable retrieves a variable by ID.
func (r *SQLiteVariableRepository) Variable(ctx context.Context, id string) (*Variable, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, value, updated_at FROM workspace_variables WHERE id = ?`, id)
	v, err := scanVariable(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, id)
		}
		return nil, fmt.Errorf("querying variable: %w", err)
	}
	return v, nil
}

// GetVariable implements VariableStore.
func (r *SQLiteVariableRepository) GetVariable(ctx context.Context, id string) (any, error) {
	v, err := r.Variable(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.Value, nil
}

// SetVariable implements VariableWriter. The variable is created on first write.
func (r *SQLiteVariableRepository) SetVariable(ctx context.Context, id, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling variable %q: %w", id, err)
	}
	query := `
		INSERT INTO workspace_variables (id, name, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN workspace_variables.name ELSE excluded.name END,
			value = excluded.value,
			updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, id, name, string(encoded), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving variable: %w", err)
	}
	return nil
}

// ResolveEntity implements EntityResolver.
func (r *SQLiteVariableRepository) ResolveEntity(ctx context.Context, id string) (any, error) {
	return r.Variable(ctx, id)
}

// ListVariables retrieves every variable ordered by name.
func (r *SQLiteVariableRepository) ListVariables(ctx context.Context) ([]Variable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, value, updated_at FROM workspace_variables ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying variables: %w", err)
	}
	defer rows.Close()

	var vars []Variable
	for rows.Next() {
		v, scanErr := scanVariable(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning variable: %w", scanErr)
		}
		vars = append(vars, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variables: %w", err)
	}
	return vars, nil
}

func scanVariable(scanner rowScanner) (*Variable, error) {
	var v Variable
	var value, updatedAt string
	if err := scanner.Scan(&v.ID, &v.Name, &value, &updatedAt); err != nil {
		return nil, err
	}
	if value != "" {
		if err := json.Unmarshal([]byte(value), &v.Value); err != nil {
			// Written outside the engine: keep the raw text.
			v.Value = value
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		v.UpdatedAt = t
	}
	return &v, nil
}

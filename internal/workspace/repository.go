package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DocumentRepository stores workspace documents.
// This abstraction allows different implementations (SQLite, mock, etc.).
type DocumentRepository interface {
	List(ctx context.Context) ([]Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id string) error
}

// documentColumns is the SELECT column list for document queries.
const documentColumns = `id, name, content, created_at, updated_at`

// SQLiteDocumentRepository implements DocumentRepository using SQLite.
type SQLiteDocumentRepository struct {
	db *sql.DB
}

// NewSQLiteDocumentRepository creates a new SQLite-backed document store.
func NewSQLiteDocumentRepository(db *sql.DB) *SQLiteDocumentRepository {
	return &SQLiteDocumentRepository{db: db}
}

// List retrieves every document ordered by name then ID.
func (r *SQLiteDocumentRepository) List(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM workspace_tabs ORDER BY name, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying workspace documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, scanErr := scanDocument(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning workspace document: %w", scanErr)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workspace documents: %w", err)
	}
	return docs, nil
}

// Get retrieves a document by ID.
func (r *SQLiteDocumentRepository) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM workspace_tabs WHERE id = ?`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("querying workspace document: %w", err)
	}
	return doc, nil
}

// Save inserts or replaces a document. CreatedAt is kept on update.
func (r *SQLiteDocumentRepository) Save(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := `
		INSERT INTO workspace_tabs (id, name, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			content = excluded.content,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Name,
		string(doc.Content),
		doc.CreatedAt.Format(time.RFC3339),
		doc.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving workspace document: %w", err)
	}
	return nil
}

// Delete removes a document by ID.
func (r *SQLiteDocumentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workspace_tabs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting workspace document: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(scanner rowScanner) (*Document, error) {
	var doc Document
	var content, createdAt, updatedAt string
	if err := scanner.Scan(&doc.ID, &doc.Name, &content, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Content = []byte(content)
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		doc.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		doc.UpdatedAt = t
	}
	return &doc, nil
}

// document_repository.go implements DocumentRepository, the registry of
// document metadata (sensitivity, embargo, approval state, content location)
// consumed by the preview and audit services.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docshield/docshield/internal/db/models"
)

const documentColumns = `id, collection, slug, title, sensitivity, embargo_until, approval_state,
	approved_by, approved_at, content_key, content_type, content_encrypted, created_at, updated_at`

// DocumentRepository handles document metadata database operations
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// GetByID returns a document by id, or nil if none exists
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	err := r.db.GetContext(ctx, &d, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &d, nil
}

// GetByCollectionSlug returns a document by its address, or nil if none exists
func (r *DocumentRepository) GetByCollectionSlug(ctx context.Context, collection, slug string) (*models.Document, error) {
	var d models.Document
	err := r.db.GetContext(ctx, &d,
		`SELECT `+documentColumns+` FROM documents WHERE collection = $1 AND slug = $2`, collection, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &d, nil
}

// Create inserts a new document, assigning its id and timestamps
func (r *DocumentRepository) Create(ctx context.Context, d *models.Document) error {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (:id, :collection, :slug, :title, :sensitivity, :embargo_until, :approval_state,
			:approved_by, :approved_at, :content_key, :content_type, :content_encrypted, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// UpdateMetadata saves title, sensitivity, embargo and approval fields
func (r *DocumentRepository) UpdateMetadata(ctx context.Context, d *models.Document) error {
	d.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE documents
		SET title = :title, sensitivity = :sensitivity, embargo_until = :embargo_until,
			approval_state = :approval_state, approved_by = :approved_by, approved_at = :approved_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, d)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return expectOneRow(res, "document", d.ID)
}

// SetContent records where the latest preview body is stored
func (r *DocumentRepository) SetContent(ctx context.Context, id, key, contentType string, encrypted bool) error {
	query := `
		UPDATE documents
		SET content_key = $2, content_type = $3, content_encrypted = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, key, contentType, encrypted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set document content: %w", err)
	}
	return expectOneRow(res, "document", id)
}

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("not found")

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

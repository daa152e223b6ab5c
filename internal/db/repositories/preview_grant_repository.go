// preview_grant_repository.go implements PreviewGrantRepository. The view
// counter is only ever advanced by ConsumeView, a single conditional UPDATE,
// so concurrent validations can never push a grant past its view limit.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/docshield/docshield/internal/db/models"
)

const grantColumns = `token, document_id, collection, slug, issued_by, issued_at, expires_at,
	max_views, view_count, ip_allowlist, sensitivity_at_issue`

// PreviewGrantRepository handles preview grant database operations
type PreviewGrantRepository struct {
	db *sqlx.DB
}

// NewPreviewGrantRepository creates a new preview grant repository
func NewPreviewGrantRepository(db *sqlx.DB) *PreviewGrantRepository {
	return &PreviewGrantRepository{db: db}
}

// Create inserts a new grant
func (r *PreviewGrantRepository) Create(ctx context.Context, g *models.PreviewGrant) error {
	query := `
		INSERT INTO preview_grants (` + grantColumns + `)
		VALUES (:token, :document_id, :collection, :slug, :issued_by, :issued_at, :expires_at,
			:max_views, :view_count, :ip_allowlist, :sensitivity_at_issue)
	`
	if _, err := r.db.NamedExecContext(ctx, query, g); err != nil {
		return fmt.Errorf("failed to create preview grant: %w", err)
	}
	return nil
}

// GetByToken returns the grant for token, or nil if none exists
func (r *PreviewGrantRepository) GetByToken(ctx context.Context, token string) (*models.PreviewGrant, error) {
	var g models.PreviewGrant
	err := r.db.GetContext(ctx, &g, `SELECT `+grantColumns+` FROM preview_grants WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview grant: %w", err)
	}
	return &g, nil
}

// ConsumeView atomically records one view if the grant is still valid at now.
// It returns the updated grant, or nil when the grant is expired, exhausted
// or unknown. IP checks happen before this call; they do not change state.
func (r *PreviewGrantRepository) ConsumeView(ctx context.Context, token string, now time.Time) (*models.PreviewGrant, error) {
	query := `
		UPDATE preview_grants
		SET view_count = view_count + 1
		WHERE token = $1
		  AND expires_at > $2
		  AND (max_views IS NULL OR view_count < max_views)
		RETURNING ` + grantColumns

	var g models.PreviewGrant
	err := r.db.GetContext(ctx, &g, query, token, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume preview view: %w", err)
	}
	return &g, nil
}

// ListActiveByDocument returns grants for a document that are neither expired
// nor exhausted at now, newest first
func (r *PreviewGrantRepository) ListActiveByDocument(ctx context.Context, documentID string, now time.Time) ([]*models.PreviewGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM preview_grants
		WHERE document_id = $1
		  AND expires_at > $2
		  AND (max_views IS NULL OR view_count < max_views)
		ORDER BY issued_at DESC
	`
	grants := make([]*models.PreviewGrant, 0)
	if err := r.db.SelectContext(ctx, &grants, query, documentID, now.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list active preview grants: %w", err)
	}
	return grants, nil
}

package preview

import (
	"errors"
	"fmt"

	"github.com/docshield/docshield/internal/db/models"
)

var (
	// ErrInvalidOverride is returned when a requested expiry, view limit or
	// allowlist entry is malformed. Overrides that are merely too generous
	// are clamped instead.
	ErrInvalidOverride = errors.New("invalid preview override")
	// ErrIPAllowlistRequired is returned when the policy requires an IP
	// allowlist, none was supplied, and the requester's address is unknown.
	ErrIPAllowlistRequired = errors.New("an ip allowlist is required for this document")
	// ErrTransient wraps store failures during validation. No definitive
	// rejection reason is known; the caller should retry.
	ErrTransient = errors.New("preview store temporarily unavailable")
	// ErrContentUnavailable is returned when a grant is valid but the
	// document has no preview body to serve.
	ErrContentUnavailable = errors.New("preview content unavailable")
)

// ApprovalRequiredError is returned when the policy requires approval and
// the document has not been approved.
type ApprovalRequiredError struct {
	DocumentID string
	State      models.ApprovalState
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("document %s requires approval before preview (state: %s)", e.DocumentID, e.State)
}

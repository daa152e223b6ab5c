// Package preview issues and validates preview grants: bearer tokens that
// give time- and view-limited access to one unpublished document.
//
// Issuance applies the document's sensitivity policy. Requests may shorten
// expiry, lower the view cap or add an IP allowlist, but never loosen what
// the policy sets. Validation is the only path that consumes a view, and the
// consume step is a single conditional update in the store so concurrent
// validations of a one-view grant produce exactly one success.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/docshield/docshield/internal/content"
	"github.com/docshield/docshield/internal/crypto"
	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/internal/policy"
	"github.com/docshield/docshield/internal/telemetry"
)

// DefaultTokenPrefix marks docshield preview tokens in logs and secret scanners.
const DefaultTokenPrefix = "dspv_"

// Reason explains why a token did not validate.
type Reason string

const (
	ReasonInvalidToken     Reason = "invalid_token"
	ReasonExpired          Reason = "expired"
	ReasonMaxViewsExceeded Reason = "max_views_exceeded"
	ReasonIPNotAllowed     Reason = "ip_not_allowed"
)

// GrantStore persists grants. ConsumeView must increment the view count only
// when the grant is unexpired at now and under its cap, atomically, and
// return nil without error when it did not.
type GrantStore interface {
	Create(ctx context.Context, g *models.PreviewGrant) error
	GetByToken(ctx context.Context, token string) (*models.PreviewGrant, error)
	ConsumeView(ctx context.Context, token string, now time.Time) (*models.PreviewGrant, error)
	ListActiveByDocument(ctx context.Context, documentID string, now time.Time) ([]*models.PreviewGrant, error)
}

// DocumentLookup resolves the document a grant points at.
type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// ContentLoader returns the plaintext preview body of a document.
type ContentLoader interface {
	Load(ctx context.Context, doc *models.Document) ([]byte, string, error)
}

// Auditor records audit entries without blocking the caller.
type Auditor interface {
	LogAsync(entry *models.AuditLogEntry) (string, error)
}

// GrantOverrides are the caller's requested limits. Nil fields keep the
// policy default.
type GrantOverrides struct {
	ExpiresAt   *time.Time
	ExpiresIn   *time.Duration
	MaxViews    *int
	IPAllowlist []string
}

// GrantResult is returned once from CreateGrant; the raw token is not
// retrievable afterwards.
type GrantResult struct {
	Token       string             `json:"token"`
	ExpiresAt   time.Time          `json:"expires_at"`
	MaxViews    *int               `json:"max_views"`
	IPAllowlist []string           `json:"ip_allowlist"`
	Sensitivity policy.Sensitivity `json:"sensitivity"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// ValidationResult is the outcome of ValidateGrant. Content is set only when
// Valid is true.
type ValidationResult struct {
	Valid       bool
	Reason      Reason
	Content     []byte
	ContentType string
	Sensitivity policy.Sensitivity
	ViewCount   int
	Grant       *models.PreviewGrant
}

// Service issues and validates preview grants.
type Service struct {
	grants      GrantStore
	documents   DocumentLookup
	content     ContentLoader
	policies    *policy.Engine
	auditor     Auditor
	tokenPrefix string
	now         func() time.Time
}

// NewService creates a preview service.
func NewService(grants GrantStore, documents DocumentLookup, content ContentLoader, policies *policy.Engine, auditor Auditor, tokenPrefix string) *Service {
	if tokenPrefix == "" {
		tokenPrefix = DefaultTokenPrefix
	}
	return &Service{
		grants:      grants,
		documents:   documents,
		content:     content,
		policies:    policies,
		auditor:     auditor,
		tokenPrefix: tokenPrefix,
		now:         time.Now,
	}
}

// CreateGrant issues a grant for doc on behalf of actor. The embargo and
// approval gates apply regardless of overrides. Overrides can only tighten
// the policy; looser requests are clamped and the clamping is recorded in
// the share_preview audit entry.
func (s *Service) CreateGrant(ctx context.Context, doc *models.Document, actor models.Actor, o GrantOverrides, rc models.RequestContext) (*GrantResult, error) {
	now := s.now().UTC()
	pol := s.policies.PolicyFor(doc.Sensitivity)

	if err := s.policies.CheckEmbargo(doc.Sensitivity, doc.EmbargoUntil, now); err != nil {
		return nil, err
	}
	if pol.RequiresApproval && doc.ApprovalState != models.ApprovalStateApproved {
		return nil, &ApprovalRequiredError{DocumentID: doc.ID, State: doc.ApprovalState}
	}

	var clamped, warnings []string

	expiresAt, expiryClamped, err := resolveExpiry(now, pol.DefaultExpiry, o)
	if err != nil {
		return nil, err
	}
	if expiryClamped {
		clamped = append(clamped, "expiry")
	}

	maxViews, viewsClamped, err := resolveMaxViews(pol, o.MaxViews)
	if err != nil {
		return nil, err
	}
	if viewsClamped {
		clamped = append(clamped, "max_views")
	}

	allowlist, err := normalizeAllowlist(o.IPAllowlist)
	if err != nil {
		return nil, err
	}
	if len(allowlist) == 0 {
		switch pol.IPRestriction {
		case policy.IPRequired:
			requester, ok := requesterIP(rc)
			if !ok {
				return nil, ErrIPAllowlistRequired
			}
			allowlist = []string{requester}
			clamped = append(clamped, "ip_allowlist")
		case policy.IPRecommended:
			warnings = append(warnings, "ip_allowlist_recommended")
			slog.Warn("preview grant issued without recommended ip allowlist",
				"document_id", doc.ID, "sensitivity", string(doc.Sensitivity), "actor_id", actor.ID)
		}
	}

	token, err := crypto.GenerateToken(s.tokenPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to generate preview token: %w", err)
	}

	grant := &models.PreviewGrant{
		Token:              token,
		DocumentID:         doc.ID,
		Collection:         doc.Collection,
		Slug:               doc.Slug,
		IssuedBy:           actor.ID,
		IssuedAt:           now,
		ExpiresAt:          expiresAt,
		MaxViews:           maxViews,
		IPAllowlist:        allowlist,
		SensitivityAtIssue: doc.Sensitivity,
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to store preview grant: %w", err)
	}

	metadata := map[string]interface{}{
		"token_fingerprint": crypto.Fingerprint(token),
		"expires_at":        expiresAt.Format(time.RFC3339),
		"max_views":         nil,
		"ip_allowlist":      allowlist,
		"sensitivity":       string(doc.Sensitivity),
	}
	if maxViews != nil {
		metadata["max_views"] = *maxViews
	}
	if len(clamped) > 0 {
		metadata["clamped"] = clamped
	}
	if len(warnings) > 0 {
		metadata["warnings"] = warnings
	}
	s.audit(&models.AuditLogEntry{
		Actor:          actor,
		Action:         models.ActionSharePreview,
		Resource:       documentResource(doc),
		RequestContext: rc,
		Metadata:       metadata,
	})
	telemetry.PreviewGrantsIssuedTotal.WithLabelValues(string(doc.Sensitivity)).Inc()

	return &GrantResult{
		Token:       token,
		ExpiresAt:   expiresAt,
		MaxViews:    maxViews,
		IPAllowlist: allowlist,
		Sensitivity: doc.Sensitivity,
		Warnings:    warnings,
	}, nil
}

// resolveExpiry returns the earliest of the policy ceiling and any requested
// expiry, and whether a request beyond the ceiling was clamped.
func resolveExpiry(now time.Time, defaultExpiry time.Duration, o GrantOverrides) (time.Time, bool, error) {
	ceiling := now.Add(defaultExpiry)
	expiresAt := ceiling
	clamped := false

	consider := func(requested time.Time) {
		if requested.After(ceiling) {
			clamped = true
			return
		}
		if requested.Before(expiresAt) {
			expiresAt = requested
		}
	}

	if o.ExpiresIn != nil {
		if *o.ExpiresIn <= 0 {
			return time.Time{}, false, fmt.Errorf("%w: expires_in must be positive", ErrInvalidOverride)
		}
		consider(now.Add(*o.ExpiresIn))
	}
	if o.ExpiresAt != nil {
		if !o.ExpiresAt.After(now) {
			return time.Time{}, false, fmt.Errorf("%w: expires_at is not in the future", ErrInvalidOverride)
		}
		consider(o.ExpiresAt.UTC())
	}
	return expiresAt, clamped, nil
}

// resolveMaxViews applies the view cap. An unlimited policy accepts any
// positive request; a capped policy accepts only requests at or below it.
func resolveMaxViews(pol policy.Policy, requested *int) (*int, bool, error) {
	if requested == nil {
		if pol.UnlimitedViews() {
			return nil, false, nil
		}
		v := *pol.DefaultMaxViews
		return &v, false, nil
	}
	if *requested < 1 {
		return nil, false, fmt.Errorf("%w: max_views must be at least 1", ErrInvalidOverride)
	}
	v := *requested
	if pol.UnlimitedViews() {
		return &v, false, nil
	}
	if v > *pol.DefaultMaxViews {
		capped := *pol.DefaultMaxViews
		return &capped, true, nil
	}
	return &v, false, nil
}

func requesterIP(rc models.RequestContext) (string, bool) {
	if rc.IP == nil {
		return "", false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(*rc.IP))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

// ValidateGrant checks token for clientIP and, when it is usable, consumes
// one view and returns the document content. Rejections are reported in the
// result, not as errors. Store failures return an error wrapping
// ErrTransient and consume nothing.
func (s *Service) ValidateGrant(ctx context.Context, token, clientIP string, rc models.RequestContext) (*ValidationResult, error) {
	now := s.now().UTC()
	fingerprint := crypto.Fingerprint(token)

	grant, err := s.grants.GetByToken(ctx, token)
	if err != nil {
		return nil, s.fail(nil, fingerprint, outcomeTransient, fmt.Errorf("%w: %w", ErrTransient, err), rc)
	}
	if grant == nil {
		return s.reject(nil, fingerprint, ReasonInvalidToken, rc), nil
	}
	if grant.Expired(now) {
		return s.reject(grant, fingerprint, ReasonExpired, rc), nil
	}
	if !grant.AllowsIP(clientIP) {
		return s.reject(grant, fingerprint, ReasonIPNotAllowed, rc), nil
	}
	if grant.Exhausted() {
		return s.reject(grant, fingerprint, ReasonMaxViewsExceeded, rc), nil
	}

	doc, err := s.documents.GetByID(ctx, grant.DocumentID)
	if err != nil {
		return nil, s.fail(grant, fingerprint, outcomeTransient, fmt.Errorf("%w: %w", ErrTransient, err), rc)
	}
	if doc == nil {
		return nil, s.fail(grant, fingerprint, outcomeContentUnavailable,
			fmt.Errorf("%w: document %s no longer exists", ErrContentUnavailable, grant.DocumentID), rc)
	}
	body, contentType, err := s.content.Load(ctx, doc)
	if err != nil {
		switch {
		case errors.Is(err, content.ErrNoContent):
			err = s.fail(grant, fingerprint, outcomeContentUnavailable, fmt.Errorf("%w: %w", ErrContentUnavailable, err), rc)
		case errors.Is(err, content.ErrEncryptionUnavailable):
			err = s.fail(grant, fingerprint, outcomeContentUnavailable, err, rc)
		default:
			err = s.fail(grant, fingerprint, outcomeTransient, fmt.Errorf("%w: %w", ErrTransient, err), rc)
		}
		return nil, err
	}

	consumed, err := s.grants.ConsumeView(ctx, token, now)
	if err != nil {
		return nil, s.fail(grant, fingerprint, outcomeTransient, fmt.Errorf("%w: %w", ErrTransient, err), rc)
	}
	if consumed == nil {
		reason := ReasonMaxViewsExceeded
		if grant.Expired(now) {
			reason = ReasonExpired
		}
		return s.reject(grant, fingerprint, reason, rc), nil
	}

	metadata := map[string]interface{}{
		"token_fingerprint": fingerprint,
		"view_count":        consumed.ViewCount,
		"max_views":         nil,
	}
	if consumed.MaxViews != nil {
		metadata["max_views"] = *consumed.MaxViews
	}
	s.audit(&models.AuditLogEntry{
		Actor:          anonymousActor(fingerprint),
		Action:         models.ActionPreviewView,
		Resource:       documentResource(doc),
		RequestContext: rc,
		Metadata:       metadata,
	})
	telemetry.PreviewValidationsTotal.WithLabelValues("ok").Inc()

	return &ValidationResult{
		Valid:       true,
		Content:     body,
		ContentType: contentType,
		Sensitivity: consumed.SensitivityAtIssue,
		ViewCount:   consumed.ViewCount,
		Grant:       consumed,
	}, nil
}

func (s *Service) reject(grant *models.PreviewGrant, fingerprint string, reason Reason, rc models.RequestContext) *ValidationResult {
	resource := models.Resource{Type: "preview_grant", ID: fingerprint}
	result := &ValidationResult{Reason: reason}
	if grant != nil {
		resource = models.Resource{Type: "document", ID: grant.DocumentID}
		result.Sensitivity = grant.SensitivityAtIssue
		result.ViewCount = grant.ViewCount
		result.Grant = grant
	}

	s.audit(&models.AuditLogEntry{
		Actor:          anonymousActor(fingerprint),
		Action:         models.ActionPreviewRejected,
		Resource:       resource,
		RequestContext: rc,
		Metadata: map[string]interface{}{
			"token_fingerprint": fingerprint,
			"reason":            string(reason),
		},
	})
	telemetry.PreviewValidationsTotal.WithLabelValues(string(reason)).Inc()
	return result
}

// Outcomes recorded for validations that ended without a definitive reason.
const (
	outcomeTransient          = "transient"
	outcomeContentUnavailable = "content_unavailable"
)

// fail records a preview_rejected entry for a validation that could not be
// completed and returns err. The entry carries an outcome instead of a
// reason: the grant itself may still be usable.
func (s *Service) fail(grant *models.PreviewGrant, fingerprint, outcome string, err error, rc models.RequestContext) error {
	resource := models.Resource{Type: "preview_grant", ID: fingerprint}
	if grant != nil {
		resource = models.Resource{Type: "document", ID: grant.DocumentID}
	}
	s.audit(&models.AuditLogEntry{
		Actor:          anonymousActor(fingerprint),
		Action:         models.ActionPreviewRejected,
		Resource:       resource,
		RequestContext: rc,
		Metadata: map[string]interface{}{
			"token_fingerprint": fingerprint,
			"outcome":           outcome,
		},
	})
	telemetry.PreviewValidationsTotal.WithLabelValues(outcome).Inc()
	return err
}

// ListActiveGrants returns the unexpired, unexhausted grants of a document,
// newest first.
func (s *Service) ListActiveGrants(ctx context.Context, documentID string) ([]*models.PreviewGrant, error) {
	grants, err := s.grants.ListActiveByDocument(ctx, documentID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list preview grants: %w", err)
	}
	return grants, nil
}

func (s *Service) audit(entry *models.AuditLogEntry) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.LogAsync(entry); err != nil {
		slog.Error("failed to queue preview audit entry", "action", string(entry.Action), "error", err)
	}
}

// anonymousActor identifies a preview viewer by the token they presented.
func anonymousActor(fingerprint string) models.Actor {
	return models.Actor{ID: "anonymous:" + fingerprint, Email: "anonymous"}
}

func documentResource(doc *models.Document) models.Resource {
	title := doc.Title
	return models.Resource{Type: "document", ID: doc.ID, Title: &title}
}

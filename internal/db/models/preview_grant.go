// Package models - preview_grant.go defines the time- and view-limited token
// granting access to an unpublished document.
package models

import (
	"net/netip"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/docshield/docshield/internal/policy"
)

// PreviewGrant is a bearer token for previewing one document. Grants are
// never deleted; expired and exhausted grants simply stop validating.
type PreviewGrant struct {
	Token      string    `json:"-" db:"token"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Collection string    `json:"collection" db:"collection"`
	Slug       string    `json:"slug" db:"slug"`
	IssuedBy   string    `json:"issued_by" db:"issued_by"`
	IssuedAt   time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	// MaxViews is nil for unlimited.
	MaxViews           *int               `json:"max_views" db:"max_views"`
	ViewCount          int                `json:"view_count" db:"view_count"`
	IPAllowlist        pq.StringArray     `json:"ip_allowlist" db:"ip_allowlist"`
	SensitivityAtIssue policy.Sensitivity `json:"sensitivity_at_issue" db:"sensitivity_at_issue"`
}

// Expired reports whether the grant has passed its expiry at now.
func (g *PreviewGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Exhausted reports whether the view limit has been reached.
func (g *PreviewGrant) Exhausted() bool {
	return g.MaxViews != nil && g.ViewCount >= *g.MaxViews
}

// AllowsIP reports whether ip may use the grant. An empty allowlist allows
// every caller; otherwise ip must equal an entry or fall inside a CIDR entry.
// Unparseable caller addresses never match a non-empty allowlist.
func (g *PreviewGrant) AllowsIP(ip string) bool {
	if len(g.IPAllowlist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range g.IPAllowlist {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		allowed, err := netip.ParseAddr(entry)
		if err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}

// Package policy maps a document's sensitivity level to the security
// parameters applied to its preview grants.
//
// The mapping is a pure lookup over a closed enumeration. The table itself is
// configuration: DefaultTable holds the built-in values and TableFromConfig
// builds a deployment-specific table from the policy section of the config.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docshield/docshield/internal/config"
)

// Sensitivity is the classification of a document.
type Sensitivity string

const (
	Normal       Sensitivity = "normal"
	Confidential Sensitivity = "confidential"
	Embargoed    Sensitivity = "embargoed"
)

// ErrUnknownSensitivity is returned when parsing a value outside the enumeration.
var ErrUnknownSensitivity = errors.New("unknown sensitivity level")

// AllSensitivities lists the levels in ascending order of protection.
func AllSensitivities() []Sensitivity {
	return []Sensitivity{Normal, Confidential, Embargoed}
}

// ParseSensitivity converts external input to a Sensitivity.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch v := Sensitivity(strings.ToLower(strings.TrimSpace(s))); v {
	case Normal, Confidential, Embargoed:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSensitivity, s)
}

// Valid reports whether s is a member of the enumeration.
func (s Sensitivity) Valid() bool {
	switch s {
	case Normal, Confidential, Embargoed:
		return true
	}
	return false
}

// IPRestriction is how strongly a policy asks for an IP allowlist.
type IPRestriction string

const (
	IPOptional    IPRestriction = "optional"
	IPRecommended IPRestriction = "recommended"
	IPRequired    IPRestriction = "required"
)

// Policy is the set of parameters applied to grants for one sensitivity level.
type Policy struct {
	DefaultExpiry time.Duration `json:"default_expiry"`
	// DefaultMaxViews is nil for unlimited.
	DefaultMaxViews    *int          `json:"default_max_views"`
	IPRestriction      IPRestriction `json:"ip_restriction"`
	EncryptionRequired bool          `json:"encryption_required"`
	RequiresApproval   bool          `json:"requires_approval"`
}

// UnlimitedViews reports whether the policy places no cap on views.
func (p Policy) UnlimitedViews() bool {
	return p.DefaultMaxViews == nil
}

// Table holds one Policy per sensitivity level.
type Table struct {
	Normal       Policy `json:"normal"`
	Confidential Policy `json:"confidential"`
	Embargoed    Policy `json:"embargoed"`
}

// PolicyFor returns the policy for s. The table is total over the enumeration,
// so an unknown level can only come from unvalidated input and panics.
func (t Table) PolicyFor(s Sensitivity) Policy {
	switch s {
	case Normal:
		return t.Normal
	case Confidential:
		return t.Confidential
	case Embargoed:
		return t.Embargoed
	}
	panic(fmt.Sprintf("policy: no entry for sensitivity %q", s))
}

func intPtr(n int) *int { return &n }

// DefaultTable returns the built-in policy table.
func DefaultTable() Table {
	return Table{
		Normal: Policy{
			DefaultExpiry: 7 * 24 * time.Hour,
			IPRestriction: IPOptional,
		},
		Confidential: Policy{
			DefaultExpiry:      24 * time.Hour,
			DefaultMaxViews:    intPtr(10),
			IPRestriction:      IPRecommended,
			EncryptionRequired: true,
			RequiresApproval:   true,
		},
		Embargoed: Policy{
			DefaultExpiry:      4 * time.Hour,
			DefaultMaxViews:    intPtr(3),
			IPRestriction:      IPRequired,
			EncryptionRequired: true,
			RequiresApproval:   true,
		},
	}
}

// TableFromConfig builds a table from the policy config section. A max_views
// of 0 means unlimited.
func TableFromConfig(cfg config.PolicyConfig) (Table, error) {
	if err := cfg.Validate(); err != nil {
		return Table{}, err
	}
	return Table{
		Normal:       fromRow(cfg.Normal),
		Confidential: fromRow(cfg.Confidential),
		Embargoed:    fromRow(cfg.Embargoed),
	}, nil
}

func fromRow(row config.SensitivityPolicyConfig) Policy {
	p := Policy{
		DefaultExpiry:      row.Expiry,
		IPRestriction:      IPRestriction(row.IPRestriction),
		EncryptionRequired: row.EncryptionRequired,
		RequiresApproval:   row.RequiresApproval,
	}
	if row.MaxViews > 0 {
		p.DefaultMaxViews = intPtr(row.MaxViews)
	}
	return p
}

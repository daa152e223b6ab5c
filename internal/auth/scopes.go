// Package auth - scopes.go defines the permission scopes of the DocShield API
// and the HasScope helpers used by the RBAC middleware.
package auth

import (
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Document scopes
	ScopeDocumentsWrite   Scope = "documents:write"   // Register documents and upload preview bodies
	ScopeDocumentsApprove Scope = "documents:approve" // Approve or reject documents

	// Preview scopes
	ScopePreviewsRead   Scope = "previews:read"
	ScopePreviewsCreate Scope = "previews:create"

	// Audit log scopes
	ScopeAuditRead   Scope = "audit:read"
	ScopeAuditVerify Scope = "audit:verify" // Run integrity verification

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// implied maps a held scope to the scopes it also grants.
var implied = map[Scope][]Scope{
	ScopePreviewsCreate: {ScopePreviewsRead},
	ScopeAuditVerify:    {ScopeAuditRead},
}

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeDocumentsWrite,
		ScopeDocumentsApprove,
		ScopePreviewsRead,
		ScopePreviewsCreate,
		ScopeAuditRead,
		ScopeAuditVerify,
		ScopeAdmin,
	}
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := make(map[string]bool)
	for _, s := range AllScopes() {
		valid[string(s)] = true
	}
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope checks if a user has a required scope. The admin scope grants
// everything, and some scopes imply others.
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		held := Scope(scope)
		if held == required || held == ScopeAdmin {
			return true
		}
		for _, s := range implied[held] {
			if s == required {
				return true
			}
		}
	}
	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a user has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}

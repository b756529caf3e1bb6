package domain

import (
	dErrors "katha/pkg/domain-errors"
	pstrings "katha/pkg/platform/strings"
)

// Scope is a named capability a consent token can grant.
// Invariant: values issued into tokens must come from the supported set below.
//
// The enumeration is closed at the issuance boundary only. The validator and
// Intersect treat unknown scope strings as simply non-matching, so tokens
// minted after a new scope is added keep working against older services.
type Scope string

// Supported scopes, versioned with the service API.
const (
	ScopeReadMemories  Scope = "read:memories"
	ScopeWriteMemories Scope = "write:memories"
	ScopeReadPassport  Scope = "read:passport"
	ScopeWritePassport Scope = "write:passport"
	ScopeReadAudit     Scope = "read:audit"
	ScopeAdminFamily   Scope = "admin:family"
)

// validScopes is the single source of truth for issuable scopes.
var validScopes = map[Scope]bool{
	ScopeReadMemories:  true,
	ScopeWriteMemories: true,
	ScopeReadPassport:  true,
	ScopeWritePassport: true,
	ScopeReadAudit:     true,
	ScopeAdminFamily:   true,
}

// IsValid checks whether the scope is one of the supported enum values.
func (s Scope) IsValid() bool { return validScopes[s] }

func (s Scope) String() string { return string(s) }

// ParseScopes normalizes and validates a scope list for issuance.
//
// Errors: CodeBadRequest when the list is empty after normalization or any
// entry is not an issuable scope.
func ParseScopes(values []string) ([]Scope, error) {
	normalized := pstrings.NormalizeSet(values)
	if len(normalized) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "scopes must not be empty")
	}
	scopes := make([]Scope, 0, len(normalized))
	for _, v := range normalized {
		s := Scope(v)
		if !s.IsValid() {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unsupported scope: "+v)
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

// IntersectScopes returns the capabilities present in both granted and
// requested. Pure and order-independent on requested; result order follows
// granted. An empty result is a valid outcome, not an error: the caller
// decides whether receiving nothing is itself a failure. Unknown strings on
// either side never error, they just fail to match.
func IntersectScopes(granted, requested []string) []string {
	if len(granted) == 0 || len(requested) == 0 {
		return nil
	}

	want := make(map[string]struct{}, len(requested))
	for _, r := range pstrings.NormalizeSet(requested) {
		want[r] = struct{}{}
	}

	var out []string
	for _, g := range pstrings.NormalizeSet(granted) {
		if _, ok := want[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// HasScope reports whether the granted set covers one required scope. This is
// the middleware's authorization primitive: an empty intersection with the
// route's required scope means forbidden.
func HasScope(granted []string, required Scope) bool {
	return len(IntersectScopes(granted, []string{string(required)})) == 1
}

// ScopeStrings converts typed scopes to their wire representation.
func ScopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

// Package strings provides string-set utilities shared by the consent core.
package strings

import "strings"

// NormalizeSet trims whitespace, lowercases, and removes duplicates and empty
// strings from a slice. Order of first occurrence is preserved. Scope lists
// pass through this before they are validated or embedded in a token, so the
// stored grant never contains whitespace or case variants of one capability.
func NormalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

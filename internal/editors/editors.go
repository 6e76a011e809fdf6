// Package editors computes page editor sets from add/remove requests.
package editors

import (
	"strings"

	"Press3/internal/registry"
)

// Mutate returns current with remove filtered out, followed by the add
// entries not already present, in add order. Every add and remove entry is
// validated before anything is computed; the first malformed one fails the
// call with a validation error naming it. Identities are compared as given.
func Mutate(current, add, remove []registry.Identity) ([]registry.Identity, error) {
	for _, id := range add {
		if err := registry.ValidateIdentity(id); err != nil {
			return nil, err
		}
	}

	for _, id := range remove {
		if err := registry.ValidateIdentity(id); err != nil {
			return nil, err
		}
	}

	removed := make(map[registry.Identity]bool, len(remove))
	for _, id := range remove {
		removed[id] = true
	}

	result := make([]registry.Identity, 0, len(current)+len(add))
	present := make(map[registry.Identity]bool, len(current)+len(add))

	for _, id := range current {
		if removed[id] {
			continue
		}

		result = append(result, id)
		present[id] = true
	}

	for _, id := range add {
		if present[id] {
			continue
		}

		result = append(result, id)
		present[id] = true
	}

	return result, nil
}

// Changed reports whether next differs from current.
func Changed(current, next []registry.Identity) bool {
	if len(current) != len(next) {
		return true
	}

	for i := range current {
		if current[i] != next[i] {
			return true
		}
	}

	return false
}

// ParseList splits a comma-separated CLI list, dropping blank items.
func ParseList(s string) []registry.Identity {
	var out []registry.Identity

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		out = append(out, registry.Identity(part))
	}

	return out
}

package registry

import (
	"strings"

	"Press3/internal/fault"
)

// NormalizePath converts a logical path to the registry's canonical form:
// forward slashes, a leading slash, "/" for empty or ".".
// Matching is case-sensitive; no other rewriting is performed.
func NormalizePath(p string) string {
	normalized := strings.ReplaceAll(p, "\\", "/")

	if normalized == "" || normalized == "." {
		return "/"
	}

	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	return normalized
}

// ValidatePath rejects paths that cannot be registered.
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fault.Validationf("empty page path")
	}

	if strings.ContainsRune(p, 0) {
		return fault.Validationf("page path %q contains NUL", p)
	}

	return nil
}

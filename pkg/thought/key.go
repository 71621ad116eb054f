package thought

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// sanitizedLen is the hex length of hashed partition names.
const sanitizedLen = 16

// SanitizeKey turns an arbitrary conversation key into a path-safe
// partition name. Keys that are already safe pass through verbatim;
// anything else is replaced by a truncated SHA-256 digest so distinct keys
// stay distinct. Deterministic: the same key always maps to the same name.
func SanitizeKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if isPathSafe(key) {
		return key
	}

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:sanitizedLen]
}

// isPathSafe reports whether key can be used directly as a single path
// segment.
func isPathSafe(key string) bool {
	if key == "." || key == ".." || strings.HasPrefix(key, ".") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

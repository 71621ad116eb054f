package utils

// Truncate shortens s to at most maxLen runes, appending an ellipsis when
// text was cut. Cutting on rune boundaries keeps multi-byte text valid UTF-8.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Package text holds small helpers for user-facing message bodies.
package text

import "strings"

// Truncate cuts s to at most limit runes and appends "...". A cut that lands
// inside an HTML tag drops the partial tag.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	out := string(runes[:limit])
	if i := strings.LastIndex(out, "<"); i > strings.LastIndex(out, ">") {
		out = out[:i]
	}
	return out + "..."
}

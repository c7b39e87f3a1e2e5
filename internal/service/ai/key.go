package ai

import (
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`(?i)^sk-or-v\d+-[a-z0-9_-]{20,}$`)

// KeyHint explains what a usable key looks like.
const KeyHint = `Keys must match the OpenRouter format (e.g., "sk-or-v1-...") and contain at least 20 trailing characters.`

// NormalizeKey trims surrounding whitespace.
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// ValidKey reports whether key has the OpenRouter shape.
func ValidKey(key string) bool {
	key = NormalizeKey(key)
	return key != "" && keyPattern.MatchString(key)
}

package ai

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// AgentName derives the pseudonym used on RESPONSE pages from a model id,
// e.g. "anthropic/claude-sonnet-4" becomes "@Claude".
func AgentName(modelID string) string {
	name := modelID
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, "-"); i >= 0 {
		name = name[:i]
	}
	name = strings.Map(func(r rune) rune {
		if r == '.' || unicode.IsDigit(r) {
			return -1
		}
		return r
	}, name)
	return "@" + capitalize(strings.ToLower(name))
}

// DisplayName turns a model id into a readable label when the provider does
// not supply one: "openai/gpt-4o-mini" becomes "Gpt 4o Mini".
func DisplayName(modelID string) string {
	if modelID == "" {
		return "unknown"
	}
	base := modelID
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	fields := strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	if len(fields) == 0 {
		return modelID
	}
	for i, f := range fields {
		if strings.Trim(f, "0123456789.") == "" {
			continue
		}
		fields[i] = capitalize(f)
	}
	return strings.Join(fields, " ")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

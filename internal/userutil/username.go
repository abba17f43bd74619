package userutil

import (
	"regexp"
	"strings"
)

var invalidNameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeName normalizes user or display names used in lock file names.
// ":0.0" becomes "_0.0".
func SanitizeName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidNameRune.ReplaceAllString(value, "_")
}

package markdown

import (
	"regexp"
	"strings"
)

var (
	numberedMarker = regexp.MustCompile(`^\d+[.)]\s+`)
	inlineBullets  = regexp.MustCompile(`\s+(?:[•·▪]|[-*])\s+`)
)

var bulletPrefixes = []string{"☐ ", "☑ ", "☒ ", "• ", "· ", "▪ ", "- ", "* "}

// IsListItem reports whether text starts with an explicit list marker.
func IsListItem(text string) bool {
	t := strings.TrimSpace(text)
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return numberedMarker.MatchString(t)
}

// StripMarker removes a leading list marker.
func StripMarker(text string) string {
	t := strings.TrimSpace(text)
	for _, p := range bulletPrefixes {
		if rest, ok := strings.CutPrefix(t, p); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(numberedMarker.ReplaceAllString(t, ""))
}

// SplitListItems splits a line that the engine flattened from several
// bullet items back into separate items, markers removed.
func SplitListItems(text string) []string {
	first := StripMarker(text)
	var items []string
	for _, part := range inlineBullets.Split(first, -1) {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

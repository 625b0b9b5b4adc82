// Package markdown cleans OCR engine output and parses it into blocks a
// renderer can lay out.
package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

// Markers written between images by process-directory.
const (
	PageBreak     = "---PAGE_BREAK---"
	imageIndexFmt = "---IMAGE_INDEX:%d---"
)

// ImageIndex returns the marker that precedes the text of image i.
func ImageIndex(i int) string {
	return fmt.Sprintf(imageIndexFmt, i)
}

var (
	refTags       = regexp.MustCompile(`(?s)<\|ref\|>.*?<\|/ref\|>`)
	detTags       = regexp.MustCompile(`<\|det\|>.*?<\|/det\|>`)
	controlLines  = regexp.MustCompile(`(?m)^<\|(?:grounding|think|OCR)\|>.*$`)
	anyTagLines   = regexp.MustCompile(`(?m)^<\|[^|]+\|>.*$`)
	blankLines    = regexp.MustCompile(`(?m)^[ \t]+$`)
	extraNewlines = regexp.MustCompile(`\n{3,}`)
	pageBreaks    = regexp.MustCompile(`(?m)^---PAGE_BREAK---\s*$`)
	imageIndexes  = regexp.MustCompile(`(?m)^---IMAGE_INDEX:\d+---\s*$`)
)

// Clean removes engine control tags from a single OCR response. Coordinate
// tags are kept for layout; internal markers are dropped.
func Clean(text string) string {
	text = refTags.ReplaceAllString(text, "")
	text = controlLines.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	text = pageBreaks.ReplaceAllString(text, "")
	text = imageIndexes.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// CleanPlain removes every engine tag and marker, leaving plain markdown.
func CleanPlain(text string) string {
	text = detTags.ReplaceAllString(text, "")
	text = refTags.ReplaceAllString(text, "")
	text = anyTagLines.ReplaceAllString(text, "")
	text = pageBreaks.ReplaceAllString(text, "")
	text = imageIndexes.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Combine joins per-image results with index markers and page breaks.
func Combine(parts []string) string {
	var b strings.Builder
	for i, part := range parts {
		b.WriteString(ImageIndex(i))
		b.WriteString("\n")
		b.WriteString(part)
		b.WriteString("\n\n")
		if i < len(parts)-1 {
			b.WriteString(PageBreak)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

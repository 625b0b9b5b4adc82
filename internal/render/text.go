package render

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText returns the embedded text layer of each page. Pages without
// text yield an empty string.
func ExtractText(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	n := r.NumPage()
	pages := make([]string, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i, err)
		}
		pages[i-1] = strings.TrimSpace(text)
	}
	return pages, nil
}

// HasText reports whether any page carries extractable text.
func HasText(pages []string) bool {
	for _, p := range pages {
		if p != "" {
			return true
		}
	}
	return false
}

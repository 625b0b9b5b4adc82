package markdown

import (
	"html"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	htmlTags   = regexp.MustCompile(`(?s)<[^>]+>`)
	centerTags = regexp.MustCompile(`(?i)</?center>|<p\s+align="?center"?>`)
)

// ParseTable returns the cell text of an HTML table, row by row.
func ParseTable(src string) [][]string {
	if !strings.Contains(strings.ToLower(src), "<table") {
		src = "<table>" + src + "</table>"
	}
	doc, err := xhtml.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}
	var rows [][]string
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == xhtml.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, nodeText(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows
}

// nodeText joins the text beneath n with single spaces.
func nodeText(n *xhtml.Node) string {
	var parts []string
	var collect func(*xhtml.Node)
	collect = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(parts, " ")
}

// StripHTML removes tags and decodes entities.
func StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTags.ReplaceAllString(s, "")))
}

// IsCentered reports whether text asks to be centered.
func IsCentered(s string) bool {
	return centerTags.MatchString(s)
}

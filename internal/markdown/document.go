package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// ElementKind is the kind of a rendered block.
type ElementKind int

const (
	Paragraph ElementKind = iota
	Heading
	ListItem
	Code
	Table
	Rule
)

// Element is one block of a document in reading order.
type Element struct {
	Kind     ElementKind
	Text     string
	Level    int // heading level, or nesting depth for list items
	Ordered  bool
	Number   int // item number in an ordered list
	Rows     [][]string
	Centered bool
}

var parser = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)).Parser()

// Parse splits markdown into renderable elements. Engine tags and markers are
// removed first.
func Parse(md string) []Element {
	src := []byte(CleanPlain(md))
	doc := parser.Parse(text.NewReader(src))
	w := &walker{src: src}
	w.blocks(doc, 0)
	return w.out
}

type walker struct {
	src []byte
	out []Element
}

func (w *walker) blocks(parent ast.Node, depth int) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			w.add(Element{Kind: Heading, Level: node.Level, Text: w.inline(node)})
		case *ast.Paragraph, *ast.TextBlock:
			raw := string(node.Lines().Value(w.src))
			w.add(Element{Kind: Paragraph, Text: w.inline(node), Centered: IsCentered(raw)})
		case *ast.List:
			w.list(node, depth)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			w.add(Element{Kind: Code, Text: strings.TrimRight(w.lines(node), "\n")})
		case *ast.HTMLBlock:
			w.html(node)
		case *ast.ThematicBreak:
			w.add(Element{Kind: Rule})
		case *east.Table:
			w.table(node)
		case *ast.Blockquote:
			w.blocks(node, depth)
		}
	}
}

func (w *walker) add(e Element) {
	if e.Kind != Rule && e.Kind != Table && strings.TrimSpace(e.Text) == "" {
		return
	}
	w.out = append(w.out, e)
}

func (w *walker) list(l *ast.List, depth int) {
	number := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		var parts []string
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				parts = append(parts, w.inline(c))
			}
		}
		w.add(Element{Kind: ListItem, Text: strings.Join(parts, " "), Level: depth, Ordered: l.IsOrdered(), Number: number})
		number++
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if nested, ok := c.(*ast.List); ok {
				w.list(nested, depth+1)
			}
		}
	}
}

func (w *walker) html(n *ast.HTMLBlock) {
	raw := w.lines(n)
	if n.HasClosure() {
		raw += string(n.ClosureLine.Value(w.src))
	}
	if strings.Contains(strings.ToLower(raw), "<table") {
		if rows := ParseTable(raw); len(rows) > 0 {
			w.add(Element{Kind: Table, Rows: rows})
			return
		}
	}
	w.add(Element{Kind: Paragraph, Text: StripHTML(raw), Centered: IsCentered(raw)})
}

func (w *walker) table(t *east.Table) {
	var rows [][]string
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		var cells []string
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, w.inline(c))
		}
		rows = append(rows, cells)
	}
	w.add(Element{Kind: Table, Rows: rows})
}

func (w *walker) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(w.src))
	}
	return b.String()
}

// inline flattens the inline children of n to text.
func (w *walker) inline(n ast.Node) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := c.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(w.src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.URL(w.src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

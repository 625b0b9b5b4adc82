// Package render produces the documents and images the worker writes:
// markdown to PDF, PDF page operations, image conversion and joining.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"

	"docpipe/internal/markdown"
)

// Page geometry in millimetres.
const (
	pageWidth  = 210.0
	pageHeight = 297.0
	margin     = 10.0
	ptToMM     = 0.352778
)

// MarkdownToPDF renders markdown into an A4 PDF at out. With useCoordinates
// the engine's located blocks are placed where they appeared on the source
// image; without located blocks it falls back to flowing text.
func MarkdownToPDF(md, out string, useCoordinates bool) error {
	var pdf *fpdf.Fpdf
	if useCoordinates {
		if blocks := markdown.ParseBlocks(md); len(blocks) > 0 {
			pdf = layoutBlocks(blocks)
		}
	}
	if pdf == nil {
		pdf = flowElements(markdown.Parse(md))
	}
	if err := pdf.OutputFileAndClose(out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}

func newDocument() *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("OCR Document", true)
	pdf.SetCreator("docpipe", true)
	pdf.SetMargins(margin, margin+5, margin)
	pdf.SetAutoPageBreak(true, margin+5)
	return pdf
}

// flowElements lays elements out top to bottom.
func flowElements(elements []markdown.Element) *fpdf.Fpdf {
	pdf := newDocument()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	usable := pageWidth - 2*margin

	for _, el := range elements {
		switch el.Kind {
		case markdown.Heading:
			size := headingSize(el.Level)
			pdf.SetFont("Helvetica", "B", size)
			pdf.Ln(size * ptToMM * 0.4)
			pdf.MultiCell(0, size*ptToMM*1.3, tr(el.Text), "", align(el.Centered), false)
			pdf.Ln(1.5)

		case markdown.Paragraph:
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, tr(el.Text), "", align(el.Centered), false)
			pdf.Ln(2)

		case markdown.ListItem:
			indent := 4.0 * float64(el.Level)
			marker := "•"
			if el.Ordered {
				marker = strconv.Itoa(el.Number) + "."
			}
			pdf.SetFont("Helvetica", "B", 10)
			pdf.SetX(margin + indent)
			pdf.CellFormat(6, 5, tr(marker), "", 0, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(usable-indent-6, 5, tr(el.Text), "", "L", false)
			pdf.Ln(1)

		case markdown.Code:
			pdf.SetFont("Courier", "", 9)
			pdf.SetFillColor(245, 245, 245)
			pdf.MultiCell(0, 4.2, tr(el.Text), "", "L", true)
			pdf.Ln(2)

		case markdown.Table:
			drawTable(pdf, tr, el.Rows, margin, pdf.GetY(), usable, 9)
			pdf.Ln(3)

		case markdown.Rule:
			y := pdf.GetY() + 1
			pdf.Line(margin, y, pageWidth-margin, y)
			pdf.Ln(3)
		}
	}
	return pdf
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 18
	case 2:
		return 16
	case 3:
		return 14
	default:
		return 12
	}
}

func align(centered bool) string {
	if centered {
		return "C"
	}
	return "L"
}

// drawTable draws bordered rows of equal-width columns starting at x, y and
// returns the y below the table.
func drawTable(pdf *fpdf.Fpdf, tr func(string) string, rows [][]string, x, y, width, fontSize float64) float64 {
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return y
	}
	colWidth := width / float64(cols)
	lineHeight := fontSize * ptToMM * 1.3
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()

	pdf.SetFont("Helvetica", "", fontSize)
	pdf.SetY(y)
	for ri, row := range rows {
		style := ""
		if ri == 0 {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, fontSize)

		lines := 1
		wrapped := make([]string, cols)
		for c := 0; c < cols; c++ {
			if c < len(row) {
				wrapped[c] = tr(row[c])
			}
			lines = max(lines, len(pdf.SplitText(wrapped[c], colWidth-2)))
		}
		height := float64(lines)*lineHeight + 1

		top := pdf.GetY()
		if top+height > pageH-bottom {
			pdf.AddPage()
			top = pdf.GetY()
		}
		for c := 0; c < cols; c++ {
			cx := x + float64(c)*colWidth
			pdf.Rect(cx, top, colWidth, height, "D")
			pdf.SetXY(cx+1, top+0.5)
			pdf.MultiCell(colWidth-2, lineHeight, wrapped[c], "", "L", false)
		}
		pdf.SetXY(x, top+height)
	}
	return pdf.GetY()
}

// wrapText splits s on word boundaries so no line exceeds width at the
// current font.
func wrapText(pdf *fpdf.Fpdf, s string, width float64) []string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(s) {
		candidate := word
		if line.Len() > 0 {
			candidate = line.String() + " " + word
		}
		if line.Len() > 0 && pdf.GetStringWidth(candidate) > width {
			lines = append(lines, line.String())
			line.Reset()
			candidate = word
		}
		line.Reset()
		line.WriteString(candidate)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}

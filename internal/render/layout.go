package render

import (
	"strings"

	"github.com/go-pdf/fpdf"

	"docpipe/internal/markdown"
)

// Coordinate layout constants. Engine coordinates span 0..999 across the
// source image; blockScale maps them onto the page in millimetres.
const (
	blockScale     = 0.20
	blockMargin    = 5.0
	columnSplit    = 95.0 // x below this is the left column
	maxColumnWidth = 95.0
	minBlockWidth  = 25.0
)

// columns tracks the lowest point drawn in each column of the current page.
type columns struct {
	left, right float64
}

func (c *columns) bottom(left bool) *float64 {
	if left {
		return &c.left
	}
	return &c.right
}

// layoutBlocks places each block near its source position. A new page starts
// at every page break, when a new image begins, or when a block would run
// off the page.
func layoutBlocks(blocks []markdown.Block) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("OCR Document", true)
	pdf.SetCreator("docpipe", true)
	pdf.SetMargins(blockMargin, blockMargin, blockMargin)
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	usableHeight := pageHeight - 2*blockMargin
	pageStart := 0.0
	var cols columns
	prevY := 0.0
	prevImage := blocks[0].Image
	newPage := func() {
		pdf.AddPage()
		cols = columns{}
	}

	for i, b := range blocks {
		// Coordinates restart on each image.
		restart := i > 0 && (b.PageBreak || b.Image != prevImage || (prevY > 100 && b.Y < prevY-50))
		prevY, prevImage = b.Y, b.Image

		isTable := strings.Contains(strings.ToLower(b.Text), "<table")
		isList := markdown.IsListItem(b.Text)
		level := 0
		text := b.Text
		if !isTable {
			text, level = splitHeading(markdown.StripHTML(text))
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		blockY := b.Y * blockScale
		if restart {
			newPage()
			pageStart = blockY
		} else if blockY-pageStart > usableHeight {
			newPage()
			pageStart = blockY
		}

		x := min(b.X*blockScale+blockMargin, pageWidth-blockMargin-minBlockWidth)
		y := blockY - pageStart + blockMargin

		baseSize := min(max(b.Height*blockScale*0.5, 6), 10)
		fontSize, style := baseSize, ""
		switch level {
		case 1:
			fontSize, style = min(baseSize*2, 18), "B"
		case 2:
			fontSize, style = min(baseSize*1.5, 14), "B"
		case 3:
			fontSize, style = min(baseSize*1.3, 12), "B"
		}
		if level > 3 {
			style = "B"
		}

		left := x < columnSplit
		bottom := cols.bottom(left)
		if gap := max(fontSize*ptToMM*0.5, 1.0); *bottom > 0 && y < *bottom+gap {
			y = *bottom + gap
		}
		if y > pageHeight-blockMargin {
			newPage()
			pageStart = blockY
			y = blockMargin
			bottom = cols.bottom(left)
		}

		width := min(max(b.Width*blockScale, minBlockWidth), pageWidth-blockMargin-x, maxColumnWidth)
		lineHeight := fontSize * ptToMM * 1.2

		switch {
		case isTable:
			*bottom = drawTable(pdf, tr, markdown.ParseTable(b.Text), x, y, width, 8)
		case isList:
			pdf.SetXY(x, y)
			for _, item := range markdown.SplitListItems(text) {
				pdf.SetFont("Helvetica", "B", fontSize)
				pdf.Text(x, pdf.GetY()+lineHeight*0.8, tr("•"))
				pdf.SetFont("Helvetica", "", fontSize)
				indent := fontSize * ptToMM
				for _, line := range wrapText(pdf, tr(item), width-indent) {
					pdf.Text(x+indent, pdf.GetY()+lineHeight*0.8, line)
					pdf.SetY(pdf.GetY() + lineHeight)
				}
			}
			*bottom = pdf.GetY()
		default:
			pdf.SetFont("Helvetica", style, fontSize)
			pdf.SetXY(x, y)
			for _, line := range wrapText(pdf, tr(text), width) {
				pdf.Text(x, pdf.GetY()+lineHeight*0.8, line)
				pdf.SetY(pdf.GetY() + lineHeight)
			}
			*bottom = pdf.GetY()
		}
	}
	return pdf
}

// splitHeading strips a markdown heading prefix and returns its level.
func splitHeading(s string) (string, int) {
	s = strings.TrimSpace(s)
	level := 0
	for level < len(s) && level < 6 && s[level] == '#' {
		level++
	}
	if level == 0 || level >= len(s) || s[level] != ' ' {
		return s, 0
	}
	return strings.TrimSpace(s[level:]), level
}

package markdown

import (
	"sort"
	"strconv"
	"strings"
)

// Block is a run of text the engine located on its source image.
// Coordinates are in the engine's 0..999 image space.
type Block struct {
	Text      string
	X, Y      float64
	Width     float64
	Height    float64
	PageBreak bool // starts a new output page
	Image     int  // index of the source image
}

// ParseBlocks extracts located text blocks. A block is a line holding
// <|det|>[[x1, y1, x2, y2]]<|/det|> followed by text lines up to the next tag
// or blank line. Blocks are returned grouped by image, top to bottom.
func ParseBlocks(md string) []Block {
	lines := strings.Split(md, "\n")
	var blocks []Block
	pendingBreak := false
	image := 0

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		trimmed := strings.TrimSpace(line)

		if rest, ok := strings.CutPrefix(trimmed, "---IMAGE_INDEX:"); ok {
			if n, err := strconv.Atoi(strings.TrimSuffix(rest, "---")); err == nil {
				image = n
			}
			continue
		}
		if trimmed == PageBreak {
			pendingBreak = true
			continue
		}

		start := strings.Index(line, "<|det|>")
		end := strings.Index(line, "<|/det|>")
		if start < 0 || end < start {
			continue
		}
		coords, ok := parseCoordinates(line[start+len("<|det|>") : end])
		if !ok {
			continue
		}

		var text []string
		j := i + 1
		for ; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || strings.HasPrefix(next, "<|") || strings.HasPrefix(next, "---") {
				break
			}
			text = append(text, next)
		}
		i = j - 1

		if len(text) == 0 {
			continue
		}
		blocks = append(blocks, Block{
			Text:      strings.Join(text, " "),
			X:         coords[0],
			Y:         coords[1],
			Width:     coords[2] - coords[0],
			Height:    coords[3] - coords[1],
			PageBreak: pendingBreak,
			Image:     image,
		})
		pendingBreak = false
	}

	sort.SliceStable(blocks, func(a, b int) bool {
		if blocks[a].Image != blocks[b].Image {
			return blocks[a].Image < blocks[b].Image
		}
		return blocks[a].Y < blocks[b].Y
	})
	return blocks
}

// parseCoordinates reads "[[x1, y1, x2, y2]]".
func parseCoordinates(s string) ([4]float64, bool) {
	var out [4]float64
	s = strings.TrimSpace(s)
	inner, ok := strings.CutPrefix(s, "[[")
	if !ok {
		return out, false
	}
	inner, ok = strings.CutSuffix(inner, "]]")
	if !ok {
		return out, false
	}
	parts := strings.Split(inner, ",")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

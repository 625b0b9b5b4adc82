package render

import (
	"image"
	"image/color"
	"sort"

	"golang.org/x/image/draw"
)

// Joined images are scaled down to at most this width.
const maxJoinWidth = 2048

// SelectForJoin picks at most limit images, preferring tall ones, and
// returns their indices in original order.
func SelectForJoin(sizes []image.Point, limit int) []int {
	idx := make([]int, len(sizes))
	for i := range idx {
		idx[i] = i
	}
	if limit <= 0 || len(sizes) <= limit {
		return idx
	}
	ratio := func(p image.Point) float64 {
		if p.X == 0 {
			return 0
		}
		return float64(p.Y) / float64(p.X)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := sizes[idx[a]], sizes[idx[b]]
		if ra, rb := ratio(sa), ratio(sb); ra != rb {
			return ra > rb
		}
		return sa.X*sa.Y > sb.X*sb.Y
	})
	idx = idx[:limit]
	sort.Ints(idx)
	return idx
}

// JoinVertical stacks images top to bottom on a white canvas, each centered
// horizontally.
func JoinVertical(images []image.Image) image.Image {
	width, height := 0, 0
	for _, img := range images {
		b := img.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
	}
	scale := 1.0
	if width > maxJoinWidth {
		scale = float64(maxJoinWidth) / float64(width)
	}
	canvasW := int(float64(width) * scale)
	canvasH := 0
	for _, img := range images {
		canvasH += int(float64(img.Bounds().Dy()) * scale)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	y := 0
	for _, img := range images {
		b := img.Bounds()
		w := int(float64(b.Dx()) * scale)
		h := int(float64(b.Dy()) * scale)
		x := (canvasW - w) / 2
		rect := image.Rect(x, y, x+w, y+h)
		if scale == 1 {
			draw.Draw(canvas, rect, img, b.Min, draw.Over)
		} else {
			draw.CatmullRom.Scale(canvas, rect, img, b, draw.Over, nil)
		}
		y += h
	}
	return canvas
}

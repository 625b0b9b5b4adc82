package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageExtensions lists the image file types the worker accepts.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".tif", ".tiff", ".gif"}

// IsImage reports whether path has an accepted image extension.
func IsImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// LoadImage decodes any supported image file.
func LoadImage(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return img, format, nil
}

// ConvertImage re-encodes in as format ("png" or "jpeg") at out.
func ConvertImage(in, out, format string) error {
	img, _, err := LoadImage(in)
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "png":
		err = png.Encode(f, img)
	case "jpeg", "jpg":
		err = jpeg.Encode(f, flatten(img), &jpeg.Options{Quality: 92})
	default:
		err = fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	return f.Close()
}

// flatten composites img over white so transparent areas don't turn black in JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

// EncodePNG writes img as PNG to path.
func EncodePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ImagesToPDF writes one page per image, each scaled to fit an A4 page in
// the orientation that matches it.
func ImagesToPDF(images []string, out string) error {
	if len(images) == 0 {
		return fmt.Errorf("no images to convert")
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreator("docpipe", true)
	pdf.SetAutoPageBreak(false, 0)

	for i, path := range images {
		data, kind, w, h, err := pageImage(path)
		if err != nil {
			return err
		}
		orientation, pw, ph := "P", pageWidth, pageHeight
		if w > h {
			orientation, pw, ph = "L", pageHeight, pageWidth
		}
		pdf.AddPageFormat(orientation, fpdf.SizeType{Wd: pageWidth, Ht: pageHeight})

		name := fmt.Sprintf("img%d", i)
		opts := fpdf.ImageOptions{ImageType: kind}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))

		scale := min((pw-2*margin)/w, (ph-2*margin)/h)
		dw, dh := w*scale, h*scale
		pdf.ImageOptions(name, (pw-dw)/2, (ph-dh)/2, dw, dh, false, opts, 0, "")
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("failed to add %s: %w", filepath.Base(path), err)
		}
	}
	return pdf.OutputFileAndClose(out)
}

// pageImage returns image bytes fpdf can embed with their pixel size.
// PNG and JPEG are passed through; everything else is re-encoded as PNG.
func pageImage(path string) (data []byte, kind string, w, h float64, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", 0, 0, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	w, h = float64(cfg.Width), float64(cfg.Height)
	switch format {
	case "png":
		return raw, "PNG", w, h, nil
	case "jpeg":
		return raw, "JPG", w, h, nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", 0, 0, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", 0, 0, err
	}
	return buf.Bytes(), "PNG", w, h, nil
}

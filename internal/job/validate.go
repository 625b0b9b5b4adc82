package job

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"docpipe/internal/apperrors"
)

// Validation limits
const (
	maxJobIDLength     = 128
	maxInputFiles      = 256
	maxPageOrderLength = 10000
	maxPromptLength    = 4096
	maxModelLength     = 256
	maxCallbackEvents  = 8
)

// jobIDPattern allows alphanumeric, hyphens, and underscores
var jobIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// FileKind classifies an input file by extension.
type FileKind string

// File kinds accepted by the pipeline.
const (
	KindPDF      FileKind = "pdf"
	KindImage    FileKind = "image"
	KindMarkdown FileKind = "markdown"
	KindUnknown  FileKind = "unknown"
)

var kindByExt = map[string]FileKind{
	".pdf":      KindPDF,
	".png":      KindImage,
	".jpg":      KindImage,
	".jpeg":     KindImage,
	".webp":     KindImage,
	".bmp":      KindImage,
	".gif":      KindImage,
	".tif":      KindImage,
	".tiff":     KindImage,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".txt":      KindMarkdown,
}

// ocrImageExts are the image types the OCR engine accepts directly.
var ocrImageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// KindOf returns the kind of a file from its name.
func KindOf(name string) FileKind {
	if kind, ok := kindByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return kind
	}
	return KindUnknown
}

// ImageFormats are the output formats convert-image can produce.
var ImageFormats = []string{"png", "jpeg"}

// ApplyDefaults sets default values for unspecified request fields.
func ApplyDefaults(req *Request) {
	if req.Mode == ModeOCR && req.Options.Model == "" {
		req.Options.Model = DefaultModel
	}
	if req.Mode == ModeConvertImage && req.Options.ImageFormat == "" {
		req.Options.ImageFormat = "png"
	}
	if req.Options.ImageFormat == "jpg" {
		req.Options.ImageFormat = "jpeg"
	}
}

// Validate checks a request without touching the filesystem. Does not modify the request.
func Validate(req *Request) error {
	if req.ID != "" {
		if len(req.ID) > maxJobIDLength {
			return apperrors.Validation("id", fmt.Sprintf("job ID exceeds maximum length of %d", maxJobIDLength))
		}
		if !jobIDPattern.MatchString(req.ID) {
			return apperrors.Validation("id", "job ID must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
		}
	}

	if req.Mode == "" {
		return apperrors.Validation("mode", "mode is required")
	}
	if !req.Mode.Valid() {
		return apperrors.Validation("mode", fmt.Sprintf("unsupported mode %q", req.Mode))
	}

	opts := req.Options
	if len(opts.Model) > maxModelLength {
		return apperrors.Validation("model", fmt.Sprintf("model exceeds maximum length of %d", maxModelLength))
	}
	if len(opts.CustomPrompt) > maxPromptLength {
		return apperrors.Validation("customPrompt", fmt.Sprintf("custom prompt exceeds maximum length of %d", maxPromptLength))
	}

	if req.Mode == ModeSplit {
		if len(opts.PageOrder) == 0 {
			return apperrors.Validation("pageOrder", "page order is required for split mode")
		}
		if len(opts.PageOrder) > maxPageOrderLength {
			return apperrors.Validation("pageOrder", fmt.Sprintf("page order exceeds maximum of %d entries", maxPageOrderLength))
		}
		for _, p := range opts.PageOrder {
			if p < 1 {
				return apperrors.Validation("pageOrder", fmt.Sprintf("page %d is out of range", p))
			}
		}
	} else if len(opts.PageOrder) > 0 {
		return apperrors.Validation("pageOrder", "page order is only valid for split mode")
	}

	if opts.ImageFormat != "" && !validImageFormat(opts.ImageFormat) {
		return apperrors.Validation("imageFormat", fmt.Sprintf("unsupported image format %q (supported: %s)", opts.ImageFormat, strings.Join(ImageFormats, ", ")))
	}

	if req.Callback != nil {
		if err := validateURL(req.Callback.URL); err != nil {
			return apperrors.Validation("callbackUrl", fmt.Sprintf("invalid callback URL: %v", err))
		}
		if len(req.Callback.Events) > maxCallbackEvents {
			return apperrors.Validation("callback.events", fmt.Sprintf("callback events exceed maximum of %d", maxCallbackEvents))
		}
	}

	return nil
}

// ValidateInputs checks the submitted file names against what the mode accepts.
func ValidateInputs(mode Mode, names []string) error {
	if len(names) == 0 {
		return apperrors.Validation("files", "at least one file is required")
	}
	if len(names) > maxInputFiles {
		return apperrors.Validation("files", fmt.Sprintf("files exceed maximum of %d", maxInputFiles))
	}

	var pdfs int
	for _, name := range names {
		kind := KindOf(name)
		ext := strings.ToLower(filepath.Ext(name))
		switch mode {
		case ModeOCR:
			if kind != KindPDF && !ocrImageExts[ext] {
				return apperrors.Validation("files", fmt.Sprintf("%s: OCR accepts PDF, PNG, JPEG or WebP files", name))
			}
		case ModeMarkdown:
			if kind != KindMarkdown {
				return apperrors.Validation("files", fmt.Sprintf("%s: expected a markdown file", name))
			}
		case ModeMerge, ModePDFToImages, ModeSplit:
			if kind != KindPDF {
				return apperrors.Validation("files", fmt.Sprintf("%s: expected a PDF file", name))
			}
		case ModeImagesToPDF, ModeConvertImage:
			if kind != KindImage {
				return apperrors.Validation("files", fmt.Sprintf("%s: expected an image file", name))
			}
		}
		if kind == KindPDF {
			pdfs++
		}
	}

	switch mode {
	case ModeMerge:
		if pdfs < 2 {
			return apperrors.Validation("files", "merge requires at least two PDF files")
		}
	case ModePDFToImages, ModeSplit, ModeMarkdown:
		if len(names) != 1 {
			return apperrors.Validation("files", fmt.Sprintf("%s accepts exactly one file", mode))
		}
	}
	return nil
}

// ValidatePageOrder checks a split page order against the document's page count.
func ValidatePageOrder(order []int, pageCount int) error {
	if len(order) == 0 {
		return apperrors.Validation("pageOrder", "page order is required for split mode")
	}
	for _, p := range order {
		if p < 1 || p > pageCount {
			return apperrors.Validation("pageOrder", fmt.Sprintf("page %d is out of range (document has %d pages)", p, pageCount))
		}
	}
	return nil
}

// ParsePageOrder parses a comma-separated list of 1-based page numbers.
func ParsePageOrder(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	order := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, apperrors.Validation("pageOrder", fmt.Sprintf("invalid page number %q", part))
		}
		order = append(order, n)
	}
	return order, nil
}

// FormatPageOrder renders a page order the way the worker expects it.
func FormatPageOrder(order []int) string {
	parts := make([]string, len(order))
	for i, p := range order {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func validImageFormat(format string) bool {
	for _, f := range ImageFormats {
		if f == format {
			return true
		}
	}
	return false
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

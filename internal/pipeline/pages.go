package pipeline

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"rsc.io/pdf"
)

// PageCounter reports the number of pages in a PDF.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// PDFPageCounter reads the page tree with rsc.io/pdf and falls back to
// pdfcpu for documents that reader cannot parse.
type PDFPageCounter struct{}

// PageCount returns the number of pages in the PDF at path.
func (PDFPageCounter) PageCount(path string) (int, error) {
	n, err := countWithReader(path)
	if err == nil && n > 0 {
		return n, nil
	}
	n, cpuErr := api.PageCountFile(path)
	if cpuErr != nil {
		if err == nil {
			err = cpuErr
		}
		return 0, fmt.Errorf("failed to read PDF: %w", err)
	}
	return n, nil
}

func countWithReader(path string) (n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	// rsc.io/pdf panics on some malformed input.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

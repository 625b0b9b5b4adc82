package render

import (
	"fmt"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return n, nil
}

// SplitReorder writes the pages of in, in the given 1-based order, to out.
// Pages may repeat.
func SplitReorder(in, out string, pages []int) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages selected")
	}
	count, err := PageCount(in)
	if err != nil {
		return err
	}
	selected := make([]string, len(pages))
	for i, p := range pages {
		if p < 1 || p > count {
			return fmt.Errorf("page %d out of range 1-%d", p, count)
		}
		selected[i] = strconv.Itoa(p)
	}
	if err := api.CollectFile(in, out, selected, pdfConfig()); err != nil {
		return fmt.Errorf("failed to collect pages: %w", err)
	}
	return nil
}

// MergePDFs concatenates inputs, in order, into out.
func MergePDFs(inputs []string, out string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no documents to merge")
	}
	if err := api.MergeCreateFile(inputs, out, false, pdfConfig()); err != nil {
		return fmt.Errorf("failed to merge documents: %w", err)
	}
	return nil
}

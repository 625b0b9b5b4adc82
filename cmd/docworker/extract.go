package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docpipe/internal/depgate"
	"docpipe/internal/markdown"
	"docpipe/internal/proc"
	"docpipe/internal/render"
	"docpipe/internal/worker"
)

// errNoTextLayer is returned by native extraction of a scanned document.
var errNoTextLayer = errors.New("document has no extractable text layer")

// rasterDPI is the resolution pages are rendered at for OCR.
const rasterDPI = 300

func extractPagesCmd() *cobra.Command {
	var input, output, tempDir string
	var useNative bool

	cmd := &cobra.Command{
		Use:   worker.CmdExtractPages,
		Short: "Render PDF pages to PNG images, or extract their text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(tempDir, 0o755); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if useNative {
				return extractText(out, input, output)
			}
			return rasterize(cmd.Context(), out, input, output, tempDir)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "PDF to read")
	cmd.Flags().StringVar(&output, "output", "", "markdown file to write")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "directory for page images")
	cmd.Flags().BoolVar(&useNative, "use-native", false, "extract the embedded text layer instead of rendering")
	requireFlags(cmd, "input", "output", "temp-dir")
	return cmd
}

// extractText writes the PDF's text layer as markdown, one section per page.
func extractText(progress io.Writer, input, output string) error {
	reportProgress(progress, worker.Update{Message: "Extracting text from " + filepath.Base(input)})
	pages, err := render.ExtractText(input)
	if err != nil {
		return err
	}
	if !render.HasText(pages) {
		return errNoTextLayer
	}
	if err := os.WriteFile(output, []byte(markdown.Combine(pages)), 0o644); err != nil {
		return err
	}
	reportProgress(progress, worker.Update{Current: len(pages), Total: len(pages), Message: fmt.Sprintf("Extracted text from %d page(s)", len(pages))})
	slog.Info("Extracted text layer", "input", input, "pages", len(pages))
	return nil
}

// rasterize renders every page with the system rasterizer and writes an
// index of the produced images.
func rasterize(ctx context.Context, progress io.Writer, input, output, tempDir string) error {
	bin, err := exec.LookPath(depgate.Rasterizer)
	if err != nil {
		return fmt.Errorf("%s is not installed: %w", depgate.Rasterizer, err)
	}
	total, err := render.PageCount(input)
	if err != nil {
		slog.Warn("Could not count pages", "input", input, "error", err)
	}
	reportProgress(progress, worker.Update{Total: total, Message: fmt.Sprintf("Rendering %s at %d dpi", filepath.Base(input), rasterDPI)})

	cmd := exec.CommandContext(ctx, bin, "-png", "-r", fmt.Sprint(rasterDPI), input, filepath.Join(tempDir, "page"))
	proc.Isolate(cmd)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w: %s", depgate.Rasterizer, err, strings.TrimSpace(stderr.String()))
	}

	images, err := filepath.Glob(filepath.Join(tempDir, "page-*.png"))
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("%s produced no images", depgate.Rasterizer)
	}
	var b strings.Builder
	for i, img := range images {
		fmt.Fprintf(&b, "![Page %d](%s)\n", i+1, filepath.Base(img))
	}
	if err := os.WriteFile(output, []byte(b.String()), 0o644); err != nil {
		return err
	}
	reportProgress(progress, worker.Update{Current: len(images), Total: len(images), Message: fmt.Sprintf("Rendered %d page(s)", len(images))})
	slog.Info("Rendered pages", "input", input, "pages", len(images))
	return nil
}

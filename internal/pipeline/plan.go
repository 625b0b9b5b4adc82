package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docpipe/internal/apperrors"
	"docpipe/internal/depgate"
	"docpipe/internal/engine"
	"docpipe/internal/job"
	"docpipe/internal/progress"
	"docpipe/internal/worker"
)

// imageExts are the raster formats the OCR stage reads.
var imageExts = []string{".png", ".jpg", ".jpeg", ".webp"}

// span maps a worker's 0..100 percentage onto a slice of the job's progress.
type span struct{ lo, hi int }

var fullSpan = &span{0, 100}

func (s *span) scale(pct int) int {
	pct = max(0, min(100, pct))
	return s.lo + (s.hi-s.lo)*pct/100
}

// runPlan executes the stage plan for the job's mode.
func (e *Executor) runPlan(ctx context.Context, rt *run) error {
	rt.setStage(job.StageReady)

	switch rt.job.Mode {
	case job.ModeOCR:
		return e.planOCR(ctx, rt)
	case job.ModeMarkdown:
		return e.planMarkdown(ctx, rt)
	case job.ModeMerge:
		return e.planMerge(ctx, rt)
	case job.ModeImagesToPDF:
		return e.planImagesToPDF(ctx, rt)
	case job.ModePDFToImages:
		return e.planPDFToImages(ctx, rt)
	case job.ModeSplit:
		return e.planSplit(ctx, rt)
	case job.ModeConvertImage:
		return e.planConvertImage(ctx, rt)
	default:
		return apperrors.Validation("mode", fmt.Sprintf("unsupported mode %q", rt.job.Mode))
	}
}

// runStage runs one worker stage, forwarding its updates as events with the
// given status. Percentages are reported only when sp is set.
func (e *Executor) runStage(ctx context.Context, rt *run, spec worker.StageSpec, status progress.Status, sp *span) error {
	start := e.now()
	err := e.deps.Runner.Run(ctx, spec, func(u worker.Update) {
		ev := progress.Event{Status: status, Message: u.Message}
		if u.HasPercent && sp != nil {
			p := sp.scale(u.Percent)
			ev.Progress = &p
		}
		if ev.Progress == nil && ev.Message == "" {
			return
		}
		rt.emit(ctx, ev)
	})
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordStage(ctx, string(rt.job.Mode), string(spec.Stage), e.now().Sub(start), err)
	}
	if err != nil {
		rt.logger.Warn("Stage failed", "stage", spec.Stage, "command", spec.Command, "error", err)
		return err
	}
	rt.logger.Debug("Stage finished", "stage", spec.Stage, "command", spec.Command, "duration", e.now().Sub(start))
	return nil
}

// requireRasterizer resolves the page rasterizer. It returns native=true when
// the rasterizer is missing and text extraction may stand in for it.
func (e *Executor) requireRasterizer(ctx context.Context, rt *run, fallbackAllowed bool) (native bool, err error) {
	_, err = e.deps.Gate.Ensure(ctx, depgate.Rasterizer)
	if err == nil {
		return false, nil
	}
	if !fallbackAllowed || !errors.Is(err, apperrors.ErrDependencyMissing) {
		return false, err
	}
	rt.logger.Warn("Rasterizer unavailable, using native text extraction", "error", err)
	rt.fallbackUsed = true
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordFallback(ctx, string(rt.job.Mode))
	}
	return true, nil
}

// acquireEngine brings up the engine serving the job's model. The engine is
// released during cleanup whether or not this succeeds.
func (e *Executor) acquireEngine(ctx context.Context, rt *run) (engine.Kind, error) {
	kind := engine.KindForModel(rt.job.Options.Model)
	rt.emit(ctx, progress.New(progress.StatusStarting, fmt.Sprintf("Starting OCR engine %s", kind)))

	rt.acquired = &kind
	if err := e.deps.Engines.Acquire(ctx, kind); err != nil {
		return kind, err
	}
	rt.emit(ctx, progress.New(progress.StatusReady, fmt.Sprintf("OCR engine %s ready", kind)))
	return kind, nil
}

// planOCR rasterizes PDFs, runs OCR over every page and image, then renders
// the combined markdown to PDF. When the rasterizer is missing and fallback is
// allowed, PDFs contribute their embedded text instead of OCR output.
func (e *Executor) planOCR(ctx context.Context, rt *run) error {
	j := rt.job
	ocrInput := filepath.Join(j.WorkDir, "ocr-input")
	if err := os.MkdirAll(ocrInput, 0o755); err != nil {
		return apperrors.Internal("pipeline.ocr", err)
	}

	var pdfs int
	for _, in := range j.InputFiles {
		if job.KindOf(in) == job.KindPDF {
			pdfs++
		}
	}

	native := false
	if pdfs > 0 {
		var err error
		native, err = e.requireRasterizer(ctx, rt, e.cfg.FallbackPermitted || j.Options.UseNative)
		if err != nil {
			return err
		}
		rt.setStage(job.StageExtract)
	}

	var texts []string
	var extracted int
	for i, in := range j.InputFiles {
		if job.KindOf(in) != job.KindPDF {
			dst := filepath.Join(ocrInput, fmt.Sprintf("%03d-%s", i, filepath.Base(in)))
			if err := copyFile(in, dst); err != nil {
				return apperrors.Internal("pipeline.ocr", err)
			}
			continue
		}

		extracted++
		rt.emit(ctx, progress.New(progress.StatusExtracting,
			fmt.Sprintf("Extracting pages from %s (%d/%d)", filepath.Base(in), extracted, pdfs)))

		pagesDir := filepath.Join(j.WorkDir, fmt.Sprintf("pages-%03d", i))
		index := filepath.Join(j.WorkDir, fmt.Sprintf("pages-%03d.md", i))
		if err := e.runStage(ctx, rt, worker.ExtractPages(in, index, pagesDir, native), progress.StatusExtracting, nil); err != nil {
			return err
		}
		if native {
			texts = append(texts, index)
			continue
		}

		pages, err := listFiles(pagesDir, imageExts...)
		if err != nil {
			return apperrors.Internal("pipeline.ocr", err)
		}
		for p, page := range pages {
			dst := filepath.Join(ocrInput, fmt.Sprintf("%03d-%04d%s", i, p+1, strings.ToLower(filepath.Ext(page))))
			if err := moveFile(page, dst); err != nil {
				return apperrors.Internal("pipeline.ocr", err)
			}
		}
	}

	images, err := listFiles(ocrInput, imageExts...)
	if err != nil {
		return apperrors.Internal("pipeline.ocr", err)
	}

	parts := texts
	if len(images) > 0 {
		kind, err := e.acquireEngine(ctx, rt)
		if err != nil {
			return err
		}
		rt.setStage(job.StageProcess)
		ocrOut := filepath.Join(j.WorkDir, "ocr.md")
		spec := worker.ProcessDirectory(ocrInput, ocrOut, e.deps.Engines.APIBase(kind), j.Options)
		if err := e.runStage(ctx, rt, spec, progress.StatusProcessing, fullSpan); err != nil {
			return err
		}
		parts = append(parts, ocrOut)
	}
	if len(parts) == 0 {
		return apperrors.Internal("pipeline.ocr", errors.New("no pages were extracted from the input"))
	}

	base := stem(j.InputFiles[0])
	mdPath := filepath.Join(j.OutputDir, base+".md")
	if err := concatFiles(mdPath, parts); err != nil {
		return apperrors.Internal("pipeline.ocr", err)
	}
	rt.artifacts = append(rt.artifacts, filepath.Base(mdPath))

	pdfPath := filepath.Join(j.OutputDir, base+".pdf")
	if err := e.convertMarkdown(ctx, rt, mdPath, pdfPath, j.Options.UseCoordinates, nil); err != nil {
		return err
	}

	rt.result.MarkdownURL = e.artifactURL(j.ID, mdPath)
	rt.result.PDFURL = e.artifactURL(j.ID, pdfPath)
	return nil
}

// convertMarkdown renders markdown to PDF as the job's convert stage.
func (e *Executor) convertMarkdown(ctx context.Context, rt *run, mdPath, pdfPath string, useCoordinates bool, sp *span) error {
	rt.setStage(job.StageConvert)
	rt.emit(ctx, progress.New(progress.StatusConverting, "Converting markdown to PDF"))
	if err := e.runStage(ctx, rt, worker.MarkdownToPDF(mdPath, pdfPath, useCoordinates), progress.StatusConverting, sp); err != nil {
		return err
	}
	rt.artifacts = append(rt.artifacts, filepath.Base(pdfPath))
	return nil
}

// planMarkdown publishes the markdown input and its PDF rendering.
func (e *Executor) planMarkdown(ctx context.Context, rt *run) error {
	j := rt.job
	base := stem(j.InputFiles[0])
	mdPath := filepath.Join(j.OutputDir, base+".md")
	if err := copyFile(j.InputFiles[0], mdPath); err != nil {
		return apperrors.Internal("pipeline.markdown", err)
	}
	rt.artifacts = append(rt.artifacts, filepath.Base(mdPath))

	pdfPath := filepath.Join(j.OutputDir, base+".pdf")
	if err := e.convertMarkdown(ctx, rt, mdPath, pdfPath, false, fullSpan); err != nil {
		return err
	}
	rt.result.MarkdownURL = e.artifactURL(j.ID, mdPath)
	rt.result.PDFURL = e.artifactURL(j.ID, pdfPath)
	return nil
}

// planMerge concatenates the input PDFs in submission order.
func (e *Executor) planMerge(ctx context.Context, rt *run) error {
	out := filepath.Join(rt.job.OutputDir, "merged.pdf")
	return e.singlePDFStage(ctx, rt, worker.MergePDFs(out, rt.job.InputFiles),
		fmt.Sprintf("Merging %d PDFs", len(rt.job.InputFiles)), out)
}

// planImagesToPDF places each input image on its own page.
func (e *Executor) planImagesToPDF(ctx context.Context, rt *run) error {
	out := filepath.Join(rt.job.OutputDir, stem(rt.job.InputFiles[0])+".pdf")
	if len(rt.job.InputFiles) > 1 {
		out = filepath.Join(rt.job.OutputDir, "images.pdf")
	}
	return e.singlePDFStage(ctx, rt, worker.ImagesToPDF(out, rt.job.InputFiles),
		fmt.Sprintf("Combining %d image(s) into a PDF", len(rt.job.InputFiles)), out)
}

// planSplit writes the selected pages in the requested order.
func (e *Executor) planSplit(ctx context.Context, rt *run) error {
	in := rt.job.InputFiles[0]
	out := filepath.Join(rt.job.OutputDir, stem(in)+"-reordered.pdf")
	return e.singlePDFStage(ctx, rt, worker.SplitReorder(in, out, rt.job.Options.PageOrder),
		fmt.Sprintf("Reordering pages %s", job.FormatPageOrder(rt.job.Options.PageOrder)), out)
}

func (e *Executor) singlePDFStage(ctx context.Context, rt *run, spec worker.StageSpec, message, out string) error {
	rt.setStage(job.StageConvert)
	rt.emit(ctx, progress.New(progress.StatusConverting, message))
	if err := e.runStage(ctx, rt, spec, progress.StatusConverting, fullSpan); err != nil {
		return err
	}
	rt.artifacts = append(rt.artifacts, filepath.Base(out))
	rt.result.PDFURL = e.artifactURL(rt.job.ID, out)
	return nil
}

// planPDFToImages rasterizes every page into the output directory. There is
// no text fallback for this mode.
func (e *Executor) planPDFToImages(ctx context.Context, rt *run) error {
	j := rt.job
	if _, err := e.requireRasterizer(ctx, rt, false); err != nil {
		return err
	}

	rt.setStage(job.StageExtract)
	rt.emit(ctx, progress.New(progress.StatusExtracting, fmt.Sprintf("Rendering pages of %s", filepath.Base(j.InputFiles[0]))))
	index := filepath.Join(j.WorkDir, "pages.md")
	if err := e.runStage(ctx, rt, worker.ExtractPages(j.InputFiles[0], index, j.OutputDir, false), progress.StatusExtracting, fullSpan); err != nil {
		return err
	}

	pages, err := listFiles(j.OutputDir, ".png")
	if err != nil {
		return apperrors.Internal("pipeline.pdfToImages", err)
	}
	if len(pages) == 0 {
		return apperrors.WorkerFailure(string(job.StageExtract), 0, "no page images were produced")
	}
	for _, p := range pages {
		rt.artifacts = append(rt.artifacts, filepath.Base(p))
	}
	rt.result.ImageURLs = e.artifactURLs(j.ID, pages)
	rt.result.Message = fmt.Sprintf("Rendered %d page(s)", len(pages))
	return nil
}

// planConvertImage re-encodes each input image, one stage per file.
func (e *Executor) planConvertImage(ctx context.Context, rt *run) error {
	j := rt.job
	format := j.Options.ImageFormat
	ext := "." + format
	if format == "jpeg" {
		ext = ".jpg"
	}

	rt.setStage(job.StageConvert)
	used := make(map[string]bool, len(j.InputFiles))
	outputs := make([]string, 0, len(j.InputFiles))
	n := len(j.InputFiles)
	for i, in := range j.InputFiles {
		out := filepath.Join(j.OutputDir, uniqueName(stem(in)+ext, used))
		rt.emit(ctx, progress.New(progress.StatusConverting,
			fmt.Sprintf("Converting %s to %s (%d/%d)", filepath.Base(in), format, i+1, n)))
		sp := &span{lo: i * 100 / n, hi: (i + 1) * 100 / n}
		if err := e.runStage(ctx, rt, worker.ConvertImage(in, out, format), progress.StatusConverting, sp); err != nil {
			return err
		}
		outputs = append(outputs, out)
		rt.artifacts = append(rt.artifacts, filepath.Base(out))
	}
	rt.result.ImageURLs = e.artifactURLs(j.ID, outputs)
	return nil
}

// concatFiles writes the contents of parts to dst separated by blank lines.
func concatFiles(dst string, parts []string) error {
	var b strings.Builder
	for i, p := range parts {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimRight(string(data), "\n"))
	}
	b.WriteString("\n")
	return os.WriteFile(dst, []byte(b.String()), 0o644)
}

package worker

import (
	"time"

	"docpipe/internal/job"
)

// Worker subcommands.
const (
	CmdExtractPages     = "extract-pages"
	CmdProcessDirectory = "process-directory"
	CmdMarkdownToPDF    = "markdown-to-pdf"
	CmdSplitReorder     = "split-reorder"
	CmdMergePDFs        = "merge-pdfs"
	CmdImagesToPDF      = "images-to-pdf"
	CmdConvertImage     = "convert-image"
)

// StageSpec describes one worker invocation.
type StageSpec struct {
	Stage   job.Stage
	Command string
	Args    []string
	Timeout time.Duration // zero uses the configured limit for Stage
}

// Argv returns the full argument list after the binary name.
func (s StageSpec) Argv() []string {
	return append([]string{s.Command}, s.Args...)
}

// ExtractPages rasterizes a PDF into page images under tempDir, or extracts
// its text into output when useNative is set.
func ExtractPages(input, output, tempDir string, useNative bool) StageSpec {
	args := []string{"--input", input, "--output", output, "--temp-dir", tempDir}
	if useNative {
		args = append(args, "--use-native")
	}
	return StageSpec{Stage: job.StageExtract, Command: CmdExtractPages, Args: args}
}

// ProcessDirectory runs OCR over every image in dir.
func ProcessDirectory(dir, output, endpoint string, opts job.Options) StageSpec {
	args := []string{"--input", dir, "--output", output}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if endpoint != "" {
		args = append(args, "--endpoint", endpoint)
	}
	if opts.CustomPrompt != "" {
		args = append(args, "--custom-prompt", opts.CustomPrompt)
	}
	if opts.UseCoordinates {
		args = append(args, "--use-coordinates")
	}
	if opts.JoinImages {
		args = append(args, "--join-images")
	}
	return StageSpec{Stage: job.StageProcess, Command: CmdProcessDirectory, Args: args}
}

// MarkdownToPDF renders markdown into a PDF.
func MarkdownToPDF(input, output string, useCoordinates bool) StageSpec {
	args := []string{"--input", input, "--output", output}
	if useCoordinates {
		args = append(args, "--use-coordinates")
	}
	return StageSpec{Stage: job.StageConvert, Command: CmdMarkdownToPDF, Args: args}
}

// SplitReorder writes the selected pages of input in the given order.
func SplitReorder(input, output string, pages []int) StageSpec {
	return StageSpec{
		Stage:   job.StageConvert,
		Command: CmdSplitReorder,
		Args:    []string{"--input", input, "--output", output, "--pages", job.FormatPageOrder(pages)},
	}
}

// MergePDFs concatenates inputs in order.
func MergePDFs(output string, inputs []string) StageSpec {
	return StageSpec{Stage: job.StageConvert, Command: CmdMergePDFs, Args: withInputs([]string{"--output", output}, inputs)}
}

// ImagesToPDF places each image on its own page.
func ImagesToPDF(output string, inputs []string) StageSpec {
	return StageSpec{Stage: job.StageConvert, Command: CmdImagesToPDF, Args: withInputs([]string{"--output", output}, inputs)}
}

// ConvertImage re-encodes one image.
func ConvertImage(input, output, format string) StageSpec {
	return StageSpec{
		Stage:   job.StageConvert,
		Command: CmdConvertImage,
		Args:    []string{"--input", input, "--output", output, "--format", format},
	}
}

func withInputs(args, inputs []string) []string {
	for _, in := range inputs {
		args = append(args, "--input", in)
	}
	return args
}

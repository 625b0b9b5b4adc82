package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docpipe/internal/engine"
	"docpipe/internal/job"
	"docpipe/internal/markdown"
	"docpipe/internal/ocrclient"
	"docpipe/internal/render"
	"docpipe/internal/worker"
)

// maxJoinedImages caps how many images are stacked into one request.
const maxJoinedImages = 10

var ocrImageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

type processOptions struct {
	input, output  string
	model          string
	endpoint       string
	customPrompt   string
	useCoordinates bool
	joinImages     bool
	concurrency    int
}

func processDirectoryCmd() *cobra.Command {
	var opts processOptions
	cmd := &cobra.Command{
		Use:   worker.CmdProcessDirectory,
		Short: "OCR every image in a directory into one markdown file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ocrclient.LoadConfigFromEnv()
			if opts.endpoint != "" {
				cfg.Endpoint = opts.endpoint
			}
			if cfg.Endpoint == "" {
				cfg.Endpoint = engine.LoadConfigFromEnv().Kinds[engine.KindForModel(opts.model)].APIBase
			}
			client, err := ocrclient.New(cfg, slog.Default())
			if err != nil {
				return err
			}
			return processDirectory(cmd.Context(), cmd.OutOrStdout(), client, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.input, "input", "", "directory of page images")
	f.StringVar(&opts.output, "output", "", "markdown file to write")
	f.StringVar(&opts.model, "model", job.DefaultModel, "model identifier")
	f.StringVar(&opts.endpoint, "endpoint", "", "OpenAI-compatible base URL (default: the engine serving --model)")
	f.StringVar(&opts.customPrompt, "custom-prompt", "", "instruction sent with each image")
	f.BoolVar(&opts.useCoordinates, "use-coordinates", false, "keep located block markers in the output")
	f.BoolVar(&opts.joinImages, "join-images", false, fmt.Sprintf("stack up to %d images into a single request", maxJoinedImages))
	f.IntVar(&opts.concurrency, "concurrency", 1, "images recognized in parallel")
	requireFlags(cmd, "input", "output")
	return cmd
}

type recognizer interface {
	Recognize(ctx context.Context, req ocrclient.Request) (string, error)
}

func processDirectory(ctx context.Context, progress io.Writer, client recognizer, opts processOptions) error {
	images, err := listImages(opts.input)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s", opts.input)
	}

	clean := markdown.CleanPlain
	if opts.useCoordinates {
		clean = markdown.Clean
	}

	var results []string
	if opts.joinImages && len(images) > 1 {
		results, err = recognizeJoined(ctx, progress, client, images, opts)
	} else {
		results, err = recognizeEach(ctx, progress, client, images, opts)
	}
	if err != nil {
		return err
	}
	for i, r := range results {
		results[i] = clean(r)
	}
	if err := os.WriteFile(opts.output, []byte(markdown.Combine(results)), 0o644); err != nil {
		return err
	}
	slog.Info("OCR complete", "images", len(images), "output", opts.output)
	return nil
}

// recognizeEach sends one request per image; results keep directory order.
func recognizeEach(ctx context.Context, progress io.Writer, client recognizer, images []string, opts processOptions) ([]string, error) {
	total := len(images)
	results := make([]string, total)
	reportProgress(progress, worker.Update{Total: total, Message: fmt.Sprintf("Processing %d image(s)", total)})

	var mu sync.Mutex
	done := 0
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.concurrency, 1))
	for i, path := range images {
		g.Go(func() error {
			data, err := pngBytes(path)
			if err != nil {
				return err
			}
			name := filepath.Base(path)
			slog.Debug("Recognizing image", "image", name, "bytes", len(data))
			text, err := client.Recognize(ctx, ocrclient.Request{
				Model:  opts.model,
				Prompt: ocrclient.BuildPrompt(name, opts.model, opts.customPrompt, opts.useCoordinates),
				Image:  data,
			})
			if err != nil {
				return fmt.Errorf("failed to process %s: %w", name, err)
			}
			results[i] = text

			mu.Lock()
			done++
			reportProgress(progress, worker.Update{Current: done, Total: total, Message: "Processed " + name})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// recognizeJoined stacks the images into one tall page and sends it once.
func recognizeJoined(ctx context.Context, progress io.Writer, client recognizer, images []string, opts processOptions) ([]string, error) {
	decoded := make([]image.Image, len(images))
	sizes := make([]image.Point, len(images))
	for i, path := range images {
		img, _, err := render.LoadImage(path)
		if err != nil {
			return nil, err
		}
		decoded[i] = img
		sizes[i] = img.Bounds().Size()
	}
	selected := render.SelectForJoin(sizes, maxJoinedImages)
	if len(selected) < len(images) {
		slog.Warn("Too many images to join, keeping the tallest", "images", len(images), "kept", len(selected))
	}
	parts := make([]image.Image, len(selected))
	for i, idx := range selected {
		parts[i] = decoded[idx]
	}

	reportProgress(progress, worker.Update{Total: 1, Message: fmt.Sprintf("Processing %d joined image(s)", len(parts))})
	var buf bytes.Buffer
	if err := png.Encode(&buf, render.JoinVertical(parts)); err != nil {
		return nil, err
	}
	text, err := client.Recognize(ctx, ocrclient.Request{
		Model:  opts.model,
		Prompt: ocrclient.BuildPrompt("joined.png", opts.model, opts.customPrompt, opts.useCoordinates),
		Image:  buf.Bytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process joined image: %w", err)
	}
	reportProgress(progress, worker.Update{Current: 1, Total: 1, Message: "Processed joined image"})
	return []string{text}, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var images []string
	for _, e := range entries {
		if e.IsDir() || !ocrImageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		images = append(images, filepath.Join(dir, e.Name()))
	}
	sort.Strings(images)
	return images, nil
}

// pngBytes returns the file as PNG, re-encoding other formats.
func pngBytes(path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return os.ReadFile(path)
	}
	img, _, err := render.LoadImage(path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

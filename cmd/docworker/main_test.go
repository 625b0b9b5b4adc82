package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"docpipe/internal/markdown"
	"docpipe/internal/render"
	"docpipe/internal/worker"
)

// run executes the CLI and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(io.Discard)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func progressUpdates(t *testing.T, out string) []worker.Update {
	t.Helper()
	var updates []worker.Update
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if u, ok := worker.ParseLine(sc.Text()); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

func writeImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	path := filepath.Join(dir, name)
	if err := render.EncodePNG(img, path); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeEngine answers chat completions with the prompt's filename.
func fakeEngine(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		name, _, _ := strings.Cut(req.Messages[0].Content[0].Text, " ")
		resp := map[string]any{"choices": []any{map[string]any{"message": map[string]string{
			"content": "<|ref|>text<|/ref|><|det|>[[1, 2, 3, 4]]<|/det|>\ntext of " + name,
		}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessDirectory(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := fakeEngine(t, &calls)
	dir := t.TempDir()
	writeImage(t, dir, "001-0002.png", 10, 10)
	writeImage(t, dir, "001-0001.png", 10, 10)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644)
	out := filepath.Join(t.TempDir(), "ocr.md")

	stdout, err := run(t, worker.CmdProcessDirectory, "--input", dir, "--output", out,
		"--endpoint", srv.URL, "--model", "llava", "--concurrency", "2")
	if err != nil {
		t.Fatalf("process-directory: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	md := string(data)
	first := strings.Index(md, "text of 001-0001.png")
	second := strings.Index(md, "text of 001-0002.png")
	if first < 0 || second < first {
		t.Errorf("results out of order:\n%s", md)
	}
	if !strings.Contains(md, markdown.ImageIndex(1)) || !strings.Contains(md, markdown.PageBreak) {
		t.Errorf("missing image markers:\n%s", md)
	}
	if strings.Contains(md, "<|det|>") {
		t.Errorf("located markers kept without --use-coordinates:\n%s", md)
	}

	updates := progressUpdates(t, stdout)
	if len(updates) != 3 {
		t.Fatalf("progress updates = %d, want 3: %q", len(updates), stdout)
	}
	if last := updates[len(updates)-1]; last.Current != 2 || last.Percent != 100 {
		t.Errorf("last update = %+v, want 2/2 at 100%%", last)
	}
}

func TestProcessDirectoryKeepsCoordinates(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := fakeEngine(t, &calls)
	dir := t.TempDir()
	writeImage(t, dir, "page.png", 10, 10)
	out := filepath.Join(t.TempDir(), "ocr.md")

	if _, err := run(t, worker.CmdProcessDirectory, "--input", dir, "--output", out, "--endpoint", srv.URL, "--use-coordinates"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(out)
	if blocks := markdown.ParseBlocks(string(data)); len(blocks) != 1 {
		t.Errorf("blocks = %d, want 1:\n%s", len(blocks), data)
	}
}

func TestProcessDirectoryJoinsImages(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := fakeEngine(t, &calls)
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writeImage(t, dir, name, 20, 30)
	}
	out := filepath.Join(t.TempDir(), "ocr.md")

	if _, err := run(t, worker.CmdProcessDirectory, "--input", dir, "--output", out, "--endpoint", srv.URL, "--join-images"); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	data, _ := os.ReadFile(out)
	if !strings.Contains(string(data), "text of joined.png") {
		t.Errorf("output = %q", data)
	}
}

func TestProcessDirectoryFailures(t *testing.T) {
	t.Parallel()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer failing.Close()

	withImage := t.TempDir()
	writeImage(t, withImage, "page.png", 5, 5)

	tests := []struct {
		name string
		dir  string
	}{
		{"empty directory", t.TempDir()},
		{"engine rejects request", withImage},
	}
	for _, tt := range tests {
		out := filepath.Join(t.TempDir(), "ocr.md")
		if _, err := run(t, worker.CmdProcessDirectory, "--input", tt.dir, "--output", out, "--endpoint", failing.URL); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Errorf("%s: output written despite failure", tt.name)
		}
	}
}

func TestExtractPagesNative(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "doc.pdf")
	if err := render.MarkdownToPDF("# Annual Summary\n\nBody text.", pdfPath, false); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "pages.md")

	if _, err := run(t, worker.CmdExtractPages, "--input", pdfPath, "--output", out, "--temp-dir", filepath.Join(dir, "pages"), "--use-native"); err != nil {
		t.Fatalf("extract-pages: %v", err)
	}
	data, _ := os.ReadFile(out)
	if !strings.Contains(string(data), "Annual") || !strings.Contains(string(data), markdown.ImageIndex(0)) {
		t.Errorf("extracted = %q", data)
	}
}

func TestExtractPagesNativeWithoutText(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "scan.pdf")
	if err := render.ImagesToPDF([]string{writeImage(t, dir, "scan.png", 20, 20)}, pdfPath); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, worker.CmdExtractPages, "--input", pdfPath, "--output", filepath.Join(dir, "out.md"), "--temp-dir", dir, "--use-native")
	if !errors.Is(err, errNoTextLayer) {
		t.Errorf("err = %v, want errNoTextLayer", err)
	}
}

func TestConversionCommands(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeImage(t, dir, "a.png", 30, 40)
	b := writeImage(t, dir, "b.png", 40, 30)

	jpg := filepath.Join(dir, "a.jpg")
	if _, err := run(t, worker.CmdConvertImage, "--input", a, "--output", jpg, "--format", "jpeg"); err != nil {
		t.Fatalf("convert-image: %v", err)
	}

	images := filepath.Join(dir, "images.pdf")
	if _, err := run(t, worker.CmdImagesToPDF, "--output", images, "--input", jpg, "--input", b); err != nil {
		t.Fatalf("images-to-pdf: %v", err)
	}

	md := filepath.Join(dir, "notes.md")
	os.WriteFile(md, []byte("# Notes\n\nSome text."), 0o644)
	notes := filepath.Join(dir, "notes.pdf")
	if _, err := run(t, worker.CmdMarkdownToPDF, "--input", md, "--output", notes); err != nil {
		t.Fatalf("markdown-to-pdf: %v", err)
	}

	merged := filepath.Join(dir, "merged.pdf")
	if _, err := run(t, worker.CmdMergePDFs, "--output", merged, "--input", images, "--input", notes); err != nil {
		t.Fatalf("merge-pdfs: %v", err)
	}
	if n, err := render.PageCount(merged); err != nil || n != 3 {
		t.Fatalf("merged pages = %d, %v; want 3", n, err)
	}

	reordered := filepath.Join(dir, "reordered.pdf")
	stdout, err := run(t, worker.CmdSplitReorder, "--input", merged, "--output", reordered, "--pages", "3,1")
	if err != nil {
		t.Fatalf("split-reorder: %v", err)
	}
	if n, err := render.PageCount(reordered); err != nil || n != 2 {
		t.Errorf("reordered pages = %d, %v; want 2", n, err)
	}
	if updates := progressUpdates(t, stdout); len(updates) != 1 || updates[0].Percent != 100 {
		t.Errorf("progress = %+v", updates)
	}
}

func TestMissingRequiredFlags(t *testing.T) {
	t.Parallel()
	for _, cmd := range []string{
		worker.CmdExtractPages, worker.CmdProcessDirectory, worker.CmdMarkdownToPDF,
		worker.CmdSplitReorder, worker.CmdMergePDFs, worker.CmdImagesToPDF, worker.CmdConvertImage,
	} {
		if _, err := run(t, cmd); err == nil {
			t.Errorf("%s without flags: expected error", cmd)
		}
	}
}

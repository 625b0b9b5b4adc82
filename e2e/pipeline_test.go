//go:build e2e

// End-to-end tests drive the HTTP API with the real docworker binary.
// Build it first and point DOCWORKER_BIN at it:
//
//	go build -o /tmp/docworker ./cmd/docworker
//	DOCWORKER_BIN=/tmp/docworker go test -tags e2e ./e2e/...
package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"docpipe/internal/api"
	"docpipe/internal/depgate"
	"docpipe/internal/engine"
	"docpipe/internal/health"
	"docpipe/internal/history"
	"docpipe/internal/pipeline"
	"docpipe/internal/progress"
	"docpipe/internal/testutil"
	"docpipe/internal/worker"
)

type env struct {
	url         string
	engineCalls *atomic.Int32
}

// newEnv starts the service in-process with a fake OpenAI-compatible engine
// serving both engine kinds.
func newEnv(t *testing.T) *env {
	t.Helper()
	bin := os.Getenv("DOCWORKER_BIN")
	if bin == "" {
		t.Skip("DOCWORKER_BIN not set")
	}

	var calls atomic.Int32
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls.Add(1)
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"# Recognized\n\nHello from the engine."}}]}`))
	}))
	t.Cleanup(fake.Close)

	kc := engine.KindConfig{APIBase: fake.URL + "/v1", HealthURL: fake.URL + "/health", Attempts: 1, Interval: 10 * time.Millisecond}
	engineCfg := engine.Config{Kinds: map[engine.Kind]engine.KindConfig{engine.KindNexa: kc, engine.KindOllama: kc}}
	launchers, err := engine.NewLaunchers(engineCfg)
	if err != nil {
		t.Fatal(err)
	}
	engines := engine.NewRegistry(engineCfg, engine.NewHTTPProber(time.Second), launchers, nil)

	dataDir := t.TempDir()
	store := history.NewMemoryStore(100)
	gate := depgate.New(depgate.Config{}, depgate.DefaultCapabilities())
	executor, err := pipeline.NewExecutor(pipeline.Config{DataDir: dataDir, FallbackPermitted: true}, pipeline.Deps{
		Engines: engines,
		Gate:    gate,
		Runner:  worker.NewRunner(worker.Config{Binary: bin}),
		History: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	spool := filepath.Join(dataDir, "spool")
	os.MkdirAll(spool, 0o755)
	handler := api.NewHandler(api.HandlerConfig{
		Jobs:          executor,
		Dependencies:  gate,
		Engines:       engines,
		History:       store,
		HealthChecker: health.NewChecker(health.Check{Name: "worker", Critical: true, Fn: health.BinaryCheck(bin)}),
		SpoolDir:      spool,
	})
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{Handler: handler}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		executor.Close(ctx)
		engines.ShutdownAll(ctx)
	})
	return &env{url: srv.URL, engineCalls: &calls}
}

type upload struct {
	name string
	data []byte
}

// submit posts a job and collects its NDJSON stream.
func (e *env) submit(t *testing.T, fields map[string]string, files ...upload) (int, []progress.Event) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	for _, f := range files {
		w, _ := mw.CreateFormFile("files", f.name)
		w.Write(f.data)
	}
	mw.Close()

	resp, err := http.Post(e.url+"/v1/jobs", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	var events []progress.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev progress.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad record %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return resp.StatusCode, events
}

func (e *env) download(t *testing.T, url string) []byte {
	t.Helper()
	resp, err := http.Get(e.url + url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	return data
}

func completion(t *testing.T, events []progress.Event) progress.Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	if last := events[len(events)-1]; last.Status != progress.StatusDone {
		t.Fatalf("last event = %+v, want done", last)
	}
	for _, ev := range events {
		if ev.Status == progress.StatusError {
			t.Fatalf("job failed: %s", ev.Error)
		}
		if ev.Status == progress.StatusComplete {
			return ev
		}
	}
	t.Fatalf("no complete event in %+v", events)
	return progress.Event{}
}

func pngFile(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestE2E_Readyz(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.url + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestE2E_MarkdownToPDF(t *testing.T) {
	e := newEnv(t)
	_, events := e.submit(t, map[string]string{"mode": "markdown"},
		upload{"notes.md", []byte("# Notes\n\n- one\n- two\n")})

	done := completion(t, events)
	if !strings.HasSuffix(done.PDFURL, "/notes.pdf") {
		t.Fatalf("pdfUrl = %q", done.PDFURL)
	}
	if pdf := e.download(t, done.PDFURL); !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Error("download is not a PDF")
	}
}

func TestE2E_OCRImage(t *testing.T) {
	e := newEnv(t)
	_, events := e.submit(t, map[string]string{"mode": "ocr", "model": "llava:7b"},
		upload{"scan.png", pngFile(t, 40, 60)})

	done := completion(t, events)
	if got := e.engineCalls.Load(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	md := string(e.download(t, done.MarkdownURL))
	if !strings.Contains(md, "Hello from the engine.") {
		t.Errorf("markdown = %q", md)
	}
	e.download(t, done.PDFURL)
}

func TestE2E_ImagesMergeAndSplit(t *testing.T) {
	e := newEnv(t)
	_, events := e.submit(t, map[string]string{"mode": "images-to-pdf"},
		upload{"a.png", pngFile(t, 20, 30)}, upload{"b.png", pngFile(t, 30, 20)})
	images := e.download(t, completion(t, events).PDFURL)

	_, events = e.submit(t, map[string]string{"mode": "merge"},
		upload{"first.pdf", images}, upload{"second.pdf", images})
	merged := e.download(t, completion(t, events).PDFURL)

	_, events = e.submit(t, map[string]string{"mode": "split", "pageOrder": "4,1"},
		upload{"merged.pdf", merged})
	completion(t, events)

	status, _ := e.submit(t, map[string]string{"mode": "split", "pageOrder": "9"},
		upload{"merged.pdf", merged})
	if status != http.StatusBadRequest {
		t.Errorf("out-of-range split status = %d, want 400", status)
	}
}

func TestE2E_ConvertImage(t *testing.T) {
	e := newEnv(t)
	_, events := e.submit(t, map[string]string{"mode": "convert-image", "imageFormat": "jpeg"},
		upload{"photo.png", pngFile(t, 16, 16)})

	done := completion(t, events)
	if len(done.ImageURLs) != 1 {
		t.Fatalf("imageUrls = %v", done.ImageURLs)
	}
	if data := e.download(t, done.ImageURLs[0]); !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Error("output is not a JPEG")
	}
}

func TestE2E_HistoryRecordsJobs(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 2; i++ {
		_, events := e.submit(t, map[string]string{"mode": "markdown", "id": fmt.Sprintf("hist-%d", i)},
			upload{"doc.md", []byte("text")})
		completion(t, events)
	}

	// History is written just after the stream closes.
	testutil.MustWaitFor(t, "two history records", func() bool {
		resp, err := http.Get(e.url + "/v1/jobs/history?limit=10")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Jobs []struct {
				ID string `json:"id"`
			} `json:"jobs"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return len(body.Jobs) == 2
	})
}

package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"docpipe/internal/apperrors"
	"docpipe/internal/job"
)

// Directory names under the data dir.
const (
	uploadsDir = "uploads"
	workDir    = "work"
	outputsDir = "outputs"
)

// pdfMagic is the header every PDF starts with.
var pdfMagic = []byte("%PDF-")

// jobDirs returns the upload, work and output directories for a job.
func (e *Executor) jobDirs(jobID string) (upload, work, output string) {
	return filepath.Join(e.cfg.DataDir, uploadsDir, jobID),
		filepath.Join(e.cfg.DataDir, workDir, jobID),
		filepath.Join(e.cfg.DataDir, outputsDir, jobID)
}

// OutputPath resolves an artifact name inside a job's output directory.
// Names that would escape the directory are rejected.
func (e *Executor) OutputPath(jobID, name string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", apperrors.NotFound("job", jobID)
	}
	clean := filepath.Base(filepath.Clean("/" + name))
	if clean != name || clean == "/" || clean == "." {
		return "", apperrors.NotFound("file", name)
	}
	_, _, out := e.jobDirs(jobID)
	path := filepath.Join(out, clean)
	if _, err := os.Stat(path); err != nil {
		return "", apperrors.NotFound("file", name)
	}
	return path, nil
}

// artifactURL builds the public URL for a file in the job's output dir.
func (e *Executor) artifactURL(jobID, path string) string {
	return fmt.Sprintf("%s/files/%s/%s", strings.TrimRight(e.cfg.PublicBaseURL, "/"), url.PathEscape(jobID), url.PathEscape(filepath.Base(path)))
}

func (e *Executor) artifactURLs(jobID string, paths []string) []string {
	urls := make([]string, len(paths))
	for i, p := range paths {
		urls[i] = e.artifactURL(jobID, p)
	}
	return urls
}

// stageUploads moves uploaded files into dir, keeping submission order and
// making names unique.
func stageUploads(dir string, uploads []job.Upload) ([]string, error) {
	used := make(map[string]bool, len(uploads))
	paths := make([]string, 0, len(uploads))
	for _, u := range uploads {
		name := uniqueName(sanitizeName(u.Name), used)
		dst := filepath.Join(dir, name)
		if err := moveFile(u.Path, dst); err != nil {
			return nil, apperrors.Internal("pipeline.stageUpload", err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

// sanitizeName strips directories and characters that are awkward in paths and URLs.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.TrimLeft(b.String(), ".")
	if s == "" || s == "_" {
		s = "file"
	}
	return s
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; used[strings.ToLower(candidate)]; i++ {
		candidate = stem + "-" + strconv.Itoa(i) + ext
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

// stem returns a file name without directory and extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// moveFile renames src to dst, copying when they are on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// checkPDF verifies a file starts with the PDF header.
func checkPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, _ := io.ReadFull(f, head)
	if !bytes.Contains(head[:n], pdfMagic) {
		return apperrors.Validation("files", fmt.Sprintf("%s is not a PDF document", filepath.Base(path)))
	}
	return nil
}

// listFiles returns the regular files in dir with one of exts, in natural order.
func listFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[e] = true
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if len(want) > 0 && !want[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Slice(files, func(i, j int) bool { return naturalLess(filepath.Base(files[i]), filepath.Base(files[j])) })
	return files, nil
}

// naturalLess orders names so that "page-2" sorts before "page-10".
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, ra := leadingDigits(a)
		db, rb := leadingDigits(b)
		if da != "" && db != "" {
			na, _ := strconv.Atoi(da)
			nb, _ := strconv.Atoi(db)
			if na != nb {
				return na < nb
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

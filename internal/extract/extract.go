// Package extract turns policy documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/policyrag/internal/domain"
)

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")

// pageBreak separates pages in pdftotext output.
const pageBreak = '\f'

// Result is the extracted text of a document.
type Result struct {
	Text string
	// Pages holds the byte offset in Text where each page starts.
	Pages []int
}

// CommandRunner executes external commands.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name and returns its stdout.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// Extractor reads PDF, text and markdown documents.
type Extractor struct {
	runner CommandRunner
}

// New creates an Extractor that shells out to pdftotext.
func New() *Extractor {
	return NewWithRunner(ExecRunner{})
}

// NewWithRunner creates an Extractor using runner for pdftotext.
func NewWithRunner(runner CommandRunner) *Extractor {
	return &Extractor{runner: runner}
}

// Supported reports whether name has an extension the extractor handles.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// ExtractFile extracts the text of the file at path.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (Result, error) {
	if !Supported(path) {
		return Result{}, domain.Wrapf(domain.ErrUnsupportedDocument, nil, "%s", filepath.Base(path))
	}

	if isPDF(path, nil) {
		return e.pdf(ctx, path, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, domain.Wrapf(domain.ErrExtractionFailed, err, "%s", filepath.Base(path))
	}
	return plain(path, data)
}

// Extract extracts the text of an in-memory document. name selects the
// format; PDF content is also recognised by its magic bytes.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte) (Result, error) {
	if isPDF(name, data) {
		tmp, err := os.CreateTemp("", "policyrag-*.pdf")
		if err != nil {
			return Result{}, domain.Wrapf(domain.ErrExtractionFailed, err, "%s", name)
		}
		defer os.Remove(tmp.Name())

		_, err = tmp.Write(data)
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return Result{}, domain.Wrapf(domain.ErrExtractionFailed, err, "%s", name)
		}
		return e.pdf(ctx, name, tmp.Name())
	}

	if !Supported(name) {
		return Result{}, domain.Wrapf(domain.ErrUnsupportedDocument, nil, "%s", name)
	}
	return plain(name, data)
}

func (e *Extractor) pdf(ctx context.Context, name, path string) (Result, error) {
	out, err := e.runner.Run(ctx, "pdftotext", "-enc", "UTF-8", path, "-")
	if err != nil {
		return Result{}, domain.Wrapf(domain.ErrExtractionFailed, err, "pdftotext failed for %s", name)
	}
	return splitPages(string(out)), nil
}

func plain(name string, data []byte) (Result, error) {
	if !utf8.Valid(data) {
		return Result{}, domain.Wrapf(domain.ErrExtractionFailed, nil, "%s is not valid UTF-8", name)
	}
	return Result{Text: string(data), Pages: []int{0}}, nil
}

// splitPages replaces form feeds with newlines and records page offsets.
// pdftotext terminates every page, including the last, with a form feed.
func splitPages(raw string) Result {
	raw = strings.TrimRight(raw, string(pageBreak))
	pages := []int{0}
	for i := 0; i < len(raw); i++ {
		if raw[i] == pageBreak {
			pages = append(pages, i+1)
		}
	}
	return Result{
		Text:  strings.ReplaceAll(raw, string(pageBreak), "\n"),
		Pages: pages,
	}
}

func isPDF(name string, data []byte) bool {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

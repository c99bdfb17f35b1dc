package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("policy.pdf"))
	assert.True(t, Supported("POLICY.PDF"))
	assert.True(t, Supported("notes.txt"))
	assert.True(t, Supported("readme.md"))
	assert.False(t, Supported("image.png"))
	assert.False(t, Supported("noext"))
}

func TestExtract_PDFWithMockRunner(t *testing.T) {
	runner := &mockRunner{output: []byte("Page one text.\fPage two text.\f")}
	extractor := NewWithRunner(runner)

	result, err := extractor.Extract(context.Background(), "policy.pdf", []byte("%PDF-1.4 fake"))

	require.NoError(t, err)
	assert.Equal(t, "Page one text.\nPage two text.", result.Text)
	assert.Equal(t, []int{0, 15}, result.Pages)
	assert.Equal(t, "pdftotext", runner.name)
	assert.Equal(t, "-", runner.args[len(runner.args)-1])
}

func TestExtract_PDFByMagicBytes(t *testing.T) {
	runner := &mockRunner{output: []byte("text")}
	extractor := NewWithRunner(runner)

	result, err := extractor.Extract(context.Background(), "https://example.com/download?id=1", []byte("%PDF-1.7 body"))

	require.NoError(t, err)
	assert.Equal(t, "text", result.Text)
}

func TestExtract_RunnerError(t *testing.T) {
	extractor := NewWithRunner(&mockRunner{err: errors.New("pdftotext crashed")})

	_, err := extractor.Extract(context.Background(), "policy.pdf", []byte("%PDF-1.4"))

	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestExtract_PlainText(t *testing.T) {
	extractor := NewWithRunner(&mockRunner{})

	result, err := extractor.Extract(context.Background(), "terms.txt", []byte("Cover applies."))

	require.NoError(t, err)
	assert.Equal(t, "Cover applies.", result.Text)
	assert.Equal(t, []int{0}, result.Pages)
}

func TestExtract_InvalidUTF8(t *testing.T) {
	extractor := NewWithRunner(&mockRunner{})

	_, err := extractor.Extract(context.Background(), "terms.txt", []byte{0xff, 0xfe})

	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestExtract_Unsupported(t *testing.T) {
	extractor := NewWithRunner(&mockRunner{})

	_, err := extractor.Extract(context.Background(), "photo.png", []byte{0x89, 'P', 'N', 'G'})

	assert.ErrorIs(t, err, domain.ErrUnsupportedDocument)
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.md")
	require.NoError(t, os.WriteFile(path, []byte("# Policy\n\nGrace period applies."), 0o644))

	result, err := NewWithRunner(&mockRunner{}).ExtractFile(context.Background(), path)

	require.NoError(t, err)
	assert.Contains(t, result.Text, "Grace period applies.")
}

func TestExtractFile_Missing(t *testing.T) {
	_, err := NewWithRunner(&mockRunner{}).ExtractFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))

	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
}

func TestExtractFile_PDFUsesPathDirectly(t *testing.T) {
	runner := &mockRunner{output: []byte("body\f")}

	_, err := NewWithRunner(runner).ExtractFile(context.Background(), "/data/policy.pdf")

	require.NoError(t, err)
	assert.Equal(t, []string{"-enc", "UTF-8", "/data/policy.pdf", "-"}, runner.args)
}

func TestErrPDFToolNotFound(t *testing.T) {
	assert.Contains(t, ErrPDFToolNotFound.Error(), "pdftotext")
}

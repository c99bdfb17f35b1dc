package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/pagination"
	"github.com/cloo-solutions/policyrag/internal/service"
	"github.com/cloo-solutions/policyrag/internal/storage"
)

type MockDocumentCorpus struct {
	mock.Mock
}

func (m *MockDocumentCorpus) IngestDocument(ctx context.Context, id, text string, opts ...service.IngestOption) (*domain.Document, error) {
	args := m.Called(ctx, id, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentCorpus) RemoveDocument(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentCorpus) Document(id string) (domain.Document, error) {
	args := m.Called(id)
	return args.Get(0).(domain.Document), args.Error(1)
}

func (m *MockDocumentCorpus) Chunks(id string) ([]domain.Chunk, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

func (m *MockDocumentCorpus) Documents() []domain.Document {
	args := m.Called()
	return args.Get(0).([]domain.Document)
}

type MockTextExtractor struct {
	mock.Mock
}

func (m *MockTextExtractor) Extract(ctx context.Context, name string, data []byte) (extract.Result, error) {
	args := m.Called(ctx, name, data)
	return args.Get(0).(extract.Result), args.Error(1)
}

type MockDocumentArchive struct {
	mock.Mock
}

func (m *MockDocumentArchive) PutObject(ctx context.Context, name string, data []byte, contentType string) (storage.ObjectInfo, error) {
	args := m.Called(ctx, name, data, contentType)
	return args.Get(0).(storage.ObjectInfo), args.Error(1)
}

type MockSyncMarker struct {
	mock.Mock
}

func (m *MockSyncMarker) BeginUpload(name string) {
	m.Called(name)
}

func (m *MockSyncMarker) EndUpload(name string) {
	m.Called(name)
}

func (m *MockSyncMarker) MarkSynced(key, etag string) {
	m.Called(key, etag)
}

func multipartUpload(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func TestDocumentHandler_Upload(t *testing.T) {
	corpus := new(MockDocumentCorpus)
	extractor := new(MockTextExtractor)
	archive := new(MockDocumentArchive)
	marker := new(MockSyncMarker)

	data := []byte("Claims must be filed within 30 days.")
	extractor.On("Extract", mock.Anything, "policy.txt", data).
		Return(extract.Result{Text: string(data), Pages: []int{0}}, nil)
	corpus.On("IngestDocument", mock.Anything, "policy.txt", string(data)).
		Return(&domain.Document{ID: "policy.txt", ChunkCount: 1, Pages: []int{0}, IngestedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, nil)
	archive.On("PutObject", mock.Anything, "policy.txt", data, mock.Anything).
		Return(storage.ObjectInfo{Key: "docs/policy.txt", ETag: "etag-1"}, nil)
	marker.On("BeginUpload", "policy.txt").Return().Once()
	marker.On("MarkSynced", "docs/policy.txt", "etag-1").Return()
	marker.On("EndUpload", "policy.txt").Return().Once()

	h := NewDocumentHandler(corpus, extractor, archive, marker, zaptest.NewLogger(t))
	w := httptest.NewRecorder()
	h.Upload(w, multipartUpload(t, "policy.txt", data))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp DocumentResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "policy.txt", resp.ID)
	assert.Equal(t, 1, resp.ChunkCount)
	assert.Equal(t, 1, resp.Pages)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.IngestedAt)
	assert.Equal(t, "docs/policy.txt", resp.ArchiveKey)

	corpus.AssertExpectations(t)
	archive.AssertExpectations(t)
	marker.AssertExpectations(t)
}

func TestDocumentHandler_Upload_ArchiveFailureStillIngests(t *testing.T) {
	corpus := new(MockDocumentCorpus)
	extractor := new(MockTextExtractor)
	archive := new(MockDocumentArchive)
	marker := new(MockSyncMarker)

	extractor.On("Extract", mock.Anything, "policy.md", mock.Anything).Return(extract.Result{Text: "Cover."}, nil)
	corpus.On("IngestDocument", mock.Anything, "policy.md", "Cover.").Return(&domain.Document{ID: "policy.md", ChunkCount: 1}, nil)
	archive.On("PutObject", mock.Anything, "policy.md", mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{}, assert.AnError)
	marker.On("BeginUpload", "policy.md").Return().Once()
	marker.On("EndUpload", "policy.md").Return().Once()

	h := NewDocumentHandler(corpus, extractor, archive, marker, zaptest.NewLogger(t))
	w := httptest.NewRecorder()
	h.Upload(w, multipartUpload(t, "policy.md", []byte("Cover.")))

	assert.Equal(t, http.StatusCreated, w.Code)
	marker.AssertNotCalled(t, "MarkSynced", mock.Anything, mock.Anything)
	marker.AssertExpectations(t)
}

func TestDocumentHandler_Upload_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		h := NewDocumentHandler(new(MockDocumentCorpus), new(MockTextExtractor), nil, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.Upload(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported type", func(t *testing.T) {
		extractor := new(MockTextExtractor)
		h := NewDocumentHandler(new(MockDocumentCorpus), extractor, nil, nil, nil)
		w := httptest.NewRecorder()
		h.Upload(w, multipartUpload(t, "photo.png", []byte{0x89, 0x50}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("extraction failure", func(t *testing.T) {
		extractor := new(MockTextExtractor)
		extractor.On("Extract", mock.Anything, "broken.pdf", mock.Anything).
			Return(extract.Result{}, domain.Wrapf(domain.ErrExtractionFailed, nil, "broken.pdf"))
		h := NewDocumentHandler(new(MockDocumentCorpus), extractor, nil, nil, nil)
		w := httptest.NewRecorder()
		h.Upload(w, multipartUpload(t, "broken.pdf", []byte("junk")))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("embedding provider down", func(t *testing.T) {
		extractor := new(MockTextExtractor)
		corpus := new(MockDocumentCorpus)
		extractor.On("Extract", mock.Anything, "a.txt", mock.Anything).Return(extract.Result{Text: "A."}, nil)
		corpus.On("IngestDocument", mock.Anything, "a.txt", "A.").
			Return(nil, domain.Wrapf(domain.ErrIngestionFailed, domain.ErrEmbeddingProviderUnavailable, "document %q", "a.txt"))
		h := NewDocumentHandler(corpus, extractor, nil, nil, nil)
		w := httptest.NewRecorder()
		h.Upload(w, multipartUpload(t, "a.txt", []byte("A.")))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "a.txt")
		assert.Contains(t, w.Body.String(), domain.ErrCodeUpstreamUnavailable)
	})
}

func TestDocumentHandler_List(t *testing.T) {
	corpus := new(MockDocumentCorpus)
	corpus.On("Documents").Return([]domain.Document{
		{ID: "a.pdf", ChunkCount: 3},
		{ID: "b.txt", ChunkCount: 0},
		{ID: "c.docx", ChunkCount: 5},
	})

	h := NewDocumentHandler(corpus, new(MockTextExtractor), nil, nil, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var all pagination.PageResult[DocumentResponse]
	decodeData(t, w, &all)
	require.Len(t, all.Items, 3)
	assert.Equal(t, "a.pdf", all.Items[0].ID)
	assert.Equal(t, 3, all.Items[0].ChunkCount)
	assert.Equal(t, 0, all.Items[1].ChunkCount)
	assert.False(t, all.HasMore)

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/documents?limit=2", nil))
	var first pagination.PageResult[DocumentResponse]
	decodeData(t, w, &first)
	require.Len(t, first.Items, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.Cursor)

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/documents?limit=2&cursor="+first.Cursor, nil))
	var second pagination.PageResult[DocumentResponse]
	decodeData(t, w, &second)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "c.docx", second.Items[0].ID)
	assert.False(t, second.HasMore)
}

func TestDocumentHandler_ListBadParams(t *testing.T) {
	h := NewDocumentHandler(new(MockDocumentCorpus), new(MockTextExtractor), nil, nil, nil)

	for _, target := range []string{"/documents?limit=0", "/documents?limit=x", "/documents?cursor=!!"} {
		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestDocumentHandler_Get(t *testing.T) {
	corpus := new(MockDocumentCorpus)
	corpus.On("Document", "a.pdf").Return(domain.Document{ID: "a.pdf", ChunkCount: 1}, nil)
	corpus.On("Chunks", "a.pdf").Return([]domain.Chunk{{DocumentID: "a.pdf", Index: 0, Text: "Alpha.", Tokens: 1}}, nil)
	corpus.On("Document", "missing.pdf").Return(domain.Document{}, domain.ErrDocumentNotFound)

	h := NewDocumentHandler(corpus, new(MockTextExtractor), nil, nil, nil)
	r := chi.NewRouter()
	r.Get("/documents/{id}", h.Get)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/a.pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp DocumentDetailResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "a.pdf", resp.ID)
	require.Len(t, resp.Chunks, 1)
	assert.Equal(t, "a.pdf#0", resp.Chunks[0].ID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/api"
	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/logging"
	"github.com/cloo-solutions/policyrag/internal/pagination"
	"github.com/cloo-solutions/policyrag/internal/service"
	"github.com/cloo-solutions/policyrag/internal/storage"
)

// maxUploadMemory is the part of a multipart upload kept in memory.
const maxUploadMemory = 8 << 20

type DocumentCorpus interface {
	IngestDocument(ctx context.Context, id, text string, opts ...service.IngestOption) (*domain.Document, error)
	Document(id string) (domain.Document, error)
	Chunks(id string) ([]domain.Chunk, error)
	Documents() []domain.Document
}

type TextExtractor interface {
	Extract(ctx context.Context, name string, data []byte) (extract.Result, error)
}

// DocumentArchive stores uploaded originals.
type DocumentArchive interface {
	PutObject(ctx context.Context, name string, data []byte, contentType string) (storage.ObjectInfo, error)
}

// SyncMarker keeps the bucket sync away from uploaded documents: it skips a
// document while its upload runs and does not ingest the archived copy again.
type SyncMarker interface {
	BeginUpload(name string)
	EndUpload(name string)
	MarkSynced(key, etag string)
}

type DocumentHandler struct {
	corpus    DocumentCorpus
	extractor TextExtractor
	archive   DocumentArchive
	sync      SyncMarker
	logger    *zap.Logger
}

// NewDocumentHandler creates a DocumentHandler. archive and sync may be nil.
func NewDocumentHandler(corpus DocumentCorpus, extractor TextExtractor, archive DocumentArchive, sync SyncMarker, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		corpus:    corpus,
		extractor: extractor,
		archive:   archive,
		sync:      sync,
		logger:    logging.OrNop(logger),
	}
}

type DocumentResponse struct {
	ID         string `json:"id"`
	ChunkCount int    `json:"chunk_count"`
	Pages      int    `json:"pages,omitempty"`
	IngestedAt string `json:"ingested_at"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

type ChunkResponse struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

type DocumentDetailResponse struct {
	DocumentResponse
	Chunks []ChunkResponse `json:"chunks"`
}

func documentToResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:         d.ID,
		ChunkCount: d.ChunkCount,
		Pages:      len(d.Pages),
		IngestedAt: d.IngestedAt.UTC().Format(time.RFC3339),
	}
}

// Upload ingests a multipart file (field "file") named by its file name.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		api.BadBody(w, err, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		api.Error(w, http.StatusBadRequest, "file name is required")
		return
	}
	if !extract.Supported(name) {
		api.HandleError(w, domain.Wrapf(domain.ErrUnsupportedDocument, nil, "%s", name))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		api.BadBody(w, err, "failed to read file")
		return
	}

	if h.archive != nil && h.sync != nil {
		h.sync.BeginUpload(name)
		defer h.sync.EndUpload(name)
	}

	res, err := h.extractor.Extract(r.Context(), name, data)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	doc, err := h.corpus.IngestDocument(r.Context(), name, res.Text, service.WithPages(res.Pages))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := documentToResponse(*doc)
	if h.archive != nil {
		info, err := h.archive.PutObject(r.Context(), name, data, header.Header.Get("Content-Type"))
		if err != nil {
			h.logger.Warn("document archive failed", zap.String("document_id", name), zap.Error(err))
		} else {
			resp.ArchiveKey = info.Key
			if h.sync != nil {
				h.sync.MarkSynced(info.Key, info.ETag)
			}
		}
	}

	api.Success(w, http.StatusCreated, resp)
}

// List pages through documents in ingestion order.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	cursor, err := pagination.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	page := pagination.Page(h.corpus.Documents(), cursor, limit,
		func(d domain.Document) string { return d.ID },
		func(d domain.Document) time.Time { return d.IngestedAt },
	)

	resp := pagination.PageResult[DocumentResponse]{
		Items:   make([]DocumentResponse, len(page.Items)),
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	}
	for i, d := range page.Items {
		resp.Items[i] = documentToResponse(d)
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.corpus.Document(id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	chunks, err := h.corpus.Chunks(id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := DocumentDetailResponse{
		DocumentResponse: documentToResponse(doc),
		Chunks:           make([]ChunkResponse, len(chunks)),
	}
	for i, c := range chunks {
		resp.Chunks[i] = ChunkResponse{ID: c.ID(), Index: c.Index, Text: c.Text, Tokens: c.Tokens}
	}
	api.Success(w, http.StatusOK, resp)
}

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/policyrag/internal/api"
	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/service"
)

const (
	defaultQueryLogLimit = 20
	maxQueryLogLimit     = 200
)

type CorpusAdmin interface {
	Reindex(ctx context.Context) error
	Reset(ctx context.Context) error
	Documents() []domain.Document
	Len() int
}

type QueryLogReader interface {
	RecentQueryLogs(ctx context.Context, limit int) ([]service.QueryLogEntry, error)
}

type AdminHandler struct {
	corpus    CorpusAdmin
	queryLogs QueryLogReader
}

// NewAdminHandler creates an AdminHandler. queryLogs may be nil when no
// database is configured.
func NewAdminHandler(corpus CorpusAdmin, queryLogs QueryLogReader) *AdminHandler {
	return &AdminHandler{corpus: corpus, queryLogs: queryLogs}
}

type CorpusStatsResponse struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

func (h *AdminHandler) stats() CorpusStatsResponse {
	return CorpusStatsResponse{
		Documents: len(h.corpus.Documents()),
		Chunks:    h.corpus.Len(),
	}
}

func (h *AdminHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	if err := h.corpus.Reindex(r.Context()); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, h.stats())
}

func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.corpus.Reset(r.Context()); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, h.stats())
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, h.stats())
}

func (h *AdminHandler) RecentQueries(w http.ResponseWriter, r *http.Request) {
	if h.queryLogs == nil {
		api.Error(w, http.StatusNotFound, "query log is not enabled")
		return
	}

	limit := defaultQueryLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxQueryLogLimit)
	}

	logs, err := h.queryLogs.RecentQueryLogs(r.Context(), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, logs)
}

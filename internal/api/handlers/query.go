package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloo-solutions/policyrag/internal/api"
	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/service"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error)
}

type Asker interface {
	Ask(ctx context.Context, question string, k int) (*service.Answer, error)
}

type QueryHandler struct {
	retriever Retriever
	asker     Asker
}

func NewQueryHandler(retriever Retriever, asker Asker) *QueryHandler {
	return &QueryHandler{retriever: retriever, asker: asker}
}

type SearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type AskRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

type RetrievalResultResponse struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
}

type SearchResponse struct {
	Results []RetrievalResultResponse `json:"results"`
}

type AskResponse struct {
	Question string                    `json:"question"`
	Answer   string                    `json:"answer"`
	Found    bool                      `json:"found"`
	Context  []RetrievalResultResponse `json:"context"`
}

func resultsToResponse(results []domain.RetrievalResult) []RetrievalResultResponse {
	out := make([]RetrievalResultResponse, len(results))
	for i, r := range results {
		out[i] = RetrievalResultResponse{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Text:       r.Text,
			Distance:   r.Distance,
		}
	}
	return out
}

func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadBody(w, err, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 {
		api.Error(w, http.StatusBadRequest, "k must not be negative")
		return
	}

	results, err := h.retriever.Retrieve(r.Context(), req.Query, req.K)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, SearchResponse{Results: resultsToResponse(results)})
}

func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadBody(w, err, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.K < 0 {
		api.Error(w, http.StatusBadRequest, "k must not be negative")
		return
	}

	answer, err := h.asker.Ask(r.Context(), req.Question, req.K)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, AskResponse{
		Question: answer.Question,
		Answer:   answer.Answer,
		Found:    answer.Found,
		Context:  resultsToResponse(answer.Context),
	})
}

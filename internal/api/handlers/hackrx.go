package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/policyrag/internal/api"
	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/logging"
	"github.com/cloo-solutions/policyrag/internal/service"
)

// answerConcurrency bounds parallel questions in one run.
const answerConcurrency = 4

// DefaultRetainedRunDocuments is how many fetched documents stay in the
// corpus once their runs finish.
const DefaultRetainedRunDocuments = 16

type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

type DocumentIngester interface {
	IngestDocument(ctx context.Context, id, text string, opts ...service.IngestOption) (*domain.Document, error)
	RemoveDocument(ctx context.Context, id string) error
}

// DocumentAsker answers questions from a single document.
type DocumentAsker interface {
	AskDocument(ctx context.Context, docID, question string, k int) (*service.Answer, error)
}

// HackRxHandler answers a batch of questions about a remote policy document.
type HackRxHandler struct {
	fetcher   DocumentFetcher
	extractor TextExtractor
	ingester  DocumentIngester
	asker     DocumentAsker
	logger    *zap.Logger
	retained  *runDocuments
}

// HackRxOption configures a HackRxHandler.
type HackRxOption func(*HackRxHandler)

// WithRetainedRunDocuments sets how many fetched documents are kept after
// their runs. Older idle ones are removed from the corpus; n <= 0 removes
// each document as soon as no run uses it.
func WithRetainedRunDocuments(n int) HackRxOption {
	return func(h *HackRxHandler) { h.retained.limit = max(n, 0) }
}

func NewHackRxHandler(fetcher DocumentFetcher, extractor TextExtractor, ingester DocumentIngester, asker DocumentAsker, logger *zap.Logger, opts ...HackRxOption) *HackRxHandler {
	h := &HackRxHandler{
		fetcher:   fetcher,
		extractor: extractor,
		ingester:  ingester,
		asker:     asker,
		logger:    logging.OrNop(logger),
		retained:  newRunDocuments(DefaultRetainedRunDocuments),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type HackRxRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

// QuestionError is the failure for one question. Answers and errors are
// aligned by index.
type QuestionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HackRxResponse struct {
	Answers []string         `json:"answers"`
	Errors  []*QuestionError `json:"errors,omitempty"`
}

// Run ingests the document under its URL and answers every question from
// that document alone. The response is not wrapped in the data envelope.
func (h *HackRxHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req HackRxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadBody(w, err, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Documents) == "" {
		api.Error(w, http.StatusBadRequest, "documents is required")
		return
	}
	if len(req.Questions) == 0 {
		api.Error(w, http.StatusBadRequest, "questions is required")
		return
	}

	ctx := r.Context()
	h.retained.acquire(req.Documents)
	defer h.release(ctx, req.Documents)

	data, name, err := h.fetcher.Fetch(ctx, req.Documents)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	res, err := h.extractor.Extract(ctx, name, data)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if _, err := h.ingester.IngestDocument(ctx, req.Documents, res.Text, service.WithPages(res.Pages)); err != nil {
		api.HandleError(w, err)
		return
	}

	resp := HackRxResponse{Answers: make([]string, len(req.Questions))}
	errs := make([]*QuestionError, len(req.Questions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(answerConcurrency)
	for i, question := range req.Questions {
		g.Go(func() error {
			answer, err := h.asker.AskDocument(gctx, req.Documents, question, 0)
			if err != nil {
				h.logger.Warn("question failed", zap.Int("question", i), zap.Error(err))
				errs[i] = &QuestionError{Code: domain.CodeOf(err), Message: err.Error()}
				return nil
			}
			resp.Answers[i] = answer.Answer
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range errs {
		if e != nil {
			resp.Errors = errs
			break
		}
	}

	api.JSON(w, http.StatusOK, resp)
}

// release ends a run on id and removes the documents that fell out of the
// retained set.
func (h *HackRxHandler) release(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	for _, evicted := range h.retained.release(id) {
		err := h.ingester.RemoveDocument(ctx, evicted)
		if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
			h.logger.Warn("failed to remove run document", zap.String("document_id", evicted), zap.Error(err))
			continue
		}
		h.logger.Debug("run document removed", zap.String("document_id", evicted))
	}
}

// runDocuments tracks fetched documents from least to most recently used,
// with the number of runs still using each.
type runDocuments struct {
	mu     sync.Mutex
	limit  int
	order  []string
	active map[string]int
}

func newRunDocuments(limit int) *runDocuments {
	return &runDocuments{limit: limit, active: make(map[string]int)}
}

func (d *runDocuments) acquire(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active[id]++
	for i, docID := range d.order {
		if docID == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.order = append(d.order, id)
}

// release returns the idle documents beyond the limit, oldest first, and
// stops tracking them.
func (d *runDocuments) release(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active[id]--; d.active[id] <= 0 {
		delete(d.active, id)
	}

	excess := len(d.order) - d.limit
	if excess <= 0 {
		return nil
	}
	var evicted []string
	kept := d.order[:0]
	for _, docID := range d.order {
		if excess > 0 && d.active[docID] == 0 {
			evicted = append(evicted, docID)
			excess--
			continue
		}
		kept = append(kept, docID)
	}
	d.order = kept
	return evicted
}

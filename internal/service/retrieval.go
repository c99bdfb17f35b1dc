package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/logging"
	"github.com/cloo-solutions/policyrag/internal/telemetry"
)

const (
	// DefaultTopK is the number of chunks retrieved when the caller does not say.
	DefaultTopK = 5
	// MaxTopK caps k for a single retrieval.
	MaxTopK = 100
	// DefaultMaxContextChars caps the retrieved context placed in the prompt.
	DefaultMaxContextChars = 20000
)

const promptTemplate = "Using only the information from the following insurance policy document, answer the question briefly and clearly.\n\nDocument:\n%s\n\nQuestion: %s"

// Generator produces an answer for a prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Retriever embeds queries and maps nearest chunks back to their documents.
type Retriever struct {
	corpus   *Corpus
	embedder EmbeddingProvider
	defaultK int
	queryLog QueryLogRepository
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithDefaultK sets k for calls that pass k <= 0.
func WithDefaultK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultK = k
		}
	}
}

// WithQueryLog records each retrieval in repo.
func WithQueryLog(repo QueryLogRepository) RetrieverOption {
	return func(r *Retriever) { r.queryLog = repo }
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(logger *zap.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = logging.OrNop(logger) }
}

// WithRetrieverMetrics enables Prometheus instrumentation.
func WithRetrieverMetrics(m *telemetry.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// NewRetriever creates a Retriever over corpus. The embedder must be the
// one the corpus was built with.
func NewRetriever(corpus *Corpus, embedder EmbeddingProvider, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		corpus:   corpus,
		embedder: embedder,
		defaultK: DefaultTopK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns the k chunks most relevant to query, nearest first.
// An empty corpus yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	return r.retrieve(ctx, "", query, k, QueryModeSearch)
}

// RetrieveDocument is Retrieve restricted to the chunks of document docID.
func (r *Retriever) RetrieveDocument(ctx context.Context, docID, query string, k int) ([]domain.RetrievalResult, error) {
	return r.retrieve(ctx, docID, query, k, QueryModeSearch)
}

// retrieve searches the whole corpus, or only document docID when it is set.
func (r *Retriever) retrieve(ctx context.Context, docID, query string, k int, mode QueryMode) ([]domain.RetrievalResult, error) {
	k = r.clampK(k)
	ctx, span := telemetry.StartSpan(ctx, "retriever.retrieve", telemetry.SpanAttributes{
		DocumentID: docID,
		Operation:  string(mode),
		TopK:       k,
	})
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, domain.Wrapf(domain.ErrMissingRequiredField, nil, "query is required")
	}

	started := time.Now()
	results, err := r.search(ctx, docID, query, k)
	r.metrics.RecordRetrieval(started, err)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if mode == QueryModeSearch {
		r.logQuery(ctx, QueryLogEntry{
			Query:      query,
			Mode:       mode,
			K:          k,
			DurationMs: int(time.Since(started).Milliseconds()),
			Results:    logResults(results),
		})
	}
	return results, nil
}

func (r *Retriever) search(ctx context.Context, docID, query string, k int) ([]domain.RetrievalResult, error) {
	if docID != "" {
		doc, err := r.corpus.Document(docID)
		if err != nil {
			return nil, err
		}
		if doc.ChunkCount == 0 {
			return []domain.RetrievalResult{}, nil
		}
	} else if r.corpus.Len() == 0 {
		return []domain.RetrievalResult{}, nil
	}

	started := time.Now()
	embedding, err := r.embedder.Embed(ctx, query)
	r.metrics.RecordEmbedding("query", started, err)
	if err != nil {
		return nil, domain.Wrap(domain.ErrQueryEmbeddingFailed, err)
	}

	if docID != "" {
		return r.corpus.SearchDocument(ctx, docID, embedding, k)
	}
	return r.corpus.Search(ctx, embedding, k)
}

func (r *Retriever) clampK(k int) int {
	if k <= 0 {
		k = r.defaultK
	}
	return min(k, MaxTopK)
}

func (r *Retriever) logQuery(ctx context.Context, entry QueryLogEntry) {
	if r.queryLog == nil {
		return
	}
	if _, err := r.queryLog.CreateQueryLog(ctx, entry); err != nil {
		r.logger.Warn("failed to record query log", zap.Error(err), zap.String("mode", string(entry.Mode)))
	}
}

func logResults(results []domain.RetrievalResult) []QueryLogResult {
	out := make([]QueryLogResult, len(results))
	for i, res := range results {
		out[i] = QueryLogResult{ChunkID: res.ChunkID, DocumentID: res.DocumentID, Distance: res.Distance}
	}
	return out
}

// Answer is a generated answer and the context it was generated from.
type Answer struct {
	Question string
	Answer   string
	Found    bool
	Context  []domain.RetrievalResult
}

// AnswerService answers questions from retrieved policy passages.
type AnswerService struct {
	retriever       *Retriever
	generator       Generator
	maxContextChars int
}

// NewAnswerService creates an AnswerService. maxContextChars <= 0 selects
// DefaultMaxContextChars.
func NewAnswerService(retriever *Retriever, generator Generator, maxContextChars int) *AnswerService {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &AnswerService{
		retriever:       retriever,
		generator:       generator,
		maxContextChars: maxContextChars,
	}
}

// Ask retrieves the k chunks nearest to question and asks the generator to
// answer from them. With no retrieved context the generator is not called
// and the answer is empty with Found false.
func (s *AnswerService) Ask(ctx context.Context, question string, k int) (*Answer, error) {
	return s.ask(ctx, "", question, k)
}

// AskDocument is Ask answered only from the chunks of document docID.
func (s *AnswerService) AskDocument(ctx context.Context, docID, question string, k int) (*Answer, error) {
	return s.ask(ctx, docID, question, k)
}

func (s *AnswerService) ask(ctx context.Context, docID, question string, k int) (*Answer, error) {
	ctx, span := telemetry.StartSpan(ctx, "answer.ask", telemetry.SpanAttributes{
		DocumentID: docID,
		Operation:  "ask",
		TopK:       k,
	})
	defer span.End()

	started := time.Now()
	results, err := s.retriever.retrieve(ctx, docID, question, k, QueryModeAsk)
	if err != nil {
		s.retriever.metrics.RecordAnswer("error")
		span.SetError(err)
		return nil, err
	}

	answer := &Answer{Question: question, Context: results}
	if len(results) > 0 {
		text, err := s.generator.Complete(ctx, BuildPrompt(question, results, s.maxContextChars))
		if err != nil {
			s.retriever.metrics.RecordAnswer("error")
			span.SetError(err)
			return nil, err
		}
		answer.Answer = text
		answer.Found = true
		s.retriever.metrics.RecordAnswer("ok")
	} else {
		s.retriever.metrics.RecordAnswer("no_context")
	}

	s.retriever.logQuery(ctx, QueryLogEntry{
		Query:      question,
		Mode:       QueryModeAsk,
		K:          s.retriever.clampK(k),
		DurationMs: int(time.Since(started).Milliseconds()),
		Results:    logResults(results),
		Answer:     answer.Answer,
		Found:      answer.Found,
	})
	return answer, nil
}

// BuildPrompt places the retrieved passages, nearest first, into the answer
// prompt. The passages are truncated to maxChars runes.
func BuildPrompt(question string, results []domain.RetrievalResult, maxChars int) string {
	parts := make([]string, len(results))
	for i, res := range results {
		parts[i] = res.Text
	}
	passages := truncateRunes(strings.Join(parts, "\n\n"), maxChars)
	return fmt.Sprintf(promptTemplate, passages, question)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

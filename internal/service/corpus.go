package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/logging"
	"github.com/cloo-solutions/policyrag/internal/telemetry"
	"github.com/cloo-solutions/policyrag/internal/vectorindex"
)

// EmbeddingProvider turns text into fixed-dimension vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
	EmbedMany(ctx context.Context, texts []string) ([]domain.Embedding, error)
}

// VectorIndex stores chunk embeddings and answers exact k-NN queries.
type VectorIndex interface {
	Add(ctx context.Context, id string, embedding domain.Embedding) error
	AddMany(ctx context.Context, entries []domain.IndexEntry) error
	Search(ctx context.Context, query domain.Embedding, k int) ([]domain.SearchHit, error)
	Clear(ctx context.Context) error
	Len() int
	Dimension() int
}

// FileExtractor reads the text of a document on disk.
type FileExtractor interface {
	ExtractFile(ctx context.Context, path string) (extract.Result, error)
}

// extractConcurrency bounds parallel file extraction in LoadDirectory.
const extractConcurrency = 4

type corpusEntry struct {
	doc        domain.Document
	chunks     []domain.Chunk
	embeddings []domain.Embedding
}

// Corpus owns the ingested documents, their chunks and the vector index
// built over them. Mutations are serialised; searches run concurrently and
// never see a partially applied mutation.
type Corpus struct {
	// ingestMu serialises mutations, including their embedding calls.
	ingestMu sync.Mutex
	// mu guards docs, order and the index contents.
	mu    sync.RWMutex
	docs  map[string]*corpusEntry
	order []string

	embedder  EmbeddingProvider
	index     VectorIndex
	extractor FileExtractor
	chunkCfg  ChunkConfig
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// CorpusOption configures a Corpus.
type CorpusOption func(*Corpus)

// WithChunkConfig sets the segmentation parameters.
func WithChunkConfig(cfg ChunkConfig) CorpusOption {
	return func(c *Corpus) { c.chunkCfg = cfg }
}

// WithExtractor sets the extractor used by LoadDirectory.
func WithExtractor(e FileExtractor) CorpusOption {
	return func(c *Corpus) { c.extractor = e }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) CorpusOption {
	return func(c *Corpus) { c.logger = logging.OrNop(logger) }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) CorpusOption {
	return func(c *Corpus) { c.metrics = m }
}

// NewCorpus creates an empty corpus over index.
func NewCorpus(embedder EmbeddingProvider, index VectorIndex, opts ...CorpusOption) *Corpus {
	c := &Corpus{
		docs:      make(map[string]*corpusEntry),
		embedder:  embedder,
		index:     index,
		extractor: extract.New(),
		chunkCfg:  DefaultChunkConfig(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestOption sets optional document attributes.
type IngestOption func(*domain.Document)

// WithPages records page start offsets for provenance.
func WithPages(pages []int) IngestOption {
	return func(d *domain.Document) { d.Pages = append([]int(nil), pages...) }
}

// IngestDocument segments text, embeds the chunks and adds them to the
// index under document id. Re-ingesting an id replaces its chunks. On
// failure the corpus is left as it was.
func (c *Corpus) IngestDocument(ctx context.Context, id, text string, opts ...IngestOption) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "corpus.ingest", telemetry.SpanAttributes{
		DocumentID: id,
		Operation:  "ingest",
	})
	defer span.End()

	doc, err := c.ingest(ctx, id, text, opts)
	if err != nil {
		span.SetError(err)
	}
	return doc, err
}

func (c *Corpus) ingest(ctx context.Context, id, text string, opts []IngestOption) (*domain.Document, error) {
	doc := domain.Document{ID: id, Text: text}
	for _, opt := range opts {
		opt(&doc)
	}
	if err := domain.ValidateDocument(&doc); err != nil {
		return nil, err
	}

	texts, err := SegmentText(text, c.chunkCfg)
	if err != nil {
		c.metrics.RecordIngestion(0, err)
		return nil, domain.Wrapf(domain.ErrIngestionFailed, err, "document %q", id)
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = domain.Chunk{DocumentID: id, Index: i, Text: t, Tokens: CountTokens(t)}
	}

	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	embeddings, err := c.embedChunks(ctx, chunks)
	if err != nil {
		c.metrics.RecordIngestion(0, err)
		return nil, domain.Wrapf(domain.ErrIngestionFailed, err, "document %q", id)
	}

	doc.ChunkCount = len(chunks)
	doc.IngestedAt = c.now().UTC()
	entry := &corpusEntry{doc: doc, chunks: chunks, embeddings: embeddings}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.docs[id]; exists {
		err = c.replaceLocked(ctx, entry)
	} else {
		err = c.appendLocked(ctx, entry)
	}
	c.metrics.RecordIngestion(len(chunks), err)
	if err != nil {
		return nil, domain.Wrapf(domain.ErrIngestionFailed, err, "document %q", id)
	}
	c.metrics.SetCorpusSize(len(c.docs), c.index.Len())

	c.logger.Info("document ingested",
		zap.String("document_id", id),
		zap.Int("chunks", len(chunks)),
		zap.Int("index_size", c.index.Len()),
	)

	out := doc
	return &out, nil
}

func (c *Corpus) embedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.Embedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	started := time.Now()
	embeddings, err := c.embedder.EmbedMany(ctx, texts)
	c.metrics.RecordEmbedding("document", started, err)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(chunks) {
		return nil, domain.Wrapf(domain.ErrEmbeddingProviderUnavailable, nil,
			"got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}
	return embeddings, nil
}

func indexEntries(e *corpusEntry) []domain.IndexEntry {
	out := make([]domain.IndexEntry, len(e.chunks))
	for i, ch := range e.chunks {
		out[i] = domain.IndexEntry{ID: ch.ID(), Embedding: e.embeddings[i]}
	}
	return out
}

// appendLocked adds a new document's chunks after every existing entry.
func (c *Corpus) appendLocked(ctx context.Context, e *corpusEntry) error {
	if err := c.index.AddMany(ctx, indexEntries(e)); err != nil {
		return err
	}
	c.docs[e.doc.ID] = e
	c.order = append(c.order, e.doc.ID)
	return nil
}

// replaceLocked swaps a document's chunks in place and rebuilds the index so
// no stale entries remain. The document keeps its position in the order.
func (c *Corpus) replaceLocked(ctx context.Context, e *corpusEntry) error {
	next := make(map[string]*corpusEntry, len(c.docs))
	for id, existing := range c.docs {
		next[id] = existing
	}
	next[e.doc.ID] = e

	if err := c.checkDimensions(next); err != nil {
		return err
	}
	if err := c.rebuildLocked(ctx, next, c.order); err != nil {
		c.restoreLocked(ctx)
		return err
	}
	c.docs = next
	return nil
}

// checkDimensions verifies that every embedding in docs shares one dimension.
func (c *Corpus) checkDimensions(docs map[string]*corpusEntry) error {
	dim := 0
	for _, id := range c.order {
		e, ok := docs[id]
		if !ok {
			continue
		}
		for _, emb := range e.embeddings {
			if dim == 0 {
				dim = len(emb)
			}
			if len(emb) != dim || dim == 0 {
				return domain.Wrapf(domain.ErrDimensionMismatch, nil, "got %d, want %d", len(emb), dim)
			}
		}
	}
	return nil
}

func (c *Corpus) rebuildLocked(ctx context.Context, docs map[string]*corpusEntry, order []string) error {
	if err := c.index.Clear(ctx); err != nil {
		return err
	}
	var entries []domain.IndexEntry
	for _, id := range order {
		entries = append(entries, indexEntries(docs[id])...)
	}
	return c.index.AddMany(ctx, entries)
}

// restoreLocked rebuilds the index from the current documents after a
// failed rebuild.
func (c *Corpus) restoreLocked(ctx context.Context) {
	if err := c.rebuildLocked(context.WithoutCancel(ctx), c.docs, c.order); err != nil {
		c.logger.Error("failed to restore vector index", zap.Error(err))
	}
}

// Reindex re-embeds every document and rebuilds the index. It is used after
// the embedding provider changes; on failure nothing changes.
func (c *Corpus) Reindex(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "corpus.reindex", telemetry.SpanAttributes{Operation: "reindex"})
	defer span.End()

	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	c.mu.RLock()
	order := append([]string(nil), c.order...)
	current := make(map[string]*corpusEntry, len(c.docs))
	for id, e := range c.docs {
		current[id] = e
	}
	c.mu.RUnlock()

	next := make(map[string]*corpusEntry, len(current))
	for _, id := range order {
		old := current[id]
		embeddings, err := c.embedChunks(ctx, old.chunks)
		if err != nil {
			err = domain.Wrapf(domain.ErrIngestionFailed, err, "document %q", id)
			span.SetError(err)
			return err
		}
		next[id] = &corpusEntry{doc: old.doc, chunks: old.chunks, embeddings: embeddings}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkDimensions(next); err != nil {
		span.SetError(err)
		return err
	}
	if err := c.rebuildLocked(ctx, next, order); err != nil {
		c.restoreLocked(ctx)
		span.SetError(err)
		return err
	}
	c.docs = next
	c.metrics.SetCorpusSize(len(c.docs), c.index.Len())

	c.logger.Info("corpus reindexed",
		zap.Int("documents", len(order)),
		zap.Int("index_size", c.index.Len()),
	)
	return nil
}

// Reset removes every document and clears the index.
func (c *Corpus) Reset(ctx context.Context) error {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.index.Clear(ctx); err != nil {
		return err
	}
	c.docs = make(map[string]*corpusEntry)
	c.order = nil
	c.metrics.SetCorpusSize(0, 0)

	c.logger.Info("corpus reset")
	return nil
}

// RemoveDocument drops document id and its chunks and rebuilds the index
// without them. On failure the corpus is left as it was.
func (c *Corpus) RemoveDocument(ctx context.Context, id string) error {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.docs[id]; !ok {
		return domain.Wrapf(domain.ErrDocumentNotFound, nil, "%s", id)
	}

	next := make(map[string]*corpusEntry, len(c.docs)-1)
	order := make([]string, 0, len(c.order)-1)
	for _, docID := range c.order {
		if docID == id {
			continue
		}
		next[docID] = c.docs[docID]
		order = append(order, docID)
	}
	if err := c.rebuildLocked(ctx, next, order); err != nil {
		c.restoreLocked(ctx)
		return err
	}
	c.docs = next
	c.order = order
	c.metrics.SetCorpusSize(len(c.docs), c.index.Len())

	c.logger.Info("document removed",
		zap.String("document_id", id),
		zap.Int("index_size", c.index.Len()),
	)
	return nil
}

// LoadDirectory ingests every supported file in dir, in file name order.
// Files are extracted concurrently; any extraction failure aborts the load
// before anything is ingested. Documents are named by file name.
func (c *Corpus) LoadDirectory(ctx context.Context, dir string) ([]domain.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read documents directory: %w", err)
	}

	// os.ReadDir returns entries sorted by name.
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !extract.Supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}

	results := make([]extract.Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractConcurrency)
	for i, name := range names {
		g.Go(func() error {
			res, err := c.extractor.ExtractFile(gctx, filepath.Join(dir, name))
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(names))
	for i, name := range names {
		doc, err := c.IngestDocument(ctx, name, results[i].Text, WithPages(results[i].Pages))
		if err != nil {
			return docs, err
		}
		docs = append(docs, *doc)
	}

	c.logger.Info("documents directory loaded", zap.String("dir", dir), zap.Int("documents", len(docs)))
	return docs, nil
}

// Search returns the k chunks nearest to query with their provenance.
func (c *Corpus) Search(ctx context.Context, query domain.Embedding, k int) ([]domain.RetrievalResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits, err := c.index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	results := make([]domain.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		chunk, err := c.chunkLocked(hit.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, domain.RetrievalResult{
			ChunkID:    hit.ID,
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.Index,
			Text:       chunk.Text,
			Distance:   hit.Distance,
		})
	}
	return results, nil
}

// SearchDocument returns the k chunks of document docID nearest to query,
// ranked the same way as Search. Other documents are never considered.
func (c *Corpus) SearchDocument(ctx context.Context, docID string, query domain.Embedding, k int) ([]domain.RetrievalResult, error) {
	c.mu.RLock()
	e, ok := c.docs[docID]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.Wrapf(domain.ErrDocumentNotFound, nil, "%s", docID)
	}

	scoped := vectorindex.NewMemory()
	if err := scoped.AddMany(ctx, indexEntries(e)); err != nil {
		return nil, err
	}
	hits, err := scoped.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	results := make([]domain.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		_, index, err := domain.ParseChunkID(hit.ID)
		if err != nil {
			return nil, domain.Wrap(domain.ErrChunkNotFound, err)
		}
		chunk := e.chunks[index]
		results = append(results, domain.RetrievalResult{
			ChunkID:    hit.ID,
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.Index,
			Text:       chunk.Text,
			Distance:   hit.Distance,
		})
	}
	return results, nil
}

// Chunk returns the chunk with the given index id.
func (c *Corpus) Chunk(id string) (domain.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chunkLocked(id)
}

func (c *Corpus) chunkLocked(id string) (domain.Chunk, error) {
	docID, index, err := domain.ParseChunkID(id)
	if err != nil {
		return domain.Chunk{}, domain.Wrap(domain.ErrChunkNotFound, err)
	}
	e, ok := c.docs[docID]
	if !ok || index >= len(e.chunks) {
		return domain.Chunk{}, domain.Wrapf(domain.ErrChunkNotFound, nil, "%s", id)
	}
	return e.chunks[index], nil
}

// Document returns the document with id.
func (c *Corpus) Document(id string) (domain.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.docs[id]
	if !ok {
		return domain.Document{}, domain.Wrapf(domain.ErrDocumentNotFound, nil, "%s", id)
	}
	return e.doc, nil
}

// Chunks returns the chunks of document id in order.
func (c *Corpus) Chunks(id string) ([]domain.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.docs[id]
	if !ok {
		return nil, domain.Wrapf(domain.ErrDocumentNotFound, nil, "%s", id)
	}
	return append([]domain.Chunk(nil), e.chunks...), nil
}

// Documents lists ingested documents in ingestion order.
func (c *Corpus) Documents() []domain.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Document, len(c.order))
	for i, id := range c.order {
		out[i] = c.docs[id].doc
	}
	return out
}

// Len returns the number of entries in the index.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Len()
}

package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cloo-solutions/policyrag/internal/config"
	"github.com/cloo-solutions/policyrag/internal/database"
	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/embedding"
	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/openai"
	"github.com/cloo-solutions/policyrag/internal/repository"
	"github.com/cloo-solutions/policyrag/internal/service"
	"github.com/cloo-solutions/policyrag/internal/telemetry"
	"github.com/cloo-solutions/policyrag/internal/vectorindex"
	goopenai "github.com/sashabaranov/go-openai"
)

// embedder is what the corpus and retriever need from a provider.
type embedder interface {
	service.EmbeddingProvider
	Dimension() int
}

// engine holds the retrieval stack shared by serve and ingest.
type engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *telemetry.Metrics
	extractor *extract.Extractor
	embedder  embedder
	generator service.Generator
	corpus    *service.Corpus
	retriever *service.Retriever
	answers   *service.AnswerService
	pool      *pgxpool.Pool
	queryLogs *repository.QueryLogRepository
}

type engineOptions struct {
	migrate bool
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts engineOptions) (*engine, error) {
	e := &engine{
		cfg:       cfg,
		logger:    logger,
		metrics:   telemetry.NewMetrics(),
		extractor: extract.New(),
	}

	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderHashing:
		e.embedder = embedding.NewHashing(cfg.EmbeddingDimensions)
	default:
		e.embedder = openai.NewClientWithConfig(openAIConfig(cfg))
	}

	if cfg.HasOpenAI() {
		e.generator = openai.NewClientWithConfig(openAIConfig(cfg))
	} else {
		e.generator = unconfiguredGenerator{}
	}

	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		e.pool = pool
		logger.Info("connected to database")

		if opts.migrate {
			if err := runMigrations(cfg.DatabaseURL, logger); err != nil {
				e.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		e.queryLogs = repository.NewQueryLogRepository(pool)
	}

	index, err := e.newIndex(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.corpus = service.NewCorpus(e.embedder, index,
		service.WithChunkConfig(service.ChunkConfig{
			MaxTokens:     cfg.ChunkMaxTokens,
			OverlapTokens: cfg.ChunkOverlapTokens,
		}),
		service.WithExtractor(e.extractor),
		service.WithLogger(logger),
		service.WithMetrics(e.metrics),
	)

	retrieverOpts := []service.RetrieverOption{
		service.WithDefaultK(cfg.TopK),
		service.WithRetrieverLogger(logger),
		service.WithRetrieverMetrics(e.metrics),
	}
	if e.queryLogs != nil {
		retrieverOpts = append(retrieverOpts, service.WithQueryLog(e.queryLogs))
	}
	e.retriever = service.NewRetriever(e.corpus, e.embedder, retrieverOpts...)
	e.answers = service.NewAnswerService(e.retriever, e.generator, cfg.MaxContextChars)

	logger.Info("retrieval engine ready",
		zap.String("embedding_provider", cfg.EmbeddingProvider),
		zap.Int("embedding_dimensions", e.embedder.Dimension()),
		zap.String("index_backend", cfg.IndexBackend),
		zap.Int("chunk_max_tokens", cfg.ChunkMaxTokens),
		zap.Int("chunk_overlap_tokens", cfg.ChunkOverlapTokens),
	)
	return e, nil
}

// newIndex builds the configured index backend. The corpus lives in memory,
// so a persistent index is cleared to start consistent with it.
func (e *engine) newIndex(ctx context.Context) (service.VectorIndex, error) {
	if e.cfg.IndexBackend != config.IndexBackendPostgres {
		return vectorindex.NewMemory(), nil
	}
	if e.pool == nil {
		return nil, fmt.Errorf("postgres index backend requires POLICYRAG_DATABASE_URL")
	}
	repo, err := repository.NewVectorIndexRepository(ctx, e.pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	if stale := repo.Len(); stale > 0 {
		e.logger.Info("clearing stale index entries", zap.Int("entries", stale))
	}
	if err := repo.Clear(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear vector index: %w", err)
	}
	return repo, nil
}

// loadDocuments ingests the configured documents directory, if any.
func (e *engine) loadDocuments(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	started := time.Now()
	docs, err := e.corpus.LoadDirectory(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to load documents from %s: %w", dir, err)
	}
	e.logger.Info("documents loaded",
		zap.String("dir", dir),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", e.corpus.Len()),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

func (e *engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

func openAIConfig(cfg *config.Config) openai.Config {
	return openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		ChatModel:           cfg.ChatModel,
		BatchSize:           cfg.EmbeddingBatchSize,
	}
}

type unconfiguredGenerator struct{}

func (unconfiguredGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return "", domain.Wrapf(domain.ErrGenerationFailed, nil, "generative model not configured: POLICYRAG_OPENAI_API_KEY required")
}

package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/vectorindex"
)

// VectorIndexRepository is a vector index stored in PostgreSQL with
// pgvector. Searches compute the distance to every row, ordered by distance
// then insertion sequence, so results match the in-memory index.
type VectorIndexRepository struct {
	pool *pgxpool.Pool

	mu        sync.RWMutex
	count     int
	dimension int
}

// NewVectorIndexRepository opens the index and loads its size and dimension.
func NewVectorIndexRepository(ctx context.Context, pool *pgxpool.Pool) (*VectorIndexRepository, error) {
	r := &VectorIndexRepository{pool: pool}
	if err := r.refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *VectorIndexRepository) refresh(ctx context.Context) error {
	var count, dimension int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(vector_dims(embedding)), 0) FROM index_entries`,
	).Scan(&count, &dimension)
	if err != nil {
		return domain.Wrapf(domain.ErrStorageOperationFail, err, "load vector index")
	}

	r.mu.Lock()
	r.count = count
	r.dimension = dimension
	r.mu.Unlock()
	return nil
}

// Add inserts a single embedding.
func (r *VectorIndexRepository) Add(ctx context.Context, id string, embedding domain.Embedding) error {
	return r.AddMany(ctx, []domain.IndexEntry{{ID: id, Embedding: embedding}})
}

// AddMany inserts entries in order inside one transaction.
func (r *VectorIndexRepository) AddMany(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dim := r.dimension
	if dim == 0 {
		dim = len(entries[0].Embedding)
	}
	for _, e := range entries {
		if err := vectorindex.CheckDimension(len(e.Embedding), dim); err != nil {
			return err
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Wrapf(domain.ErrStorageOperationFail, err, "begin insert")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO index_entries (entry_id, embedding) VALUES ($1, $2)`,
			e.ID,
			pgvector.NewVector(e.Embedding),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Wrapf(domain.ErrStorageOperationFail, err, "insert %d entries", len(entries))
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Wrapf(domain.ErrStorageOperationFail, err, "commit insert")
	}

	r.count += len(entries)
	r.dimension = dim
	return nil
}

// Search returns the k nearest entries by squared Euclidean distance.
func (r *VectorIndexRepository) Search(ctx context.Context, query domain.Embedding, k int) ([]domain.SearchHit, error) {
	r.mu.RLock()
	count, dim := r.count, r.dimension
	r.mu.RUnlock()

	if count == 0 || k <= 0 {
		return []domain.SearchHit{}, nil
	}
	if err := vectorindex.CheckDimension(len(query), dim); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT entry_id, (embedding <-> $1)::float8 AS distance
		 FROM index_entries
		 ORDER BY distance, seq
		 LIMIT $2`,
		pgvector.NewVector(query),
		k,
	)
	if err != nil {
		return nil, domain.Wrapf(domain.ErrStorageOperationFail, err, "search index")
	}
	defer rows.Close()

	hits := make([]domain.SearchHit, 0, min(k, count))
	for rows.Next() {
		var (
			id       string
			distance float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, domain.SearchHit{ID: id, Distance: distance * distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return hits, nil
}

// Clear removes every entry and resets the dimension.
func (r *VectorIndexRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.pool.Exec(ctx, `TRUNCATE TABLE index_entries RESTART IDENTITY`); err != nil {
		return domain.Wrapf(domain.ErrStorageOperationFail, err, "clear index")
	}
	r.count = 0
	r.dimension = 0
	return nil
}

// Len returns the number of entries.
func (r *VectorIndexRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Dimension returns the fixed dimension, or 0 for an empty index.
func (r *VectorIndexRepository) Dimension() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dimension
}

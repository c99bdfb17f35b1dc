// Package vectorindex provides exact nearest-neighbour search over chunk
// embeddings.
package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/cloo-solutions/policyrag/internal/domain"
)

type entry struct {
	id     string
	vector []float32
}

// Memory is an in-process vector index that scans every entry on search.
// It is safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	entries   []entry
	dimension int
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{}
}

// Add appends a single embedding. The first embedding added fixes the
// dimension of the index.
func (m *Memory) Add(ctx context.Context, id string, embedding domain.Embedding) error {
	return m.AddMany(ctx, []domain.IndexEntry{{ID: id, Embedding: embedding}})
}

// AddMany appends entries in order. Either all entries are added or none are.
func (m *Memory) AddMany(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dimension
	if dim == 0 {
		dim = len(entries[0].Embedding)
	}
	for _, e := range entries {
		if err := CheckDimension(len(e.Embedding), dim); err != nil {
			return err
		}
	}

	for _, e := range entries {
		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		m.entries = append(m.entries, entry{id: e.ID, vector: vec})
	}
	m.dimension = dim
	return nil
}

// Search returns the k entries closest to query by squared Euclidean
// distance, nearest first. Equal distances keep insertion order.
func (m *Memory) Search(ctx context.Context, query domain.Embedding, k int) ([]domain.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 || k <= 0 {
		return []domain.SearchHit{}, nil
	}
	if err := CheckDimension(len(query), m.dimension); err != nil {
		return nil, err
	}

	hits := make([]domain.SearchHit, len(m.entries))
	for i, e := range m.entries {
		hits[i] = domain.SearchHit{ID: e.id, Distance: SquaredL2(query, e.vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Clear removes every entry and forgets the dimension.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.dimension = 0
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Dimension returns the fixed dimension, or 0 for an empty index.
func (m *Memory) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimension
}

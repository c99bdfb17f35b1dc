// Package embedding contains embedding providers that run in-process.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/cloo-solutions/policyrag/internal/domain"
)

// DefaultHashingDimensions is the vector size used when none is configured.
const DefaultHashingDimensions = 256

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "was": {}, "what": {}, "with": {}, "this": {}, "that": {},
}

// Hashing embeds text by feature hashing its lower-cased word tokens into a
// fixed number of buckets and L2-normalising the counts. It needs no corpus
// preparation and no network, so results are stable across processes.
type Hashing struct {
	dimensions int
}

// NewHashing creates a hashing embedder with the given dimension.
func NewHashing(dimensions int) *Hashing {
	if dimensions <= 0 {
		dimensions = DefaultHashingDimensions
	}
	return &Hashing{dimensions: dimensions}
}

// Dimension returns the size of produced vectors.
func (h *Hashing) Dimension() int { return h.dimensions }

// Embed returns the embedding of text.
func (h *Hashing) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.ErrEmbeddingProviderUnavailable, err)
	}
	return h.vector(text), nil
}

// EmbedMany embeds each text in order.
func (h *Hashing) EmbedMany(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, domain.Wrap(domain.ErrEmbeddingProviderUnavailable, err)
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) domain.Embedding {
	counts := make([]float64, h.dimensions)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(tok))
		counts[hasher.Sum32()%uint32(h.dimensions)]++
	}

	norm := 0.0
	for _, v := range counts {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make(domain.Embedding, h.dimensions)
	if norm == 0 {
		return vec
	}
	for i, v := range counts {
		vec[i] = float32(v / norm)
	}
	return vec
}

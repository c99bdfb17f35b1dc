package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document represents a policy document ingested into the corpus
type Document struct {
	ID         string
	Text       string
	Pages      []int // Optional byte offsets where each page starts
	ChunkCount int
	IngestedAt time.Time
}

// Chunk is a bounded span of a document's text used as a retrieval unit.
// Chunks are immutable once created.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Tokens     int
}

// Embedding is a fixed-length vector produced by an embedding provider
type Embedding []float32

// RetrievalResult is a ranked chunk with its provenance and distance to the query
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Distance   float64
}

const chunkIDSeparator = "#"

// ID returns the index identifier for the chunk.
func (c Chunk) ID() string {
	return FormatChunkID(c.DocumentID, c.Index)
}

// FormatChunkID builds the identifier stored in the vector index for a chunk.
func FormatChunkID(documentID string, index int) string {
	return documentID + chunkIDSeparator + strconv.Itoa(index)
}

// ParseChunkID splits an identifier produced by FormatChunkID.
// Document ids may themselves contain the separator, so the last one wins.
func ParseChunkID(id string) (string, int, error) {
	pos := strings.LastIndex(id, chunkIDSeparator)
	if pos <= 0 || pos == len(id)-1 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	index, err := strconv.Atoi(id[pos+1:])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	return id[:pos], index, nil
}

// ValidateDocument validates a Document before ingestion
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if strings.TrimSpace(d.ID) == "" {
		return Wrapf(ErrMissingRequiredField, nil, "document ID is required")
	}

	return nil
}

// IndexEntry pairs a chunk id with its embedding for insertion into a vector index
type IndexEntry struct {
	ID        string
	Embedding Embedding
}

// SearchHit is a single nearest-neighbour match. Distance is the squared
// Euclidean distance to the query.
type SearchHit struct {
	ID       string
	Distance float64
}

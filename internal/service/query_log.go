package service

import "context"

// QueryMode names the operation that produced a query log entry.
type QueryMode string

const (
	QueryModeSearch QueryMode = "search"
	QueryModeAsk    QueryMode = "ask"
)

// QueryLogResult captures a single retrieved chunk for logging.
type QueryLogResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Distance   float64 `json:"distance"`
}

// QueryLogEntry captures a query and what it retrieved.
type QueryLogEntry struct {
	Query      string           `json:"query"`
	Mode       QueryMode        `json:"mode"`
	K          int              `json:"k"`
	DurationMs int              `json:"duration_ms"`
	Results    []QueryLogResult `json:"results"`
	Answer     string           `json:"answer,omitempty"`
	Found      bool             `json:"found"`
}

// QueryLogRepository persists query logs.
type QueryLogRepository interface {
	CreateQueryLog(ctx context.Context, entry QueryLogEntry) (string, error)
}

package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/policyrag/internal/service"
)

// QueryLogRepository stores retrieval and answer logs for evaluation.
type QueryLogRepository struct {
	pool *pgxpool.Pool
}

func NewQueryLogRepository(pool *pgxpool.Pool) *QueryLogRepository {
	return &QueryLogRepository{pool: pool}
}

func (r *QueryLogRepository) CreateQueryLog(ctx context.Context, entry service.QueryLogEntry) (string, error) {
	results := entry.Results
	if results == nil {
		results = []service.QueryLogResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO query_logs (id, query, mode, k, results, result_count, answer, found, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id,
		entry.Query,
		string(entry.Mode),
		entry.K,
		resultsJSON,
		len(results),
		nullableString(entry.Answer),
		entry.Found,
		entry.DurationMs,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecentQueryLogs returns the newest entries first.
func (r *QueryLogRepository) RecentQueryLogs(ctx context.Context, limit int) ([]service.QueryLogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT query, mode, k, results, COALESCE(answer, ''), found, duration_ms
		 FROM query_logs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []service.QueryLogEntry
	for rows.Next() {
		var (
			e           service.QueryLogEntry
			mode        string
			resultsJSON []byte
		)
		if err := rows.Scan(&e.Query, &mode, &e.K, &resultsJSON, &e.Answer, &e.Found, &e.DurationMs); err != nil {
			return nil, err
		}
		e.Mode = service.QueryMode(mode)
		if err := json.Unmarshal(resultsJSON, &e.Results); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/cloo-solutions/policyrag/internal/service"
	"github.com/cloo-solutions/policyrag/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryLogRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewQueryLogRepository(pool)

	id, err := repo.CreateQueryLog(ctx, service.QueryLogEntry{
		Query:      "grace period?",
		Mode:       service.QueryModeSearch,
		K:          3,
		DurationMs: 4,
		Results: []service.QueryLogResult{
			{ChunkID: "policy.pdf#0", DocumentID: "policy.pdf", Distance: 0.25},
		},
	})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	_, err = repo.CreateQueryLog(ctx, service.QueryLogEntry{
		Query:  "maternity?",
		Mode:   service.QueryModeAsk,
		K:      5,
		Answer: "After two years.",
		Found:  true,
	})
	require.NoError(t, err)

	logs, err := repo.RecentQueryLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "maternity?", logs[0].Query)
	assert.Equal(t, "After two years.", logs[0].Answer)
	assert.True(t, logs[0].Found)
	assert.Empty(t, logs[0].Results)
	assert.Equal(t, service.QueryModeSearch, logs[1].Mode)
	assert.Equal(t, "policy.pdf#0", logs[1].Results[0].ChunkID)

	require.NoError(t, testutil.TruncateAll(ctx, pool))
	logs, err = repo.RecentQueryLogs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloo-solutions/policyrag/internal/config"
	"github.com/cloo-solutions/policyrag/internal/domain"
)

func TestApplyServeFlags(t *testing.T) {
	cmd := ServeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "9090", "--watch"}))

	cfg := &config.Config{Port: "8080", DocumentsDir: "/srv/policies"}
	applyServeFlags(cmd, cfg)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/srv/policies", cfg.DocumentsDir)
	assert.True(t, cfg.WatchDocuments)
}

func TestUnconfiguredGenerator(t *testing.T) {
	_, err := unconfiguredGenerator{}.Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}

func TestNewEngine_HashingMemory(t *testing.T) {
	eng, err := newEngine(context.Background(), hashingConfig(), zaptest.NewLogger(t), engineOptions{})
	require.NoError(t, err)
	defer eng.Close()

	assert.Nil(t, eng.pool)
	assert.Nil(t, eng.queryLogs)
	assert.Equal(t, 256, eng.embedder.Dimension())

	// No database: the admin handler has no query log.
	assert.NotNil(t, newAdminHandler(eng))
	require.NoError(t, eng.loadDocuments(context.Background(), ""))
	assert.Zero(t, eng.corpus.Len())
}

func TestNewEngine_PostgresWithoutDatabase(t *testing.T) {
	cfg := hashingConfig()
	cfg.IndexBackend = config.IndexBackendPostgres

	_, err := newEngine(context.Background(), cfg, zaptest.NewLogger(t), engineOptions{})
	assert.Error(t, err)
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloo-solutions/policyrag/internal/domain"
	"github.com/cloo-solutions/policyrag/internal/embedding"
	"github.com/cloo-solutions/policyrag/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGenerator mocks the answer generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// MockQueryLogRepo mocks the query log repository
type MockQueryLogRepo struct {
	mock.Mock
}

func (m *MockQueryLogRepo) CreateQueryLog(ctx context.Context, entry QueryLogEntry) (string, error) {
	args := m.Called(ctx, entry)
	return args.String(0), args.Error(1)
}

const policyDocument = "Claims must be filed within 30 days. Coverage excludes pre-existing conditions. Premiums are due monthly."

func TestRetriever_EndToEnd(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(256)
	corpus := newTestCorpus(t, hashing, 11, 0)

	doc, err := corpus.IngestDocument(ctx, "policy.pdf", policyDocument)
	require.NoError(t, err)
	require.Equal(t, 2, doc.ChunkCount)

	chunks, err := corpus.Chunks("policy.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Claims must be filed within 30 days. Coverage excludes pre-existing conditions.", chunks[0].Text)
	assert.Equal(t, "Premiums are due monthly.", chunks[1].Text)

	retriever := NewRetriever(corpus, hashing)
	results, err := retriever.Retrieve(ctx, "When must claims be filed?", 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "policy.pdf#0", results[0].ChunkID)
	assert.Equal(t, "policy.pdf", results[0].DocumentID)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.Equal(t, chunks[0].Text, results[0].Text)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
}

func TestRetriever_EmptyCorpus(t *testing.T) {
	embedder := new(MockEmbeddingProvider)
	corpus := NewCorpus(embedder, vectorindex.NewMemory())
	retriever := NewRetriever(corpus, embedder)

	results, err := retriever.Retrieve(context.Background(), "anything", 3)

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestRetriever_EmptyQuery(t *testing.T) {
	embedder := new(MockEmbeddingProvider)
	retriever := NewRetriever(NewCorpus(embedder, vectorindex.NewMemory()), embedder)

	_, err := retriever.Retrieve(context.Background(), "   ", 3)

	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestRetriever_QueryEmbeddingFailed(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(32)
	corpus := newTestCorpus(t, hashing, 10, 0)
	_, err := corpus.IngestDocument(ctx, "a", "Some cover.")
	require.NoError(t, err)

	embedder := new(MockEmbeddingProvider)
	embedder.On("Embed", mock.Anything, "cover").Return(nil, errors.New("timeout"))
	retriever := NewRetriever(corpus, embedder)

	_, err = retriever.Retrieve(ctx, "cover", 1)

	assert.ErrorIs(t, err, domain.ErrQueryEmbeddingFailed)
	embedder.AssertExpectations(t)
}

func TestRetriever_QueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	corpus := newTestCorpus(t, embedding.NewHashing(32), 10, 0)
	_, err := corpus.IngestDocument(ctx, "a", "Some cover.")
	require.NoError(t, err)

	retriever := NewRetriever(corpus, embedding.NewHashing(8))
	_, err = retriever.Retrieve(ctx, "cover", 1)

	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestRetriever_DefaultAndMaxK(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(32)
	corpus := newTestCorpus(t, hashing, 2, 0)
	_, err := corpus.IngestDocument(ctx, "a", "One a. Two b. Three c. Four d.")
	require.NoError(t, err)

	results, err := NewRetriever(corpus, hashing, WithDefaultK(3)).Retrieve(ctx, "two", 0)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, MaxTopK, NewRetriever(corpus, hashing).clampK(1000))
}

func TestRetriever_LogsQuery(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(32)
	corpus := newTestCorpus(t, hashing, 10, 0)
	_, err := corpus.IngestDocument(ctx, "a", "Some cover.")
	require.NoError(t, err)

	repo := new(MockQueryLogRepo)
	repo.On("CreateQueryLog", mock.Anything, mock.MatchedBy(func(e QueryLogEntry) bool {
		return e.Mode == QueryModeSearch && e.Query == "cover" && e.K == 2 && len(e.Results) == 1
	})).Return("", errors.New("db down"))

	_, err = NewRetriever(corpus, hashing, WithQueryLog(repo)).Retrieve(ctx, "cover", 2)

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestAnswerService_Ask(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(256)
	corpus := newTestCorpus(t, hashing, 11, 0)
	_, err := corpus.IngestDocument(ctx, "policy.pdf", policyDocument)
	require.NoError(t, err)

	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "Using only the information from the following insurance policy document") &&
			strings.Contains(p, "Claims must be filed within 30 days.") &&
			strings.HasSuffix(p, "Question: When must claims be filed?")
	})).Return("Within 30 days.", nil)

	service := NewAnswerService(NewRetriever(corpus, hashing), generator, 0)
	answer, err := service.Ask(ctx, "When must claims be filed?", 1)

	require.NoError(t, err)
	assert.True(t, answer.Found)
	assert.Equal(t, "Within 30 days.", answer.Answer)
	require.Len(t, answer.Context, 1)
	assert.Equal(t, "policy.pdf#0", answer.Context[0].ChunkID)
	generator.AssertExpectations(t)
}

func TestAnswerService_Ask_NoContext(t *testing.T) {
	embedder := new(MockEmbeddingProvider)
	generator := new(MockGenerator)
	service := NewAnswerService(NewRetriever(NewCorpus(embedder, vectorindex.NewMemory()), embedder), generator, 0)

	answer, err := service.Ask(context.Background(), "Is dental covered?", 3)

	require.NoError(t, err)
	assert.False(t, answer.Found)
	assert.Empty(t, answer.Answer)
	generator.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRetriever_RetrieveDocument(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(256)
	corpus := newTestCorpus(t, hashing, 11, 0)
	_, err := corpus.IngestDocument(ctx, "other.pdf", "Claims must be filed within 90 days.")
	require.NoError(t, err)
	_, err = corpus.IngestDocument(ctx, "policy.pdf", policyDocument)
	require.NoError(t, err)
	_, err = corpus.IngestDocument(ctx, "blank.pdf", "")
	require.NoError(t, err)

	retriever := NewRetriever(corpus, hashing)

	results, err := retriever.RetrieveDocument(ctx, "policy.pdf", "When must claims be filed?", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"policy.pdf#0", "policy.pdf#1"}, chunkIDs(results))

	results, err = retriever.RetrieveDocument(ctx, "blank.pdf", "When must claims be filed?", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = retriever.RetrieveDocument(ctx, "missing.pdf", "When must claims be filed?", 5)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestAnswerService_AskDocument(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(256)
	corpus := newTestCorpus(t, hashing, 11, 0)
	_, err := corpus.IngestDocument(ctx, "other.pdf", "Claims must be filed within 90 days.")
	require.NoError(t, err)
	_, err = corpus.IngestDocument(ctx, "policy.pdf", policyDocument)
	require.NoError(t, err)

	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "within 30 days") && !strings.Contains(p, "90 days")
	})).Return("Within 30 days.", nil)

	answer, err := NewAnswerService(NewRetriever(corpus, hashing), generator, 0).
		AskDocument(ctx, "policy.pdf", "When must claims be filed?", 5)

	require.NoError(t, err)
	assert.True(t, answer.Found)
	for _, res := range answer.Context {
		assert.Equal(t, "policy.pdf", res.DocumentID)
	}
	generator.AssertExpectations(t)
}

func TestAnswerService_Ask_GenerationFailed(t *testing.T) {
	ctx := context.Background()
	hashing := embedding.NewHashing(32)
	corpus := newTestCorpus(t, hashing, 10, 0)
	_, err := corpus.IngestDocument(ctx, "a", "Some cover.")
	require.NoError(t, err)

	generator := new(MockGenerator)
	generator.On("Complete", mock.Anything, mock.Anything).
		Return("", domain.Wrap(domain.ErrGenerationFailed, errors.New("quota")))

	_, err = NewAnswerService(NewRetriever(corpus, hashing), generator, 0).Ask(ctx, "cover?", 1)

	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}

func TestBuildPrompt_TruncatesContext(t *testing.T) {
	results := []domain.RetrievalResult{{Text: "abcdef"}, {Text: "ghij"}}

	prompt := BuildPrompt("Q?", results, 4)

	assert.Contains(t, prompt, "Document:\nabcd\n\nQuestion: Q?")
}

func TestBuildPrompt_KeepsPercentSigns(t *testing.T) {
	prompt := BuildPrompt("Is 100%s covered?", []domain.RetrievalResult{{Text: "Co-pay is 20%."}}, 0)

	assert.Contains(t, prompt, "Co-pay is 20%.")
	assert.Contains(t, prompt, "Question: Is 100%s covered?")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "hi", truncateRunes("hi", 10))
}

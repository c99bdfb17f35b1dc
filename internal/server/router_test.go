package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cloo-solutions/policyrag/internal/api/handlers"
	"github.com/cloo-solutions/policyrag/internal/embedding"
	"github.com/cloo-solutions/policyrag/internal/extract"
	"github.com/cloo-solutions/policyrag/internal/service"
	"github.com/cloo-solutions/policyrag/internal/telemetry"
	"github.com/cloo-solutions/policyrag/internal/vectorindex"
)

type echoGenerator struct {
	prompts []string
}

func (g *echoGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return "Within 30 days.", nil
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	return f.data, "policy.txt", nil
}

const policyText = "Claims must be filed within 30 days. " +
	"Coverage excludes pre-existing conditions. Premiums are due monthly."

func setupRouter(t *testing.T) (http.Handler, *service.Corpus, *echoGenerator) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := telemetry.NewMetrics()
	hashing := embedding.NewHashing(256)
	extractor := extract.New()

	corpus := service.NewCorpus(hashing, vectorindex.NewMemory(),
		service.WithChunkConfig(service.ChunkConfig{MaxTokens: 11}),
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	)
	retriever := service.NewRetriever(corpus, hashing, service.WithRetrieverLogger(logger), service.WithRetrieverMetrics(metrics))
	generator := &echoGenerator{}
	answers := service.NewAnswerService(retriever, generator, 0)

	router := NewRouter(RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(corpus, extractor, nil, nil, logger),
		QueryHandler:    handlers.NewQueryHandler(retriever, answers),
		HackRxHandler:   handlers.NewHackRxHandler(staticFetcher{data: []byte(policyText)}, extractor, corpus, answers, logger),
		AdminHandler:    handlers.NewAdminHandler(corpus, nil),
		Logger:          logger,
	})
	return router, corpus, generator
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["data"]["status"])
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router, _, _ := setupRouter(t)

	serve(router, uploadRequest(t, "policy.txt", policyText))
	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "policyrag_documents_ingested_total")
}

func TestRouter_UploadSearchAsk(t *testing.T) {
	router, corpus, generator := setupRouter(t)

	w := serve(router, uploadRequest(t, "policy.txt", policyText))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, len(corpus.Documents()))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"policy.txt"`)

	w = serve(router, jsonRequest(http.MethodPost, "/search", `{"query":"When must claims be filed?","k":1}`))
	require.Equal(t, http.StatusOK, w.Code)
	var search struct {
		Data handlers.SearchResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &search))
	require.Len(t, search.Data.Results, 1)
	assert.Equal(t, "policy.txt#0", search.Data.Results[0].ChunkID)

	w = serve(router, jsonRequest(http.MethodPost, "/ask", `{"question":"When must claims be filed?"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var ask struct {
		Data handlers.AskResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ask))
	assert.True(t, ask.Data.Found)
	assert.Equal(t, "Within 30 days.", ask.Data.Answer)
	require.Len(t, generator.prompts, 1)
	assert.Contains(t, generator.prompts[0], "Claims must be filed within 30 days.")
}

func TestRouter_EmptyCorpus(t *testing.T) {
	router, _, generator := setupRouter(t)

	w := serve(router, jsonRequest(http.MethodPost, "/search", `{"query":"grace period"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"results":[]}}`, w.Body.String())

	w = serve(router, jsonRequest(http.MethodPost, "/ask", `{"question":"grace period?"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"found":false`)
	assert.Empty(t, generator.prompts)
}

func TestRouter_HackRx(t *testing.T) {
	router, corpus, _ := setupRouter(t)

	w := serve(router, jsonRequest(http.MethodPost, "/hackrx/run",
		`{"documents":"https://example.com/policy.txt","questions":["When must claims be filed?"]}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"answers":["Within 30 days."]}`, w.Body.String())

	_, err := corpus.Document("https://example.com/policy.txt")
	assert.NoError(t, err)
}

func TestRouter_AdminResetAndReindex(t *testing.T) {
	router, corpus, _ := setupRouter(t)
	serve(router, uploadRequest(t, "policy.txt", policyText))

	w := serve(router, httptest.NewRequest(http.MethodPost, "/admin/reindex", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"documents":1,"chunks":2}}`, w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodPost, "/admin/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, corpus.Len())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/admin/queries", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := serve(router, httptest.NewRequest(http.MethodGet, "/knowledge", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_BodyLimits(t *testing.T) {
	router, _, _ := setupRouter(t)

	question := strings.Repeat("grace period ", 100000)
	w := serve(router, jsonRequest(http.MethodPost, "/ask", `{"question":"`+question+`"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "BODY_TOO_LARGE")

	// Uploads get the larger limit.
	w = serve(router, uploadRequest(t, "large.txt", strings.Repeat("Cover applies. ", 100000)))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSearch(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.K)
		writeData(w, http.StatusOK, SearchResponse{Results: []SearchResult{
			{ChunkID: "policy.pdf#0", DocumentID: "policy.pdf", Text: "Claims must be filed within 30 days.", Distance: 0.5},
		}})
	})

	var out bytes.Buffer
	require.NoError(t, runSearch(api, &out, "claims", 2, false))
	assert.Contains(t, out.String(), "Found 1 results:")
	assert.Contains(t, out.String(), "1. policy.pdf#0 (distance 0.5000)")
	assert.Contains(t, out.String(), "Claims must be filed within 30 days.")
}

func TestRunSearch_NoResults(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, SearchResponse{Results: []SearchResult{}})
	})

	var out bytes.Buffer
	require.NoError(t, runSearch(api, &out, "claims", 0, false))
	assert.Equal(t, "No results found.\n", out.String())
}

func TestRunAsk(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ask", r.URL.Path)
		writeData(w, http.StatusOK, AskResponse{
			Question: "When?",
			Answer:   "Within 30 days.",
			Found:    true,
			Context:  []SearchResult{{ChunkID: "policy.pdf#0", Text: "Claims must be filed within 30 days."}},
		})
	})

	var out bytes.Buffer
	require.NoError(t, runAsk(api, &out, "When?", 0, true, false))
	assert.True(t, strings.HasPrefix(out.String(), "Within 30 days.\n"))
	assert.Contains(t, out.String(), "policy.pdf#0")
}

func TestRunAsk_NotFound(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, AskResponse{Question: "When?", Context: []SearchResult{}})
	})

	var out bytes.Buffer
	require.NoError(t, runAsk(api, &out, "When?", 0, false, false))
	assert.Equal(t, "No relevant policy passages found.\n", out.String())
}

func TestRunAsk_JSON(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, AskResponse{Question: "When?", Answer: "Soon.", Found: true, Context: []SearchResult{}})
	})

	var out bytes.Buffer
	require.NoError(t, runAsk(api, &out, "When?", 0, false, true))

	var resp AskResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "Soon.", resp.Answer)
}

func TestRunList(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		writeData(w, http.StatusOK, DocumentPage{
			Items:   []DocumentInfo{{ID: "policy.pdf", ChunkCount: 12, Pages: 4, IngestedAt: "2026-01-02T03:04:05Z"}},
			Cursor:  "next",
			HasMore: true,
		})
	})

	var out bytes.Buffer
	require.NoError(t, runList(api, &out, 1, "", false))
	assert.Contains(t, out.String(), "1 documents:")
	assert.Contains(t, out.String(), "Chunks: 12, Pages: 4")
	assert.Contains(t, out.String(), "Use --cursor next")
}

func TestRunShow_EscapesID(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents/my%20policy.pdf", r.URL.EscapedPath())
		writeData(w, http.StatusOK, DocumentDetail{
			DocumentInfo: DocumentInfo{ID: "my policy.pdf", ChunkCount: 1},
			Chunks:       []ChunkInfo{{ID: "my policy.pdf#0", Text: "Premiums are due monthly.", Tokens: 4}},
		})
	})

	var out bytes.Buffer
	require.NoError(t, runShow(api, &out, "my policy.pdf", true, false))
	assert.Contains(t, out.String(), "my policy.pdf#0 [4 tokens]")
	assert.Contains(t, out.String(), "Premiums are due monthly.")
}

func TestRunUpload_MissingFile(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	err := runUpload(api, &bytes.Buffer{}, nil, []string{"/does/not/exist.pdf"}, false)
	assert.Error(t, err)
}

func TestRunHackRx_PartialFailure(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req HackRxRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/policy.pdf", req.Documents)
		assert.Len(t, req.Questions, 2)
		_, _ = w.Write([]byte(`{"answers":["30 days",""],"errors":[null,{"code":"GENERATION_FAILED","message":"model unavailable"}]}`))
	})

	var out bytes.Buffer
	err := runHackRx(api, &out, "https://example.com/policy.pdf", []string{"Claims?", "Premiums?"}, false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Q1: Claims?\n   30 days\n")
	assert.Contains(t, out.String(), "error [GENERATION_FAILED]: model unavailable")
}

func TestRunStats(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/reindex", r.URL.Path)
		writeData(w, http.StatusOK, CorpusStats{Documents: 2, Chunks: 9})
	})

	var out bytes.Buffer
	require.NoError(t, runStats(api, &out, "POST", "/admin/reindex", "Reindexed", false))
	assert.Equal(t, "Reindexed. 2 documents, 9 chunks\n", out.String())
}

func TestRunQueries(t *testing.T) {
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeData(w, http.StatusOK, []QueryLog{
			{Query: "grace period?", Mode: "search", K: 3, DurationMs: 4, Results: []QueryLogHit{{ChunkID: "policy.pdf#2", Distance: 0.25}}},
		})
	})

	var out bytes.Buffer
	require.NoError(t, runQueries(api, &out, 5, false))
	assert.Contains(t, out.String(), "[search k=3 4ms] grace period?")
	assert.Contains(t, out.String(), "policy.pdf#2 (0.2500)")
}

func TestConfirm(t *testing.T) {
	assert.True(t, confirm(strings.NewReader("y\n"), &bytes.Buffer{}, "Sure?"))
	assert.True(t, confirm(strings.NewReader("YES\n"), &bytes.Buffer{}, "Sure?"))
	assert.False(t, confirm(strings.NewReader("n\n"), &bytes.Buffer{}, "Sure?"))
	assert.False(t, confirm(strings.NewReader(""), &bytes.Buffer{}, "Sure?"))
}

func TestRunConfigSet_ChecksServer(t *testing.T) {
	useConfigDir(t, t.TempDir())

	var healthChecked bool
	api := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		healthChecked = r.URL.Path == "/health"
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	var out bytes.Buffer
	require.NoError(t, runConfigSet(&out, api.baseURL, 4, false))
	assert.True(t, healthChecked)

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, api.baseURL, config.APIURL)
	assert.Equal(t, 4, config.TopK)
}

func TestRunConfigSet_InvalidURL(t *testing.T) {
	useConfigDir(t, t.TempDir())
	err := runConfigSet(&bytes.Buffer{}, "localhost:8080", 0, true)
	assert.Error(t, err)
}

func TestRunConfigShow(t *testing.T) {
	useConfigDir(t, t.TempDir())
	t.Setenv(envAPIURL, "")

	var out bytes.Buffer
	require.NoError(t, runConfigShow(&out, "http://flag:1", false))
	assert.Contains(t, out.String(), "API URL: http://flag:1 (from flag)")
	assert.Contains(t, out.String(), "Default k: server setting")
}

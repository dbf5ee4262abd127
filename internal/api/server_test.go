package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toxipipe/internal/config"
	"github.com/sells-group/toxipipe/internal/model"
	"github.com/sells-group/toxipipe/internal/pipeline"
	"github.com/sells-group/toxipipe/internal/stats"
	"github.com/sells-group/toxipipe/internal/store"
)

type scriptedOracle struct {
	fn func(text string) (model.ScoreVector, error)
}

func (o *scriptedOracle) Score(_ context.Context, text string) (model.ScoreVector, error) {
	return o.fn(text)
}

func newTestServer(t *testing.T, oracle *scriptedOracle) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := &config.Config{
		Thresholds: config.Thresholds{Toxicity: 0.7, ConfidenceHigh: 0.8, ConfidenceMedium: 0.5},
		Batch:      config.BatchConfig{MaxConcurrentPosts: 2, OracleRateLimit: 1000},
		Retry:      config.RetryConfig{MaxAttempts: 2, InitialBackoffMS: 1, MaxBackoffMS: 2},
	}
	pipe := pipeline.New(st, oracle, stats.New(st), cfg)
	return NewServer(pipe, st, 0), st
}

func calmOracle() *scriptedOracle {
	return &scriptedOracle{fn: func(string) (model.ScoreVector, error) {
		return model.ScoreVector{Toxicity: 0.1, SevereToxicity: 0.01, Obscene: 0.05, Threat: 0.01, Insult: 0.03, IdentityAttack: 0.01}, nil
	}}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func samplePost(id, text string) model.RawPost {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return model.RawPost{ID: id, Text: text, AuthorID: "a1", CreatedAt: now, CollectedAt: now}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, calmOracle())
	rec := getPath(srv.Router(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitPosts_ItemizedResults(t *testing.T) {
	srv, _ := newTestServer(t, calmOracle())
	router := srv.Router()

	rec := postJSON(t, router, "/posts", []model.RawPost{
		samplePost("p1", "hello there"),
		{ID: "p2"}, // missing text
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Submitted int                `json:"submitted"`
		Results   []model.ItemResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Submitted)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, model.PostStatusStatsUpdated, resp.Results[0].Status)
	assert.Equal(t, model.PostStatusFailed, resp.Results[1].Status)
	assert.Equal(t, model.PostStatusReceived, resp.Results[1].Stage)
}

func TestSubmitPosts_BadBody(t *testing.T) {
	srv, _ := newTestServer(t, calmOracle())
	req := httptest.NewRequest(http.MethodPost, "/posts", bytes.NewBufferString(`{"not":"an array"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcess_AcceptedAndRunsInBackground(t *testing.T) {
	srv, st := newTestServer(t, calmOracle())
	ctx := context.Background()
	require.NoError(t, st.UpsertPost(ctx, samplePost("u1", "stored text")))

	rec := postJSON(t, srv.Router(), "/process", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		n, err := st.CountAnalyses(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListPosts(t *testing.T) {
	srv, st := newTestServer(t, calmOracle())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, st.UpsertPost(ctx, samplePost(fmt.Sprintf("p%d", i), "text")))
	}

	rec := getPath(srv.Router(), "/posts?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int             `json:"count"`
		Posts []model.RawPost `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestListAnalyses_MinToxicityFilter(t *testing.T) {
	toxicByText := &scriptedOracle{fn: func(text string) (model.ScoreVector, error) {
		tox := 0.2
		if text == "nasty words" {
			tox = 0.9
		}
		return model.ScoreVector{Toxicity: tox, SevereToxicity: 0.1, Obscene: 0.1, Threat: 0.1, Insult: 0.1, IdentityAttack: 0.1}, nil
	}}
	srv, _ := newTestServer(t, toxicByText)
	router := srv.Router()

	rec := postJSON(t, router, "/posts", []model.RawPost{
		samplePost("mild", "kind words"),
		samplePost("harsh", "nasty words"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = getPath(router, "/analyses?min_toxicity=0.5")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count    int                    `json:"count"`
		Analyses []model.AnalysisRecord `json:"analyses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "harsh", resp.Analyses[0].PostID)

	// Malformed filter is rejected.
	rec = getPath(router, "/analyses?min_toxicity=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, calmOracle())
	router := srv.Router()

	postJSON(t, router, "/posts", []model.RawPost{samplePost("p1", "hello")})

	rec := getPath(router, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap model.AggregateStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.TotalPosts)
	assert.Equal(t, 1, snap.TotalAnalyses)

	rec = getPath(router, "/stats?recompute=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.TotalAnalyses)
}

func TestAnalyzeText(t *testing.T) {
	srv, st := newTestServer(t, &scriptedOracle{fn: func(text string) (model.ScoreVector, error) {
		return model.ScoreVector{Toxicity: 0.95, SevereToxicity: 0.5, Obscene: 0.4, Threat: 0.2, Insult: 0.6, IdentityAttack: 0.1}, nil
	}})
	router := srv.Router()

	rec := postJSON(t, router, "/analyze", map[string]string{"text": "You're HORRIBLE @x"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out model.AnalysisRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.IsToxic)
	assert.Equal(t, model.ConfidenceHigh, out.ConfidenceLevel)
	assert.Equal(t, "you're horrible", out.Text)

	// One-shot analysis never persists.
	n, err := st.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = postJSON(t, router, "/analyze", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeText_OracleDown(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedOracle{fn: func(string) (model.ScoreVector, error) {
		return model.ScoreVector{}, &model.OracleError{Reason: "unavailable", StatusCode: 503, Transient: true}
	}})

	rec := postJSON(t, srv.Router(), "/analyze", map[string]string{"text": "anything"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCleanText(t *testing.T) {
	srv, _ := newTestServer(t, calmOracle())

	rec := postJSON(t, srv.Router(), "/clean", map[string]string{
		"text": "Check this http://example.test @user #Topic!!",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "check this topic", out["cleaned_text"])
}

package pipeline

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/toxipipe/internal/config"
	"github.com/sells-group/toxipipe/internal/model"
	"github.com/sells-group/toxipipe/internal/stats"
	"github.com/sells-group/toxipipe/internal/store"
)

// fakeOracle lets tests script the scoring behavior per call.
type fakeOracle struct {
	calls   atomic.Int64
	scoreFn func(call int64, text string) (model.ScoreVector, error)
}

func (f *fakeOracle) Score(ctx context.Context, text string) (model.ScoreVector, error) {
	return f.scoreFn(f.calls.Add(1), text)
}

func mildScores() model.ScoreVector {
	return model.ScoreVector{Toxicity: 0.2, SevereToxicity: 0.05, Obscene: 0.1, Threat: 0.01, Insult: 0.1, IdentityAttack: 0.02}
}

func toxicScores() model.ScoreVector {
	return model.ScoreVector{Toxicity: 0.92, SevereToxicity: 0.4, Obscene: 0.6, Threat: 0.3, Insult: 0.7, IdentityAttack: 0.2}
}

func testConfig() *config.Config {
	return &config.Config{
		Thresholds: config.Thresholds{Toxicity: 0.7, ConfidenceHigh: 0.8, ConfidenceMedium: 0.5},
		Batch:      config.BatchConfig{MaxConcurrentPosts: 4, OracleRateLimit: 1000},
		Retry:      config.RetryConfig{MaxAttempts: 3, InitialBackoffMS: 1, MaxBackoffMS: 2},
	}
}

func newPipeline(t *testing.T, oracle *fakeOracle) (*Pipeline, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st, oracle, stats.New(st), testConfig()), st
}

func testPost(id, text string) model.RawPost {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return model.RawPost{
		ID: id, Text: text, AuthorID: "author-1",
		CreatedAt: now, CollectedAt: now, Likes: 3,
	}
}

func TestProcessPost_HappyPath(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, _ string) (model.ScoreVector, error) {
		return toxicScores(), nil
	}}
	p, st := newPipeline(t, oracle)
	ctx := context.Background()

	res := p.ProcessPost(ctx, testPost("t1", "You are AWFUL @someone #rude"))
	assert.Equal(t, model.PostStatusStatsUpdated, res.Status)
	assert.Empty(t, res.Error)

	got, err := st.GetPost(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "you are awful rude", got.CleanedText)
	require.NotNil(t, got.ProcessedAt)

	rec, err := st.GetLatestAnalysis(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, rec.IsToxic)
	assert.Equal(t, model.ConfidenceHigh, rec.ConfidenceLevel)

	snap := p.Stats().Snapshot()
	assert.Equal(t, 1, snap.TotalPosts)
	assert.Equal(t, 1, snap.TotalAnalyses)
	assert.Equal(t, 1, snap.ToxicPosts)
}

func TestProcessPost_DuplicateRefreshesEngagement(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, _ string) (model.ScoreVector, error) {
		return mildScores(), nil
	}}
	p, st := newPipeline(t, oracle)
	ctx := context.Background()

	first := testPost("t1", "hello world")
	require.Equal(t, model.PostStatusStatsUpdated, p.ProcessPost(ctx, first).Status)

	second := first
	second.Likes = 50
	require.Equal(t, model.PostStatusStatsUpdated, p.ProcessPost(ctx, second).Status)

	got, err := st.GetPost(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Likes, "duplicate must refresh engagement counters")

	n, err := st.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicate must not create a second post row")

	n, err = st.CountAnalyses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicate must not append a second analysis")

	snap := p.Stats().Snapshot()
	assert.Equal(t, 1, snap.TotalPosts, "total posts increments exactly once across both submissions")
	assert.Equal(t, 1, snap.TotalAnalyses)
}

func TestProcessPost_RerunIsIdempotent(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, _ string) (model.ScoreVector, error) {
		return mildScores(), nil
	}}
	p, st := newPipeline(t, oracle)
	ctx := context.Background()

	post := testPost("t1", "hello world")
	for i := 0; i < 3; i++ {
		res := p.ProcessPost(ctx, post)
		require.Equal(t, model.PostStatusStatsUpdated, res.Status)
	}

	nPosts, err := st.CountPosts(ctx)
	require.NoError(t, err)
	nAnalyses, err2 := st.CountAnalyses(ctx)
	require.NoError(t, err2)
	assert.Equal(t, 1, nPosts)
	assert.Equal(t, 1, nAnalyses)

	// Incremental state agrees with a full recompute.
	snap := p.Stats().Snapshot()
	recomputed, err := p.Stats().Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.TotalPosts, recomputed.TotalPosts)
	assert.Equal(t, snap.TotalAnalyses, recomputed.TotalAnalyses)
}

func TestProcessPost_ValidationFailureAtReceive(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, _ string) (model.ScoreVector, error) {
		t.Fatal("oracle must not be called for invalid posts")
		return model.ScoreVector{}, nil
	}}
	p, st := newPipeline(t, oracle)
	ctx := context.Background()

	res := p.ProcessPost(ctx, testPost("t1", ""))
	assert.Equal(t, model.PostStatusFailed, res.Status)
	assert.Equal(t, model.PostStatusReceived, res.Stage)
	assert.Contains(t, res.Error, "text")

	// Validation rejects are itemized, not kept as failure records.
	failures, err := st.ListFailures(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestProcessPost_TransientOracleErrorRetried(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(call int64, _ string) (model.ScoreVector, error) {
		if call < 3 {
			return model.ScoreVector{}, &model.OracleError{Reason: "unavailable", StatusCode: 503, Transient: true}
		}
		return mildScores(), nil
	}}
	p, _ := newPipeline(t, oracle)

	res := p.ProcessPost(context.Background(), testPost("t1", "hello"))
	assert.Equal(t, model.PostStatusStatsUpdated, res.Status)
	assert.Equal(t, int64(3), oracle.calls.Load())
}

func TestProcessPost_ExhaustedRetriesRecordFailure(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, _ string) (model.ScoreVector, error) {
		return model.ScoreVector{}, &model.OracleError{Reason: "unavailable", StatusCode: 503, Transient: true}
	}}
	p, st := newPipeline(t, oracle)
	ctx := context.Background()

	res := p.ProcessPost(ctx, testPost("t1", "hello"))
	assert.Equal(t, model.PostStatusFailed, res.Status)
	assert.Equal(t, model.PostStatusScored, res.Stage)
	assert.Equal(t, int64(3), oracle.calls.Load(), "retries are bounded by max attempts")

	failures, err := st.ListFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "t1", failures[0].PostID)
	assert.Equal(t, model.PostStatusScored, failures[0].Stage)
	assert.Equal(t, 3, failures[0].Attempts)

	// No analysis row without a successful score.
	n, err := st.CountAnalyses(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessPost_PermanentOracleErrorNotRetried(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, _ string) (model.ScoreVector, error) {
		return model.ScoreVector{}, &model.OracleError{Reason: "bad request", StatusCode: 400}
	}}
	p, _ := newPipeline(t, oracle)

	res := p.ProcessPost(context.Background(), testPost("t1", "hello"))
	assert.Equal(t, model.PostStatusFailed, res.Status)
	assert.Equal(t, int64(1), oracle.calls.Load())
}

func TestProcessBatch_OneFailureDoesNotAbortOthers(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, text string) (model.ScoreVector, error) {
		if text == "poison" {
			return model.ScoreVector{}, &model.OracleError{Reason: "bad request", StatusCode: 400}
		}
		return mildScores(), nil
	}}
	p, _ := newPipeline(t, oracle)

	posts := []model.RawPost{
		testPost("a", "fine one"),
		testPost("b", "poison"),
		{ID: "c"}, // invalid: no text
		testPost("d", "another fine one"),
	}
	results := p.ProcessBatch(context.Background(), posts)
	require.Len(t, results, 4)

	assert.Equal(t, "a", results[0].PostID)
	assert.Equal(t, model.PostStatusStatsUpdated, results[0].Status)
	assert.Equal(t, model.PostStatusFailed, results[1].Status)
	assert.Equal(t, model.PostStatusScored, results[1].Stage)
	assert.Equal(t, model.PostStatusFailed, results[2].Status)
	assert.Equal(t, model.PostStatusReceived, results[2].Stage)
	assert.Equal(t, model.PostStatusStatsUpdated, results[3].Status)
}

func TestProcessUnanalyzed(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, _ string) (model.ScoreVector, error) {
		return mildScores(), nil
	}}
	p, st := newPipeline(t, oracle)
	ctx := context.Background()

	require.NoError(t, st.UpsertPost(ctx, testPost("u1", "stored but never analyzed")))
	require.NoError(t, st.UpsertPost(ctx, testPost("u2", "same here")))

	results, err := p.ProcessUnanalyzed(ctx, 100)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, model.PostStatusStatsUpdated, r.Status)
	}

	n, err := st.CountAnalyses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAnalyzeText_DoesNotPersist(t *testing.T) {
	oracle := &fakeOracle{scoreFn: func(_ int64, text string) (model.ScoreVector, error) {
		assert.Equal(t, "check this out", text)
		return toxicScores(), nil
	}}
	p, st := newPipeline(t, oracle)
	ctx := context.Background()

	rec, err := p.AnalyzeText(ctx, "Check THIS out! http://x.test/y")
	require.NoError(t, err)
	assert.True(t, rec.IsToxic)
	assert.Equal(t, "check this out", rec.Text)

	n, err := st.CountPosts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

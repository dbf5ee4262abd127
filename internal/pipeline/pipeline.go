// Package pipeline orchestrates the per-post processing state machine and
// batch execution.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/toxipipe/internal/classify"
	"github.com/sells-group/toxipipe/internal/config"
	"github.com/sells-group/toxipipe/internal/dedup"
	"github.com/sells-group/toxipipe/internal/model"
	"github.com/sells-group/toxipipe/internal/normalize"
	"github.com/sells-group/toxipipe/internal/resilience"
	"github.com/sells-group/toxipipe/internal/stats"
	"github.com/sells-group/toxipipe/internal/store"
	"github.com/sells-group/toxipipe/pkg/detox"
)

// Pipeline drives one post through receive, normalize, score, classify,
// dedup, persist and stats update. Each post advances independently; a
// failure is recorded per item and never aborts the batch around it.
type Pipeline struct {
	store    store.Store
	oracle   detox.Client
	resolver *dedup.Resolver
	stats    *stats.Aggregator

	thresholds    config.Thresholds
	retry         resilience.RetryConfig
	breaker       *resilience.CircuitBreaker
	limiter       *rate.Limiter
	maxConcurrent int
}

// New wires a Pipeline from the loaded config. The rate limiter gates
// oracle calls across the whole batch, not per worker.
func New(st store.Store, oracle detox.Client, agg *stats.Aggregator, cfg *config.Config) *Pipeline {
	maxConc := cfg.Batch.MaxConcurrentPosts
	if maxConc <= 0 {
		maxConc = 5
	}
	rps := cfg.Batch.OracleRateLimit
	if rps <= 0 {
		rps = 10
	}
	return &Pipeline{
		store:         st,
		oracle:        oracle,
		resolver:      dedup.NewResolver(st),
		stats:         agg,
		thresholds:    cfg.Thresholds,
		retry:         resilience.FromConfig(cfg.Retry),
		breaker:       resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		maxConcurrent: maxConc,
	}
}

// Stats exposes the aggregator for transport layers.
func (p *Pipeline) Stats() *stats.Aggregator { return p.stats }

// ProcessPost walks a single post through every stage. The returned
// ItemResult carries the final status and, on failure, the stage that
// failed and why. An analysis row is only written after the post row is
// committed with a complete score vector.
func (p *Pipeline) ProcessPost(ctx context.Context, post model.RawPost) model.ItemResult {
	log := zap.L().With(zap.String("post_id", post.ID))

	if err := post.Validate(); err != nil {
		log.Warn("post rejected", zap.Error(err))
		return p.fail(ctx, post.ID, model.PostStatusReceived, 1, err)
	}

	now := time.Now().UTC()
	post.CleanedText = normalize.Normalize(post.Text)
	post.ProcessedAt = &now

	attempts := 0
	vec, err := p.score(ctx, post.CleanedText, post.ID, &attempts)
	if err != nil {
		return p.fail(ctx, post.ID, model.PostStatusScored, attempts, err)
	}

	verdict, err := classify.Classify(vec, p.thresholds)
	if err != nil {
		return p.fail(ctx, post.ID, model.PostStatusClassified, 1, err)
	}

	decision, err := p.resolver.Resolve(ctx, post.ID)
	if err != nil {
		return p.fail(ctx, post.ID, model.PostStatusDedupResolved, 1, err)
	}

	// A duplicate of an already-analyzed post only refreshes engagement
	// counters. It never appends a second analysis or touches the stats.
	if decision == dedup.DecisionDuplicate {
		analyzed, err := p.store.AnalysisExists(ctx, post.ID)
		if err != nil {
			return p.fail(ctx, post.ID, model.PostStatusDedupResolved, 1, err)
		}
		if analyzed {
			attempts = 0
			if err := p.refreshPost(ctx, post, &attempts); err != nil {
				return p.fail(ctx, post.ID, model.PostStatusPersisted, attempts, err)
			}
			log.Info("duplicate post, engagement refreshed")
			return model.ItemResult{PostID: post.ID, Status: model.PostStatusStatsUpdated}
		}
	}

	rec := model.AnalysisRecord{
		PostID:      post.ID,
		Text:        post.CleanedText,
		ScoreVector: vec,
		Verdict:     verdict,
		AnalyzedAt:  now,
	}

	attempts = 0
	if err := p.persist(ctx, post, rec, &attempts); err != nil {
		return p.fail(ctx, post.ID, model.PostStatusPersisted, attempts, err)
	}

	if decision == dedup.DecisionNew {
		p.stats.NotePost()
	}
	p.stats.ApplyDelta(rec)

	log.Info("post processed",
		zap.String("decision", string(decision)),
		zap.Bool("is_toxic", verdict.IsToxic),
		zap.String("confidence", string(verdict.ConfidenceLevel)),
	)
	return model.ItemResult{PostID: post.ID, Status: model.PostStatusStatsUpdated}
}

// ProcessBatch runs each post through its own state machine with bounded
// concurrency. Results come back in input order.
func (p *Pipeline) ProcessBatch(ctx context.Context, posts []model.RawPost) []model.ItemResult {
	results := make([]model.ItemResult, len(posts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for i, post := range posts {
		i, post := i, post
		g.Go(func() error {
			results[i] = p.ProcessPost(ctx, post)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProcessUnanalyzed pulls stored posts with no analysis yet and runs them
// through the pipeline.
func (p *Pipeline) ProcessUnanalyzed(ctx context.Context, limit int) ([]model.ItemResult, error) {
	posts, err := p.store.ListUnanalyzed(ctx, limit)
	if err != nil {
		return nil, err
	}
	return p.ProcessBatch(ctx, posts), nil
}

// AnalyzeText cleans, scores and classifies a single text without touching
// the store. Used by the one-shot API endpoint and CLI command.
func (p *Pipeline) AnalyzeText(ctx context.Context, text string) (model.AnalysisRecord, error) {
	cleaned := normalize.Normalize(text)

	attempts := 0
	vec, err := p.score(ctx, cleaned, "", &attempts)
	if err != nil {
		return model.AnalysisRecord{}, err
	}
	verdict, err := classify.Classify(vec, p.thresholds)
	if err != nil {
		return model.AnalysisRecord{}, err
	}
	return model.AnalysisRecord{
		Text:        cleaned,
		ScoreVector: vec,
		Verdict:     verdict,
		AnalyzedAt:  time.Now().UTC(),
	}, nil
}

func (p *Pipeline) score(ctx context.Context, text, postID string, attempts *int) (model.ScoreVector, error) {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("score", postID)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (model.ScoreVector, error) {
		*attempts++
		if err := p.limiter.Wait(ctx); err != nil {
			return model.ScoreVector{}, &model.OracleError{Reason: "rate limiter", Err: err}
		}
		return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (model.ScoreVector, error) {
			return p.oracle.Score(ctx, text)
		})
	})
}

func (p *Pipeline) refreshPost(ctx context.Context, post model.RawPost, attempts *int) error {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("persist", post.ID)
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		*attempts++
		return p.store.UpsertPost(ctx, post)
	})
}

func (p *Pipeline) persist(ctx context.Context, post model.RawPost, rec model.AnalysisRecord, attempts *int) error {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("persist", post.ID)
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		*attempts++
		if err := p.store.UpsertPost(ctx, post); err != nil {
			return err
		}
		return p.store.InsertAnalysis(ctx, rec)
	})
}

// fail builds the FAILED result and, for failures past validation, keeps a
// failure record so exhausted retries stay visible.
func (p *Pipeline) fail(ctx context.Context, postID string, stage model.PostStatus, attempts int, err error) model.ItemResult {
	zap.L().Error("post failed",
		zap.String("post_id", postID),
		zap.String("stage", string(stage)),
		zap.Int("attempts", attempts),
		zap.String("class", resilience.ClassifyError(err)),
		zap.Error(err),
	)

	if !model.IsValidation(err) && !errors.Is(err, resilience.ErrCircuitOpen) {
		frec := store.FailureRecord{
			ID:       uuid.NewString(),
			PostID:   postID,
			Stage:    stage,
			Error:    err.Error(),
			Attempts: attempts,
			FailedAt: time.Now().UTC(),
		}
		if serr := p.store.SaveFailure(ctx, frec); serr != nil {
			zap.L().Error("failure record not saved", zap.String("post_id", postID), zap.Error(serr))
		}
	}

	return model.ItemResult{
		PostID: postID,
		Status: model.PostStatusFailed,
		Stage:  stage,
		Error:  err.Error(),
	}
}

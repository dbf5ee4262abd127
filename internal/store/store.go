// Package store persists posts, analyses, and failure records.
package store

import (
	"context"
	"time"

	"github.com/sells-group/toxipipe/internal/model"
)

// FailureRecord is a permanently failed post, kept so exhausted retries are
// visible rather than silently dropped.
type FailureRecord struct {
	ID       string           `json:"id"`
	PostID   string           `json:"post_id"`
	Stage    model.PostStatus `json:"stage"`
	Error    string           `json:"error"`
	Attempts int              `json:"attempts"`
	FailedAt time.Time        `json:"failed_at"`
}

// AnalysisFilter narrows analysis listings.
type AnalysisFilter struct {
	MinToxicity float64 `json:"min_toxicity,omitempty"`
	Limit       int     `json:"limit,omitempty"`
}

// Store defines the persistence contract for the pipeline. Side effects are
// confined to implementations of this interface; all writes are safe to
// retry (posts upsert by id, analyses carry post id + timestamp so the
// caller can detect duplicate retries).
type Store interface {
	// Posts. UpsertPost is keyed by post id: inserting an existing id
	// refreshes the engagement counters and derived fields in place.
	UpsertPost(ctx context.Context, post model.RawPost) error
	PostExists(ctx context.Context, id string) (bool, error)
	GetPost(ctx context.Context, id string) (*model.RawPost, error)
	ListPosts(ctx context.Context, limit, offset int) ([]model.RawPost, error)
	ListUnanalyzed(ctx context.Context, limit int) ([]model.RawPost, error)

	// Analyses are append-only: there is no update method. Re-analysis
	// inserts a new record and the latest by analyzed_at is the current
	// verdict.
	InsertAnalysis(ctx context.Context, rec model.AnalysisRecord) error
	AnalysisExists(ctx context.Context, postID string) (bool, error)
	GetLatestAnalysis(ctx context.Context, postID string) (*model.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisRecord, error)
	ScanAnalyses(ctx context.Context, fn func(model.AnalysisRecord) error) error

	// Counters for the stats recompute path.
	CountPosts(ctx context.Context) (int, error)
	CountAnalyses(ctx context.Context) (int, error)

	// Failures.
	SaveFailure(ctx context.Context, rec FailureRecord) error
	ListFailures(ctx context.Context, limit int) ([]FailureRecord, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

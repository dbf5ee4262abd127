package model

import (
	"time"
)

// PostStatus represents the per-post pipeline state.
type PostStatus string

const (
	PostStatusReceived      PostStatus = "received"
	PostStatusNormalized    PostStatus = "normalized"
	PostStatusScored        PostStatus = "scored"
	PostStatusClassified    PostStatus = "classified"
	PostStatusDedupResolved PostStatus = "dedup_resolved"
	PostStatusPersisted     PostStatus = "persisted"
	PostStatusStatsUpdated  PostStatus = "stats_updated"
	PostStatusFailed        PostStatus = "failed"
)

// RawPost is a collected social media post as delivered by the collector.
// Immutable once captured, except for the engagement counters which may be
// refreshed on re-submission of the same post id.
type RawPost struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	AuthorID    string    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	Likes       int       `json:"likes"`
	Retweets    int       `json:"retweets"`
	Replies     int       `json:"replies"`
	URL         string    `json:"url,omitempty"`
	CollectedAt time.Time `json:"collected_at"`

	// Set once the post has been through normalization.
	CleanedText string     `json:"cleaned_text,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Validate checks that a post is well-formed enough to enter the pipeline.
// Missing identifier or text is a ValidationError; engagement counters must
// be non-negative.
func (p *RawPost) Validate() error {
	if p.ID == "" {
		return &ValidationError{Field: "id", Reason: "missing post identifier"}
	}
	if p.Text == "" {
		return &ValidationError{Field: "text", Reason: "missing post text"}
	}
	if p.Likes < 0 || p.Retweets < 0 || p.Replies < 0 {
		return &ValidationError{Field: "engagement", Reason: "negative engagement counter"}
	}
	if p.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "missing or unparseable creation timestamp"}
	}
	return nil
}

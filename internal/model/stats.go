package model

import "time"

// DimensionMeans holds the running mean score per toxicity dimension.
type DimensionMeans struct {
	Toxicity       float64 `json:"toxicity"`
	SevereToxicity float64 `json:"severe_toxicity"`
	Obscene        float64 `json:"obscene"`
	Threat         float64 `json:"threat"`
	Insult         float64 `json:"insult"`
	IdentityAttack float64 `json:"identity_attack"`
}

// AggregateStats is the corpus-wide statistics view. Owned exclusively by
// the stats aggregator and mutated only through its update operations.
type AggregateStats struct {
	TotalPosts    int            `json:"total_posts"`
	TotalAnalyses int            `json:"total_analyses"`
	ToxicPosts    int            `json:"toxic_posts"`
	ToxicityRate  float64        `json:"toxicity_rate"`
	AverageScores DimensionMeans `json:"average_scores"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

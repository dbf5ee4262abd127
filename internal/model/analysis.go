package model

import (
	"math"
	"time"
)

// ConfidenceLevel buckets a toxicity score into a discrete confidence band.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Rank orders confidence levels low < medium < high for monotonicity checks.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// ScoreVector holds the six toxicity dimensions returned by the scoring
// oracle. All six fields must be present and in [0,1]; a missing dimension
// is a hard failure, never a zero fill.
type ScoreVector struct {
	Toxicity       float64 `json:"toxicity"`
	SevereToxicity float64 `json:"severe_toxicity"`
	Obscene        float64 `json:"obscene"`
	Threat         float64 `json:"threat"`
	Insult         float64 `json:"insult"`
	IdentityAttack float64 `json:"identity_attack"`
}

// Dimensions returns the scores in a fixed order matching DimensionNames.
func (s ScoreVector) Dimensions() [6]float64 {
	return [6]float64{s.Toxicity, s.SevereToxicity, s.Obscene, s.Threat, s.Insult, s.IdentityAttack}
}

// DimensionNames lists the score dimensions in wire-field order.
var DimensionNames = [6]string{"toxicity", "severe_toxicity", "obscene", "threat", "insult", "identity_attack"}

// Validate checks that every dimension is finite and within [0,1].
func (s ScoreVector) Validate() error {
	for i, v := range s.Dimensions() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &OracleError{Reason: "non-finite score for " + DimensionNames[i]}
		}
		if v < 0 || v > 1 {
			return &OracleError{Reason: "score out of range for " + DimensionNames[i]}
		}
	}
	return nil
}

// Verdict is the discrete classification derived from a ScoreVector.
// ConfidenceLevel is a pure function of the toxicity score and is never
// mutated independently.
type Verdict struct {
	IsToxic         bool            `json:"is_toxic"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
}

// AnalysisRecord is one scoring outcome for a post. Records are append-only;
// re-analysis inserts a new record with a later timestamp, and the most
// recent record by AnalyzedAt is the current verdict. ScoreVector and
// Verdict are embedded so the wire shape carries the score fields verbatim
// (toxicity, severe_toxicity, ..., is_toxic, confidence_level).
type AnalysisRecord struct {
	PostID string `json:"id"`
	Text   string `json:"text"`
	ScoreVector
	Verdict
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// ItemResult reports the outcome of one post within a batch.
type ItemResult struct {
	PostID string     `json:"post_id"`
	Status PostStatus `json:"status"`
	Stage  PostStatus `json:"failed_stage,omitempty"`
	Error  string     `json:"error,omitempty"`
}

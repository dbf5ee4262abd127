// Package classify derives discrete toxicity verdicts from score vectors.
package classify

import (
	"github.com/sells-group/toxipipe/internal/config"
	"github.com/sells-group/toxipipe/internal/model"
)

// Classify converts a score vector into a verdict under the given
// thresholds. Pure and deterministic: the same scores and thresholds always
// produce the same verdict. It never re-queries the oracle, so threshold
// changes can be replayed over persisted vectors.
func Classify(scores model.ScoreVector, th config.Thresholds) (model.Verdict, error) {
	if err := th.Validate(); err != nil {
		return model.Verdict{}, err
	}
	if err := scores.Validate(); err != nil {
		return model.Verdict{}, err
	}
	return model.Verdict{
		IsToxic:         scores.Toxicity >= th.Toxicity,
		ConfidenceLevel: Confidence(scores.Toxicity, th),
	}, nil
}

// Confidence buckets a toxicity score into a confidence level. The
// bucketing is monotone: a higher score never yields a lower level.
func Confidence(score float64, th config.Thresholds) model.ConfidenceLevel {
	switch {
	case score >= th.ConfidenceHigh:
		return model.ConfidenceHigh
	case score >= th.ConfidenceMedium:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Reclassify replays persisted analysis records under new thresholds
// without re-scoring. Returned records carry the original scores and
// timestamps with verdicts recomputed.
func Reclassify(records []model.AnalysisRecord, th config.Thresholds) ([]model.AnalysisRecord, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	out := make([]model.AnalysisRecord, 0, len(records))
	for _, rec := range records {
		verdict, err := Classify(rec.ScoreVector, th)
		if err != nil {
			return nil, err
		}
		rec.Verdict = verdict
		out = append(out, rec)
	}
	return out, nil
}

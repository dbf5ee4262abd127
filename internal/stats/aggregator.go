// Package stats maintains corpus-wide toxicity statistics.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/toxipipe/internal/model"
	"github.com/sells-group/toxipipe/internal/store"
)

// Aggregator owns the AggregateStats value. All mutation goes through its
// methods under a single mutex, so concurrent deltas are serialized and
// never lost. Recompute is the correctness oracle for the incremental path:
// it rebuilds the state from a full store scan and reconciles any drift.
type Aggregator struct {
	store store.Store

	mu            sync.Mutex
	totalPosts    int
	totalAnalyses int
	toxic         int
	means         [6]float64
	updatedAt     time.Time
}

// New creates an Aggregator reading from the given store on Recompute.
func New(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// NotePost counts a newly persisted post. Called once per NEW dedup
// decision; duplicates never reach it, so a re-submitted post id bumps the
// total exactly once.
func (a *Aggregator) NotePost() model.AggregateStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalPosts++
	a.updatedAt = time.Now().UTC()
	return a.snapshotLocked()
}

// ApplyDelta folds one analysis record into the running statistics.
// Running means use the incremental mean update to bound floating-point
// drift over long accumulation.
func (a *Aggregator) ApplyDelta(rec model.AnalysisRecord) model.AggregateStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalAnalyses++
	if rec.IsToxic {
		a.toxic++
	}
	n := float64(a.totalAnalyses)
	for i, v := range rec.Dimensions() {
		a.means[i] += (v - a.means[i]) / n
	}
	a.updatedAt = time.Now().UTC()
	return a.snapshotLocked()
}

// Recompute rebuilds the statistics from a full scan of persisted records.
// It replaces the incremental state, reconciling any drift.
func (a *Aggregator) Recompute(ctx context.Context) (model.AggregateStats, error) {
	posts, err := a.store.CountPosts(ctx)
	if err != nil {
		return model.AggregateStats{}, eris.Wrap(err, "stats: count posts")
	}

	var analyses, toxic int
	var means [6]float64
	err = a.store.ScanAnalyses(ctx, func(rec model.AnalysisRecord) error {
		analyses++
		if rec.IsToxic {
			toxic++
		}
		n := float64(analyses)
		for i, v := range rec.Dimensions() {
			means[i] += (v - means[i]) / n
		}
		return nil
	})
	if err != nil {
		return model.AggregateStats{}, eris.Wrap(err, "stats: scan analyses")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalPosts = posts
	a.totalAnalyses = analyses
	a.toxic = toxic
	a.means = means
	a.updatedAt = time.Now().UTC()
	return a.snapshotLocked(), nil
}

// Snapshot returns a copy of the current statistics.
func (a *Aggregator) Snapshot() model.AggregateStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() model.AggregateStats {
	rate := 0.0
	if a.totalAnalyses > 0 {
		rate = float64(a.toxic) / float64(a.totalAnalyses)
	}
	return model.AggregateStats{
		TotalPosts:    a.totalPosts,
		TotalAnalyses: a.totalAnalyses,
		ToxicPosts:    a.toxic,
		ToxicityRate:  rate,
		AverageScores: model.DimensionMeans{
			Toxicity:       a.means[0],
			SevereToxicity: a.means[1],
			Obscene:        a.means[2],
			Threat:         a.means[3],
			Insult:         a.means[4],
			IdentityAttack: a.means[5],
		},
		UpdatedAt: a.updatedAt,
	}
}

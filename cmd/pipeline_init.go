package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/toxipipe/internal/pipeline"
	"github.com/sells-group/toxipipe/internal/stats"
	"github.com/sells-group/toxipipe/internal/store"
	"github.com/sells-group/toxipipe/pkg/detox"
)

// env bundles the wired components commands operate on.
type env struct {
	Store    store.Store
	Stats    *stats.Aggregator
	Pipeline *pipeline.Pipeline
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close", zap.Error(err))
	}
}

// initPipeline opens the configured store, runs migrations, seeds the stats
// aggregator from persisted data and wires the pipeline.
func initPipeline(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	oracle := detox.NewClient(cfg.Detox.BaseURL, cfg.Detox.APIKey,
		detox.WithTimeout(time.Duration(cfg.Detox.TimeoutSecs)*time.Second))

	agg := stats.New(st)
	if _, err := agg.Recompute(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "seed stats")
	}

	return &env{
		Store:    st,
		Stats:    agg,
		Pipeline: pipeline.New(st, oracle, agg, cfg),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q (want sqlite or postgres)", cfg.Store.Driver)
	}
}

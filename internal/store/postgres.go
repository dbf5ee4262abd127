package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/toxipipe/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock implements it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS posts (
	id           TEXT PRIMARY KEY,
	text         TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	likes        INTEGER NOT NULL DEFAULT 0,
	retweets     INTEGER NOT NULL DEFAULT 0,
	replies      INTEGER NOT NULL DEFAULT 0,
	url          TEXT,
	collected_at TIMESTAMPTZ NOT NULL,
	cleaned_text TEXT,
	processed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS analyses (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	post_id          TEXT NOT NULL REFERENCES posts(id),
	text             TEXT NOT NULL,
	toxicity         DOUBLE PRECISION NOT NULL,
	severe_toxicity  DOUBLE PRECISION NOT NULL,
	obscene          DOUBLE PRECISION NOT NULL,
	threat           DOUBLE PRECISION NOT NULL,
	insult           DOUBLE PRECISION NOT NULL,
	identity_attack  DOUBLE PRECISION NOT NULL,
	is_toxic         BOOLEAN NOT NULL,
	confidence_level TEXT NOT NULL,
	analyzed_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS failures (
	id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	post_id   TEXT NOT NULL,
	stage     TEXT NOT NULL,
	error     TEXT NOT NULL,
	attempts  INTEGER NOT NULL,
	failed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_post_id ON analyses(post_id);
CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses(analyzed_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_toxicity ON analyses(toxicity);
CREATE INDEX IF NOT EXISTS idx_failures_post_id ON failures(post_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return wrapPostgres("migrate", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) UpsertPost(ctx context.Context, post model.RawPost) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts (id, text, author_id, created_at, likes, retweets, replies, url, collected_at, cleaned_text, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			likes        = EXCLUDED.likes,
			retweets     = EXCLUDED.retweets,
			replies      = EXCLUDED.replies,
			cleaned_text = COALESCE(NULLIF(EXCLUDED.cleaned_text, ''), posts.cleaned_text),
			processed_at = COALESCE(EXCLUDED.processed_at, posts.processed_at)`,
		post.ID, post.Text, post.AuthorID, post.CreatedAt.UTC(),
		post.Likes, post.Retweets, post.Replies, post.URL, post.CollectedAt.UTC(),
		post.CleanedText, post.ProcessedAt,
	)
	return wrapPostgres("upsert post", err)
}

func (s *PostgresStore) PostExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, wrapPostgres("post exists", err)
	}
	return exists, nil
}

const postColumns = `id, text, author_id, created_at, likes, retweets, replies, url, collected_at, cleaned_text, processed_at`

func (s *PostgresStore) GetPost(ctx context.Context, id string) (*model.RawPost, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	return scanPgPost(row)
}

func (s *PostgresStore) ListPosts(ctx context.Context, limit, offset int) ([]model.RawPost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, wrapPostgres("list posts", err)
	}
	defer rows.Close()
	return collectPgPosts(rows)
}

func (s *PostgresStore) ListUnanalyzed(ctx context.Context, limit int) ([]model.RawPost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.text, p.author_id, p.created_at, p.likes, p.retweets, p.replies, p.url, p.collected_at, p.cleaned_text, p.processed_at
		 FROM posts p
		 WHERE NOT EXISTS (SELECT 1 FROM analyses a WHERE a.post_id = p.id)
		 ORDER BY p.created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, wrapPostgres("list unanalyzed", err)
	}
	defer rows.Close()
	return collectPgPosts(rows)
}

func (s *PostgresStore) InsertAnalysis(ctx context.Context, rec model.AnalysisRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (id, post_id, text, toxicity, severe_toxicity, obscene, threat, insult, identity_attack, is_toxic, confidence_level, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.New().String(), rec.PostID, rec.Text,
		rec.Toxicity, rec.SevereToxicity, rec.Obscene, rec.Threat, rec.Insult, rec.IdentityAttack,
		rec.IsToxic, string(rec.ConfidenceLevel), rec.AnalyzedAt.UTC(),
	)
	return wrapPostgres("insert analysis", err)
}

const analysisColumns = `post_id, text, toxicity, severe_toxicity, obscene, threat, insult, identity_attack, is_toxic, confidence_level, analyzed_at`

func (s *PostgresStore) AnalysisExists(ctx context.Context, postID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM analyses WHERE post_id = $1)`, postID).Scan(&exists)
	if err != nil {
		return false, wrapPostgres("analysis exists", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetLatestAnalysis(ctx context.Context, postID string) (*model.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE post_id = $1 ORDER BY analyzed_at DESC, id DESC LIMIT 1`, postID)
	return scanPgAnalysis(row)
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE toxicity >= $1 ORDER BY analyzed_at DESC LIMIT $2`,
		filter.MinToxicity, limit)
	if err != nil {
		return nil, wrapPostgres("list analyses", err)
	}
	defer rows.Close()
	return collectPgAnalyses(rows)
}

func (s *PostgresStore) ScanAnalyses(ctx context.Context, fn func(model.AnalysisRecord) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY analyzed_at ASC`)
	if err != nil {
		return wrapPostgres("scan analyses", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanPgAnalysis(rows)
		if err != nil {
			return err
		}
		if err := fn(*rec); err != nil {
			return err
		}
	}
	return wrapPostgres("scan analyses iterate", rows.Err())
}

func (s *PostgresStore) CountPosts(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, wrapPostgres("count posts", err)
}

func (s *PostgresStore) CountAnalyses(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&n)
	return n, wrapPostgres("count analyses", err)
}

func (s *PostgresStore) SaveFailure(ctx context.Context, rec FailureRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failures (id, post_id, stage, error, attempts, failed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, rec.PostID, string(rec.Stage), rec.Error, rec.Attempts, rec.FailedAt.UTC(),
	)
	return wrapPostgres("save failure", err)
}

func (s *PostgresStore) ListFailures(ctx context.Context, limit int) ([]FailureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, post_id, stage, error, attempts, failed_at FROM failures ORDER BY failed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, wrapPostgres("list failures", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var stage string
		if err := rows.Scan(&f.ID, &f.PostID, &stage, &f.Error, &f.Attempts, &f.FailedAt); err != nil {
			return nil, wrapPostgres("scan failure", err)
		}
		f.Stage = model.PostStatus(stage)
		out = append(out, f)
	}
	return out, wrapPostgres("list failures iterate", rows.Err())
}

// helpers

func scanPgPost(row pgx.Row) (*model.RawPost, error) {
	var p model.RawPost
	var url, cleaned *string
	var processedAt *time.Time

	err := row.Scan(&p.ID, &p.Text, &p.AuthorID, &p.CreatedAt, &p.Likes, &p.Retweets, &p.Replies,
		&url, &p.CollectedAt, &cleaned, &processedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.PersistenceError{Op: "post not found", Err: err}
	}
	if err != nil {
		return nil, wrapPostgres("scan post", err)
	}
	if url != nil {
		p.URL = *url
	}
	if cleaned != nil {
		p.CleanedText = *cleaned
	}
	p.ProcessedAt = processedAt
	return &p, nil
}

func collectPgPosts(rows pgx.Rows) ([]model.RawPost, error) {
	var out []model.RawPost
	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, wrapPostgres("iterate posts", rows.Err())
}

func scanPgAnalysis(row pgx.Row) (*model.AnalysisRecord, error) {
	var rec model.AnalysisRecord
	var level string
	err := row.Scan(&rec.PostID, &rec.Text,
		&rec.Toxicity, &rec.SevereToxicity, &rec.Obscene, &rec.Threat, &rec.Insult, &rec.IdentityAttack,
		&rec.IsToxic, &level, &rec.AnalyzedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.PersistenceError{Op: "analysis not found", Err: err}
	}
	if err != nil {
		return nil, wrapPostgres("scan analysis", err)
	}
	rec.ConfidenceLevel = model.ConfidenceLevel(level)
	return &rec, nil
}

func collectPgAnalyses(rows pgx.Rows) ([]model.AnalysisRecord, error) {
	var out []model.AnalysisRecord
	for rows.Next() {
		rec, err := scanPgAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, wrapPostgres("iterate analyses", rows.Err())
}

// wrapPostgres tags database errors as PersistenceError. Connection-level
// failures and serialization conflicts are transient.
func wrapPostgres(op string, err error) error {
	if err == nil {
		return nil
	}
	transient := false
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected, 57P03 cannot_connect_now
		switch pgErr.Code {
		case "40001", "40P01", "57P03":
			transient = true
		}
	} else {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "broken pipe") {
			transient = true
		}
	}
	return &model.PersistenceError{Op: "postgres: " + op, Transient: transient, Err: err}
}

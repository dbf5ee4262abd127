package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/toxipipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS posts (
	id           TEXT PRIMARY KEY,
	text         TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	created_at   DATETIME NOT NULL,
	likes        INTEGER NOT NULL DEFAULT 0,
	retweets     INTEGER NOT NULL DEFAULT 0,
	replies      INTEGER NOT NULL DEFAULT 0,
	url          TEXT,
	collected_at DATETIME NOT NULL,
	cleaned_text TEXT,
	processed_at DATETIME
);

CREATE TABLE IF NOT EXISTS analyses (
	id               TEXT PRIMARY KEY,
	post_id          TEXT NOT NULL REFERENCES posts(id),
	text             TEXT NOT NULL,
	toxicity         REAL NOT NULL,
	severe_toxicity  REAL NOT NULL,
	obscene          REAL NOT NULL,
	threat           REAL NOT NULL,
	insult           REAL NOT NULL,
	identity_attack  REAL NOT NULL,
	is_toxic         INTEGER NOT NULL,
	confidence_level TEXT NOT NULL,
	analyzed_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS failures (
	id        TEXT PRIMARY KEY,
	post_id   TEXT NOT NULL,
	stage     TEXT NOT NULL,
	error     TEXT NOT NULL,
	attempts  INTEGER NOT NULL,
	failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_post_id ON analyses(post_id);
CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses(analyzed_at);
CREATE INDEX IF NOT EXISTS idx_analyses_toxicity ON analyses(toxicity);
CREATE INDEX IF NOT EXISTS idx_failures_post_id ON failures(post_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return wrapSQLite("migrate", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertPost(ctx context.Context, post model.RawPost) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, text, author_id, created_at, likes, retweets, replies, url, collected_at, cleaned_text, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			likes        = excluded.likes,
			retweets     = excluded.retweets,
			replies      = excluded.replies,
			cleaned_text = COALESCE(NULLIF(excluded.cleaned_text, ''), posts.cleaned_text),
			processed_at = COALESCE(excluded.processed_at, posts.processed_at)`,
		post.ID, post.Text, post.AuthorID, post.CreatedAt.UTC(),
		post.Likes, post.Retweets, post.Replies, post.URL, post.CollectedAt.UTC(),
		post.CleanedText, nullableTime(post.ProcessedAt),
	)
	return wrapSQLite("upsert post", err)
}

func (s *SQLiteStore) PostExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapSQLite("post exists", err)
	}
	return true, nil
}

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*model.RawPost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, author_id, created_at, likes, retweets, replies, url, collected_at, cleaned_text, processed_at
		 FROM posts WHERE id = ?`, id)
	return scanPost(row)
}

func (s *SQLiteStore) ListPosts(ctx context.Context, limit, offset int) ([]model.RawPost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, author_id, created_at, likes, retweets, replies, url, collected_at, cleaned_text, processed_at
		 FROM posts ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, wrapSQLite("list posts", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *SQLiteStore) ListUnanalyzed(ctx context.Context, limit int) ([]model.RawPost, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.text, p.author_id, p.created_at, p.likes, p.retweets, p.replies, p.url, p.collected_at, p.cleaned_text, p.processed_at
		 FROM posts p
		 WHERE NOT EXISTS (SELECT 1 FROM analyses a WHERE a.post_id = p.id)
		 ORDER BY p.created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapSQLite("list unanalyzed", err)
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *SQLiteStore) InsertAnalysis(ctx context.Context, rec model.AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, post_id, text, toxicity, severe_toxicity, obscene, threat, insult, identity_attack, is_toxic, confidence_level, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.PostID, rec.Text,
		rec.Toxicity, rec.SevereToxicity, rec.Obscene, rec.Threat, rec.Insult, rec.IdentityAttack,
		rec.IsToxic, string(rec.ConfidenceLevel), rec.AnalyzedAt.UTC(),
	)
	return wrapSQLite("insert analysis", err)
}

func (s *SQLiteStore) AnalysisExists(ctx context.Context, postID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM analyses WHERE post_id = ? LIMIT 1`, postID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapSQLite("analysis exists", err)
	}
	return true, nil
}

func (s *SQLiteStore) GetLatestAnalysis(ctx context.Context, postID string) (*model.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT post_id, text, toxicity, severe_toxicity, obscene, threat, insult, identity_attack, is_toxic, confidence_level, analyzed_at
		 FROM analyses WHERE post_id = ? ORDER BY analyzed_at DESC, id DESC LIMIT 1`, postID)
	rec, err := scanAnalysis(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, text, toxicity, severe_toxicity, obscene, threat, insult, identity_attack, is_toxic, confidence_level, analyzed_at
		 FROM analyses WHERE toxicity >= ? ORDER BY analyzed_at DESC LIMIT ?`,
		filter.MinToxicity, limit)
	if err != nil {
		return nil, wrapSQLite("list analyses", err)
	}
	defer rows.Close()
	return collectAnalyses(rows)
}

func (s *SQLiteStore) ScanAnalyses(ctx context.Context, fn func(model.AnalysisRecord) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, text, toxicity, severe_toxicity, obscene, threat, insult, identity_attack, is_toxic, confidence_level, analyzed_at
		 FROM analyses ORDER BY analyzed_at ASC`)
	if err != nil {
		return wrapSQLite("scan analyses", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return err
		}
		if err := fn(*rec); err != nil {
			return err
		}
	}
	return wrapSQLite("scan analyses iterate", rows.Err())
}

func (s *SQLiteStore) CountPosts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, wrapSQLite("count posts", err)
}

func (s *SQLiteStore) CountAnalyses(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&n)
	return n, wrapSQLite("count analyses", err)
}

func (s *SQLiteStore) SaveFailure(ctx context.Context, rec FailureRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures (id, post_id, stage, error, attempts, failed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, rec.PostID, string(rec.Stage), rec.Error, rec.Attempts, rec.FailedAt.UTC(),
	)
	return wrapSQLite("save failure", err)
}

func (s *SQLiteStore) ListFailures(ctx context.Context, limit int) ([]FailureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, stage, error, attempts, failed_at FROM failures ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapSQLite("list failures", err)
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var stage string
		if err := rows.Scan(&f.ID, &f.PostID, &stage, &f.Error, &f.Attempts, &f.FailedAt); err != nil {
			return nil, wrapSQLite("scan failure", err)
		}
		f.Stage = model.PostStatus(stage)
		out = append(out, f)
	}
	return out, wrapSQLite("list failures iterate", rows.Err())
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanPost(row scannable) (*model.RawPost, error) {
	var p model.RawPost
	var url, cleaned sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Text, &p.AuthorID, &p.CreatedAt, &p.Likes, &p.Retweets, &p.Replies,
		&url, &p.CollectedAt, &cleaned, &processedAt)
	if err == sql.ErrNoRows {
		return nil, &model.PersistenceError{Op: "post not found", Err: err}
	}
	if err != nil {
		return nil, wrapSQLite("scan post", err)
	}
	p.URL = url.String
	p.CleanedText = cleaned.String
	if processedAt.Valid {
		t := processedAt.Time
		p.ProcessedAt = &t
	}
	return &p, nil
}

func collectPosts(rows *sql.Rows) ([]model.RawPost, error) {
	var out []model.RawPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, wrapSQLite("iterate posts", rows.Err())
}

func scanAnalysis(row scannable) (*model.AnalysisRecord, error) {
	var rec model.AnalysisRecord
	var level string
	err := row.Scan(&rec.PostID, &rec.Text,
		&rec.Toxicity, &rec.SevereToxicity, &rec.Obscene, &rec.Threat, &rec.Insult, &rec.IdentityAttack,
		&rec.IsToxic, &level, &rec.AnalyzedAt)
	if err == sql.ErrNoRows {
		return nil, &model.PersistenceError{Op: "analysis not found", Err: err}
	}
	if err != nil {
		return nil, wrapSQLite("scan analysis", err)
	}
	rec.ConfidenceLevel = model.ConfidenceLevel(level)
	return &rec, nil
}

func collectAnalyses(rows *sql.Rows) ([]model.AnalysisRecord, error) {
	var out []model.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, wrapSQLite("iterate analyses", rows.Err())
}

// wrapSQLite tags database errors as PersistenceError, marking lock
// contention as transient so the orchestrator can retry.
func wrapSQLite(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	transient := strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
	return &model.PersistenceError{Op: "sqlite: " + op, Transient: transient, Err: err}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/db"
	"github.com/canopylabs/cropclass/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
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
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id         UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS results (
	id         UUID PRIMARY KEY,
	session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS uploads (
	ref        UUID PRIMARY KEY,
	filename   TEXT NOT NULL,
	mime_type  TEXT NOT NULL,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id, position);
CREATE INDEX IF NOT EXISTS idx_uploads_expires ON uploads(expires_at);
`

// Migrate creates the schema if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// CreateSession inserts a new session.
func (s *PostgresStore) CreateSession(ctx context.Context) (*model.Session, error) {
	session := &model.Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, created_at) VALUES ($1, $2)`,
		session.ID, session.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create session")
	}
	return session, nil
}

// DeleteSession removes a session and, via cascade, its results.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return eris.Wrap(err, "postgres: delete session")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "session %s not found", sessionID)
	}
	return nil
}

// AppendResult stores a result at the next position in the session's list.
func (s *PostgresStore) AppendResult(ctx context.Context, sessionID string, result *model.ClassificationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return eris.Wrap(err, "postgres: check session")
	}
	if !exists {
		return apperr.Newf(apperr.KindNotFound, "session %s not found", sessionID)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO results (id, session_id, position, payload, created_at)
		 SELECT $1, $2, COALESCE(MAX(position), -1) + 1, $3, $4 FROM results WHERE session_id = $2`,
		result.ID, sessionID, payload, s.now().UTC())
	if err != nil {
		return eris.Wrap(err, "postgres: append result")
	}
	return nil
}

// AppendResults bulk-inserts a batch of results via COPY, preserving order.
func (s *PostgresStore) AppendResults(ctx context.Context, sessionID string, results []*model.ClassificationResult) error {
	if len(results) == 0 {
		return nil
	}

	var base int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM results WHERE session_id = $1`, sessionID).
		Scan(&base)
	if err != nil {
		return eris.Wrap(err, "postgres: next position")
	}

	now := s.now().UTC()
	rows := make([][]any, 0, len(results))
	for i, r := range results {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal result")
		}
		rows = append(rows, []any{r.ID, sessionID, base + i, payload, now})
	}

	_, err = db.CopyFrom(ctx, s.pool, "results",
		[]string{"id", "session_id", "position", "payload", "created_at"}, rows)
	return err
}

// ListResults returns the session's results in insertion order.
func (s *PostgresStore) ListResults(ctx context.Context, sessionID string) ([]*model.ClassificationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM results WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var results []*model.ClassificationResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.ClassificationResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate results")
	}
	return results, nil
}

// GetResult returns one result by ID.
func (s *PostgresStore) GetResult(ctx context.Context, resultID string) (*model.ClassificationResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM results WHERE id = $1`, resultID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "result %s not found", resultID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get result")
	}
	var r model.ClassificationResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return &r, nil
}

// PutUpload stores an uploaded image blob and returns its reference.
func (s *PostgresStore) PutUpload(ctx context.Context, filename, mimeType string, data []byte, ttl time.Duration) (string, error) {
	ref := uuid.NewString()
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO uploads (ref, filename, mime_type, data, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ref, filename, mimeType, data, now, now.Add(ttl))
	if err != nil {
		return "", eris.Wrap(err, "postgres: put upload")
	}
	return ref, nil
}

// GetUpload returns a stored upload if it exists and has not expired.
func (s *PostgresStore) GetUpload(ctx context.Context, ref string) (*model.Upload, error) {
	var u model.Upload
	err := s.pool.QueryRow(ctx,
		`SELECT ref, filename, mime_type, data, created_at, expires_at FROM uploads WHERE ref = $1 AND expires_at > $2`,
		ref, s.now().UTC()).
		Scan(&u.Ref, &u.Filename, &u.MIMEType, &u.Data, &u.CreatedAt, &u.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "upload %s not found", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get upload")
	}
	return &u, nil
}

// DeleteExpiredUploads removes expired upload blobs and reports the count.
func (s *PostgresStore) DeleteExpiredUploads(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM uploads WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired uploads")
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

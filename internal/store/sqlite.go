package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/canopylabs/cropclass/internal/apperr"
	"github.com/canopylabs/cropclass/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqlitePragmas ride on the DSN so every pooled connection gets them.
// foreign_keys and busy_timeout are per-connection settings; applying them
// with Exec would only configure whichever connection served that call.
const sqlitePragmas = "_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(1)"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+sqlitePragmas)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS uploads (
	ref        TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	mime_type  TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id, position);
CREATE INDEX IF NOT EXISTS idx_uploads_expires ON uploads(expires_at);
`

// Migrate creates the schema if needed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context) (*model.Session, error) {
	session := &model.Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at) VALUES (?, ?)`,
		session.ID, session.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create session")
	}
	return session, nil
}

// DeleteSession removes a session and, via cascade, its results.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.KindNotFound, "session %s not found", sessionID)
	}
	return nil
}

// AppendResult stores a result at the next position in the session's list.
func (s *SQLiteStore) AppendResult(ctx context.Context, sessionID string, result *model.ClassificationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: check session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (id, session_id, position, payload, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM results WHERE session_id = ?), ?, ?)`,
		result.ID, sessionID, sessionID, string(payload), s.now().UTC())
	if err != nil {
		return eris.Wrap(err, "sqlite: append result")
	}
	return nil
}

// ListResults returns the session's results in insertion order.
func (s *SQLiteStore) ListResults(ctx context.Context, sessionID string) ([]*model.ClassificationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM results WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var results []*model.ClassificationResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var r model.ClassificationResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate results")
	}
	return results, nil
}

// GetResult returns one result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, resultID string) (*model.ClassificationResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM results WHERE id = ?`, resultID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "result %s not found", resultID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get result")
	}
	var r model.ClassificationResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	return &r, nil
}

// PutUpload stores an uploaded image blob and returns its reference.
func (s *SQLiteStore) PutUpload(ctx context.Context, filename, mimeType string, data []byte, ttl time.Duration) (string, error) {
	ref := uuid.NewString()
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (ref, filename, mime_type, data, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ref, filename, mimeType, data, now, now.Add(ttl))
	if err != nil {
		return "", eris.Wrap(err, "sqlite: put upload")
	}
	return ref, nil
}

// GetUpload returns a stored upload if it exists and has not expired.
func (s *SQLiteStore) GetUpload(ctx context.Context, ref string) (*model.Upload, error) {
	var u model.Upload
	err := s.db.QueryRowContext(ctx,
		`SELECT ref, filename, mime_type, data, created_at, expires_at FROM uploads WHERE ref = ? AND expires_at > ?`,
		ref, s.now().UTC()).
		Scan(&u.Ref, &u.Filename, &u.MIMEType, &u.Data, &u.CreatedAt, &u.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "upload %s not found", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get upload")
	}
	return &u, nil
}

// DeleteExpiredUploads removes expired upload blobs and reports the count.
func (s *SQLiteStore) DeleteExpiredUploads(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired uploads")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

// PostgresStore keeps document state in a shared database so several hosts
// can ingest against the same collection. Read failures degrade to "changed"
// because reprocessing a document is safe and skipping a changed one is not.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent ingest starts.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026052301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS document_state (
	doc_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	uri TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	mtime TIMESTAMPTZ,
	indexed_at TIMESTAMPTZ,
	last_checked TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_state_source ON document_state(source);
CREATE INDEX IF NOT EXISTS idx_document_state_last_checked ON document_state(last_checked);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsChanged(ctx context.Context, uri, source string, content []byte, mtime time.Time) bool {
	docID := domain.DocumentID(source, uri)

	row := s.db.QueryRowContext(ctx, `
SELECT content_hash, mtime FROM document_state WHERE doc_id = $1
`, docID)

	var storedHash string
	var storedMTime sql.NullTime
	if err := row.Scan(&storedHash, &storedMTime); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("state read failed, treating document as changed", "doc_id", docID, "error", err)
		}
		return true
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE document_state SET last_checked = $2 WHERE doc_id = $1
`, docID, time.Now().UTC()); err != nil {
		s.logger.Warn("state touch failed", "doc_id", docID, "error", err)
	}

	if storedHash != domain.ContentHash(content) {
		return true
	}
	var stored time.Time
	if storedMTime.Valid {
		stored = storedMTime.Time
	}
	return !stored.Equal(mtime)
}

func (s *PostgresStore) Update(ctx context.Context, uri, source string, content []byte, mtime, indexedAt time.Time) error {
	docID := domain.DocumentID(source, uri)

	var mt, idx any
	if !mtime.IsZero() {
		mt = mtime
	}
	if !indexedAt.IsZero() {
		idx = indexedAt
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO document_state (doc_id, source, uri, content_hash, mtime, indexed_at, last_checked)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (doc_id) DO UPDATE SET
	source = EXCLUDED.source,
	uri = EXCLUDED.uri,
	content_hash = EXCLUDED.content_hash,
	mtime = EXCLUDED.mtime,
	indexed_at = EXCLUDED.indexed_at,
	last_checked = EXCLUDED.last_checked
`, docID, source, uri, domain.ContentHash(content), mt, idx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert document state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChangedDocuments(ctx context.Context, source string) map[string]struct{} {
	pending := make(map[string]struct{})

	rows, err := s.db.QueryContext(ctx, `
SELECT doc_id FROM document_state WHERE source = $1 AND indexed_at IS NULL
`, source)
	if err != nil {
		s.logger.Warn("pending documents query failed", "source", source, "error", err)
		return pending
	}
	defer rows.Close()

	for rows.Next() {
		var docID string
		if err := rows.Scan(&docID); err != nil {
			s.logger.Warn("pending documents scan failed", "source", source, "error", err)
			return pending
		}
		pending[docID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("pending documents iteration failed", "source", source, "error", err)
	}
	return pending
}

func (s *PostgresStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM document_state WHERE last_checked < $1
`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("cleanup document state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return int(n), nil
}

// Save is a no-op: every mutation is already durable.
func (s *PostgresStore) Save(ctx context.Context) error { return nil }

func (s *PostgresStore) Close(ctx context.Context) error {
	return s.db.Close()
}

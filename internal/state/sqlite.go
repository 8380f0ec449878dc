package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. The full document
// record is stored as a JSON column; status and timestamps are mirrored into
// their own columns for filtering.
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
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'PENDING',
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, documentID string) (*model.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM documents WHERE id = ?`,
		documentID,
	)

	var recordJSON string
	err := row.Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSQLite(err, "get document")
	}

	var rec model.DocumentRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal document")
	}
	return &rec, nil
}

func (s *SQLiteStore) InitIfAbsent(ctx context.Context, documentID, correlationID string) (*model.DocumentRecord, error) {
	now := time.Now().UTC()
	rec := newRecord(documentID, correlationID, now)

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal document")
	}

	// First writer wins; a concurrent init leaves the existing row intact.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, status, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		documentID, string(rec.OverallStatus), string(recordJSON), now, now,
	)
	if err != nil {
		return nil, wrapSQLite(err, "init document")
	}

	cur, err := s.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, eris.Errorf("sqlite: document %s missing after init", documentID)
	}
	return cur, nil
}

func (s *SQLiteStore) UpsertPhase(ctx context.Context, documentID string, phase model.Phase, delta model.PhaseRecord) error {
	return s.withRecord(ctx, documentID, func(rec *model.DocumentRecord, now time.Time) {
		applyPhase(rec, phase, delta, now)
	})
}

func (s *SQLiteStore) AppendArtifact(ctx context.Context, documentID string, phase model.Phase, artifactType string, artifact model.Artifact) error {
	return s.withRecord(ctx, documentID, func(rec *model.DocumentRecord, now time.Time) {
		if rec.PhaseFor(phase) == nil {
			applyPhase(rec, phase, startedPhase(now), now)
		}
		applyPhase(rec, phase, artifactDelta(artifactType, artifact), now)
	})
}

func (s *SQLiteStore) SetOverall(ctx context.Context, documentID string, status model.DocumentStatus, finalKey, finalURI string) error {
	return s.withRecord(ctx, documentID, func(rec *model.DocumentRecord, now time.Time) {
		rec.OverallStatus = status
		rec.FinalOutputKey = finalKey
		rec.FinalOutputURI = finalURI
		rec.UpdatedAt = now
	})
}

func (s *SQLiteStore) List(ctx context.Context, filter DocumentFilter) ([]model.DocumentRecord, error) {
	query := `SELECT record FROM documents WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLite(err, "list documents")
	}
	defer rows.Close()

	var records []model.DocumentRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, wrapSQLite(err, "scan document")
		}
		var rec model.DocumentRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal document")
		}
		records = append(records, rec)
	}
	return records, wrapSQLite(rows.Err(), "list documents iterate")
}

// withRecord runs a read-modify-write cycle inside a transaction, creating a
// fresh PENDING record when the document is not tracked yet.
func (s *SQLiteStore) withRecord(ctx context.Context, documentID string, mutate func(*model.DocumentRecord, time.Time)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapSQLite(err, "begin")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var rec *model.DocumentRecord

	var recordJSON string
	err = tx.QueryRowContext(ctx, `SELECT record FROM documents WHERE id = ?`, documentID).Scan(&recordJSON)
	switch {
	case err == sql.ErrNoRows:
		rec = newRecord(documentID, "", now)
	case err != nil:
		return wrapSQLite(err, "select document")
	default:
		rec = &model.DocumentRecord{}
		if err := json.Unmarshal([]byte(recordJSON), rec); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal document")
		}
	}

	mutate(rec, now)

	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal document")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, status, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status     = excluded.status,
			record     = excluded.record,
			updated_at = excluded.updated_at`,
		documentID, string(rec.OverallStatus), string(data), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return wrapSQLite(err, "upsert document")
	}

	return wrapSQLite(tx.Commit(), "commit")
}

// wrapSQLite wraps driver errors, marking lock contention as transient so
// callers can retry through resilience.Do.
func wrapSQLite(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := eris.Wrapf(err, "sqlite: %s", op)
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") || strings.Contains(msg, "busy") {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}

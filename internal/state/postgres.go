package state

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cario/title-extract/internal/model"
	"github.com/cario/title-extract/internal/resilience"
)

// Pool abstracts the pgx connection pool so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool with a JSONB record column.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
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
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'PENDING',
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, documentID string) (*model.DocumentRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM documents WHERE id = $1`,
		documentID,
	)

	var recordJSON []byte
	err := row.Scan(&recordJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPostgres(err, "get document")
	}

	var rec model.DocumentRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal document")
	}
	return &rec, nil
}

func (s *PostgresStore) InitIfAbsent(ctx context.Context, documentID, correlationID string) (*model.DocumentRecord, error) {
	now := time.Now().UTC()
	rec := newRecord(documentID, correlationID, now)

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal document")
	}

	// First writer wins; a concurrent init leaves the existing row intact.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, status, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		documentID, string(rec.OverallStatus), recordJSON, now, now,
	)
	if err != nil {
		return nil, wrapPostgres(err, "init document")
	}

	cur, err := s.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, eris.Errorf("postgres: document %s missing after init", documentID)
	}
	return cur, nil
}

func (s *PostgresStore) UpsertPhase(ctx context.Context, documentID string, phase model.Phase, delta model.PhaseRecord) error {
	return s.withRecord(ctx, documentID, func(rec *model.DocumentRecord, now time.Time) {
		applyPhase(rec, phase, delta, now)
	})
}

func (s *PostgresStore) AppendArtifact(ctx context.Context, documentID string, phase model.Phase, artifactType string, artifact model.Artifact) error {
	return s.withRecord(ctx, documentID, func(rec *model.DocumentRecord, now time.Time) {
		if rec.PhaseFor(phase) == nil {
			applyPhase(rec, phase, startedPhase(now), now)
		}
		applyPhase(rec, phase, artifactDelta(artifactType, artifact), now)
	})
}

func (s *PostgresStore) SetOverall(ctx context.Context, documentID string, status model.DocumentStatus, finalKey, finalURI string) error {
	return s.withRecord(ctx, documentID, func(rec *model.DocumentRecord, now time.Time) {
		rec.OverallStatus = status
		rec.FinalOutputKey = finalKey
		rec.FinalOutputURI = finalURI
		rec.UpdatedAt = now
	})
}

func (s *PostgresStore) List(ctx context.Context, filter DocumentFilter) ([]model.DocumentRecord, error) {
	query := `SELECT record FROM documents WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPostgres(err, "list documents")
	}
	defer rows.Close()

	var records []model.DocumentRecord
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, wrapPostgres(err, "scan document")
		}
		var rec model.DocumentRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal document")
		}
		records = append(records, rec)
	}
	return records, wrapPostgres(rows.Err(), "list documents iterate")
}

// withRecord runs a read-modify-write cycle holding a row lock, creating a
// fresh PENDING record when the document is not tracked yet.
func (s *PostgresStore) withRecord(ctx context.Context, documentID string, mutate func(*model.DocumentRecord, time.Time)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPostgres(err, "begin")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var rec *model.DocumentRecord

	var recordJSON []byte
	err = tx.QueryRow(ctx, `SELECT record FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&recordJSON)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		rec = newRecord(documentID, "", now)
	case err != nil:
		return wrapPostgres(err, "select document")
	default:
		rec = &model.DocumentRecord{}
		if err := json.Unmarshal(recordJSON, rec); err != nil {
			return eris.Wrap(err, "postgres: unmarshal document")
		}
	}

	mutate(rec, now)

	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal document")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, status, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			status     = excluded.status,
			record     = excluded.record,
			updated_at = excluded.updated_at`,
		documentID, string(rec.OverallStatus), data, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return wrapPostgres(err, "upsert document")
	}

	return wrapPostgres(tx.Commit(ctx), "commit")
}

// transientPgCodes are SQLSTATE codes safe to retry: serialization failures,
// deadlocks, lock timeouts, and connection-class (08xxx) errors.
func transientPgCode(code string) bool {
	switch code {
	case "40001", "40P01", "55P03", "57P03":
		return true
	}
	return len(code) >= 2 && code[:2] == "08"
}

// wrapPostgres wraps driver errors, marking retryable failures as transient.
func wrapPostgres(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := eris.Wrapf(err, "postgres: %s", op)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientPgCode(pgErr.Code) {
		return resilience.NewTransientError(wrapped, 0)
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}

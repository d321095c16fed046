package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/adamass/diligence-cli/internal/model"
)

// Pool abstracts the pgx connection pool so tests can substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"fetch_rows":    `SELECT job_id, source, data, status FROM intel_results WHERE job_id = $1`,
	"insert_report": `INSERT INTO reports (id, job_id, report, created_at) VALUES ($1, $2, $3, $4)`,
	"get_report":    `SELECT id, job_id, report, created_at FROM reports WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
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

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS intel_results (
	job_id     TEXT NOT NULL,
	source     TEXT NOT NULL,
	data       JSONB,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, source)
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	report     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_job_id ON reports(job_id);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
`

// Migrate creates the intel_results and reports tables. The collector writes
// intel_results; this service only reads them.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// FetchRows returns all collected intelligence rows for a job in one call.
// Row order is unspecified; callers index by source.
func (s *PostgresStore) FetchRows(ctx context.Context, jobID string) ([]model.IntelResultRow, error) {
	if jobID == "" {
		return nil, eris.New("postgres: fetch rows: empty job id")
	}

	rows, err := s.pool.Query(ctx, preparedStatements["fetch_rows"], jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch rows")
	}
	defer rows.Close()

	var out []model.IntelResultRow
	for rows.Next() {
		var r model.IntelResultRow
		var data []byte
		if err := rows.Scan(&r.JobID, &r.Source, &data, &r.Status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: fetch rows")
	}
	return out, nil
}

// SaveReport persists a composite report and returns the stored record.
func (s *PostgresStore) SaveReport(ctx context.Context, report *model.CompositeReport) (*model.ReportRecord, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal report")
	}

	rec := &model.ReportRecord{
		ID:        uuid.NewString(),
		JobID:     report.JobID,
		Report:    *report,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := s.pool.Exec(ctx, preparedStatements["insert_report"], rec.ID, rec.JobID, payload, rec.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
	}
	return rec, nil
}

// GetReport returns the most recent report for a job, or nil when none exists.
func (s *PostgresStore) GetReport(ctx context.Context, jobID string) (*model.ReportRecord, error) {
	var rec model.ReportRecord
	var payload []byte

	err := s.pool.QueryRow(ctx, preparedStatements["get_report"], jobID).
		Scan(&rec.ID, &rec.JobID, &payload, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get report")
	}

	if err := json.Unmarshal(payload, &rec.Report); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &rec, nil
}

// ListReports returns persisted reports, newest first.
func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.ReportRecord, error) {
	query := `SELECT id, job_id, report, created_at FROM reports`
	args := []any{}
	if filter.JobID != "" {
		query += ` WHERE job_id = $1`
		args = append(args, filter.JobID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []model.ReportRecord
	for rows.Next() {
		var rec model.ReportRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.JobID, &payload, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		if err := json.Unmarshal(payload, &rec.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	return out, nil
}

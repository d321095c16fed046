package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/adamass/diligence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// for local development and single-binary deployments.
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
CREATE TABLE IF NOT EXISTS intel_results (
	job_id     TEXT NOT NULL,
	source     TEXT NOT NULL,
	data       TEXT,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (job_id, source)
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	report     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_reports_job_id ON reports(job_id);
CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FetchRows(ctx context.Context, jobID string) ([]model.IntelResultRow, error) {
	if jobID == "" {
		return nil, eris.New("sqlite: fetch rows: empty job id")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, source, data, status FROM intel_results WHERE job_id = ?`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch rows")
	}
	defer rows.Close()

	var out []model.IntelResultRow
	for rows.Next() {
		var r model.IntelResultRow
		var data sql.NullString
		if err := rows.Scan(&r.JobID, &r.Source, &data, &r.Status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		if data.Valid {
			r.Data = json.RawMessage(data.String)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: fetch rows iterate")
}

func (s *SQLiteStore) SaveReport(ctx context.Context, report *model.CompositeReport) (*model.ReportRecord, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal report")
	}

	rec := &model.ReportRecord{
		ID:        uuid.NewString(),
		JobID:     report.JobID,
		Report:    *report,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, job_id, report, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.JobID, string(payload), rec.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}
	return rec, nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, jobID string) (*model.ReportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, report, created_at FROM reports
		 WHERE job_id = ? ORDER BY created_at DESC LIMIT 1`,
		jobID,
	)

	var rec model.ReportRecord
	var payload string
	err := row.Scan(&rec.ID, &rec.JobID, &payload, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get report")
	}
	if err := json.Unmarshal([]byte(payload), &rec.Report); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.ReportRecord, error) {
	query := `SELECT id, job_id, report, created_at FROM reports WHERE 1=1`
	var args []any

	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []model.ReportRecord
	for rows.Next() {
		var rec model.ReportRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.JobID, &payload, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		if err := json.Unmarshal([]byte(payload), &rec.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamass/diligence-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_FetchRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"job_id", "source", "data", "status"}).
		AddRow("job-1", model.SourceBuiltWith, []byte(`{"technologies":["Go"]}`), "complete").
		AddRow("job-1", model.SourceCrunchbase, []byte(`{"name":"Acme"}`), "complete")

	mock.ExpectQuery(`SELECT job_id, source, data, status FROM intel_results WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(rows)

	got, err := s.FetchRows(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.SourceBuiltWith, got[0].Source)
	assert.JSONEq(t, `{"technologies":["Go"]}`, string(got[0].Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FetchRows_EmptyJobID(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.FetchRows(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty job id")
}

func TestPostgresStore_FetchRows_NoRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT job_id, source, data, status FROM intel_results`).
		WithArgs("job-empty").
		WillReturnRows(pgxmock.NewRows([]string{"job_id", "source", "data", "status"}))

	got, err := s.FetchRows(context.Background(), "job-empty")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO reports`).
		WithArgs(pgxmock.AnyArg(), "job-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	report := &model.CompositeReport{
		JobID:         "job-1",
		DateGenerated: time.Now().UTC(),
		Architecture:  model.Success(json.RawMessage(`{"overall_score":7.5}`)),
	}
	rec, err := s.SaveReport(context.Background(), report)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "job-1", rec.JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, job_id, report, created_at FROM reports`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetReport(context.Background(), "nonexistent-job")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	stored := `{"jobId":"job-1","dateGenerated":"2026-08-01T00:00:00Z","architecture":null,"security":{"error":"Failed to process security analysis: timeout"},"companyIntelligence":null,"adamassSynthesisReport":null}`
	rows := pgxmock.NewRows([]string{"id", "job_id", "report", "created_at"}).
		AddRow("rec-1", "job-1", []byte(stored), time.Now().UTC())

	mock.ExpectQuery(`SELECT id, job_id, report, created_at FROM reports`).
		WithArgs("job-1").
		WillReturnRows(rows)

	rec, err := s.GetReport(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "job-1", rec.Report.JobID)
	assert.Equal(t, model.SectionFailed, rec.Report.Security.State)
	assert.Equal(t, model.SectionAbsent, rec.Report.Architecture.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReports(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	stored := `{"jobId":"job-2","dateGenerated":"2026-08-01T00:00:00Z","architecture":null,"security":null,"companyIntelligence":null,"adamassSynthesisReport":null}`
	rows := pgxmock.NewRows([]string{"id", "job_id", "report", "created_at"}).
		AddRow("rec-2", "job-2", []byte(stored), time.Now().UTC())

	mock.ExpectQuery(`SELECT id, job_id, report, created_at FROM reports ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(rows)

	got, err := s.ListReports(context.Background(), ReportFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "job-2", got[0].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

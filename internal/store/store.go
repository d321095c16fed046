package store

import (
	"context"

	"github.com/adamass/diligence-cli/internal/model"
)

// ReportFilter specifies criteria for listing persisted reports.
type ReportFilter struct {
	JobID  string `json:"job_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the synthesis pipeline.
//
// FetchRows is the pipeline's only read of collector output and the only
// call whose failure aborts a run. The pipeline never writes back to
// intel_results; reports are written once per run via SaveReport.
type Store interface {
	// Raw intelligence rows (written by the upstream collector).
	FetchRows(ctx context.Context, jobID string) ([]model.IntelResultRow, error)

	// Reports
	SaveReport(ctx context.Context, report *model.CompositeReport) (*model.ReportRecord, error)
	GetReport(ctx context.Context, jobID string) (*model.ReportRecord, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.ReportRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

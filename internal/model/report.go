package model

import "time"

// CompositeReport is the full multi-section report delivered to downstream
// consumers (report rendering, chat context, audio generation). The top-level
// JSON keys are a stable contract; renaming them breaks those consumers.
type CompositeReport struct {
	JobID                  string    `json:"jobId"`
	DateGenerated          time.Time `json:"dateGenerated"`
	Architecture           Section   `json:"architecture"`
	Security               Section   `json:"security"`
	CompanyIntelligence    Section   `json:"companyIntelligence"`
	AdamassSynthesisReport Section   `json:"adamassSynthesisReport"`
}

// SectionFor returns the section for a stage name. Unknown stages return an
// absent section.
func (r *CompositeReport) SectionFor(stage string) Section {
	switch stage {
	case StageArchitecture:
		return r.Architecture
	case StageSecurity:
		return r.Security
	case StageCompanyIntelligence:
		return r.CompanyIntelligence
	case StageSynthesis:
		return r.AdamassSynthesisReport
	default:
		return Section{}
	}
}

// ReportRecord is a persisted report row.
type ReportRecord struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Report    CompositeReport `json:"report"`
	CreatedAt time.Time       `json:"created_at"`
}

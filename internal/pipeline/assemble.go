package pipeline

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/adamass/diligence-cli/internal/model"
)

// stageSources maps each independent stage to the fixed set of row sources
// it consumes, in the order they are presented to the completion service.
var stageSources = map[string][]string{
	model.StageArchitecture: {model.SourceBuiltWith, model.SourcePageSpeed},
	model.StageSecurity:     {model.SourceDnsDumpster, model.SourceSubDomains, model.SourceSecureHeaders},
}

// sourceRow is the wire shape of one evidence row inside a StageInput.
type sourceRow struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// companyIntelInput is the fixed two-key StageInput for the
// company_intelligence stage. Both keys are always present; a missing row
// renders as null.
type companyIntelInput struct {
	Crunchbase    json.RawMessage `json:"crunchbase"`
	UserDocuments json.RawMessage `json:"user_documents"`
}

// synthesisInput wraps the three independent stage results for the synthesis
// stage. Sections render through their normal JSON forms, so a failed stage
// arrives as {"error": ...} and a skipped stage as null; the synthesis
// contract takes whatever subset is available.
type synthesisInput struct {
	ArchitectureAnalysis       model.Section `json:"architectureAnalysis"`
	SecurityAnalysis           model.Section `json:"securityAnalysis"`
	CompanyIntelligenceProfile model.Section `json:"companyIntelligenceProfile"`
}

// AssembleInput builds the StageInput for one independent stage from the
// job's row set. The second return value is false when the stage has no
// evidence to work with; the caller must then record the stage as absent
// without invoking the completion service.
func AssembleInput(stage string, rows model.RowSet) (json.RawMessage, bool, error) {
	switch stage {
	case model.StageArchitecture, model.StageSecurity:
		return assembleSourceList(stage, rows)
	case model.StageCompanyIntelligence:
		return assembleCompanyIntel(rows)
	default:
		return nil, false, eris.Errorf("assemble: unknown stage %q", stage)
	}
}

func assembleSourceList(stage string, rows model.RowSet) (json.RawMessage, bool, error) {
	var list []sourceRow
	for _, source := range stageSources[stage] {
		if data, ok := rows.Data(source); ok {
			list = append(list, sourceRow{Source: source, Data: data})
		}
	}
	// Uploaded documents supplement the technical evidence, but only when
	// the upload actually contains documents.
	if data, ok := rows.UserDocumentsData(); ok {
		list = append(list, sourceRow{Source: model.SourceUserDocuments, Data: data})
	}
	if len(list) == 0 {
		return nil, false, nil
	}

	out, err := json.Marshal(list)
	if err != nil {
		return nil, false, eris.Wrapf(err, "assemble: %s input", stage)
	}
	return out, true, nil
}

func assembleCompanyIntel(rows model.RowSet) (json.RawMessage, bool, error) {
	input := companyIntelInput{}
	if data, ok := rows.Data(model.SourceCrunchbase); ok {
		input.Crunchbase = data
	}
	if data, ok := rows.UserDocumentsData(); ok {
		input.UserDocuments = data
	}
	if input.Crunchbase == nil && input.UserDocuments == nil {
		return nil, false, nil
	}

	out, err := json.Marshal(input)
	if err != nil {
		return nil, false, eris.Wrap(err, "assemble: company_intelligence input")
	}
	return out, true, nil
}

// AssembleSynthesisInput wraps the three independent results for the
// synthesis stage. It returns false when all three are absent, in which case
// synthesis is skipped entirely.
func AssembleSynthesisInput(architecture, security, companyIntel model.Section) (json.RawMessage, bool, error) {
	if architecture.State == model.SectionAbsent &&
		security.State == model.SectionAbsent &&
		companyIntel.State == model.SectionAbsent {
		return nil, false, nil
	}

	out, err := json.Marshal(synthesisInput{
		ArchitectureAnalysis:       architecture,
		SecurityAnalysis:           security,
		CompanyIntelligenceProfile: companyIntel,
	})
	if err != nil {
		return nil, false, eris.Wrap(err, "assemble: synthesis input")
	}
	return out, true, nil
}

package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Stage names. These select the structural contract applied to a stage and
// appear in logs and error messages.
const (
	StageArchitecture        = "architecture"
	StageSecurity            = "security"
	StageCompanyIntelligence = "company_intelligence"
	StageSynthesis           = "adamass_synthesis"
)

// IndependentStages lists the three stages with no mutual data dependency.
// The synthesis stage consumes their results and always runs last.
func IndependentStages() []string {
	return []string{StageArchitecture, StageSecurity, StageCompanyIntelligence}
}

// SectionState is the three-way outcome of one analysis stage.
type SectionState int

const (
	// SectionAbsent means the stage had no evidence to work with and was
	// never invoked. Renders as JSON null.
	SectionAbsent SectionState = iota
	// SectionSucceeded means the stage produced a schema-valid payload.
	SectionSucceeded
	// SectionFailed means evidence was available but processing failed.
	// Renders as {"error": "..."}.
	SectionFailed
)

// Section holds one stage's result. Downstream consumers branch on the
// presence of the "error" key, so a Section is never a hybrid: exactly one
// of Payload or Err is set, or neither for an absent stage.
type Section struct {
	State   SectionState
	Payload json.RawMessage
	Err     string
}

// Success wraps a validated payload as a succeeded section.
func Success(payload json.RawMessage) Section {
	return Section{State: SectionSucceeded, Payload: payload}
}

// Failure wraps a stage error message as a failed section.
func Failure(msg string) Section {
	return Section{State: SectionFailed, Err: msg}
}

// sectionError is the wire shape of a failed section.
type sectionError struct {
	Error string `json:"error"`
}

// MarshalJSON renders the section in its stable wire form: the success
// payload verbatim, {"error": ...} for failures, null for absent stages.
func (s Section) MarshalJSON() ([]byte, error) {
	switch s.State {
	case SectionSucceeded:
		if len(s.Payload) == 0 {
			return nil, eris.New("section: succeeded with empty payload")
		}
		return s.Payload, nil
	case SectionFailed:
		return json.Marshal(sectionError{Error: s.Err})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON reverses MarshalJSON for reports read back from the store.
// An object whose only key is "error" is a failure; anything else non-null
// is a success payload.
func (s *Section) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = Section{}
		return nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return eris.Wrap(err, "section: unmarshal")
	}
	if rawErr, ok := probe["error"]; ok && len(probe) == 1 {
		var msg string
		if err := json.Unmarshal(rawErr, &msg); err != nil {
			return eris.Wrap(err, "section: unmarshal error field")
		}
		*s = Failure(msg)
		return nil
	}

	payload := make(json.RawMessage, len(trimmed))
	copy(payload, trimmed)
	*s = Success(payload)
	return nil
}

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSection_MarshalAbsent(t *testing.T) {
	out, err := json.Marshal(Section{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestSection_MarshalSuccess(t *testing.T) {
	out, err := json.Marshal(Success(json.RawMessage(`{"overall_score":7.5}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"overall_score":7.5}`, string(out))
}

func TestSection_MarshalFailure(t *testing.T) {
	out, err := json.Marshal(Failure("Failed to process security analysis: boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Failed to process security analysis: boom"}`, string(out))
}

func TestSection_MarshalSucceededWithoutPayload(t *testing.T) {
	_, err := json.Marshal(Section{State: SectionSucceeded})
	require.Error(t, err)
}

func TestSection_UnmarshalNull(t *testing.T) {
	var s Section
	require.NoError(t, json.Unmarshal([]byte("null"), &s))
	assert.Equal(t, SectionAbsent, s.State)
}

func TestSection_UnmarshalErrorObject(t *testing.T) {
	var s Section
	require.NoError(t, json.Unmarshal([]byte(`{"error":"boom"}`), &s))
	assert.Equal(t, SectionFailed, s.State)
	assert.Equal(t, "boom", s.Err)
}

func TestSection_UnmarshalPayloadWithErrorKeyAmongOthers(t *testing.T) {
	// A payload that happens to contain an "error" key next to real data is
	// a success, not a failure.
	var s Section
	require.NoError(t, json.Unmarshal([]byte(`{"error":"x","overall_score":5}`), &s))
	assert.Equal(t, SectionSucceeded, s.State)
}

func TestSection_UnmarshalSuccess(t *testing.T) {
	var s Section
	require.NoError(t, json.Unmarshal([]byte(`{"overall_score":5,"subscores":{}}`), &s))
	require.Equal(t, SectionSucceeded, s.State)
	assert.JSONEq(t, `{"overall_score":5,"subscores":{}}`, string(s.Payload))
}

func TestSection_RoundTrip(t *testing.T) {
	for name, sec := range map[string]Section{
		"absent":  {},
		"success": Success(json.RawMessage(`{"a":1}`)),
		"failure": Failure("it broke"),
	} {
		t.Run(name, func(t *testing.T) {
			out, err := json.Marshal(sec)
			require.NoError(t, err)
			var back Section
			require.NoError(t, json.Unmarshal(out, &back))
			assert.Equal(t, sec.State, back.State)
			assert.Equal(t, sec.Err, back.Err)
		})
	}
}

func TestCompositeReport_StableKeys(t *testing.T) {
	report := CompositeReport{
		JobID:        "job-1",
		Architecture: Success(json.RawMessage(`{"overall_score":7}`)),
		Security:     Failure("Failed to process security analysis: boom"),
	}
	out, err := json.Marshal(&report)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &doc))
	for _, key := range []string{
		"jobId", "dateGenerated", "architecture", "security",
		"companyIntelligence", "adamassSynthesisReport",
	} {
		assert.Contains(t, doc, key)
	}
	assert.Equal(t, "null", string(doc["companyIntelligence"]))
	assert.JSONEq(t, `{"error":"Failed to process security analysis: boom"}`, string(doc["security"]))
}

func TestCompositeReport_SectionFor(t *testing.T) {
	report := CompositeReport{
		Architecture: Success(json.RawMessage(`{"a":1}`)),
	}
	assert.Equal(t, SectionSucceeded, report.SectionFor(StageArchitecture).State)
	assert.Equal(t, SectionAbsent, report.SectionFor(StageSecurity).State)
	assert.Equal(t, SectionAbsent, report.SectionFor("unknown").State)
}

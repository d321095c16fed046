package model

import "encoding/json"

// Source tags identifying the provider/category of a raw intelligence row.
const (
	SourceBuiltWith     = "BuiltWith"
	SourcePageSpeed     = "PageSpeed"
	SourceDnsDumpster   = "DnsDumpster"
	SourceSubDomains    = "SubDomains"
	SourceSecureHeaders = "SecureHeaders"
	SourceCrunchbase    = "Crunchbase"
	SourceUserDocuments = "UserDocuments"
)

// IntelResultRow is one row of raw collected evidence for a job. The Data
// payload is source-specific and opaque to the pipeline; Status is the
// lifecycle marker written by the collector and is not interpreted here.
type IntelResultRow struct {
	JobID  string          `json:"jobId"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
	Status string          `json:"status"`
}

// RowSet indexes rows by source tag. At most one row per source is consulted
// per stage; when the store returns duplicates, the first row wins. Row order
// from the store is unspecified, so lookups go through the index only.
type RowSet map[string]IntelResultRow

// IndexRows builds a RowSet from the store's row list.
func IndexRows(rows []IntelResultRow) RowSet {
	set := make(RowSet, len(rows))
	for _, r := range rows {
		if _, ok := set[r.Source]; ok {
			continue
		}
		set[r.Source] = r
	}
	return set
}

// Data returns the raw payload for a source, or (nil, false) when the job has
// no row for it.
func (s RowSet) Data(source string) (json.RawMessage, bool) {
	r, ok := s[source]
	if !ok {
		return nil, false
	}
	return r.Data, true
}

// UserDocumentsData returns the UserDocuments payload only when its
// "documents" list is present and non-empty. Uploaded-but-empty document sets
// are treated the same as no upload at all.
func (s RowSet) UserDocumentsData() (json.RawMessage, bool) {
	raw, ok := s.Data(SourceUserDocuments)
	if !ok {
		return nil, false
	}
	var payload struct {
		Documents []json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	if len(payload.Documents) == 0 {
		return nil, false
	}
	return raw, true
}

package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adamass/diligence-cli/internal/config"
	"github.com/adamass/diligence-cli/internal/contract"
	"github.com/adamass/diligence-cli/internal/model"
	"github.com/adamass/diligence-cli/pkg/anthropic"
)

// longText satisfies the minimum-length requirement for analysis text fields.
var longText = strings.Repeat("The evidence supports this assessment in detail. ", 40)

func subsection() map[string]any {
	return map[string]any{
		"highlight": "Key takeaway",
		"snippet":   "Short snippet",
		"preview":   "Preview line",
		"text":      longText,
	}
}

// validArchitecturePayload builds a schema-valid architecture response whose
// overall score is the exact mean of its subscores.
func validArchitecturePayload(t *testing.T) string {
	t.Helper()
	doc := map[string]any{
		"overall_score": 7.0,
		"subscores": map[string]any{
			"performance": 7.0,
			"scalability": 7.0,
			"modularity":  7.0,
			"security":    7.0,
			"tech_stack":  7.0,
		},
		"badges":          []map[string]any{{"label": "Modern Stack", "type": "positive"}},
		"main_good":       []string{"CDN in front", "HTTP/2 enabled", "Modern framework"},
		"main_risks":      []string{"No visible caching", "Single region", "Legacy jQuery"},
		"summary":         subsection(),
		"insights":        subsection(),
		"recommendations": subsection(),
	}
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(out)
}

func validSecurityPayload(t *testing.T) string {
	t.Helper()
	finding := func(category string) map[string]any {
		return map[string]any{
			"category": category,
			"finding":  "Observed weakness in " + category,
			"status":   "open",
			"priority": "High",
		}
	}
	doc := map[string]any{
		"overall_score": 5.0,
		"subscores": map[string]any{
			"perimeter":            5.0,
			"application_security": 5.0,
			"data_protection":      5.0,
			"compliance":           5.0,
			"monitoring":           5.0,
		},
		"badges":     []map[string]any{{"label": "Missing CSP", "type": "negative"}},
		"main_good":  []string{"HSTS present", "TLS 1.3", "DNSSEC enabled"},
		"main_risks": []string{"No CSP header", "Exposed staging subdomain", "Wildcard DNS"},
		"findings": []map[string]any{
			finding("headers"), finding("dns"), finding("subdomains"),
			finding("tls"), finding("email"),
		},
		"summary":         subsection(),
		"insights":        subsection(),
		"recommendations": subsection(),
	}
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(out)
}

func validCompanyIntelPayload(t *testing.T) string {
	t.Helper()
	doc := map[string]any{
		"company_overview":      map[string]any{"name": "Acme Corp", "founded": 2015},
		"financials_metrics":    map[string]any{"revenue": "unknown"},
		"funding_rounds":        []any{map[string]any{"round": "Series A", "amount_usd": 12000000}},
		"investors":             []any{"North Capital"},
		"news_press":            []any{},
		"news_trends":           "Coverage has been sparse but positive over the last year.",
		"acquisitions":          []any{},
		"customer_testimonials": nil,
		"contact_information":   map[string]any{"email": "hello@acme.example"},
		"graph_data":            map[string]any{"employee_growth": []any{}},
	}
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(out)
}

func validSynthesisPayload(t *testing.T) string {
	t.Helper()
	rec := func(id, category string) map[string]any {
		return map[string]any{
			"id":                     id,
			"action_title":           "Action " + id,
			"description":            "Do the thing described by " + id,
			"category":               category,
			"priority":               "High",
			"suggested_timeline":     "0-3 months",
			"impact_statement":       "Meaningful impact",
			"visual_icon_suggestion": "shield",
		}
	}
	doc := map[string]any{
		"executive_summary": "A balanced target with clear remediation paths.",
		"overall_assessment": map[string]any{
			"verdict":          "Cautious Optimism",
			"confidence_score": 6.5,
			"key_rationale":    "Solid architecture offset by perimeter gaps.",
		},
		"strategic_recommendations": []any{
			rec("rec-1", "Security"), rec("rec-2", "Technology"), rec("rec-3", "Operations"),
		},
		"potential_synergies": map[string]any{
			"cost_synergies":    []any{"Consolidate hosting"},
			"revenue_synergies": []any{"Cross-sell into existing accounts"},
		},
		"key_risks_and_mitigation": []any{
			map[string]any{"risk": "Perimeter exposure", "mitigation": "Harden headers", "severity": "High"},
			map[string]any{"risk": "Key-person dependency", "mitigation": "Document systems", "severity": "Medium"},
		},
		"closing_statement": "Proceed to confirmatory diligence.",
	}
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(out)
}

// testConfig returns pipeline settings that keep tests fast: a generous rate
// limit and a single completion attempt.
func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			HaikuModel:        "claude-haiku-4-5-20251001",
			SonnetModel:       "claude-sonnet-4-5-20250929",
			OpusModel:         "claude-opus-4-6",
			RequestsPerMinute: 6000,
			MaxRetries:        1,
		},
		Pipeline: config.PipelineConfig{StageTimeoutSecs: 30},
	}
}

func newTestRunner(t *testing.T, client anthropic.Client) *StageRunner {
	t.Helper()
	registry, err := contract.Load()
	require.NoError(t, err)
	return NewStageRunner(client, registry, testConfig())
}

// forStage matches a completion request built from a specific stage contract
// by its instructions.
func forStage(t *testing.T, stage string) func(req anthropic.MessageRequest) bool {
	t.Helper()
	registry, err := contract.Load()
	require.NoError(t, err)
	c, err := registry.Get(stage)
	require.NoError(t, err)
	return func(req anthropic.MessageRequest) bool {
		return req.System == c.Instructions
	}
}

func row(jobID, source, data string) model.IntelResultRow {
	return model.IntelResultRow{
		JobID:  jobID,
		Source: source,
		Data:   json.RawMessage(data),
		Status: "complete",
	}
}

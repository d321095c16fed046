// Package contract defines the structural contracts applied to each
// transformation stage: the instructions and prompt sent to the completion
// service, and the JSON Schema its response must satisfy. Contracts are
// versioned data, not code; they live in an embedded YAML file so the shape
// we ask for and the shape we validate can never drift apart.
package contract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed contracts.yaml
var contractsYAML []byte

// scoreTolerance is the allowed drift between the arithmetic mean of the
// subscores and the declared overall score for scored stages. Model output
// rounds subscores to one decimal, so exact equality is too strict.
const scoreTolerance = 0.3

// Contract is one stage's structural contract.
type Contract struct {
	Name         string         `yaml:"name"`
	Version      int            `yaml:"version"`
	Tier         string         `yaml:"tier"`
	MaxTokens    int64          `yaml:"max_tokens"`
	Scored       bool           `yaml:"scored"`
	Instructions string         `yaml:"instructions"`
	Prompt       string         `yaml:"prompt"`
	Schema       map[string]any `yaml:"schema"`

	schemaJSON string
	compiled   *gojsonschema.Schema
}

// Registry holds the compiled contracts, keyed by stage name.
type Registry struct {
	byName map[string]*Contract
}

// Load parses and compiles the embedded contract definitions.
func Load() (*Registry, error) {
	var doc struct {
		Contracts []*Contract `yaml:"contracts"`
	}
	if err := yaml.Unmarshal(contractsYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "contract: parse contracts.yaml")
	}
	if len(doc.Contracts) == 0 {
		return nil, eris.New("contract: no contracts defined")
	}

	reg := &Registry{byName: make(map[string]*Contract, len(doc.Contracts))}
	for _, c := range doc.Contracts {
		if c.Name == "" {
			return nil, eris.New("contract: contract missing name")
		}
		if _, dup := reg.byName[c.Name]; dup {
			return nil, eris.Errorf("contract: duplicate contract %q", c.Name)
		}
		if c.Instructions == "" || c.Prompt == "" {
			return nil, eris.Errorf("contract: %s missing instructions or prompt", c.Name)
		}
		if strings.Count(c.Prompt, "%s") != 2 {
			return nil, eris.Errorf("contract: %s prompt must take schema and input interpolations", c.Name)
		}
		if c.MaxTokens <= 0 {
			return nil, eris.Errorf("contract: %s has no max_tokens", c.Name)
		}

		schemaBytes, err := json.Marshal(c.Schema)
		if err != nil {
			return nil, eris.Wrapf(err, "contract: %s encode schema", c.Name)
		}
		c.schemaJSON = string(schemaBytes)

		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(c.schemaJSON))
		if err != nil {
			return nil, eris.Wrapf(err, "contract: %s compile schema", c.Name)
		}
		c.compiled = compiled

		reg.byName[c.Name] = c
	}
	return reg, nil
}

// Get returns the contract for a stage name.
func (r *Registry) Get(stage string) (*Contract, error) {
	c, ok := r.byName[stage]
	if !ok {
		return nil, eris.Errorf("contract: no contract for stage %q", stage)
	}
	return c, nil
}

// Names returns the defined stage names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// SchemaJSON returns the contract's schema as compact JSON, as interpolated
// into prompts.
func (c *Contract) SchemaJSON() string {
	return c.schemaJSON
}

// BuildPrompt renders the user prompt for an assembled stage input.
func (c *Contract) BuildPrompt(input json.RawMessage) string {
	return fmt.Sprintf(c.Prompt, c.schemaJSON, string(input))
}

// ValidateResponse checks a completion response against the contract's
// schema. The input must already be stripped of markdown fences and
// surrounding prose. For scored stages it additionally verifies that the
// overall score is the arithmetic mean of the subscores.
func (c *Contract) ValidateResponse(doc []byte) error {
	result, err := c.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return eris.Wrapf(err, "contract: %s response is not valid JSON", c.Name)
	}
	if !result.Valid() {
		var b strings.Builder
		for i, desc := range result.Errors() {
			if i > 0 {
				b.WriteString("; ")
			}
			field := desc.Field()
			if field == "" {
				field = "(root)"
			}
			b.WriteString(field + ": " + desc.Description())
		}
		return eris.Errorf("contract: %s response failed schema validation: %s", c.Name, b.String())
	}

	if c.Scored {
		if err := checkScoreConsistency(doc); err != nil {
			return eris.Wrapf(err, "contract: %s", c.Name)
		}
	}
	return nil
}

// checkScoreConsistency verifies mean(subscores) matches overall_score
// within scoreTolerance.
func checkScoreConsistency(doc []byte) error {
	var scored struct {
		OverallScore float64            `json:"overall_score"`
		Subscores    map[string]float64 `json:"subscores"`
	}
	if err := json.Unmarshal(doc, &scored); err != nil {
		return eris.Wrap(err, "decode scores")
	}
	if len(scored.Subscores) == 0 {
		return eris.New("no subscores present")
	}

	var sum float64
	for _, v := range scored.Subscores {
		sum += v
	}
	mean := sum / float64(len(scored.Subscores))
	if math.Abs(mean-scored.OverallScore) > scoreTolerance {
		return eris.Errorf("overall_score %.2f does not match subscore mean %.2f", scored.OverallScore, mean)
	}
	return nil
}

package decision

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

const (
	schemaURL = "decision.schema.json"

	percentPattern = `^\s*[0-9]+(\.[0-9]+)?\s*%?\s*$`
)

var hundred = decimal.NewFromInt(100)

// replySchema returns the JSON schema of a reply covering every instrument id.
func replySchema(ids []string) map[string]any {
	entry := map[string]any{
		"type":     "object",
		"required": []string{"decision", "reason"},
		"properties": map[string]any{
			"decision": map[string]any{
				"type":    "string",
				"pattern": `^(?i)\s*(buy|sell|hold)\s*$`,
			},
			"percentage": map[string]any{
				"oneOf": []any{
					map[string]any{"type": "number", "minimum": 0, "maximum": 100},
					map[string]any{"type": "string", "pattern": percentPattern},
					map[string]any{"type": "null"},
				},
			},
			"reason": map[string]any{"type": "string"},
		},
	}

	properties := make(map[string]any, len(ids))
	for _, id := range ids {
		properties[id] = entry
	}

	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"required":   ids,
		"properties": properties,
	}
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
}

// Parser validates replies against the schema of a fixed instrument set and
// converts them into decisions.
type Parser struct {
	ids    []string
	schema *jsonschema.Schema
}

// NewParser compiles the reply schema for instruments.
func NewParser(instruments []domain.Instrument) (*Parser, error) {
	if len(instruments) == 0 {
		return nil, errors.New("at least one instrument is required")
	}

	ids := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		ids = append(ids, inst.ID)
	}

	schema, err := compileSchema(replySchema(ids))
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile reply schema")
	}

	return &Parser{ids: ids, schema: schema}, nil
}

// Parse returns one decision per instrument in instrument order. Any problem
// with the reply wraps domain.ErrSchemaValidation.
func (p *Parser) Parse(reply string) ([]domain.Decision, error) {
	raw := trimFences(reply)
	if raw == "" {
		return nil, errors.Wrap(domain.ErrSchemaValidation, "empty reply")
	}
	if !gjson.Valid(raw) {
		return nil, errors.Wrap(domain.ErrSchemaValidation, "reply is not valid JSON")
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrapf(domain.ErrSchemaValidation, "decode reply: %v", err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return nil, errors.Wrapf(domain.ErrSchemaValidation, "%v", err)
	}

	entries := gjson.Parse(raw).Map()
	decisions := make([]domain.Decision, 0, len(p.ids))
	for _, id := range p.ids {
		entry := entries[id]

		action, err := domain.ParseAction(entry.Get("decision").String())
		if err != nil {
			return nil, errors.Wrapf(domain.ErrSchemaValidation, "%s: %v", id, err)
		}

		intensity, err := NormalizeIntensity(entry.Get("percentage"))
		if err != nil {
			return nil, errors.Wrapf(domain.ErrSchemaValidation, "%s: %v", id, err)
		}

		d, err := domain.NewDecision(id, action, intensity, strings.TrimSpace(entry.Get("reason").String()))
		if err != nil {
			return nil, errors.Wrapf(domain.ErrSchemaValidation, "%s: %v", id, err)
		}
		decisions = append(decisions, d)
	}

	return decisions, nil
}

// NormalizeIntensity converts a reply percentage (30, 30.5, "30", "30%") to
// a fraction in [0, 1]. Missing or null values mean 100%.
func NormalizeIntensity(v gjson.Result) (decimal.Decimal, error) {
	var raw string
	switch v.Type {
	case gjson.Null:
		return domain.FullIntensity, nil
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v.String()), "%"))
		if raw == "" {
			return domain.FullIntensity, nil
		}
	default:
		return decimal.Zero, errors.Errorf("percentage must be a number or string, got %s", v.Raw)
	}

	pct, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid percentage %q", raw)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return decimal.Zero, errors.Errorf("percentage %s out of range [0, 100]", pct.String())
	}

	return pct.Div(hundred), nil
}

func trimFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

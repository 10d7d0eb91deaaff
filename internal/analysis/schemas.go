package analysis

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBase = "https://regscanner.local/analysis/"

// Dimensions are any JSON number; fractions are rounded and out of range
// values clamped after decoding instead of failing the stage.
var stageSchemas = map[string]string{
	stageRelevance: `{
		"type": "object",
		"required": ["relevant"],
		"properties": {
			"relevant": {"type": "boolean"},
			"business_area": {"type": ["string", "null"]},
			"reason": {"type": ["string", "null"]}
		}
	}`,
	stageImpact: `{
		"type": "object",
		"required": ["severity", "time_sensitivity", "operational_effort", "customer_impact", "enforcement_risk"],
		"properties": {
			"severity": {"type": "number"},
			"time_sensitivity": {"type": "number"},
			"operational_effort": {"type": "number"},
			"customer_impact": {"type": "number"},
			"enforcement_risk": {"type": "number"},
			"overall": {"type": ["string", "null"]}
		}
	}`,
	stageSummary: `{
		"type": "object",
		"required": ["summary"],
		"properties": {
			"summary": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string"}
			}
		}
	}`,
	stageTasks: `{
		"type": "object",
		"required": ["tasks"],
		"properties": {
			"tasks": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["task"],
					"properties": {
						"task": {"type": "string", "minLength": 1},
						"owner_role": {"type": ["string", "null"]},
						"due_window": {"type": ["string", "integer", "null"]},
						"evidence_artifact": {"type": ["string", "null"]},
						"dependency": {"type": ["string", "null"]}
					}
				}
			}
		}
	}`,
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiled := make(map[string]*jsonschema.Schema, len(stageSchemas))
	for name, raw := range stageSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("%s%s.schema.json", schemaBase, name)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load %s schema: %w", name, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		compiled[name] = schema
	}
	return compiled, nil
}

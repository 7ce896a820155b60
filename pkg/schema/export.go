package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Scenario struct using invopop/jsonschema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Scenario{})
	s.ID = "https://github.com/ormasoftchile/radproof/schemas/scenario-v1.json"
	s.Title = "Radproof Scenario v1"
	s.Description = "Schema for radproof scenario YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// GenerateTargetJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Target struct using invopop/jsonschema.
func GenerateTargetJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Target{})
	s.ID = "https://github.com/ormasoftchile/radproof/schemas/target-v1.json"
	s.Title = "Radproof Target v1"
	s.Description = "Schema for radproof target YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal target schema: %w", err)
	}
	return data, nil
}

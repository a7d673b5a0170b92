package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateRunbookJSONSchema produces a JSON Schema Draft 2020-12 document
// from the demokit/v1 Runbook Go types.
func GenerateRunbookJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Runbook{})
	s.ID = "https://github.com/ormasoftchile/demokit/schemas/runbook-v1.json"
	s.Title = "demokit runbook (demokit/v1)"
	s.Description = "Schema for demokit/v1 runbook documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal runbook schema: %w", err)
	}
	return data, nil
}

// GenerateJSONSchema reflects an arbitrary document type; used for the
// replay scenario schema.
func GenerateJSONSchema(v any, id, title string) ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(v)
	s.ID = jsonschema.ID(id)
	s.Title = title

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", title, err)
	}
	return data, nil
}

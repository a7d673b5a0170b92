package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a runbook. Files ending in .json or
// .jsonc are parsed as JSONC; everything else as YAML.
func LoadFile(path string) (*Runbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open runbook: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return LoadJSON(data)
	default:
		return Load(bytes.NewReader(data))
	}
}

// Load reads a YAML runbook from a reader.
// Returns a structural error if the YAML contains unknown fields.
func Load(r io.Reader) (*Runbook, error) {
	var rb Runbook
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&rb); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	normalize(&rb)
	return &rb, nil
}

// LoadJSON reads a JSON runbook, tolerating comments and trailing commas.
func LoadJSON(data []byte) (*Runbook, error) {
	var rb Runbook
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rb); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	normalize(&rb)
	return &rb, nil
}

// normalize trims whitespace that YAML block scalars leave on identifiers.
func normalize(rb *Runbook) {
	for i := range rb.Steps {
		s := &rb.Steps[i]
		s.ID = strings.TrimSpace(s.ID)
		for j, key := range s.Requires {
			s.Requires[j] = strings.TrimSpace(key)
		}
	}
}

// StepIndex returns the position of the step with the given ID, or -1.
func (rb *Runbook) StepIndex(id string) int {
	for i := range rb.Steps {
		if rb.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

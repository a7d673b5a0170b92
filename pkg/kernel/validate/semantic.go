package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

const schemaURL = "runbook-v1.json"

var (
	compileOnce sync.Once
	compiled    *sjsonschema.Schema
	compileErr  error
)

// runbookSchema compiles the reflected runbook schema once per process.
func runbookSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		schemaJSON, err := schema.GenerateRunbookJSONSchema()
		if err != nil {
			compileErr = fmt.Errorf("generate schema: %w", err)
			return
		}
		schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, schemaDoc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// validateSemantic validates the runbook against the JSON Schema reflected
// from the Go types.
func validateSemantic(rb *schema.Runbook) []*ValidationError {
	sch, err := runbookSchema()
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "%v", err)}
	}

	// Convert runbook to JSON for JSON Schema validation
	data, err := json.Marshal(rb)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "marshal for schema validation: %v", err)}
	}
	doc, err := sjsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "unmarshal document: %v", err)}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []*ValidationError{errorf("semantic", "", "%v", err)}
	}

	p := message.NewPrinter(language.English)
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, &ValidationError{
			Phase:    "semantic",
			Path:     strings.Join(cause.InstanceLocation, "."),
			Message:  cause.ErrorKind.LocalizedString(p),
			Severity: SeverityError,
		})
	}
	return errs
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

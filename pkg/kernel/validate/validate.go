// Package validate implements the 3-phase runbook validation pipeline:
// structural → semantic → domain.
package validate

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// ValidateFile runs the full 3-phase pipeline on a runbook file.
func ValidateFile(path string) (*schema.Runbook, []*ValidationError) {
	// Phase 1: Structural (strict decode)
	rb, err := schema.LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return rb, ValidateRunbook(rb, filepath.Dir(path))
}

// ValidateRunbook runs phases 2+3 on an already-loaded runbook. baseDir
// anchors relative manifest paths.
func ValidateRunbook(rb *schema.Runbook, baseDir string) []*ValidationError {
	var errs []*ValidationError

	// Phase 2: Semantic (JSON Schema validation)
	errs = append(errs, validateSemantic(rb)...)

	// Domain rules assume a schema-valid document
	if HasErrors(errs) {
		return errs
	}

	// Phase 3: Domain (hand-coded rules)
	errs = append(errs, validateDomain(rb, baseDir)...)
	return errs
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err folds the error-severity entries into a single error, or nil.
func Err(errs []*ValidationError) error {
	var result *multierror.Error
	for _, e := range errs {
		if e.Severity == SeverityError {
			result = multierror.Append(result, e)
		}
	}
	return result.ErrorOrNil()
}

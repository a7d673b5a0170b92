package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/demokit/pkg/kernel/validate"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate <runbook.yaml>",
	Short: "Validate a runbook",
	Long:  "Runs structural, schema and domain checks. Warnings are printed but do not fail validation.",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print findings as JSON")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".markdown" {
		return fmt.Errorf("%s is a Markdown file; runbooks are .yaml or .jsonc", path)
	}

	if validateJSON {
		_, errs := validate.ValidateFile(path)
		if errs == nil {
			errs = []*validate.ValidationError{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(errs); err != nil {
			return err
		}
		if validate.HasErrors(errs) {
			return &exitCodeError{code: exitError, err: fmt.Errorf("validation failed with %d error(s)", countErrors(errs)), quiet: true}
		}
		return nil
	}

	rb, err := loadRunbook(cmd.ErrOrStderr(), path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d steps)\n", rb.Meta.Name, len(rb.Steps))
	return nil
}

// printFindings prints warnings first, then a numbered error list.
func printFindings(w io.Writer, errs []*validate.ValidationError) {
	var errors []*validate.ValidationError
	for _, e := range errs {
		if e.Severity == validate.SeverityWarning {
			fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "    at: %s\n", e.Path)
			}
			continue
		}
		errors = append(errors, e)
	}
	if len(errors) == 0 {
		return
	}
	fmt.Fprintf(w, "Validation failed: %d error(s)\n\n", len(errors))
	for i, e := range errors {
		fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "     at: %s\n", e.Path)
		}
	}
}

func countErrors(errs []*validate.ValidationError) int {
	n := 0
	for _, e := range errs {
		if e.Severity == validate.SeverityError {
			n++
		}
	}
	return n
}

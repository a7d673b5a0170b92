package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	ktesting "github.com/ormasoftchile/demokit/pkg/kernel/testing"
)

var (
	testScenario string
	testJSON     bool
	testFailFast bool
	testTimeout  string
	testTraceDir string
)

var testCmd = &cobra.Command{
	Use:   "test [runbook.yaml...]",
	Short: "Replay scenarios against runbooks and check their assertions",
	Long: `Scenarios live next to the runbook in scenarios/<runbook>/<name>/.
Each holds a scenario.yaml with canned responses and operator answers and
a test.yaml with the expected outcome.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVar(&testScenario, "scenario", "", "Run only the named scenario (default: all)")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output results as JSON")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "Stop after first failure")
	testCmd.Flags().StringVar(&testTimeout, "timeout", "30s", "Per-run timeout")
	testCmd.Flags().StringVar(&testTraceDir, "trace-dir", "", "Write one JSONL trace per scenario run into this directory")
}

func runTest(cmd *cobra.Command, args []string) error {
	timeout, err := time.ParseDuration(testTimeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout: %w", err)
	}

	runner := &ktesting.Runner{
		Timeout:  timeout,
		FailFast: testFailFast,
		Logger:   logger,
		TraceDir: testTraceDir,
	}

	allPassed := true
	out := cmd.OutOrStdout()
	for _, path := range args {
		var output *ktesting.TestOutput
		if testScenario != "" {
			result, err := runner.RunScenario(cmd.Context(), path, testScenario)
			if err != nil {
				return err
			}
			output = singleOutput(result)
		} else {
			output, err = runner.RunAll(cmd.Context(), path)
			if err != nil {
				return err
			}
		}

		if testJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(output); err != nil {
				return err
			}
		} else {
			printTestOutput(out, output)
		}

		if output.Summary.Failed > 0 || output.Summary.Errors > 0 {
			allPassed = false
			if testFailFast {
				break
			}
		}
	}

	if !allPassed {
		return &exitCodeError{code: exitError, err: fmt.Errorf("tests failed"), quiet: testJSON}
	}
	return nil
}

func singleOutput(result *ktesting.TestResult) *ktesting.TestOutput {
	output := &ktesting.TestOutput{
		Runbook:   result.RunbookName,
		Scenarios: []ktesting.TestResult{*result},
		Summary:   ktesting.TestSummary{Total: 1},
	}
	switch result.Status {
	case ktesting.StatusPassed:
		output.Summary.Passed = 1
	case ktesting.StatusFailed:
		output.Summary.Failed = 1
	case ktesting.StatusSkipped:
		output.Summary.Skipped = 1
	case ktesting.StatusError:
		output.Summary.Errors = 1
	}
	return output
}

func printTestOutput(w io.Writer, output *ktesting.TestOutput) {
	fmt.Fprintf(w, "\n  %s\n", output.Runbook)
	for _, s := range output.Scenarios {
		icon := "✓"
		switch s.Status {
		case ktesting.StatusFailed:
			icon = "✗"
		case ktesting.StatusError:
			icon = "!"
		case ktesting.StatusSkipped:
			icon = "○"
		}
		fmt.Fprintf(w, "    %s %s (%d run(s), %dms)\n", icon, s.ScenarioName, s.Runs, s.DurationMs)
		if s.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", s.Error)
		}
		for _, a := range s.Assertions {
			if !a.Passed {
				fmt.Fprintf(w, "      ✗ run %d %s: %s\n", a.Run, a.Type, a.Message)
			}
		}
	}
	fmt.Fprintf(w, "\n  %d passed, %d failed, %d skipped, %d errors (total: %d)\n",
		output.Summary.Passed, output.Summary.Failed, output.Summary.Skipped, output.Summary.Errors, output.Summary.Total)
}

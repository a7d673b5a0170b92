// Command demokit runs instructor-led cluster demos from runbook files.
//
//	demokit validate <runbook>
//	demokit plan <runbook>
//	demokit run <runbook>
//	demokit test <runbook...>
//	demokit schema runbook|scenario
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/demokit/pkg/config"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
	"github.com/ormasoftchile/demokit/pkg/kernel/validate"
	"github.com/ormasoftchile/demokit/pkg/logging"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1 // usage, config or validation errors
	exitAborted = 2 // the run ended ABORTED
)

// exitCodeError carries a specific exit status. Quiet errors were already
// reported to the operator.
type exitCodeError struct {
	code  int
	err   error
	quiet bool
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(report(os.Stderr, err))
}

// report prints err unless it is quiet and returns the exit status.
func report(w io.Writer, err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitCodeError
	if errors.As(err, &ee) {
		if !ee.quiet {
			fmt.Fprintf(w, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return exitError
}

var (
	flagConfig    string
	flagEnvFile   string
	flagLogLevel  string
	flagLogFormat string
)

// cfg and logger are set by the root pre-run hook.
var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:               "demokit",
	Short:             "Runbook executor for instructor-led cluster demos",
	Long:              "demokit runs demo runbooks step by step: narration, confirmation of destructive steps, operator-driven recovery, and facts passed between steps.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// setup loads configuration and installs the logger.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(config.Options{File: flagConfig, EnvFile: flagEnvFile})
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		c.Log.Level = flagLogLevel
	}
	if cmd.Flags().Changed("log-format") {
		c.Log.Format = flagLogFormat
	}
	if err := c.Validate(); err != nil {
		return err
	}
	l, err := logging.Initialize(os.Stderr, logging.Options{Format: c.Log.Format, Level: c.Log.Level})
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "demokit %s (%s)\n", version, commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (default ./"+config.DefaultFile+" when present)")
	pf.StringVar(&flagEnvFile, "env-file", "", "Env file (default ./"+config.DefaultEnvFile+" when present)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", logging.Auto, "Log format: auto, tint, text, json")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadRunbook validates path and prints findings to w. Validation errors
// fail the command with exit status 1.
func loadRunbook(w io.Writer, path string) (*schema.Runbook, error) {
	rb, errs := validate.ValidateFile(path)
	printFindings(w, errs)
	if validate.HasErrors(errs) {
		return nil, &exitCodeError{code: exitError, err: fmt.Errorf("validation failed with %d error(s)", countErrors(errs)), quiet: true}
	}
	return rb, nil
}

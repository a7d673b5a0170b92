package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ormasoftchile/demokit/pkg/config"
	"github.com/ormasoftchile/demokit/pkg/kernel/engine"
	"github.com/ormasoftchile/demokit/pkg/kernel/executor"
	"github.com/ormasoftchile/demokit/pkg/kernel/gate"
	"github.com/ormasoftchile/demokit/pkg/kernel/replay"
	"github.com/ormasoftchile/demokit/pkg/kernel/trace"
	"github.com/ormasoftchile/demokit/pkg/kube"
	"github.com/ormasoftchile/demokit/pkg/presenter"
)

var (
	runVars           []string
	runFrom           string
	runDryRun         bool
	runTrace          string
	runNonInteractive bool
	runMaxAttempts    int
	runKubeconfig     string
	runContext        string
	runNamespace      string
	runPlain          bool
	runScenario       string
)

var runCmd = &cobra.Command{
	Use:   "run <runbook.yaml>",
	Short: "Run a demo runbook",
	Long: `Runs the runbook step by step. Destructive steps ask for confirmation,
failed steps offer retry, skip or abort, and facts flow between steps.

Exit status is 0 when the run completes, 2 when it is aborted and 1 on
usage or validation errors.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringArrayVar(&runVars, "var", nil, "Seed fact KEY=VALUE (repeatable)")
	f.StringVar(&runFrom, "from", "", "Start at this step ID; earlier steps are skipped")
	f.BoolVar(&runDryRun, "dry-run", false, "Print actions without executing them")
	f.StringVar(&runTrace, "trace", "", "Write a JSONL trace to this file")
	f.BoolVar(&runNonInteractive, "non-interactive", false, "Fail any prompt instead of asking")
	f.IntVar(&runMaxAttempts, "max-attempts", engine.DefaultMaxAttempts, "Attempts per step before only abort is offered")
	f.StringVar(&runKubeconfig, "kubeconfig", "", "Path to kubeconfig")
	f.StringVar(&runContext, "context", "", "Kubeconfig context")
	f.StringVar(&runNamespace, "namespace", "", "Default namespace for kube actions")
	f.BoolVar(&runPlain, "plain", false, "Disable colors and styling")
	f.StringVar(&runScenario, "scenario", "", "Replay canned responses from a scenario file or directory")
}

// applyRunFlags overlays explicitly set flags onto the loaded config.
func applyRunFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	if f.Changed("kubeconfig") {
		c.Kubeconfig = runKubeconfig
	}
	if f.Changed("context") {
		c.Context = runContext
	}
	if f.Changed("namespace") {
		c.Namespace = runNamespace
	}
	if f.Changed("max-attempts") {
		c.MaxAttempts = runMaxAttempts
	}
	if f.Changed("non-interactive") {
		c.NonInteractive = runNonInteractive
	}
	if f.Changed("trace") {
		c.Trace = runTrace
	}
	if err := c.SetVars(runVars); err != nil {
		return err
	}
	return c.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	if runDryRun && runScenario != "" {
		return fmt.Errorf("--dry-run and --scenario are mutually exclusive")
	}

	rb, err := loadRunbook(cmd.ErrOrStderr(), path)
	if err != nil {
		return err
	}

	c := cfg
	c.Vars = maps.Clone(cfg.Vars)
	if c.Vars == nil {
		c.Vars = map[string]string{}
	}
	if err := applyRunFlags(cmd, &c); err != nil {
		return err
	}

	var scenario *replay.Scenario
	if runScenario != "" {
		scenario, err = loadScenario(runScenario)
		if err != nil {
			return err
		}
		for k, v := range scenario.Vars {
			if _, ok := c.Vars[k]; !ok {
				c.Vars[k] = v
			}
		}
	}

	inputs, err := engine.ResolveInputs(rb, c.Vars)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	rc := engine.RunConfig{
		RunID:       time.Now().UTC().Format("20060102T150405Z"),
		Mode:        engine.ModeReal,
		Vars:        inputs.Vars,
		MaxAttempts: c.MaxAttempts,
		From:        runFrom,
		Stdout:      out,
		Logger:      logger,
		Presenter:   presenter.New(out, presenter.Options{Width: terminalWidth(), Plain: runPlain}),
	}

	switch {
	case scenario != nil:
		rc.Mode = engine.ModeReplay
		rc.Prompter = gate.NewScripted(scenario.Answers...)
		rc.Runner = replay.NewRunner(scenario)
	default:
		if runDryRun {
			rc.Mode = engine.ModeDryRun
		}
		if c.NonInteractive {
			rc.Prompter = gate.NonInteractive{}
		} else {
			p, closer, err := presenter.Interactive(os.Stdin, out, cancel)
			if err != nil {
				return err
			}
			defer closer.Close()
			rc.Prompter = p
		}
		rc.Runner = &executor.Dispatcher{
			Kube: kube.NewLazy(kube.Options{
				Kubeconfig: c.Kubeconfig,
				Context:    c.Context,
				Namespace:  c.Namespace,
			}),
			Prompter: rc.Prompter,
			Out:      out,
			BaseDir:  filepath.Dir(path),
			Helm:     c.Helm,
		}
	}

	if c.Trace != "" {
		tw, err := openTrace(c.Trace, rc.RunID)
		if err != nil {
			return err
		}
		defer tw.Close()
		rc.Trace = tw
	}

	logger.Debug("starting run", "runbook", rb.Meta.Name, "mode", rc.Mode, "inputs", len(inputs.Vars))
	res := engine.New(rb, rc).Run(ctx)
	if res.Status == engine.StatusAborted {
		return &exitCodeError{code: exitAborted, err: res.Error, quiet: true}
	}
	return nil
}

// loadScenario accepts a scenario file or a directory holding scenario.yaml.
func loadScenario(path string) (*replay.Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if info.IsDir() {
		return replay.LoadScenarioDir(path)
	}
	return replay.LoadScenario(path)
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return presenter.DefaultWidth
	}
	return w
}

// openTrace creates the trace file's directory when missing.
func openTrace(path, runID string) (*trace.Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create trace dir: %w", err)
		}
	}
	return trace.NewFileWriter(path, runID)
}

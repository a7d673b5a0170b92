package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Command is a process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // full environment; nil inherits the current one
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// CommandRunner abstracts process execution so tests and replay can
// substitute canned output.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner spawns real processes.
type ExecRunner struct{}

// Run executes cmd. A non-zero exit is reported in Result.ExitCode with a nil
// error; only failures to start or wait return an error.
func (ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //#nosec G204 -- argv comes from the runbook author
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: normalizeLineEndings(stdout.String()),
		Stderr: normalizeLineEndings(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("exec %q: %w", c.Name, err)
	}
	return res, nil
}

// runCommand runs c and turns a non-zero exit into an error.
func (d *Dispatcher) runCommand(ctx context.Context, c Command) (*Result, error) {
	res, err := d.commands().Run(ctx, c)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return res, fmt.Errorf("%s: exit code %d: %s", c.Name, res.ExitCode, msg)
	}
	return res, nil
}

func (d *Dispatcher) runExec(ctx context.Context, ea *schema.ExecAction) (*Result, error) {
	argv := ea.Argv
	if len(argv) == 0 && ea.Run != "" {
		parsed, err := shellwords.Parse(ea.Run)
		if err != nil {
			return nil, fmt.Errorf("parse command line: %w", err)
		}
		argv = parsed
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("exec action has no argv")
	}
	dir := d.BaseDir
	if ea.Dir != "" {
		dir = d.path(ea.Dir)
	}
	return d.runCommand(ctx, Command{Name: argv[0], Args: argv[1:], Dir: dir, Env: environ(ea.Env)})
}

// normalizeLineEndings replaces \r\n with \n for cross-platform consistency.
func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

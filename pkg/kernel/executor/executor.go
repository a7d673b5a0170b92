// Package executor dispatches step actions to their transports: the
// Kubernetes client, the helm CLI, local processes, HTTP checks and
// presenter pauses.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/demokit/pkg/kernel/gate"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Result is the output of executing an action.
type Result struct {
	ExitCode int
	Status   int // HTTP status, http actions only
	Stdout   string
	Stderr   string
}

// KubeRunner performs typed Kubernetes calls. Implemented by pkg/kube.
type KubeRunner interface {
	Do(ctx context.Context, a *schema.KubeAction) (string, error)
}

// ActionRunner is what the engine calls for each action. The Dispatcher
// is the real implementation; replay substitutes canned responses.
type ActionRunner interface {
	Run(ctx context.Context, a *schema.Action, vars map[string]any) (*Result, error)
}

// ErrNoKube is returned for kube actions when no cluster client is
// configured.
var ErrNoKube = errors.New("kubernetes client not configured")

// Dispatcher routes each action to its transport.
type Dispatcher struct {
	Commands CommandRunner // exec, shell, helm; defaults to ExecRunner
	Kube     KubeRunner
	HTTP     *http.Client
	Prompter gate.Prompter // pause
	Out      io.Writer     // pause instructions
	BaseDir  string        // relative paths resolve against the runbook directory
	Helm     string        // helm binary, default "helm"
	Shell    string        // shell binary, default "sh"
}

// Run resolves the action's templates against vars and executes it. A non-nil
// error means the action failed; the result is still returned when the
// transport produced output.
func (d *Dispatcher) Run(ctx context.Context, a *schema.Action, vars map[string]any) (*Result, error) {
	resolved, err := ResolveAction(a, vars)
	if err != nil {
		return nil, err
	}

	if resolved.Timeout != "" {
		timeout, err := time.ParseDuration(resolved.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout %q: %w", resolved.Timeout, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch kind := resolved.Kind(); kind {
	case schema.ActionKube:
		return d.runKube(ctx, resolved.Kube)
	case schema.ActionHelm:
		return d.runHelm(ctx, resolved.Helm)
	case schema.ActionExec:
		return d.runExec(ctx, resolved.Exec)
	case schema.ActionShell:
		return d.runCommand(ctx, Command{Name: d.shell(), Args: []string{"-c", resolved.Shell}, Dir: d.BaseDir})
	case schema.ActionHTTP:
		return d.runHTTP(ctx, resolved.HTTP)
	case schema.ActionPause:
		return d.runPause(ctx, resolved.Pause)
	default:
		return nil, fmt.Errorf("action must set exactly one of kube, helm, exec, shell, http, pause (got %v)", resolved.Kinds())
	}
}

func (d *Dispatcher) runKube(ctx context.Context, ka *schema.KubeAction) (*Result, error) {
	if d.Kube == nil {
		return nil, ErrNoKube
	}
	k := *ka
	k.Manifests = make([]string, len(ka.Manifests))
	for i, m := range ka.Manifests {
		k.Manifests[i] = d.path(m)
	}
	out, err := d.Kube.Do(ctx, &k)
	if err != nil {
		return &Result{ExitCode: 1, Stderr: err.Error()}, fmt.Errorf("kube %s: %w", k.Verb, err)
	}
	return &Result{Stdout: out}, nil
}

func (d *Dispatcher) runPause(ctx context.Context, text string) (*Result, error) {
	if d.Out != nil {
		fmt.Fprintf(d.Out, "\n  ⏸ %s\n", strings.TrimSpace(text))
	}
	if d.Prompter == nil {
		return &Result{}, nil
	}
	if _, err := d.Prompter.Prompt(ctx, "Press Enter to continue..."); err != nil &&
		!errors.Is(err, gate.ErrNonInteractive) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("pause: %w", err)
	}
	return &Result{}, nil
}

func (d *Dispatcher) commands() CommandRunner {
	if d.Commands == nil {
		return ExecRunner{}
	}
	return d.Commands
}

func (d *Dispatcher) shell() string {
	if d.Shell == "" {
		return "sh"
	}
	return d.Shell
}

func (d *Dispatcher) helm() string {
	if d.Helm == "" {
		return "helm"
	}
	return d.Helm
}

// path resolves p against BaseDir unless it is absolute.
func (d *Dispatcher) path(p string) string {
	if p == "" || filepath.IsAbs(p) || d.BaseDir == "" {
		return p
	}
	return filepath.Join(d.BaseDir, p)
}

// environ overlays env on the current process environment.
func environ(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := os.Environ()
	for _, k := range sortedKeys(env) {
		out = append(out, k+"="+env[k])
	}
	return out
}

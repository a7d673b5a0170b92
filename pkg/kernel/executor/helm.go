package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// HelmArgs builds the helm command line for an action. Install maps to
// "upgrade --install" so reruns are idempotent.
func (d *Dispatcher) HelmArgs(ha *schema.HelmAction) ([]string, error) {
	var args []string
	switch ha.Verb {
	case schema.HelmInstall:
		if ha.Release == "" || ha.Chart == "" {
			return nil, fmt.Errorf("helm install needs release and chart")
		}
		args = []string{"upgrade", "--install", ha.Release, d.chart(ha.Chart)}
		if ha.Version != "" {
			args = append(args, "--version", ha.Version)
		}
		if ha.URL != "" {
			args = append(args, "--repo", ha.URL)
		}
		if ha.Namespace != "" {
			args = append(args, "--namespace", ha.Namespace)
		}
		if ha.CreateNamespace {
			args = append(args, "--create-namespace")
		}
		if ha.Wait {
			args = append(args, "--wait")
		}
		for _, vf := range ha.Values {
			args = append(args, "--values", d.path(vf))
		}
		for _, k := range sortedKeys(ha.Set) {
			args = append(args, "--set", fmt.Sprintf("%s=%s", k, ha.Set[k]))
		}
	case schema.HelmUninstall:
		if ha.Release == "" {
			return nil, fmt.Errorf("helm uninstall needs release")
		}
		args = []string{"uninstall", ha.Release, "--ignore-not-found"}
		if ha.Namespace != "" {
			args = append(args, "--namespace", ha.Namespace)
		}
		if ha.Wait {
			args = append(args, "--wait")
		}
	case schema.HelmRepoAdd:
		if ha.Repo == "" || ha.URL == "" {
			return nil, fmt.Errorf("helm repo-add needs repo and url")
		}
		args = []string{"repo", "add", ha.Repo, ha.URL, "--force-update"}
	default:
		return nil, fmt.Errorf("unknown helm verb %q", ha.Verb)
	}
	return args, nil
}

func (d *Dispatcher) runHelm(ctx context.Context, ha *schema.HelmAction) (*Result, error) {
	args, err := d.HelmArgs(ha)
	if err != nil {
		return nil, err
	}
	return d.runCommand(ctx, Command{Name: d.helm(), Args: args, Dir: d.BaseDir})
}

// chart resolves local chart directories; repo references pass through.
func (d *Dispatcher) chart(c string) string {
	if strings.HasPrefix(c, "./") || strings.HasPrefix(c, "../") {
		return d.path(c)
	}
	return c
}

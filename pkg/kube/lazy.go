package kube

import (
	"context"
	"fmt"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Lazy connects to the cluster on first use, so runbooks without kube
// actions never need a kubeconfig. A failed connection is retried on the
// next call.
type Lazy struct {
	opts   Options
	client *Client
}

// NewLazy creates a deferred client.
func NewLazy(opts Options) *Lazy {
	return &Lazy{opts: opts}
}

// Do connects if needed and runs the action.
func (l *Lazy) Do(ctx context.Context, a *schema.KubeAction) (string, error) {
	if l.client == nil {
		c, err := NewFromKubeconfig(l.opts)
		if err != nil {
			return "", fmt.Errorf("connect to cluster: %w", err)
		}
		l.client = c
	}
	return l.client.Do(ctx, a)
}

package executor

import "context"

// Call phases.
const (
	PhaseAction  = "action"
	PhaseVerify  = "verify"
	PhaseResolve = "resolve"
)

// Call identifies which runbook element an action invocation belongs to.
// The engine attaches it to the context so runners that key on steps
// (replay) can find their canned response.
type Call struct {
	Step  string
	Phase string
	Fact  string // set for PhaseResolve
}

// Key is the scenario lookup key: the step ID for actions, "<step>.verify"
// for verifications and "resolve.<FACT>" for fact fallbacks.
func (c Call) Key() string {
	switch c.Phase {
	case PhaseVerify:
		return c.Step + ".verify"
	case PhaseResolve:
		return "resolve." + c.Fact
	default:
		return c.Step
	}
}

type callKey struct{}

// WithCall returns a context carrying c.
func WithCall(ctx context.Context, c Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the call attached to ctx, if any.
func CallFrom(ctx context.Context) (Call, bool) {
	c, ok := ctx.Value(callKey{}).(Call)
	return c, ok
}

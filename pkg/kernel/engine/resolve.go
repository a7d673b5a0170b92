package engine

import (
	"fmt"
	"sort"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Input sources, in precedence order.
const (
	SourceHost    = "host"    // --var flags, config vars, DEMOKIT_VAR_* env
	SourceDefault = "default" // meta.inputs default
)

// ResolvedInputs is the output of ResolveInputs.
type ResolvedInputs struct {
	Vars    map[string]string
	Sources map[string]string
}

// ResolveInputs computes the seed facts of a run.
// All hosts (CLI, scenario runner) call this rather than reimplementing it.
//
// Resolution order:
//  1. hostVars: always wins, declared or not
//  2. default value
//  3. missing required: error
func ResolveInputs(rb *schema.Runbook, hostVars map[string]string) (*ResolvedInputs, error) {
	result := &ResolvedInputs{
		Vars:    make(map[string]string),
		Sources: make(map[string]string),
	}
	for name, v := range hostVars {
		if v == "" {
			continue
		}
		result.Vars[name] = v
		result.Sources[name] = SourceHost
	}

	names := make([]string, 0, len(rb.Meta.Inputs))
	for name := range rb.Meta.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		if _, ok := result.Vars[name]; ok {
			continue
		}
		def := rb.Meta.Inputs[name]
		if def.Default != "" {
			result.Vars[name] = def.Default
			result.Sources[name] = SourceDefault
			continue
		}
		if def.Required {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required inputs not set (use --var KEY=VALUE): %v", missing)
	}
	return result, nil
}

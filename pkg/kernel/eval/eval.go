// Package eval implements template expansion and guard evaluation for
// runbook fields.
package eval

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/expr-lang/expr"
)

// noValue is what text/template prints for a missing map key.
const noValue = "<no value>"

// Resolve evaluates a template string against a variable scope.
// Missing variables render as empty strings so a step that lacks an
// upstream fact degrades instead of failing.
// Example: Resolve("https://{{ .HOST }}/healthz", {"HOST": "srv1"}) → "https://srv1/healthz"
func Resolve(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // fast path for literals
	}

	t, err := template.New("").Funcs(funcMap()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

// ResolveStrings resolves every element of a slice.
func ResolveStrings(in []string, vars map[string]any) ([]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		resolved, err := Resolve(s, vars)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = resolved
	}
	return out, nil
}

// ResolveMap resolves all values of a map[string]string.
func ResolveMap(in map[string]string, vars map[string]any) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		resolved, err := Resolve(v, vars)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// EvalBool evaluates a guard expression.
// Supports expr syntax (NAMESPACE != "", GPU == "true", has("URL")).
// An expression containing {{ }} is rendered as a template instead and is
// true unless it renders empty, "false" or "0".
func EvalBool(exprStr string, vars map[string]any) (bool, error) {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return true, nil // no condition = always true
	}

	if strings.Contains(exprStr, "{{") {
		result, err := Resolve(exprStr, vars)
		if err != nil {
			return false, err
		}
		result = strings.TrimSpace(result)
		return result != "" && result != "false" && result != "0", nil
	}

	env := make(map[string]any, len(vars))
	for k, v := range vars {
		env[k] = v
	}
	program, err := expr.Compile(exprStr,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
		expr.Function("has", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("has: expected 1 argument, got %d", len(params))
			}
			v, ok := vars[fmt.Sprint(params[0])]
			return ok && fmt.Sprint(v) != "", nil
		}),
	)
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", exprStr, output, output)
	}
	return result, nil
}

// Compile checks that a guard expression parses. Used by validation, where
// fact values are not yet known.
func Compile(exprStr string) error {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return nil
	}
	if strings.Contains(exprStr, "{{") {
		_, err := template.New("").Funcs(funcMap()).Parse(exprStr)
		return err
	}
	_, err := expr.Compile(exprStr,
		expr.AllowUndefinedVariables(),
		expr.Function("has", func(params ...any) (any, error) { return false, nil }),
	)
	return err
}

// funcMap is sprig's text function set with string-comparing eq/ne so that
// facts (always strings) compare against numeric literals.
func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["eq"] = func(a, b any) bool {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	fm["ne"] = func(a, b any) bool {
		return fmt.Sprint(a) != fmt.Sprint(b)
	}
	return fm
}

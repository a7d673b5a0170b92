package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

// Extract maps an action result to a fact value following ext. It returns an
// error when the output holds no value for the rule; callers report that as
// a warning and never assume a value.
func Extract(ext schema.Extract, res *Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("no output")
	}
	var source string
	switch ext.From {
	case "", "stdout":
		source = res.Stdout
	case "stderr":
		source = res.Stderr
	case "json":
		var parsed any
		if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
			return "", fmt.Errorf("json parse: %w", err)
		}
		val, ok := jsonPath(parsed, ext.Path)
		if !ok {
			return "", fmt.Errorf("json path %q not found", ext.Path)
		}
		s, err := stringify(val)
		if err != nil {
			return "", err
		}
		source = s
	default:
		return "", fmt.Errorf("unknown extract source %q", ext.From)
	}

	source = strings.TrimSpace(source)
	if ext.Pattern != "" {
		re, err := regexp.Compile(ext.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid pattern: %w", err)
		}
		match := re.FindStringSubmatch(source)
		switch {
		case len(match) > 1:
			source = match[1]
		case len(match) == 1:
			source = match[0]
		default:
			return "", fmt.Errorf("pattern %q did not match", ext.Pattern)
		}
	}
	if source == "" {
		return "", fmt.Errorf("empty output")
	}
	return source, nil
}

// jsonPath does a dot-path traversal; numeric segments index arrays.
func jsonPath(obj any, path string) (any, bool) {
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return obj, true
	}
	current := obj
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			current = v[i]
		default:
			return nil, false
		}
	}
	return current, current != nil
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("encode value: %w", err)
		}
		return string(b), nil
	}
}

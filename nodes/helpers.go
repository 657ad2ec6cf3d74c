// Package nodes provides the executors for workgraph's built-in node types
// and the Executor that dispatches a node to the executor of its kind.
package nodes

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/petal-labs/workgraph/core"
)

// configOf returns the config map of definition-backed nodes.
func configOf(n core.Node) map[string]any {
	if tn, ok := n.(*core.TaskNode); ok && tn.Config != nil {
		return tn.Config
	}
	return map[string]any{}
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// stringConfig reads an optional string key.
func stringConfig(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config %q must be a string, got %T", key, v)
	}
	return s, nil
}

// durationConfig reads an optional duration key. Strings use Go duration
// syntax; numbers are seconds.
func durationConfig(cfg map[string]any, key string) (time.Duration, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("config %q: %w", key, err)
		}
		return d, nil
	}
	if f, ok := toFloat64(v); ok {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("config %q must be a duration, got %T", key, v)
}

// envConfig reads an optional string map as KEY=VALUE pairs, sorted by key.
func envConfig(cfg map[string]any, key string) ([]string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config %q must be an object, got %T", key, v)
	}
	env := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		env = append(env, k+"="+toString(m[k]))
	}
	return env, nil
}

// toString formats scalar config values.
func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if f, ok := toFloat64(v); ok && f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprint(v)
	}
}

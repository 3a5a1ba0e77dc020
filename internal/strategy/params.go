package strategy

import "encoding/json"

// Metadata values arrive from JSON as float64, but tests and programmatic
// callers hand in native ints and json.Number as well. These helpers
// normalize the lookup.

func metaFloat(m map[string]interface{}, key string, def float64) float64 {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	}
	return def
}

func metaInt(m map[string]interface{}, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func metaString(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func metaMap(m map[string]interface{}, key string) map[string]interface{} {
	if sub, ok := m[key].(map[string]interface{}); ok {
		return sub
	}
	return nil
}

// metaGroupFloat reads group.key, falling back to the flat key when the
// group or the nested value is absent. Configs written against the
// grouped surface (entry_trigger, exit_strategy, safety_controls) and
// flat legacy configs both resolve.
func metaGroupFloat(m map[string]interface{}, group, key string, def float64) float64 {
	if sub := metaMap(m, group); sub != nil {
		if _, ok := sub[key]; ok {
			return metaFloat(sub, key, def)
		}
	}
	return metaFloat(m, key, def)
}

// metaFloatMap reads a nested object of numeric values, e.g. the
// portfolio target allocations.
func metaFloatMap(m map[string]interface{}, key string) map[string]float64 {
	sub, ok := m[key].(map[string]interface{})
	if !ok {
		// Already-typed maps pass through.
		if typed, ok := m[key].(map[string]float64); ok {
			return typed
		}
		return nil
	}
	out := make(map[string]float64, len(sub))
	for k := range sub {
		out[k] = metaFloat(sub, k, 0)
	}
	return out
}

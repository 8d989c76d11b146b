package domain

import "strconv"

// Metadata is an unstructured key-value container, used for run
// hyperparameters.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the string value stored under key, or def when the key
// is absent or holds a non-string value.
func (m Metadata) String(key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

// Float returns the numeric value stored under key. JSON decoding yields
// float64, but values written programmatically or as quoted strings are
// accepted too.
func (m Metadata) Float(key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the integer value stored under key, truncating JSON
// numbers, or def when absent or unparseable.
func (m Metadata) Int(key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

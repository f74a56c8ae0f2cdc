// Package streamdb implements the stream substrate (C1, C2): a client
// against the streaming database with bounded queries, cancelable tails, and
// idempotent schema creation for the five append-only logs.
package streamdb

import (
	"time"

	"github.com/google/uuid"
)

// Row is a decoded record: column name to typed value, uniform across the
// five logs. Accessors return the zero value when a column is absent or of
// an unexpected type, since callers read heterogeneous result sets.
type Row map[string]any

func (r Row) String(col string) string {
	if v, ok := r[col]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (r Row) Time(col string) time.Time {
	if v, ok := r[col]; ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	return time.Time{}
}

func (r Row) Bool(col string) bool {
	if v, ok := r[col]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func (r Row) Float64(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func (r Row) Int(col string) int {
	switch v := r[col].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (r Row) Floats(col string) []float32 {
	if v, ok := r[col].([]float32); ok {
		return v
	}
	return nil
}

func (r Row) Strings(col string) []string {
	if v, ok := r[col].([]string); ok {
		return v
	}
	return nil
}

// NewID generates a row identifier for append operations.
func NewID() string { return uuid.NewString() }

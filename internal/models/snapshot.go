package models

import (
	"fmt"
	"time"
)

// Kind enumerates the monitored entity categories.
type Kind string

const (
	KindEmployee   Kind = "employee"
	KindDepartment Kind = "department"
)

// Kinds lists every kind the service monitors, in scan order.
func Kinds() []Kind {
	return []Kind{KindEmployee, KindDepartment}
}

// ParseKind validates a raw kind string.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindEmployee:
		return KindEmployee, nil
	case KindDepartment:
		return KindDepartment, nil
	default:
		return "", fmt.Errorf("unknown kind %q", raw)
	}
}

// Metrics holds the named attribute values of a snapshot. Values are either
// float64 or string after JSON decoding; the typed accessors below absorb the
// distinction so rule evaluation never type-asserts directly.
type Metrics map[string]any

// Number returns the named metric as a float64. The second return is false
// when the metric is absent or not numeric.
func (m Metrics) Number(name string) (float64, bool) {
	v, ok := m[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// String returns the named metric as a string, or "" when absent or non-string.
func (m Metrics) String(name string) (string, bool) {
	v, ok := m[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Snapshot is the read-only view of one entity as written by the ingestion
// pipeline. The monitor never mutates snapshots.
type Snapshot struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	Metrics   Metrics   `json:"metrics"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Package diff computes the field-level delta between a case's persisted
// state and a proposed partial update.
package diff

import (
	"fmt"
	"time"
)

// Change holds the before and after value of one field.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Changes maps field names to their change.
type Changes map[string]Change

// Has reports whether the field changed.
func (c Changes) Has(field string) bool {
	_, ok := c[field]
	return ok
}

// Compute diffs a proposed partial update against the existing state.
// Proposed fields with nil or empty-string values are dropped before
// diffing, as is the id field. Timestamp values are compared at day
// granularity: stored and incoming representations routinely disagree
// on the sub-day part, and a precision mismatch is not a user-visible
// change.
func Compute(existing, proposed map[string]any) Changes {
	changes := make(Changes)

	for field, newValue := range proposed {
		if field == "id" {
			continue
		}
		if isEmpty(newValue) {
			continue
		}

		oldValue, ok := existing[field]
		if ok && equal(oldValue, newValue) {
			continue
		}
		if !ok && isEmpty(oldValue) && isEmpty(newValue) {
			continue
		}

		changes[field] = Change{From: normalize(oldValue), To: normalize(newValue)}
	}

	return changes
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case *string:
		return val == nil || *val == ""
	case *int64:
		return val == nil
	case *float64:
		return val == nil
	case *bool:
		return val == nil
	case *time.Time:
		return val == nil
	default:
		return false
	}
}

func equal(oldValue, newValue any) bool {
	if oldTime, ok := asTime(oldValue); ok {
		if newTime, ok := asTime(newValue); ok {
			return sameDay(oldTime, newTime)
		}
	}

	if oldNum, ok := asFloat(oldValue); ok {
		if newNum, ok := asFloat(newValue); ok {
			return oldNum == newNum
		}
	}

	return fmt.Sprintf("%v", normalize(oldValue)) == fmt.Sprintf("%v", normalize(newValue))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func asTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case *int64:
		if val == nil {
			return 0, false
		}
		return float64(*val), true
	case *float64:
		if val == nil {
			return 0, false
		}
		return *val, true
	}
	return 0, false
}

// normalize flattens pointer values so payloads serialize as their
// underlying value.
func normalize(v any) any {
	switch val := v.(type) {
	case *string:
		if val == nil {
			return nil
		}
		return *val
	case *int64:
		if val == nil {
			return nil
		}
		return *val
	case *float64:
		if val == nil {
			return nil
		}
		return *val
	case *bool:
		if val == nil {
			return nil
		}
		return *val
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	default:
		return v
	}
}

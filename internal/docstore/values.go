package docstore

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TimeLayout is the fixed-width UTC layout used where a backend stores timestamps as
// text. Fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Time converts a provider-native temporal value to time.Time. The second result is
// false when v is absent or not recognisable as a point in time.
func Time(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case primitive.DateTime:
		return t.Time().UTC(), true
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC(), true
	case string:
		return parseTimeString(t)
	case float64:
		return millis(int64(t)), !math.IsNaN(t) && t != 0
	case int64:
		return millis(t), t != 0
	case int:
		return millis(int64(t)), t != 0
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return millis(n), n != 0
	case map[string]any:
		return firestoreTime(t)
	case Document:
		return firestoreTime(t)
	}
	return time.Time{}, false
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// firestoreTime accepts the {seconds, nanoseconds} shape left by documents imported from
// the previous Firestore deployment.
func firestoreTime(m map[string]any) (time.Time, bool) {
	secs, ok := Int(firstOf(m, "seconds", "_seconds"))
	if !ok {
		return time.Time{}, false
	}
	nanos, _ := Int(firstOf(m, "nanoseconds", "_nanoseconds"))
	return time.Unix(secs, nanos).UTC(), true
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// Float converts numeric values from any backend to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Int converts integral values from any backend to int64.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// String returns v when it is a string, otherwise "".
func String(v any) string {
	s, _ := v.(string)
	return s
}

// Map returns nested document values regardless of the decoder's map type.
func Map(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	case primitive.M:
		return m, true
	case primitive.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

// Slice returns array values regardless of the decoder's slice type.
func Slice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case primitive.A:
		return s, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

// compareValues orders two field values. Times compare chronologically, numbers
// numerically and everything else as strings. Missing values sort first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if isNumber(a) && isNumber(b) {
		fa, _ := Float(a)
		fb, _ := Float(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if ta, ok := Time(a); ok {
		if tb, ok := Time(b); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return FormatTime(s)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// equalValues reports whether a stored value matches a filter value.
func equalValues(a, b any) bool {
	return compareValues(a, b) == 0
}

// clone deep-copies maps and slices so callers never share memory with the store.
func clone(v any) any {
	switch t := v.(type) {
	case Document:
		return cloneDocument(t)
	case map[string]any:
		return map[string]any(cloneDocument(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clone(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clone(e)
		}
		return out
	}
	return v
}

func cloneDocument(doc map[string]any) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = clone(v)
	}
	return out
}

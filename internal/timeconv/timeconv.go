// Package timeconv normalizes the timestamp representations observed in
// conversation and message records into a single canonical ISO-8601 string.
//
// Records arrive with epoch numbers (seconds or milliseconds), ISO strings,
// the remote store's {seconds, nanoseconds} wire pairs, or nothing at all.
// Normalization is total: any input maps to a parseable ISO string.
package timeconv

import (
	"encoding/json"
	"time"
)

// ISOFormat is the canonical timestamp layout, always UTC.
const ISOFormat = "2006-01-02T15:04:05.000Z"

// millisThreshold separates epoch seconds from epoch milliseconds by
// magnitude. Anything at or above it is taken as milliseconds.
const millisThreshold = 1e12

// Kind tags a parsed timestamp representation.
type Kind int

const (
	KindInvalid Kind = iota
	KindMillis
	KindISO
	KindSecondsNanos
)

// Repr is a tagged timestamp representation. Exactly one of the value
// fields is meaningful, selected by Kind.
type Repr struct {
	Kind   Kind
	Millis int64
	ISO    string
	Secs   int64
	Nanos  int64
}

// Parse classifies a raw timestamp value without converting it.
// Unrecognized input yields KindInvalid, never an error.
func Parse(raw any) Repr {
	switch v := raw.(type) {
	case nil:
		return Repr{Kind: KindInvalid}
	case time.Time:
		return Repr{Kind: KindMillis, Millis: v.UnixMilli()}
	case int64:
		return fromEpoch(float64(v))
	case int:
		return fromEpoch(float64(v))
	case float64:
		return fromEpoch(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Repr{Kind: KindInvalid}
		}
		return fromEpoch(f)
	case string:
		if _, err := parseISO(v); err != nil {
			return Repr{Kind: KindInvalid}
		}
		return Repr{Kind: KindISO, ISO: v}
	case map[string]any:
		// Remote store wire format: {seconds, nanoseconds}.
		secs, ok := numberField(v, "seconds")
		if !ok {
			return Repr{Kind: KindInvalid}
		}
		nanos, _ := numberField(v, "nanoseconds")
		return Repr{Kind: KindSecondsNanos, Secs: int64(secs), Nanos: int64(nanos)}
	default:
		return Repr{Kind: KindInvalid}
	}
}

// Time converts a representation to a time.Time. Invalid representations
// map to the supplied fallback instant.
func (r Repr) Time(fallback time.Time) time.Time {
	switch r.Kind {
	case KindMillis:
		return time.UnixMilli(r.Millis).UTC()
	case KindISO:
		t, err := parseISO(r.ISO)
		if err != nil {
			return fallback.UTC()
		}
		return t.UTC()
	case KindSecondsNanos:
		return time.Unix(r.Secs, r.Nanos).UTC()
	default:
		return fallback.UTC()
	}
}

func fromEpoch(v float64) Repr {
	if v <= 0 {
		return Repr{Kind: KindInvalid}
	}
	if v >= millisThreshold {
		return Repr{Kind: KindMillis, Millis: int64(v)}
	}
	return Repr{Kind: KindMillis, Millis: int64(v * 1000)}
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func parseISO(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Format renders a time as the canonical ISO-8601 string.
func Format(t time.Time) string {
	return t.UTC().Format(ISOFormat)
}

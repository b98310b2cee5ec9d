package timeconv

import "time"

// Default skew parameters. A batch of production records was observed with
// timestamps a fixed ~7 hours in the future of wall clock; both values are
// configurable because the offset is deployment-specific.
const (
	DefaultSkewTolerance = 5 * time.Minute
	DefaultSkewOffset    = 7 * time.Hour
)

// Normalizer converts raw timestamp values into canonical ISO-8601 strings,
// correcting future-dated timestamps that exceed the skew tolerance.
type Normalizer struct {
	// Now supplies wall clock time; defaults to time.Now.
	Now func() time.Time
	// SkewTolerance is how far in the future a timestamp may sit before
	// it is considered skewed.
	SkewTolerance time.Duration
	// SkewOffset is subtracted from a skewed timestamp.
	SkewOffset time.Duration
}

// NewNormalizer returns a Normalizer with the default skew parameters.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		SkewTolerance: DefaultSkewTolerance,
		SkewOffset:    DefaultSkewOffset,
	}
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Normalize converts any raw timestamp value into a canonical ISO-8601
// string. Missing or malformed input falls back to the current wall clock;
// the caller never sees an error.
func (n *Normalizer) Normalize(raw any) string {
	return Format(n.NormalizeTime(raw))
}

// NormalizeTime is Normalize without the final formatting step.
func (n *Normalizer) NormalizeTime(raw any) time.Time {
	now := n.now()
	t := Parse(raw).Time(now)

	tolerance := n.SkewTolerance
	if tolerance <= 0 {
		tolerance = DefaultSkewTolerance
	}
	offset := n.SkewOffset
	if offset <= 0 {
		offset = DefaultSkewOffset
	}

	// Future-dated beyond tolerance: assume the producer's clock carried
	// the known deployment skew and pull the timestamp back. A pragmatic
	// correction, not a guarantee.
	if t.After(now.Add(tolerance)) {
		corrected := t.Add(-offset)
		if corrected.After(now.Add(tolerance)) {
			// Still implausible after correction; clamp to now.
			return now.UTC()
		}
		return corrected.UTC()
	}
	return t.UTC()
}

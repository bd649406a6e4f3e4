package kernel

import (
	"fmt"
	"time"
)

// TimeRange is a closed interval [Start, End].
//
// A zero Start means the range is unbounded below and a zero End means it is
// unbounded above. The zero TimeRange therefore covers all time, which is
// also how kernels without coverage information (text kernels, most FKs)
// are described.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Bounds used in place of an open side when comparing ranges. They sit far
// outside the span any ephemeris covers.
var (
	farPast   = time.Date(-100000, 1, 1, 0, 0, 0, 0, time.UTC)
	farFuture = time.Date(100000, 1, 1, 0, 0, 0, 0, time.UTC)
)

// AllTime returns the unbounded range.
func AllTime() TimeRange { return TimeRange{} }

// Between returns the range [start, end] in UTC.
func Between(start, end time.Time) TimeRange {
	return TimeRange{Start: start.UTC(), End: end.UTC()}
}

// IsAll reports whether the range is unbounded on both sides.
func (r TimeRange) IsAll() bool { return r.Start.IsZero() && r.End.IsZero() }

// Valid reports whether a bounded range has Start <= End.
func (r TimeRange) Valid() bool {
	if r.Start.IsZero() || r.End.IsZero() {
		return true
	}
	return !r.End.Before(r.Start)
}

func (r TimeRange) lo() time.Time {
	if r.Start.IsZero() {
		return farPast
	}
	return r.Start
}

func (r TimeRange) hi() time.Time {
	if r.End.IsZero() {
		return farFuture
	}
	return r.End
}

// Intersects reports whether the two closed intervals share at least one
// instant.
func (r TimeRange) Intersects(o TimeRange) bool {
	return !r.lo().After(o.hi()) && !o.lo().After(r.hi())
}

// Contains reports whether o lies entirely inside r.
func (r TimeRange) Contains(o TimeRange) bool {
	return !r.lo().After(o.lo()) && !r.hi().Before(o.hi())
}

// Widen extends both bounded sides by d. Open sides stay open.
func (r TimeRange) Widen(d time.Duration) TimeRange {
	if d <= 0 {
		return r
	}
	out := r
	if !out.Start.IsZero() {
		out.Start = out.Start.Add(-d)
	}
	if !out.End.IsZero() {
		out.End = out.End.Add(d)
	}
	return out
}

// Equal compares two ranges instant by instant.
func (r TimeRange) Equal(o TimeRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

// String renders the range with "*" for an open side.
func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", formatBound(r.Start), formatBound(r.End))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.UTC().Format(time.RFC3339)
}

// ParseTime accepts RFC 3339 timestamps and plain dates (yyyy-mm-dd), plus
// the "yyyy-mm-dd hh:mm[:ss]" form used by remote directory listings. An
// empty string returns the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

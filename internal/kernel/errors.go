package kernel

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRange is returned for a range whose start is after its end.
var ErrInvalidRange = errors.New("invalid time range")

// CoverageGapError reports instants of a request that no candidate covers.
// Resolution never returns a partial result alongside it.
type CoverageGapError struct {
	// Kernel names the set that failed to resolve.
	Kernel string

	// Requested is the range that was asked for.
	Requested TimeRange

	// Gaps lists the uncovered sub-intervals in ascending order.
	Gaps []TimeRange
}

func (e *CoverageGapError) Error() string {
	gaps := make([]string, len(e.Gaps))
	for i, g := range e.Gaps {
		gaps[i] = g.String()
	}
	return fmt.Sprintf("coverage gap in %s for %s: uncovered %s",
		e.Kernel, e.Requested, strings.Join(gaps, ", "))
}

// AmbiguousSelectionError reports candidates that tie on every preference
// (release date, version, id specificity and reach). This indicates
// duplicate catalog entries.
type AmbiguousSelectionError struct {
	Kernel     string
	At         time.Time
	Candidates []string
}

func (e *AmbiguousSelectionError) Error() string {
	at := "*"
	if !e.At.IsZero() && !e.At.Equal(farPast) {
		at = e.At.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("ambiguous selection in %s at %s: %s are indistinguishable",
		e.Kernel, at, strings.Join(e.Candidates, ", "))
}

// IsCoverageGap returns true if err is or wraps a CoverageGapError.
func IsCoverageGap(err error) bool {
	var ge *CoverageGapError
	return errors.As(err, &ge)
}

// IsAmbiguousSelection returns true if err is or wraps an
// AmbiguousSelectionError.
func IsAmbiguousSelection(err error) bool {
	var ae *AmbiguousSelectionError
	return errors.As(err, &ae)
}

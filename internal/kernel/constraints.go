package kernel

import (
	"regexp"
	"time"
)

// Constraints are explicit user filters applied to Set candidates before
// coverage selection. A candidate failing any constraint is excluded.
// Zero fields do not constrain.
type Constraints struct {
	// ReleasedBefore keeps candidates released on or before the cutoff.
	// Candidates with no release date are excluded when it is set.
	ReleasedBefore time.Time

	// ReleasedAfter keeps candidates released on or after the date.
	ReleasedAfter time.Time

	// Version keeps only candidates with exactly this version.
	Version Version

	// MinVersion and MaxVersion bound the version inclusively.
	MinVersion Version
	MaxVersion Version

	// IDs must all be defined by a candidate. Candidates that declare no
	// ids are treated as generic and pass.
	IDs []int

	// Name filters file names.
	Name *regexp.Regexp

	// Properties must match exactly.
	Properties map[string]string
}

// IsZero reports whether no constraint is set.
func (c Constraints) IsZero() bool {
	return c.ReleasedBefore.IsZero() && c.ReleasedAfter.IsZero() &&
		c.Version.IsZero() && c.MinVersion.IsZero() && c.MaxVersion.IsZero() &&
		len(c.IDs) == 0 && c.Name == nil && len(c.Properties) == 0
}

// Match reports whether a candidate satisfies every constraint.
func (c Constraints) Match(name string, m Metadata) bool {
	if !c.ReleasedBefore.IsZero() {
		if m.Released.IsZero() || m.Released.After(c.ReleasedBefore) {
			return false
		}
	}
	if !c.ReleasedAfter.IsZero() {
		if m.Released.IsZero() || m.Released.Before(c.ReleasedAfter) {
			return false
		}
	}
	if !c.Version.IsZero() && m.Version.Compare(c.Version) != 0 {
		return false
	}
	if !c.MinVersion.IsZero() && m.Version.Compare(c.MinVersion) < 0 {
		return false
	}
	if !c.MaxVersion.IsZero() && (m.Version.IsZero() || m.Version.Compare(c.MaxVersion) > 0) {
		return false
	}
	if len(c.IDs) > 0 && len(m.IDs) > 0 && !m.hasIDs(c.IDs) {
		return false
	}
	if c.Name != nil && !c.Name.MatchString(name) {
		return false
	}
	for k, want := range c.Properties {
		if got, ok := m.Properties[k]; !ok || got != want {
			return false
		}
	}
	return true
}

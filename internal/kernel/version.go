package kernel

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version is a comparable kernel version.
//
// Sources number kernels differently: NAIF planetary ephemerides use plain
// integers (DE440), mission kernels often use dotted numbers (v2.1.3), and
// some use arbitrary labels. A Version holds either a numeric tuple or an
// opaque label.
//
// Ordering: the empty version sorts first, numeric tuples compare element
// by element (a proper prefix sorts lower), every numeric version sorts
// before every label, and labels compare lexically.
type Version struct {
	parts []int
	label string
}

// ParseVersion parses "12", "3.1.0", or "v3.1" as a numeric tuple and
// anything else as a label.
func ParseVersion(s string) Version {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	fields := strings.Split(trimmed, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return Version{label: s}
		}
		parts = append(parts, n)
	}
	return Version{parts: parts}
}

// IntVersion returns a single-component numeric version.
func IntVersion(n int) Version {
	return Version{parts: []int{n}}
}

// IsZero reports whether the version is unset.
func (v Version) IsZero() bool { return len(v.parts) == 0 && v.label == "" }

// Compare returns -1, 0 or +1.
func (v Version) Compare(o Version) int {
	switch {
	case v.IsZero() && o.IsZero():
		return 0
	case v.IsZero():
		return -1
	case o.IsZero():
		return 1
	}
	vn, on := v.label == "", o.label == ""
	switch {
	case vn && !on:
		return -1
	case !vn && on:
		return 1
	case !vn && !on:
		return strings.Compare(v.label, o.label)
	}
	for i := 0; i < len(v.parts) && i < len(o.parts); i++ {
		if v.parts[i] != o.parts[i] {
			if v.parts[i] < o.parts[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(v.parts) < len(o.parts):
		return -1
	case len(v.parts) > len(o.parts):
		return 1
	}
	return 0
}

func (v Version) String() string {
	if v.label != "" {
		return v.label
	}
	strs := make([]string, len(v.parts))
	for i, p := range v.parts {
		strs[i] = strconv.Itoa(p)
	}
	return strings.Join(strs, ".")
}

// MarshalText renders the version for YAML and JSON encoders.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText parses the version from text.
func (v *Version) UnmarshalText(b []byte) error {
	*v = ParseVersion(string(b))
	return nil
}

// UnmarshalYAML accepts both integer and string scalars.
func (v *Version) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return &yaml.TypeError{Errors: []string{"version must be a scalar"}}
	}
	*v = ParseVersion(node.Value)
	return nil
}

package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/roach88/furnish/internal/kernel"
)

// Rule infers metadata from a file's basename.
//
// The pattern may use the named groups "version", "year", "month", "day"
// and "family". A year (with optional month and day) becomes the release
// date. Fields set on Meta apply to every matching name.
type Rule struct {
	Pattern *regexp.Regexp
	Meta    kernel.Metadata
}

// Rules is a Describer that applies the first matching rule.
type Rules []Rule

// MustRule compiles a pattern into a Rule, panicking on a bad pattern.
// Intended for package-level tables.
func MustRule(pattern string, meta kernel.Metadata) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Meta: meta}
}

// NaifGenericRules describe the generic kernels NAIF publishes under
// stable names.
var NaifGenericRules = Rules{
	MustRule(`^de(?P<version>\d{3,4})[st]?\.bsp$`, kernel.Metadata{KType: kernel.SPK, Family: "de"}),
	MustRule(`^naif(?P<version>\d{4})\.tls$`, kernel.Metadata{KType: kernel.LSK, Family: "naif-lsk"}),
	MustRule(`^pck(?P<version>\d{5})\.tpc$`, kernel.Metadata{KType: kernel.PCK, Family: "naif-pck"}),
	MustRule(`^gm_de(?P<version>\d{3,4})\.tpc$`, kernel.Metadata{KType: kernel.PCK, Family: "gm"}),
	MustRule(`^earth_(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})_\d+_\d+\.bpc$`,
		kernel.Metadata{KType: kernel.PCK, Family: "earth-hires", IDs: []int{3000}}),
}

// Match applies the rule to name. ok is false when the pattern does not
// match.
func (r Rule) Match(name string) (kernel.Metadata, bool, error) {
	sub := r.Pattern.FindStringSubmatch(name)
	if sub == nil {
		return kernel.Metadata{}, false, nil
	}
	m := r.Meta
	if m.KType == "" {
		m.KType = kernel.KTypeOf(name)
	}
	var year, month, day int
	for i, group := range r.Pattern.SubexpNames() {
		if group == "" || sub[i] == "" {
			continue
		}
		switch group {
		case "version":
			m.Version = kernel.ParseVersion(sub[i])
		case "family":
			m.Family = sub[i]
		case "year", "month", "day":
			n, err := strconv.Atoi(sub[i])
			if err != nil {
				return kernel.Metadata{}, false, fmt.Errorf("rule %s: %s: %w", r.Pattern, group, err)
			}
			switch group {
			case "year":
				year = n
			case "month":
				month = n
			default:
				day = n
			}
		}
	}
	if year > 0 {
		if month == 0 {
			month = 1
		}
		if day == 0 {
			day = 1
		}
		m.Released = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}
	return m, true, nil
}

// Describe implements kernel.Describer.
func (rs Rules) Describe(_ context.Context, name string) (kernel.Metadata, bool, error) {
	for _, r := range rs {
		m, ok, err := r.Match(name)
		if err != nil || ok {
			return m, ok, err
		}
	}
	return kernel.Metadata{}, false, nil
}

// Enrich fills fields of m that are unset from the first matching rule.
func (rs Rules) Enrich(name string, m kernel.Metadata) kernel.Metadata {
	inferred, ok, err := rs.Describe(context.Background(), name)
	if err != nil || !ok {
		return m
	}
	if m.KType == "" {
		m.KType = inferred.KType
	}
	if m.Version.IsZero() {
		m.Version = inferred.Version
	}
	if m.Released.IsZero() {
		m.Released = inferred.Released
	}
	if m.Family == "" {
		m.Family = inferred.Family
	}
	if len(m.IDs) == 0 {
		m.IDs = inferred.IDs
	}
	return m
}

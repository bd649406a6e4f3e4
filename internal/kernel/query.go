package kernel

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Query is what a kernel resolves for: a time range and the body or frame
// ids of interest. An empty IDs asks for every body.
type Query struct {
	Range TimeRange
	IDs   []int

	// excl collects exclusions while a tree resolves. Set by Resolve.
	excl *exclusions
}

// Over builds a query for r narrowed to ids.
func Over(r TimeRange, ids ...int) Query {
	return Query{Range: r, IDs: ids}
}

// Valid reports whether the query range is well ordered.
func (q Query) Valid() bool { return q.Range.Valid() }

func (q Query) String() string {
	if len(q.IDs) == 0 {
		return q.Range.String()
	}
	ids := make([]string, len(q.IDs))
	for i, id := range q.IDs {
		ids[i] = fmt.Sprint(id)
	}
	return q.Range.String() + " ids=" + strings.Join(ids, ",")
}

// Resolve resolves k for q and applies every exclusion declared by the
// kernels that contributed files. Duplicates keep their first occurrence.
func Resolve(ctx context.Context, k Kernel, q Query) ([]*File, error) {
	if q.excl == nil {
		q.excl = &exclusions{}
	}
	files, err := k.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	return q.excl.apply(Dedupe(files)), nil
}

// overlapsIDs reports whether a file defining m.IDs answers a query for
// ids. A file that declares no ids is not body specific and matches any
// query; an empty query matches every file.
func (m Metadata) overlapsIDs(ids []int) bool {
	if len(ids) == 0 || len(m.IDs) == 0 {
		return true
	}
	for _, id := range ids {
		if slices.Contains(m.IDs, id) {
			return true
		}
	}
	return false
}

type exclusionRule struct {
	pattern *regexp.Regexp
	own     map[string]bool
}

type exclusions struct {
	rules []exclusionRule
}

func (x *exclusions) add(patterns []*regexp.Regexp, own []*File) {
	if len(patterns) == 0 {
		return
	}
	names := make(map[string]bool, len(own))
	for _, f := range own {
		names[f.Name()] = true
	}
	for _, p := range patterns {
		x.rules = append(x.rules, exclusionRule{pattern: p, own: names})
	}
}

func (x *exclusions) apply(files []*File) []*File {
	if len(x.rules) == 0 {
		return files
	}
	out := files[:0:0]
	for _, f := range files {
		if !x.excludes(f.Name()) {
			out = append(out, f)
		}
	}
	return out
}

func (x *exclusions) excludes(name string) bool {
	for _, r := range x.rules {
		if !r.own[name] && r.pattern.MatchString(name) {
			return true
		}
	}
	return false
}

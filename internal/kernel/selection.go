package kernel

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"
)

// Candidate pairs a file with its metadata for selection.
type Candidate struct {
	File *File
	Meta Metadata
}

// Selection parameterizes Select.
type Selection struct {
	// Kernel names the set being resolved, for error messages.
	Kernel string

	// IDs are the body or frame ids the set was queried for. A candidate
	// defining more of them is preferred.
	IDs []int

	// Only drops candidates whose declared ids miss all of these. A
	// candidate declaring no ids always passes. Empty keeps everything.
	Only []int

	Constraints Constraints

	// Tolerance widens every candidate's coverage on both bounded sides
	// before intersection and gap checks.
	Tolerance time.Duration
}

type scored struct {
	file    *File
	meta    Metadata
	lo, hi  time.Time
	matched int
}

// Select picks the fewest candidates whose coverage spans r.
//
// Candidates are first filtered by intersection with r and by the
// constraints. Among covers using the fewest files, each step prefers the
// later release date, then the higher version, then the candidate defining
// more of the queried ids, then the one declaring fewer ids overall, then
// the one reaching further. Candidates that still tie and have identical
// coverage are an AmbiguousSelectionError.
//
// An open side of r is clamped to the outermost coverage of the surviving
// candidates. Any uncovered instant yields a CoverageGapError listing every
// gap. Winners are returned by ascending coverage start.
func Select(cands []Candidate, r TimeRange, sel Selection) ([]*File, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w %s", ErrInvalidRange, r)
	}

	seen := make(map[string]bool, len(cands))
	pool := make([]*scored, 0, len(cands))
	for _, c := range cands {
		name := c.File.Name()
		if seen[name] {
			continue
		}
		seen[name] = true
		cover := c.Meta.Range.Widen(sel.Tolerance)
		if !cover.Intersects(r) {
			continue
		}
		if !sel.Constraints.Match(name, c.Meta) || !c.Meta.overlapsIDs(sel.Only) {
			continue
		}
		pool = append(pool, &scored{
			file:    c.File,
			meta:    c.Meta,
			lo:      cover.lo(),
			hi:      cover.hi(),
			matched: c.Meta.matchedIDs(sel.IDs),
		})
	}
	if len(pool) == 0 {
		return nil, &CoverageGapError{Kernel: sel.Kernel, Requested: r, Gaps: []TimeRange{r}}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].file.Name() < pool[j].file.Name() })

	start, end := r.lo(), r.hi()
	if r.Start.IsZero() {
		start = pool[0].meta.Range.lo()
		for _, s := range pool[1:] {
			if lo := s.meta.Range.lo(); lo.Before(start) {
				start = lo
			}
		}
	}
	if r.End.IsZero() {
		end = pool[0].meta.Range.hi()
		for _, s := range pool[1:] {
			if hi := s.meta.Range.hi(); hi.After(end) {
				end = hi
			}
		}
	}
	if start.After(end) {
		start = end
	}

	p := &planner{pool: pool, end: end, memo: make(map[planKey]outcome)}
	chosen, gaps, err := p.choose(start, sel.Kernel)
	if err != nil {
		return nil, err
	}
	if len(gaps) > 0 {
		return nil, &CoverageGapError{Kernel: sel.Kernel, Requested: r, Gaps: exportGaps(gaps)}
	}

	sort.SliceStable(chosen, func(i, j int) bool {
		a, b := chosen[i], chosen[j]
		if la, lb := a.meta.Range.lo(), b.meta.Range.lo(); !la.Equal(lb) {
			return la.Before(lb)
		}
		if c := preference(a, b); c != 0 {
			return c > 0
		}
		return a.file.Name() < b.file.Name()
	})

	files := make([]*File, len(chosen))
	for i, s := range chosen {
		files[i] = s.file
	}
	return files, nil
}

// preference orders two candidates; positive means a is preferred.
func preference(a, b *scored) int {
	if c := a.meta.Released.Compare(b.meta.Released); c != 0 {
		return c
	}
	if c := a.meta.Version.Compare(b.meta.Version); c != 0 {
		return c
	}
	if c := cmp.Compare(a.matched, b.matched); c != 0 {
		return c
	}
	return cmp.Compare(specificity(a), specificity(b))
}

// specificity ranks fewer declared ids higher; no ids at all is the least
// specific.
func specificity(s *scored) int {
	if len(s.meta.IDs) == 0 {
		return math.MinInt
	}
	return -len(s.meta.IDs)
}

type planKey struct {
	sec       int64
	nsec      int
	inclusive bool
}

type outcome struct {
	files int
	gaps  []TimeRange
}

func (o outcome) equal(b outcome) bool {
	return o.files == b.files && slices.EqualFunc(o.gaps, b.gaps, TimeRange.Equal)
}

// planner covers [x, end] over a fixed candidate pool.
//
// Positions are "inclusive" when the instant x itself still needs a
// candidate (the start, or the first instant after a gap) and exclusive
// right after a chosen candidate's reach.
type planner struct {
	pool []*scored
	end  time.Time
	memo map[planKey]outcome
}

func (p *planner) reach(s *scored) time.Time {
	if s.hi.After(p.end) {
		return p.end
	}
	return s.hi
}

func (p *planner) done(x time.Time, inclusive bool) bool {
	return !inclusive && !x.Before(p.end)
}

func (p *planner) eligible(x time.Time, inclusive bool) []*scored {
	var out []*scored
	for _, s := range p.pool {
		if s.lo.After(x) {
			continue
		}
		if s.hi.After(x) || (inclusive && s.hi.Equal(x)) {
			out = append(out, s)
		}
	}
	return out
}

func (p *planner) nextStart(x time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, s := range p.pool {
		if s.lo.After(x) && (!found || s.lo.Before(next)) {
			next, found = s.lo, true
		}
	}
	return next, found
}

func (p *planner) furthest(el []*scored) time.Time {
	best := p.reach(el[0])
	for _, s := range el[1:] {
		if r := p.reach(s); r.After(best) {
			best = r
		}
	}
	return best
}

// gap returns the uncovered interval starting at x and where to resume.
func (p *planner) gap(x time.Time) (TimeRange, time.Time, bool) {
	next, ok := p.nextStart(x)
	if !ok || next.After(p.end) {
		return TimeRange{Start: x, End: p.end}, time.Time{}, false
	}
	return TimeRange{Start: x, End: next}, next, true
}

// plan is the outcome of always taking the furthest-reaching candidate,
// which uses the fewest files and leaves the fewest gaps.
func (p *planner) plan(x time.Time, inclusive bool) outcome {
	k := planKey{sec: x.Unix(), nsec: x.Nanosecond(), inclusive: inclusive}
	if o, ok := p.memo[k]; ok {
		return o
	}
	var o outcome
	if !p.done(x, inclusive) {
		if el := p.eligible(x, inclusive); len(el) > 0 {
			rest := p.plan(p.furthest(el), false)
			o = outcome{files: rest.files + 1, gaps: rest.gaps}
		} else {
			g, next, more := p.gap(x)
			o.gaps = []TimeRange{g}
			if more {
				rest := p.plan(next, true)
				o.files = rest.files
				o.gaps = append(o.gaps, rest.gaps...)
			}
		}
	}
	p.memo[k] = o
	return o
}

// compare extends preference with coverage: the candidate reaching further
// into the request wins, then the one with the wider raw coverage.
func (p *planner) compare(a, b *scored) int {
	if c := preference(a, b); c != 0 {
		return c
	}
	if c := p.reach(a).Compare(p.reach(b)); c != 0 {
		return c
	}
	if c := a.hi.Compare(b.hi); c != 0 {
		return c
	}
	return b.lo.Compare(a.lo)
}

// choose walks from start to end. At each step it keeps only candidates
// whose remaining plan is as good as the optimal one, then applies the
// preference order among them.
func (p *planner) choose(start time.Time, kernel string) ([]*scored, []TimeRange, error) {
	var chosen []*scored
	var gaps []TimeRange
	x, inclusive := start, true
	for !p.done(x, inclusive) {
		el := p.eligible(x, inclusive)
		if len(el) == 0 {
			g, next, more := p.gap(x)
			gaps = append(gaps, g)
			if !more {
				break
			}
			x, inclusive = next, true
			continue
		}

		best := p.plan(p.furthest(el), false)
		var ok []*scored
		for _, s := range el {
			if p.plan(p.reach(s), false).equal(best) {
				ok = append(ok, s)
			}
		}
		sort.SliceStable(ok, func(i, j int) bool { return p.compare(ok[i], ok[j]) > 0 })
		if len(ok) > 1 && p.compare(ok[0], ok[1]) == 0 {
			var names []string
			for _, s := range ok {
				if p.compare(ok[0], s) == 0 {
					names = append(names, s.file.Name())
				}
			}
			return nil, nil, &AmbiguousSelectionError{Kernel: kernel, At: x, Candidates: names}
		}

		winner := ok[0]
		chosen = append(chosen, winner)
		x, inclusive = p.reach(winner), false
	}
	return chosen, gaps, nil
}

func exportGaps(gaps []TimeRange) []TimeRange {
	out := make([]TimeRange, len(gaps))
	for i, g := range gaps {
		if g.Start.Equal(farPast) {
			g.Start = time.Time{}
		}
		if g.End.Equal(farFuture) {
			g.End = time.Time{}
		}
		out[i] = g
	}
	return out
}

package kernel

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Set is a group of alternative candidates for one logical role.
type Set struct {
	name        string
	ktype       KType
	ids         []int
	files       []*File
	source      Source
	constraints Constraints
	tolerance   time.Duration
}

// SetOption configures a Set.
type SetOption func(*Set)

// WithCandidates adds explicit candidate files.
func WithCandidates(files ...*File) SetOption {
	return func(s *Set) { s.files = append(s.files, files...) }
}

// WithSource queries src for candidates of the set's type, narrowed to ids.
func WithSource(src Source, ids ...int) SetOption {
	return func(s *Set) {
		s.source = src
		s.ids = append(s.ids, ids...)
	}
}

// WithConstraints filters candidates before selection.
func WithConstraints(c Constraints) SetOption {
	return func(s *Set) { s.constraints = c }
}

// WithTolerance widens candidate coverage when testing overlap and gaps.
func WithTolerance(d time.Duration) SetOption {
	return func(s *Set) { s.tolerance = d }
}

// NewSet creates a set. Without a ktype the set takes the type of its
// first explicit candidate.
func NewSet(name string, ktype KType, opts ...SetOption) *Set {
	s := &Set{name: name, ktype: ktype}
	for _, opt := range opts {
		opt(s)
	}
	if s.ktype == "" && len(s.files) > 0 {
		s.ktype = s.files[0].KType()
	}
	return s
}

// Name implements Kernel.
func (s *Set) Name() string { return s.name }

// KType implements Kernel.
func (s *Set) KType() KType { return s.ktype }

// Constraints returns the filters applied before selection.
func (s *Set) Constraints() Constraints { return s.constraints }

// Candidates returns every candidate with its metadata, explicit files
// first, then source results. Candidates of a different type are skipped.
func (s *Set) Candidates(ctx context.Context) ([]Candidate, error) {
	files := append([]*File(nil), s.files...)
	if s.source != nil {
		found, err := s.source.CandidatesFor(ctx, s.ktype, s.ids)
		if err != nil {
			return nil, fmt.Errorf("query candidates for %s: %w", s.name, err)
		}
		files = append(files, found...)
	}
	cands := make([]Candidate, 0, len(files))
	for _, f := range files {
		m, err := f.Metadata(ctx)
		if err != nil {
			return nil, err
		}
		if s.ktype != "" && m.KType != "" && m.KType != s.ktype {
			continue
		}
		cands = append(cands, Candidate{File: f, Meta: m})
	}
	return cands, nil
}

// Resolve implements Kernel by selecting the fewest candidates covering
// the query range. Query ids narrow the candidates and, with the set's own
// ids, rank them.
func (s *Set) Resolve(ctx context.Context, q Query) ([]*File, error) {
	cands, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	ids := s.ids
	for _, id := range q.IDs {
		if !slices.Contains(ids, id) {
			ids = append(slices.Clip(ids), id)
		}
	}
	return Select(cands, q.Range, Selection{
		Kernel:      s.name,
		IDs:         ids,
		Only:        q.IDs,
		Constraints: s.constraints,
		Tolerance:   s.tolerance,
	})
}

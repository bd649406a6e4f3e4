package kernel

import "context"

// Kernel resolves into an ordered list of files for a query.
// Implemented by *File, *Set, *Stack, *Metakernel and *Linked.
type Kernel interface {
	Name() string
	KType() KType
	Resolve(ctx context.Context, q Query) ([]*File, error)
}

// Source is a queryable catalog of kernel files. ids narrows the query to
// files defining at least one of the given body or frame ids; an empty ids
// returns every file of the type.
type Source interface {
	CandidatesFor(ctx context.Context, ktype KType, ids []int) ([]*File, error)
}

// Sources queries each source in order and concatenates the results.
type Sources []Source

// CandidatesFor implements Source.
func (ss Sources) CandidatesFor(ctx context.Context, ktype KType, ids []int) ([]*File, error) {
	var out []*File
	for _, s := range ss {
		files, err := s.CandidatesFor(ctx, ktype, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

// Dedupe drops repeated file names, keeping the first occurrence.
func Dedupe(files []*File) []*File {
	seen := make(map[string]bool, len(files))
	out := make([]*File, 0, len(files))
	for _, f := range files {
		if seen[f.Name()] {
			continue
		}
		seen[f.Name()] = true
		out = append(out, f)
	}
	return out
}

// Names returns the file names in order.
func Names(files []*File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name()
	}
	return out
}

package kernel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrMetaRequisite is returned when a metakernel is used as a requisite.
	ErrMetaRequisite = errors.New("a metakernel cannot be a requisite")

	// ErrInvalidPattern is returned for an exclusion that does not compile.
	ErrInvalidPattern = errors.New("invalid exclusion pattern")
)

var basenameRE = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)+$`)

// Linked wraps a kernel with the kernels it needs and the files it cannot
// be loaded with.
//
// Requisites of the primary's type are pre-requisites, loaded below it, or
// post-requisites, loaded above it. Requisites of another type are
// co-requisites and load first. Requisites only resolve when the primary
// contributes files for the query.
//
// Exclusions are file basenames or regular expressions matched against the
// whole basename. They drop matching files from the final resolution unless
// the file came from this kernel itself.
type Linked struct {
	primary  Kernel
	co       []Kernel
	pre      []Kernel
	post     []Kernel
	excludes []*regexp.Regexp
}

// LinkOption configures a Linked kernel.
type LinkOption func(*Linked) error

// Requires adds requisites loaded below the primary.
func Requires(ks ...Kernel) LinkOption {
	return func(l *Linked) error { return l.require(ks, false) }
}

// RequiresAbove adds requisites loaded above the primary.
func RequiresAbove(ks ...Kernel) LinkOption {
	return func(l *Linked) error { return l.require(ks, true) }
}

// Excludes adds exclusion basenames or patterns.
func Excludes(patterns ...string) LinkOption {
	return func(l *Linked) error {
		for _, p := range patterns {
			re, err := ExclusionPattern(p)
			if err != nil {
				return err
			}
			l.excludes = append(l.excludes, re)
		}
		return nil
	}
}

// Link creates a Linked kernel over primary.
func Link(primary Kernel, opts ...LinkOption) (*Linked, error) {
	l := &Linked{primary: primary}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("link %s: %w", primary.Name(), err)
		}
	}
	return l, nil
}

// ExclusionPattern compiles an exclusion. A plain basename matches only
// itself; anything else is a regular expression anchored at both ends.
func ExclusionPattern(p string) (*regexp.Regexp, error) {
	if basenameRE.MatchString(p) {
		return regexp.MustCompile("^" + regexp.QuoteMeta(p) + "$"), nil
	}
	re, err := regexp.Compile("^(?:" + p + ")$")
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
	}
	return re, nil
}

func (l *Linked) require(ks []Kernel, above bool) error {
	for _, k := range ks {
		switch {
		case k.KType() == META:
			return fmt.Errorf("%w: %s", ErrMetaRequisite, k.Name())
		case k.KType() != l.primary.KType():
			l.co = append(l.co, k)
		case above:
			l.post = append(l.post, k)
		default:
			l.pre = append(l.pre, k)
		}
	}
	return nil
}

// Name implements Kernel.
func (l *Linked) Name() string { return l.primary.Name() }

// KType implements Kernel.
func (l *Linked) KType() KType { return l.primary.KType() }

// Primary returns the wrapped kernel.
func (l *Linked) Primary() Kernel { return l.primary }

// Corequisites returns the requisites of another type.
func (l *Linked) Corequisites() []Kernel { return l.co }

// Prerequisites returns the same-type requisites loaded below the primary.
func (l *Linked) Prerequisites() []Kernel { return l.pre }

// Postrequisites returns the same-type requisites loaded above the primary.
func (l *Linked) Postrequisites() []Kernel { return l.post }

// Resolve implements Kernel. Files come out as co-requisites, then
// pre-requisites, then the primary, then post-requisites.
func (l *Linked) Resolve(ctx context.Context, q Query) ([]*File, error) {
	own, err := l.primary.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(own) == 0 {
		return nil, nil
	}

	var out []*File
	for _, group := range [][]Kernel{l.co, l.pre} {
		for _, k := range group {
			files, err := k.Resolve(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("requisite %s of %s: %w", k.Name(), l.Name(), err)
			}
			out = append(out, files...)
		}
	}
	out = append(out, own...)
	for _, k := range l.post {
		files, err := k.Resolve(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("requisite %s of %s: %w", k.Name(), l.Name(), err)
		}
		out = append(out, files...)
	}

	if q.excl != nil {
		q.excl.add(l.excludes, out)
	}
	return out, nil
}

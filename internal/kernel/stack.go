package kernel

import "context"

// Stack is an ordered group. Children load in declared order, so a later
// child overrides data defined by an earlier one.
type Stack struct {
	name     string
	children []Kernel
}

// NewStack creates a stack over children in load order.
func NewStack(name string, children ...Kernel) *Stack {
	return &Stack{name: name, children: children}
}

// Name implements Kernel.
func (s *Stack) Name() string { return s.name }

// KType implements Kernel. A stack whose children share one type has that
// type; a mixed or empty stack is META.
func (s *Stack) KType() KType {
	if len(s.children) == 0 {
		return META
	}
	k := s.children[0].KType()
	for _, c := range s.children[1:] {
		if c.KType() != k {
			return META
		}
	}
	return k
}

// Children returns the stack's kernels in load order.
func (s *Stack) Children() []Kernel { return s.children }

// Resolve implements Kernel by concatenating child results in order.
func (s *Stack) Resolve(ctx context.Context, q Query) ([]*File, error) {
	var out []*File
	for _, c := range s.children {
		files, err := c.Resolve(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

package kernel

import "context"

// Metakernel groups kernels of several types and loads them by type
// priority. Within one type, children keep their declared order.
// Nested metakernels are flattened into the enclosing one.
type Metakernel struct {
	name     string
	priority Priority
	children []Kernel
}

// NewMetakernel creates a metakernel. A nil priority uses DefaultPriority.
func NewMetakernel(name string, priority Priority, children ...Kernel) *Metakernel {
	if priority == nil {
		priority = DefaultPriority
	}
	return &Metakernel{name: name, priority: priority, children: children}
}

// Name implements Kernel.
func (m *Metakernel) Name() string { return m.name }

// KType implements Kernel.
func (m *Metakernel) KType() KType { return META }

// Children returns the direct children in declared order.
func (m *Metakernel) Children() []Kernel { return m.children }

// Groups returns the flattened children grouped by type, in load order.
func (m *Metakernel) Groups() ([]KType, map[KType][]Kernel) {
	groups := make(map[KType][]Kernel)
	var types []KType
	var walk func(children []Kernel)
	walk = func(children []Kernel) {
		for _, c := range children {
			if nested, ok := c.(*Metakernel); ok {
				walk(nested.children)
				continue
			}
			k := c.KType()
			if _, ok := groups[k]; !ok {
				types = append(types, k)
			}
			groups[k] = append(groups[k], c)
		}
	}
	walk(m.children)
	m.priority.Sort(types)
	return types, groups
}

// Resolve implements Kernel.
func (m *Metakernel) Resolve(ctx context.Context, q Query) ([]*File, error) {
	types, groups := m.Groups()
	var out []*File
	for _, k := range types {
		for _, c := range groups[k] {
			files, err := c.Resolve(ctx, q)
			if err != nil {
				return nil, err
			}
			out = append(out, files...)
		}
	}
	return out, nil
}

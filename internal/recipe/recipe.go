// Package recipe holds named, ordered collections of kernels and the
// registry that tracks them.
//
// A Recipe keeps its kernels grouped by ktype. Within a ktype, later
// entries take precedence when furnished, so Append raises precedence and
// Prepend lowers it. When a recipe has no kernels of some ktype, its
// reference recipe (if any) supplies them.
package recipe

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/furnish/internal/kernel"
)

// Recipe is a mutable, named list of kernels. It is safe for concurrent
// use and implements kernel.Kernel.
type Recipe struct {
	mu        sync.RWMutex
	name      string
	reference *Recipe
	priority  kernel.Priority
	kernels   []kernel.Kernel
	revision  int64
}

func newRecipe(name string, reference *Recipe, priority kernel.Priority) *Recipe {
	return &Recipe{name: name, reference: reference, priority: priority}
}

// Name returns the registry key of the recipe.
func (r *Recipe) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *Recipe) setName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
}

// KType implements kernel.Kernel. A recipe is always a metakernel.
func (r *Recipe) KType() kernel.KType { return kernel.META }

// Reference returns the fallback recipe, or nil.
func (r *Recipe) Reference() *Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reference
}

// Revision increments on every modification.
func (r *Recipe) Revision() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Kernels returns the recipe's own kernels in insertion order.
func (r *Recipe) Kernels() []kernel.Kernel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.kernels)
}

// Append adds kernels at the highest precedence. A kernel already present
// under the same name is moved rather than repeated. Metakernels are
// expanded into their members.
func (r *Recipe) Append(ks ...kernel.Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range expand(ks) {
		r.kernels = slices.DeleteFunc(r.kernels, sameName(k))
		r.kernels = append(r.kernels, k)
	}
	r.revision++
}

// Prepend adds kernels at the lowest precedence, keeping their relative
// order.
func (r *Recipe) Prepend(ks ...kernel.Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	add := expand(ks)
	for _, k := range add {
		r.kernels = slices.DeleteFunc(r.kernels, sameName(k))
	}
	r.kernels = append(add, r.kernels...)
	r.revision++
}

// Replace drops every kernel of ktype k and appends ks in its place.
func (r *Recipe) Replace(k kernel.KType, ks ...kernel.Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels = slices.DeleteFunc(r.kernels, func(x kernel.Kernel) bool { return x.KType() == k })
	for _, x := range expand(ks) {
		r.kernels = slices.DeleteFunc(r.kernels, sameName(x))
		r.kernels = append(r.kernels, x)
	}
	r.revision++
}

// Remove drops the kernel with the given name and reports whether it was
// present.
func (r *Recipe) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.kernels)
	r.kernels = slices.DeleteFunc(r.kernels, func(x kernel.Kernel) bool { return x.Name() == name })
	if len(r.kernels) == n {
		return false
	}
	r.revision++
	return true
}

// Local returns the recipe's own kernels of ktype k.
func (r *Recipe) Local(k kernel.KType) []kernel.Kernel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localLocked(k)
}

func (r *Recipe) localLocked(k kernel.KType) []kernel.Kernel {
	var out []kernel.Kernel
	for _, x := range r.kernels {
		if x.KType() == k {
			out = append(out, x)
		}
	}
	return out
}

// ByKType returns the kernels of ktype k, falling back along the
// reference chain when the recipe itself has none.
func (r *Recipe) ByKType(k kernel.KType) []kernel.Kernel {
	seen := map[*Recipe]bool{}
	for cur := r; cur != nil && !seen[cur]; cur = cur.Reference() {
		seen[cur] = true
		if ks := cur.Local(k); len(ks) > 0 {
			return ks
		}
	}
	return nil
}

// KTypes returns every ktype the recipe or its references provide, in
// priority order.
func (r *Recipe) KTypes() []kernel.KType {
	set := map[kernel.KType]bool{}
	seen := map[*Recipe]bool{}
	for cur := r; cur != nil && !seen[cur]; cur = cur.Reference() {
		seen[cur] = true
		for _, x := range cur.Kernels() {
			set[x.KType()] = true
		}
	}
	types := make([]kernel.KType, 0, len(set))
	for k := range set {
		types = append(types, k)
	}
	r.mu.RLock()
	p := r.priority
	r.mu.RUnlock()
	if p == nil {
		p = kernel.DefaultPriority
	}
	p.Sort(types)
	return types
}

// Snapshot freezes the recipe, with reference fallback applied, into a
// metakernel holding one stack per ktype.
func (r *Recipe) Snapshot() *kernel.Metakernel {
	name := r.Name()
	r.mu.RLock()
	p := r.priority
	r.mu.RUnlock()

	var stacks []kernel.Kernel
	for _, k := range r.KTypes() {
		stacks = append(stacks, kernel.NewStack(name+"_"+string(k), r.ByKType(k)...))
	}
	return kernel.NewMetakernel(name, p, stacks...)
}

// Resolve implements kernel.Kernel. Exclusions declared by linked members
// are applied to the result.
func (r *Recipe) Resolve(ctx context.Context, q kernel.Query) ([]*kernel.File, error) {
	return kernel.Resolve(ctx, r.Snapshot(), q)
}

func (r *Recipe) String() string { return "Recipe(" + r.Name() + ")" }

// expand flattens metakernels into their members.
func expand(ks []kernel.Kernel) []kernel.Kernel {
	var out []kernel.Kernel
	for _, k := range ks {
		if mk, ok := k.(*kernel.Metakernel); ok {
			out = append(out, expand(mk.Children())...)
			continue
		}
		out = append(out, k)
	}
	return out
}

func sameName(k kernel.Kernel) func(kernel.Kernel) bool {
	name := k.Name()
	return func(x kernel.Kernel) bool { return x.Name() == name }
}

package recipe

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/furnish/internal/kernel"
)

// DefaultName is the recipe every registry starts with. It cannot be
// removed or renamed.
const DefaultName = "default"

var (
	ErrNotFound    = errors.New("recipe not found")
	ErrExists      = errors.New("recipe already exists")
	ErrInvalidName = errors.New("invalid recipe name")
	ErrProtected   = errors.New("the default recipe cannot be removed or renamed")
	ErrInUse       = errors.New("recipe is referenced by another recipe")
)

var numberedName = regexp.MustCompile(`^(.*?)\s+(\d+)$`)

// Registry maps names to recipes and tracks which one is selected.
// Engines and commands receive a registry explicitly.
type Registry struct {
	mu       sync.RWMutex
	recipes  map[string]*Recipe
	selected string
	priority kernel.Priority
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPriority sets the ktype order used by every recipe's snapshot.
func WithPriority(p kernel.Priority) RegistryOption {
	return func(r *Registry) { r.priority = p }
}

// NewRegistry returns a registry holding an empty, selected default recipe.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{recipes: make(map[string]*Recipe), selected: DefaultName}
	for _, opt := range opts {
		opt(r)
	}
	r.recipes[DefaultName] = newRecipe(DefaultName, nil, r.priority)
	return r
}

// CleanName normalizes a recipe name: NFC, surrounding space trimmed, and
// a trailing number reduced to a single space plus the number without
// leading zeros ("mission  02" becomes "mission 2").
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if m := numberedName.FindStringSubmatch(name); m != nil {
		digits := strings.TrimLeft(m[2], "0")
		if digits == "" {
			digits = "0"
		}
		if m[1] == "" {
			return digits, nil
		}
		name = m[1] + " " + digits
	}
	return name, nil
}

// Create adds an empty recipe. reference names an existing recipe to fall
// back on, or is empty.
func (r *Registry) Create(name, reference string, ks ...kernel.Kernel) (*Recipe, error) {
	name, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recipes[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}
	var ref *Recipe
	if reference != "" {
		if ref, err = r.getLocked(reference); err != nil {
			return nil, fmt.Errorf("reference: %w", err)
		}
	}
	rec := newRecipe(name, ref, r.priority)
	if len(ks) > 0 {
		rec.Append(ks...)
	}
	r.recipes[name] = rec
	return rec, nil
}

// Get returns the named recipe. The empty name means the selected recipe.
func (r *Registry) Get(name string) (*Recipe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(name)
}

func (r *Registry) getLocked(name string) (*Recipe, error) {
	if name == "" {
		return r.recipes[r.selected], nil
	}
	clean, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	rec, ok := r.recipes[clean]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, clean)
	}
	return rec, nil
}

// Select makes the named recipe the selected one.
func (r *Registry) Select(name string) (*Recipe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.getLocked(name)
	if err != nil {
		return nil, err
	}
	r.selected = rec.Name()
	return rec, nil
}

// Selected returns the currently selected recipe.
func (r *Registry) Selected() *Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recipes[r.selected]
}

// Default returns the default recipe.
func (r *Registry) Default() *Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recipes[DefaultName]
}

// Remove deletes a recipe. Removing the selected recipe selects the
// default.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.getLocked(name)
	if err != nil {
		return err
	}
	key := rec.Name()
	if key == DefaultName {
		return ErrProtected
	}
	for other, o := range r.recipes {
		if o.Reference() == rec {
			return fmt.Errorf("%w: %q references %q", ErrInUse, other, key)
		}
	}
	delete(r.recipes, key)
	if r.selected == key {
		r.selected = DefaultName
	}
	return nil
}

// Rename moves a recipe to a new name, keeping it selected if it was.
func (r *Registry) Rename(oldName, newName string) error {
	clean, err := CleanName(newName)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.getLocked(oldName)
	if err != nil {
		return err
	}
	key := rec.Name()
	if key == DefaultName {
		return ErrProtected
	}
	if clean == key {
		return nil
	}
	if _, ok := r.recipes[clean]; ok {
		return fmt.Errorf("%w: %q", ErrExists, clean)
	}
	delete(r.recipes, key)
	rec.setName(clean)
	r.recipes[clean] = rec
	if r.selected == key {
		r.selected = clean
	}
	return nil
}

// Copy duplicates a recipe under an unused name derived from the original
// ("mission" becomes "mission 2", "mission 2" becomes "mission 3").
func (r *Registry) Copy(name string) (*Recipe, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, err := r.getLocked(name)
	if err != nil {
		return nil, err
	}
	dup := newRecipe(r.unusedNameLocked(src.Name()), src.Reference(), r.priority)
	dup.kernels = src.Kernels()
	r.recipes[dup.name] = dup
	return dup, nil
}

// UnusedName returns name, or name with a number appended, such that no
// recipe has it yet.
func (r *Registry) UnusedName(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unusedNameLocked(clean), nil
}

func (r *Registry) unusedNameLocked(name string) string {
	if _, ok := r.recipes[name]; !ok {
		return name
	}
	root := name
	if m := numberedName.FindStringSubmatch(name); m != nil && m[1] != "" {
		root = m[1]
	}
	for k := 2; ; k++ {
		cand := root + " " + strconv.Itoa(k)
		if _, ok := r.recipes[cand]; !ok {
			return cand
		}
	}
}

// Names returns every recipe name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recipes))
	for n := range r.recipes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

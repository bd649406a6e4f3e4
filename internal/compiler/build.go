package compiler

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/recipe"
	"github.com/roach88/furnish/internal/textkernel"
)

// Env binds definitions to metadata sources.
type Env struct {
	// Catalog answers sets that query the catalog.
	Catalog kernel.Source
	// Describer supplies metadata for file entries and set candidates.
	Describer kernel.Describer
	// Priority orders kernel types inside metakernel entries.
	Priority kernel.Priority
	// Tolerance applies to sets that do not set their own.
	Tolerance time.Duration
	// BaseDir resolves relative paths in file and meta entries.
	BaseDir string
}

// Build validates defs, orders them by reference and creates each recipe
// in reg. A definition named like the registry's default recipe extends it
// instead. Recipes created before an error stay in the registry.
func Build(reg *recipe.Registry, defs []RecipeDef, env Env) ([]*recipe.Recipe, error) {
	defs = append([]RecipeDef(nil), defs...)
	if errs := Validate(defs); len(errs) > 0 {
		return nil, errs[0]
	}
	ordered, err := OrderRecipes(defs)
	if err != nil {
		return nil, err
	}

	out := make([]*recipe.Recipe, 0, len(ordered))
	for _, d := range ordered {
		ks, err := env.entries(d.Name, d.Kernels)
		if err != nil {
			return out, fmt.Errorf("recipe %s: %w", d.Name, err)
		}
		var rec *recipe.Recipe
		if d.Name == recipe.DefaultName {
			if d.Reference != "" {
				return out, &CompileError{Field: "recipe." + d.Name + ".reference", Message: "the default recipe cannot reference another", Pos: d.Pos}
			}
			rec = reg.Default()
			rec.Append(ks...)
		} else {
			rec, err = reg.Create(d.Name, d.Reference, ks...)
			if err != nil {
				return out, fmt.Errorf("recipe %s: %w", d.Name, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (env Env) entries(recipeName string, defs []EntryDef) ([]kernel.Kernel, error) {
	ks := make([]kernel.Kernel, 0, len(defs))
	for _, e := range defs {
		k, err := env.entry(recipeName, e)
		if err != nil {
			return nil, err
		}
		ks = append(ks, k)
	}
	return ks, nil
}

func (env Env) entry(recipeName string, e EntryDef) (kernel.Kernel, error) {
	k, err := env.primary(recipeName, e)
	if err != nil || !e.Linked() {
		return k, err
	}
	below, err := env.entries(recipeName, e.Requires)
	if err != nil {
		return nil, err
	}
	above, err := env.entries(recipeName, e.RequiresAbove)
	if err != nil {
		return nil, err
	}
	l, err := kernel.Link(k,
		kernel.Requires(below...),
		kernel.RequiresAbove(above...),
		kernel.Excludes(e.Excludes...),
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (env Env) primary(recipeName string, e EntryDef) (kernel.Kernel, error) {
	switch e.Kind {
	case EntryFile:
		return env.file(e.Name), nil
	case EntryMeta:
		mk, err := textkernel.LoadMetakernel(env.path(e.Name), env.Describer, env.Priority)
		if err != nil {
			return nil, fmt.Errorf("meta %s: %w", e.Name, err)
		}
		return mk, nil
	case EntryStack:
		children, err := env.entries(recipeName, e.Children)
		if err != nil {
			return nil, err
		}
		name := e.Name
		if name == "" {
			name = recipeName + " stack"
		}
		return kernel.NewStack(name, children...), nil
	case EntrySet:
		return env.set(recipeName, e)
	}
	return nil, fmt.Errorf("unknown entry kind %q", e.Kind)
}

// file returns a catalogued file for a bare name and a local file for a
// path.
func (env Env) file(name string) *kernel.File {
	if !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, filepath.Separator) {
		return kernel.LookupFile(name, env.Describer)
	}
	p := env.path(name)
	desc := kernel.Describers{textkernel.ByExtension{}}
	if env.Describer != nil {
		desc = kernel.Describers{env.Describer, textkernel.ByExtension{}}
	}
	return kernel.LookupFile(filepath.Base(p), desc, kernel.WithLocalPath(p))
}

func (env Env) path(p string) string {
	if filepath.IsAbs(p) || env.BaseDir == "" {
		return p
	}
	return filepath.Join(env.BaseDir, p)
}

func (env Env) set(recipeName string, e EntryDef) (*kernel.Set, error) {
	var ktype kernel.KType
	if e.KType != "" {
		k, err := kernel.ParseKType(e.KType)
		if err != nil {
			return nil, err
		}
		ktype = k
	}
	name := e.Name
	if name == "" {
		label := strings.ToLower(string(ktype))
		if label == "" {
			label = "set"
		}
		name = recipeName + " " + label
	}

	var opts []kernel.SetOption
	if len(e.Candidates) > 0 {
		files := make([]*kernel.File, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			files = append(files, env.file(c))
		}
		opts = append(opts, kernel.WithCandidates(files...))
	}
	if e.Catalog {
		if env.Catalog == nil {
			return nil, fmt.Errorf("set %s queries the catalog but none is configured", name)
		}
		opts = append(opts, kernel.WithSource(env.Catalog, e.IDs...))
	}
	c, err := constraints(e.Constraints)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", name, err)
	}
	opts = append(opts, kernel.WithConstraints(c))
	tol := env.Tolerance
	if e.Tolerance > 0 {
		tol = e.Tolerance
	}
	opts = append(opts, kernel.WithTolerance(tol))
	return kernel.NewSet(name, ktype, opts...), nil
}

func constraints(d ConstraintDef) (kernel.Constraints, error) {
	var (
		c   kernel.Constraints
		err error
	)
	if c.ReleasedBefore, err = kernel.ParseTime(d.ReleasedBefore); err != nil {
		return c, fmt.Errorf("released_before: %w", err)
	}
	if c.ReleasedAfter, err = kernel.ParseTime(d.ReleasedAfter); err != nil {
		return c, fmt.Errorf("released_after: %w", err)
	}
	c.Version = kernel.ParseVersion(d.Version)
	c.MinVersion = kernel.ParseVersion(d.MinVersion)
	c.MaxVersion = kernel.ParseVersion(d.MaxVersion)
	c.IDs = d.IDs
	if d.Name != "" {
		if c.Name, err = regexp.Compile(d.Name); err != nil {
			return c, fmt.Errorf("name: %w", err)
		}
	}
	c.Properties = d.Properties
	return c, nil
}

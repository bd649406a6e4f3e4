package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// EntryKind names the variant of a recipe entry.
type EntryKind string

const (
	EntryFile  EntryKind = "file"
	EntrySet   EntryKind = "set"
	EntryStack EntryKind = "stack"
	EntryMeta  EntryKind = "meta"
)

var entryKinds = []EntryKind{EntryFile, EntrySet, EntryStack, EntryMeta}

// RecipeDef is a compiled recipe definition, not yet bound to metadata
// sources.
type RecipeDef struct {
	Name      string
	Reference string
	Kernels   []EntryDef
	Pos       token.Pos
}

// EntryDef is one kernel entry in a recipe or stack.
type EntryDef struct {
	Kind EntryKind
	// Name is the file name or path for files, the .tm path for meta
	// entries, and the display name for sets and stacks.
	Name string

	// Set fields.
	KType       string
	IDs         []int
	Candidates  []string
	Catalog     bool
	Tolerance   time.Duration
	Constraints ConstraintDef

	// Stack children.
	Children []EntryDef

	// Requires load below the entry when they share its type, and before
	// it otherwise. RequiresAbove load above it. Excludes are basenames
	// or patterns that may not be loaded alongside it.
	Requires      []EntryDef
	RequiresAbove []EntryDef
	Excludes      []string

	Pos token.Pos
}

// Linked reports whether the entry declares requisites or exclusions.
func (e EntryDef) Linked() bool {
	return len(e.Requires) > 0 || len(e.RequiresAbove) > 0 || len(e.Excludes) > 0
}

// ConstraintDef is the textual form of kernel.Constraints.
type ConstraintDef struct {
	ReleasedBefore string            `json:"released_before,omitempty"`
	ReleasedAfter  string            `json:"released_after,omitempty"`
	Version        string            `json:"version,omitempty"`
	MinVersion     string            `json:"min_version,omitempty"`
	MaxVersion     string            `json:"max_version,omitempty"`
	IDs            []int             `json:"ids,omitempty"`
	Name           string            `json:"name,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// setDoc is the CUE shape of a set entry.
type setDoc struct {
	Name        string        `json:"name"`
	KType       string        `json:"ktype"`
	IDs         []int         `json:"ids"`
	Candidates  []string      `json:"candidates"`
	Catalog     *bool         `json:"catalog"`
	Tolerance   string        `json:"tolerance"`
	Constraints ConstraintDef `json:"constraints"`
}

// CompileRecipe parses a CUE value into a RecipeDef.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the recipe struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`recipe: cassini: { kernels: [...] }`)
//	def, err := CompileRecipe(v.LookupPath(cue.ParsePath("recipe.cassini")))
func CompileRecipe(v cue.Value) (*RecipeDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &RecipeDef{Pos: v.Pos()}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].Unquoted()
	}

	if ref := v.LookupPath(cue.ParsePath("reference")); ref.Exists() {
		s, err := ref.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Reference = s
	}

	kernelsVal := v.LookupPath(cue.ParsePath("kernels"))
	if !kernelsVal.Exists() {
		return def, nil
	}
	kernels, err := compileEntries(kernelsVal, "kernels")
	if err != nil {
		return nil, err
	}
	def.Kernels = kernels
	return def, nil
}

func compileEntries(v cue.Value, field string) ([]EntryDef, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var entries []EntryDef
	for i := 0; iter.Next(); i++ {
		e, err := compileEntry(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// compileEntry accepts a bare string as a file entry, or a struct with
// exactly one of file, set, stack or meta plus optional requires,
// requires_above and excludes.
func compileEntry(v cue.Value, field string) (EntryDef, error) {
	if s, err := v.String(); err == nil {
		return EntryDef{Kind: EntryFile, Name: s, Pos: v.Pos()}, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return EntryDef{}, &CompileError{
			Field:   field,
			Message: "entry must be a file name or a struct",
			Pos:     v.Pos(),
		}
	}

	var kind EntryKind
	for _, k := range entryKinds {
		if v.LookupPath(cue.ParsePath(string(k))).Exists() {
			if kind != "" {
				return EntryDef{}, &CompileError{
					Field:   field,
					Message: fmt.Sprintf("entry sets both %s and %s", kind, k),
					Pos:     v.Pos(),
				}
			}
			kind = k
		}
	}
	if kind == "" {
		return EntryDef{}, &CompileError{
			Field:   field,
			Message: "entry needs one of file, set, stack or meta",
			Pos:     v.Pos(),
		}
	}

	if err := checkFields(v, field, entryFields); err != nil {
		return EntryDef{}, err
	}

	body := v.LookupPath(cue.ParsePath(string(kind)))
	e := EntryDef{Kind: kind, Pos: body.Pos()}
	switch kind {
	case EntryFile, EntryMeta:
		s, err := body.String()
		if err != nil {
			return EntryDef{}, formatCUEError(err)
		}
		e.Name = s
	case EntrySet:
		if err := checkFields(body, field+".set", setFields); err != nil {
			return EntryDef{}, err
		}
		var doc setDoc
		if err := body.Decode(&doc); err != nil {
			return EntryDef{}, formatCUEError(err)
		}
		e.Name = doc.Name
		e.KType = doc.KType
		e.IDs = doc.IDs
		e.Candidates = doc.Candidates
		e.Constraints = doc.Constraints
		// Sets without explicit candidates query the catalog.
		e.Catalog = len(doc.Candidates) == 0
		if doc.Catalog != nil {
			e.Catalog = *doc.Catalog
		}
		if doc.Tolerance != "" {
			d, err := time.ParseDuration(doc.Tolerance)
			if err != nil {
				return EntryDef{}, &CompileError{
					Field:   field + ".set.tolerance",
					Message: err.Error(),
					Pos:     body.Pos(),
				}
			}
			e.Tolerance = d
		}
	case EntryStack:
		if name := body.LookupPath(cue.ParsePath("name")); name.Exists() {
			s, err := name.String()
			if err != nil {
				return EntryDef{}, formatCUEError(err)
			}
			e.Name = s
		}
		kernels := body.LookupPath(cue.ParsePath("kernels"))
		if !kernels.Exists() {
			return EntryDef{}, &CompileError{
				Field:   field + ".stack.kernels",
				Message: "stack kernels are required",
				Pos:     body.Pos(),
			}
		}
		children, err := compileEntries(kernels, field+".stack.kernels")
		if err != nil {
			return EntryDef{}, err
		}
		e.Children = children
	}

	if err := compileLinks(v, field, &e); err != nil {
		return EntryDef{}, err
	}
	return e, nil
}

func compileLinks(v cue.Value, field string, e *EntryDef) error {
	for _, link := range []struct {
		label string
		dst   *[]EntryDef
	}{
		{"requires", &e.Requires},
		{"requires_above", &e.RequiresAbove},
	} {
		lv := v.LookupPath(cue.ParsePath(link.label))
		if !lv.Exists() {
			continue
		}
		entries, err := compileEntries(lv, field+"."+link.label)
		if err != nil {
			return err
		}
		*link.dst = entries
	}
	if ex := v.LookupPath(cue.ParsePath("excludes")); ex.Exists() {
		if err := ex.Decode(&e.Excludes); err != nil {
			return formatCUEError(err)
		}
	}
	return nil
}

var entryFields = map[string]bool{
	"file": true, "set": true, "stack": true, "meta": true,
	"requires": true, "requires_above": true, "excludes": true,
}

var setFields = map[string]bool{
	"name": true, "ktype": true, "ids": true, "candidates": true,
	"catalog": true, "tolerance": true, "constraints": true,
}

// checkFields rejects labels Decode would silently ignore.
func checkFields(v cue.Value, field string, known map[string]bool) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if !known[iter.Selector().Unquoted()] {
			return &CompileError{
				Field:   field,
				Message: fmt.Sprintf("unknown field %q", iter.Selector().Unquoted()),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

package compiler

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/recipe"
)

// Validation error codes (E120-E139)
const (
	ErrInvalidRecipeName = "E120" // name empty after cleaning
	ErrDuplicateRecipe   = "E121" // two definitions clean to the same name
	ErrReferenceCycle    = "E122" // references loop back
	ErrEmptyEntry        = "E123" // file, meta or candidate name missing
	ErrInvalidKType      = "E124" // unknown kernel type
	ErrInvalidTime       = "E125" // unparseable release date
	ErrInvalidPattern    = "E126" // name pattern does not compile
	ErrNegativeTolerance = "E127" // tolerance below zero
	ErrEmptyStack        = "E128" // stack without children
	ErrUntypedSet        = "E129" // set with no ktype and no candidates
	ErrEmptySet          = "E130" // set with no candidates and catalog off
	ErrMetaRequisite     = "E131" // meta entry used as a requisite
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a batch of recipe definitions. Names are cleaned in
// place so later stages see the registry's form. Returns all errors found
// (does not fail-fast).
func Validate(defs []RecipeDef) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(defs))

	for i := range defs {
		d := &defs[i]
		field := fmt.Sprintf("recipe.%s", d.Name)
		name, err := recipe.CleanName(d.Name)
		if err != nil {
			errs = append(errs, ValidationError{
				Field: field, Message: err.Error(), Code: ErrInvalidRecipeName, Line: d.Pos.Line(),
			})
			continue
		}
		d.Name = name
		if seen[name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("recipe %q is defined more than once", name),
				Code:    ErrDuplicateRecipe,
				Line:    d.Pos.Line(),
			})
		}
		seen[name] = true
		if d.Reference != "" {
			ref, err := recipe.CleanName(d.Reference)
			if err != nil {
				errs = append(errs, ValidationError{
					Field: field + ".reference", Message: err.Error(), Code: ErrInvalidRecipeName, Line: d.Pos.Line(),
				})
			}
			d.Reference = ref
		}
		errs = append(errs, validateEntries(d.Kernels, field+".kernels")...)
	}

	if len(errs) == 0 {
		if _, err := OrderRecipes(defs); err != nil {
			var ce *CycleError
			if errors.As(err, &ce) {
				errs = append(errs, ValidationError{
					Field:   "recipe." + ce.Path[0] + ".reference",
					Message: err.Error(),
					Code:    ErrReferenceCycle,
				})
			}
		}
	}
	return errs
}

func validateEntries(entries []EntryDef, field string) []ValidationError {
	var errs []ValidationError
	for i, e := range entries {
		f := fmt.Sprintf("%s[%d]", field, i)
		line := e.Pos.Line()
		switch e.Kind {
		case EntryFile, EntryMeta:
			if e.Name == "" {
				errs = append(errs, ValidationError{Field: f, Message: string(e.Kind) + " name is empty", Code: ErrEmptyEntry, Line: line})
			}
		case EntryStack:
			if len(e.Children) == 0 {
				errs = append(errs, ValidationError{Field: f, Message: "stack has no kernels", Code: ErrEmptyStack, Line: line})
			}
			errs = append(errs, validateEntries(e.Children, f+".stack.kernels")...)
		case EntrySet:
			errs = append(errs, validateSet(e, f+".set")...)
		}
		errs = append(errs, validateLinks(e, f)...)
	}
	return errs
}

func validateLinks(e EntryDef, field string) []ValidationError {
	var errs []ValidationError
	for _, link := range []struct {
		label   string
		entries []EntryDef
	}{
		{"requires", e.Requires},
		{"requires_above", e.RequiresAbove},
	} {
		f := field + "." + link.label
		for i, r := range link.entries {
			if r.Kind == EntryMeta {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s[%d]", f, i),
					Message: "a metakernel cannot be a requisite",
					Code:    ErrMetaRequisite,
					Line:    r.Pos.Line(),
				})
			}
		}
		errs = append(errs, validateEntries(link.entries, f)...)
	}
	for i, p := range e.Excludes {
		if _, err := kernel.ExclusionPattern(p); err != nil || p == "" {
			msg := "exclusion is empty"
			if err != nil {
				msg = err.Error()
			}
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.excludes[%d]", field, i),
				Message: msg,
				Code:    ErrInvalidPattern,
				Line:    e.Pos.Line(),
			})
		}
	}
	return errs
}

func validateSet(e EntryDef, field string) []ValidationError {
	var errs []ValidationError
	line := e.Pos.Line()
	add := func(sub, msg, code string) {
		errs = append(errs, ValidationError{Field: field + sub, Message: msg, Code: code, Line: line})
	}

	if e.KType != "" {
		if _, err := kernel.ParseKType(e.KType); err != nil {
			add(".ktype", err.Error(), ErrInvalidKType)
		}
	} else if len(e.Candidates) == 0 {
		add(".ktype", "set needs a ktype or explicit candidates", ErrUntypedSet)
	}
	if !e.Catalog && len(e.Candidates) == 0 {
		add(".candidates", "set has no candidates and does not query the catalog", ErrEmptySet)
	}
	for i, c := range e.Candidates {
		if c == "" {
			add(fmt.Sprintf(".candidates[%d]", i), "candidate name is empty", ErrEmptyEntry)
		}
	}
	if e.Tolerance < 0 {
		add(".tolerance", "tolerance must not be negative", ErrNegativeTolerance)
	}

	c := e.Constraints
	if _, err := kernel.ParseTime(c.ReleasedBefore); err != nil {
		add(".constraints.released_before", err.Error(), ErrInvalidTime)
	}
	if _, err := kernel.ParseTime(c.ReleasedAfter); err != nil {
		add(".constraints.released_after", err.Error(), ErrInvalidTime)
	}
	if c.Name != "" {
		if _, err := regexp.Compile(c.Name); err != nil {
			add(".constraints.name", err.Error(), ErrInvalidPattern)
		}
	}
	return errs
}

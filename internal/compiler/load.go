package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadDir builds the CUE instance in dir and compiles every recipe under
// the top-level "recipe" struct.
func LoadDir(dir string) ([]RecipeDef, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := cuecontext.New().BuildInstance(inst)
	return Recipes(v)
}

// CompileSource compiles recipes from a single CUE document. filename is
// used in error positions only.
func CompileSource(filename string, src []byte) ([]RecipeDef, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return Recipes(v)
}

// Recipes compiles every field of v's "recipe" struct, in declaration
// order. A value without recipes yields an empty slice.
func Recipes(v cue.Value) ([]RecipeDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	defs := []RecipeDef{}
	recipes := v.LookupPath(cue.ParsePath("recipe"))
	if !recipes.Exists() {
		return defs, nil
	}
	iter, err := recipes.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		def, err := CompileRecipe(iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

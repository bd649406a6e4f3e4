package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/recipe"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	add := func(name string, version int, released time.Time) {
		require.NoError(t, c.Add(catalog.Entry{Name: name, Metadata: kernel.Metadata{
			KType:    kernel.KTypeOf(name),
			Version:  kernel.IntVersion(version),
			Released: released,
		}}))
	}
	add("naif0012.tls", 12, time.Date(2016, 12, 1, 0, 0, 0, 0, time.UTC))
	add("de430.bsp", 430, time.Date(2013, 8, 1, 0, 0, 0, 0, time.UTC))
	add("de440.bsp", 440, time.Date(2020, 12, 1, 0, 0, 0, 0, time.UTC))
	return c
}

func resolved(t *testing.T, r *recipe.Recipe) []string {
	t.Helper()
	files, err := r.Resolve(context.Background(), kernel.Over(kernel.AllTime()))
	require.NoError(t, err)
	return kernel.Names(files)
}

func TestBuild_CreatesRecipes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.tm"), []byte(
		"KPL/MK\n\\begindata\nKERNELS_TO_LOAD = ( 'fk/cas_v43.tf' )\n\\begintext\n"), 0o644))

	defs, err := CompileSource("recipes.cue", []byte(`
		recipe: cassini: {
			reference: "generic"
			kernels: [
				{set: {ktype: "spk"}},
				{meta: "local.tm"},
			]
		}
		recipe: generic: kernels: ["naif0012.tls"]
	`))
	require.NoError(t, err)

	c := testCatalog(t)
	reg := recipe.NewRegistry()
	recipes, err := Build(reg, defs, Env{Catalog: c, Describer: c, BaseDir: dir})
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	assert.Equal(t, "generic", recipes[0].Name(), "referenced recipe is built first")

	cassini, err := reg.Get("cassini")
	require.NoError(t, err)
	assert.Equal(t, "generic", cassini.Reference().Name())
	assert.Equal(t, []string{"naif0012.tls", "cas_v43.tf", "de440.bsp"}, resolved(t, cassini))

	tf := cassini.Local(kernel.FK)
	require.Len(t, tf, 1)
}

func TestBuild_ConstraintsAndCandidates(t *testing.T) {
	defs, err := CompileSource("recipes.cue", []byte(`
		recipe: old: kernels: [{set: {
			ktype: "spk"
			constraints: released_before: "2015-01-01"
		}}]
		recipe: pinned: kernels: [{set: {
			candidates: ["de430.bsp", "de440.bsp"]
			constraints: version: "430"
		}}]
	`))
	require.NoError(t, err)

	c := testCatalog(t)
	reg := recipe.NewRegistry()
	_, err = Build(reg, defs, Env{Catalog: c, Describer: c})
	require.NoError(t, err)

	old, err := reg.Get("old")
	require.NoError(t, err)
	assert.Equal(t, []string{"de430.bsp"}, resolved(t, old))

	pinned, err := reg.Get("pinned")
	require.NoError(t, err)
	assert.Equal(t, []string{"de430.bsp"}, resolved(t, pinned))
	assert.Equal(t, "pinned set", pinned.Local(kernel.SPK)[0].Name(), "set takes its type from the first candidate")
}

func TestBuild_Requisites(t *testing.T) {
	defs, err := CompileSource("recipes.cue", []byte(`
		recipe: x: kernels: [
			{set: {candidates: ["de430.bsp"]}},
			{file: "de440.bsp", requires: ["naif0012.tls"], excludes: ["de430.bsp"]},
		]
	`))
	require.NoError(t, err)

	c := testCatalog(t)
	reg := recipe.NewRegistry()
	recipes, err := Build(reg, defs, Env{Catalog: c, Describer: c})
	require.NoError(t, err)

	l, ok := recipes[0].Kernels()[1].(*kernel.Linked)
	require.True(t, ok)
	assert.Equal(t, kernel.SPK, l.KType())
	require.Len(t, l.Corequisites(), 1)
	assert.Equal(t, []string{"naif0012.tls", "de440.bsp"}, resolved(t, recipes[0]))
}

func TestBuild_ExtendsDefault(t *testing.T) {
	defs, err := CompileSource("recipes.cue", []byte(`recipe: default: kernels: ["naif0012.tls"]`))
	require.NoError(t, err)

	reg := recipe.NewRegistry()
	_, err = Build(reg, defs, Env{})
	require.NoError(t, err)
	assert.Equal(t, []string{"naif0012.tls"}, resolved(t, reg.Default()))
}

func TestBuild_LocalFilePath(t *testing.T) {
	defs, err := CompileSource("recipes.cue", []byte(`recipe: x: kernels: ["lsk/naif0012.tls"]`))
	require.NoError(t, err)

	reg := recipe.NewRegistry()
	recipes, err := Build(reg, defs, Env{BaseDir: "/data"})
	require.NoError(t, err)

	f, ok := recipes[0].Kernels()[0].(*kernel.File)
	require.True(t, ok)
	assert.Equal(t, "naif0012.tls", f.Name())
	assert.Equal(t, filepath.Join("/data", "lsk", "naif0012.tls"), f.LocalPath())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		env  Env
	}{
		{"catalog missing", `recipe: x: kernels: [{set: {ktype: "spk"}}]`, Env{}},
		{"unknown reference", `recipe: x: reference: "nope"`, Env{}},
		{"default with reference", `recipe: y: kernels: []
recipe: default: reference: "y"`, Env{}},
		{"missing metakernel", `recipe: x: kernels: [{meta: "absent.tm"}]`, Env{BaseDir: "/nonexistent"}},
		{"invalid definition", `recipe: x: kernels: [{stack: {kernels: []}}]`, Env{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := CompileSource("recipes.cue", []byte(tt.src))
			require.NoError(t, err)
			_, err = Build(recipe.NewRegistry(), defs, tt.env)
			assert.Error(t, err)
		})
	}
}

func TestBuild_ExistingRecipe(t *testing.T) {
	reg := recipe.NewRegistry()
	_, err := reg.Create("x", "")
	require.NoError(t, err)

	defs, err := CompileSource("recipes.cue", []byte(`recipe: x: kernels: []`))
	require.NoError(t, err)
	_, err = Build(reg, defs, Env{})
	assert.True(t, errors.Is(err, recipe.ErrExists))
}

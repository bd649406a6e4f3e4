package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv is a config file plus everything it points at: a database, a
// download root, a file:// mirror holding the kernels, a catalog and a
// recipes directory.
type testEnv struct {
	dir       string
	config    string
	downloads string
	manifest  string
	mirror    string
	catalog   string
	recipes   string
}

const testCatalog = `source: %q
kernels:
  - name: naif0012.tls
    released: "2016-12-01"
    version: "12"
  - name: de430.bsp
    start: "1550-01-01"
    end: "2650-01-22"
    released: "2013-08-01"
    version: "430"
  - name: de440.bsp
    start: "1550-01-01"
    end: "2650-01-22"
    released: "2020-12-01"
    version: "440"
`

const testRecipes = `package recipes

recipe: generic: kernels: [
	{set: {ktype: "lsk"}},
	{set: {ktype: "spk"}},
]

recipe: old: {
	reference: "generic"
	kernels: [{set: {
		ktype: "spk"
		constraints: released_before: "2015-01-01"
	}}]
}
`

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("SPICEPATH", "")
	t.Setenv("SPICE_DOWNLOADS", "")

	dir := t.TempDir()
	env := &testEnv{
		dir:       dir,
		config:    filepath.Join(dir, "furnish.yaml"),
		downloads: filepath.Join(dir, "kernels"),
		manifest:  filepath.Join(dir, "loaded.tm"),
		mirror:    filepath.Join(dir, "mirror"),
		catalog:   filepath.Join(dir, "catalog.yaml"),
		recipes:   filepath.Join(dir, "recipes"),
	}

	require.NoError(t, os.MkdirAll(env.mirror, 0o755))
	for _, name := range []string{"naif0012.tls", "de430.bsp", "de440.bsp"} {
		require.NoError(t, os.WriteFile(filepath.Join(env.mirror, name), []byte("contents of "+name), 0o644))
	}
	require.NoError(t, os.WriteFile(env.catalog, []byte(fmt.Sprintf(testCatalog, "file://"+env.mirror)), 0o644))

	require.NoError(t, os.MkdirAll(env.recipes, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.recipes, "recipes.cue"), []byte(testRecipes), 0o644))

	env.writeConfig(t, true)
	return env
}

// writeConfig writes the config file, listing the catalog file only when
// withCatalog is set.
func (e *testEnv) writeConfig(t *testing.T, withCatalog bool) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "database: %q\n", filepath.Join(e.dir, "furnish.db"))
	fmt.Fprintf(&b, "download_dir: %q\n", e.downloads)
	fmt.Fprintf(&b, "manifest: %q\n", e.manifest)
	fmt.Fprintf(&b, "recipes_dir: %q\n", e.recipes)
	if withCatalog {
		fmt.Fprintf(&b, "catalogs:\n  - %q\n", e.catalog)
	}
	b.WriteString("fetch:\n  retries: 0\n  timeout: 10s\n  initial_backoff: 1ms\n  max_backoff: 1ms\n")
	require.NoError(t, os.WriteFile(e.config, []byte(b.String()), 0o644))
}

// run executes the root command with the env's config and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/furnish/internal/kernel"
)

// isolate points the user directories at a temp dir and clears the
// variables Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	for _, k := range []string{"SPICEPATH", "SPICE_DOWNLOADS", "FURNISH_SEARCH_ROOTS", "FURNISH_DOWNLOAD_DIR", "FURNISH_FETCH_RETRIES", "FURNISH_RESOLVE_TOLERANCE"} {
		t.Setenv(k, "")
	}
	return home
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "furnish.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	c, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, c.SearchRoots)
	assert.Equal(t, filepath.Join(home, ".cache", "furnish", "kernels"), c.DownloadDir)
	assert.Equal(t, filepath.Join(home, ".cache", "furnish", "furnish.db"), c.Database)
	assert.Equal(t, 3, c.Fetch.Retries)
	assert.Equal(t, 10*time.Minute, c.Fetch.Timeout)
	assert.Equal(t, 4, c.Fetch.Concurrency)
	assert.Equal(t, 36*time.Hour, c.Resolve.Tolerance)

	p, err := c.Priority()
	require.NoError(t, err)
	assert.Equal(t, kernel.DefaultPriority, p)
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
search_roots: [/data/spice, /mnt/kernels]
download_dir: /tmp/dl
catalogs: [naif.yaml]
fetch:
  retries: 5
  timeout: 2m
  initial_backoff: 1s
resolve:
  tolerance: 0s
metakernel:
  priority: [lsk, spk]
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/spice", "/mnt/kernels"}, c.SearchRoots)
	assert.Equal(t, "/tmp/dl", c.DownloadDir)
	assert.Equal(t, []string{"naif.yaml"}, c.Catalogs)
	assert.Equal(t, 5, c.Fetch.Retries)
	assert.Equal(t, 2*time.Minute, c.Fetch.Timeout)
	assert.Equal(t, time.Second, c.Fetch.InitialBackoff)
	assert.Equal(t, 30*time.Second, c.Fetch.MaxBackoff, "unset keys keep defaults")
	assert.Zero(t, c.Resolve.Tolerance)

	p, err := c.Priority()
	require.NoError(t, err)
	assert.Equal(t, kernel.Priority{kernel.LSK, kernel.SPK}, p)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "fetch:\n  retries: 5\ndownload_dir: /from/file\n")
	t.Setenv("FURNISH_FETCH_RETRIES", "1")
	t.Setenv("SPICE_DOWNLOADS", "/from/env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Fetch.Retries)
	assert.Equal(t, "/from/env", c.DownloadDir)
}

func TestLoad_SPICEPATH(t *testing.T) {
	isolate(t)
	t.Setenv("SPICEPATH", "/a"+string(os.PathListSeparator)+"/b"+string(os.PathListSeparator))

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, c.SearchRoots)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, "database: ~/spice/furnish.db\n")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "spice", "furnish.db"), c.Database)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		body string
	}{
		{"negative retries", "fetch:\n  retries: -1\n"},
		{"zero concurrency", "fetch:\n  concurrency: 0\n"},
		{"negative tolerance", "resolve:\n  tolerance: -1h\n"},
		{"unknown ktype", "metakernel:\n  priority: [spk, bogus]\n"},
		{"duplicate ktype", "metakernel:\n  priority: [spk, SPK]\n"},
		{"bad duration", "fetch:\n  timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

package kernel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDescriber struct {
	calls int
	fail  int
	meta  map[string]Metadata
}

func (d *countingDescriber) Describe(_ context.Context, name string) (Metadata, bool, error) {
	d.calls++
	if d.fail > 0 {
		d.fail--
		return Metadata{}, false, errors.New("catalog busy")
	}
	m, ok := d.meta[name]
	return m, ok, nil
}

func TestFile_MetadataIsMemoized(t *testing.T) {
	d := &countingDescriber{meta: map[string]Metadata{
		"de440.bsp": {Range: span(0, 10), Version: IntVersion(440)},
	}}
	f := LookupFile("de440.bsp", d)

	for i := 0; i < 3; i++ {
		m, err := f.Metadata(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SPK, m.KType, "ktype inferred from extension")
		assert.Equal(t, "440", m.Version.String())
	}
	assert.Equal(t, 1, d.calls)
}

func TestFile_UnknownNameIsMemoized(t *testing.T) {
	d := &countingDescriber{}
	f := LookupFile("missing.bsp", d)

	_, err := f.Metadata(context.Background())
	require.ErrorIs(t, err, ErrUnknownKernel)
	_, err = f.Metadata(context.Background())
	require.ErrorIs(t, err, ErrUnknownKernel)
	assert.Equal(t, 1, d.calls)
}

func TestFile_TransientErrorIsRetried(t *testing.T) {
	d := &countingDescriber{fail: 1, meta: map[string]Metadata{"a.tf": {}}}
	f := LookupFile("a.tf", d)

	_, err := f.Metadata(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownKernel)

	m, err := f.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FK, m.KType)
	assert.Equal(t, 2, d.calls)
}

func TestFile_KTypeDoesNotLookUp(t *testing.T) {
	d := &countingDescriber{}
	f := LookupFile("cassini.bc", d)
	assert.Equal(t, CK, f.KType())
	assert.Zero(t, d.calls)
}

func TestFile_ExistsRechecksDisk(t *testing.T) {
	f := NewFile("a.tf", Metadata{})
	assert.False(t, f.Exists(), "no local path")

	p := filepath.Join(t.TempDir(), "a.tf")
	f.SetLocalPath(p)
	assert.False(t, f.Exists(), "path set but file absent")

	require.NoError(t, os.WriteFile(p, []byte("KPL/FK\n"), 0o644))
	assert.True(t, f.Exists())

	require.NoError(t, os.Remove(p))
	assert.False(t, f.Exists())
}

func TestFile_ExistsRejectsDirectory(t *testing.T) {
	f := NewFile("dir.tf", Metadata{}, WithLocalPath(t.TempDir()))
	assert.False(t, f.Exists())
}

func TestDescribers_FirstHitWins(t *testing.T) {
	first := &countingDescriber{meta: map[string]Metadata{"a.bsp": {Family: "first"}}}
	second := &countingDescriber{meta: map[string]Metadata{"a.bsp": {Family: "second"}, "b.bsp": {Family: "second"}}}
	ds := Describers{first, second}

	m, ok, err := ds.Describe(context.Background(), "a.bsp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", m.Family)

	m, ok, err = ds.Describe(context.Background(), "b.bsp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", m.Family)

	_, ok, err = ds.Describe(context.Background(), "c.bsp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteSources(t *testing.T) {
	u, err := StaticURL("https://example.org/a.bsp").URL(context.Background(), "a.bsp")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/a.bsp", u)

	fn := URLFunc(func(_ context.Context, name string) (string, error) {
		return "https://mirror.example.org/" + name, nil
	})
	u, err = fn.URL(context.Background(), "b.bsp")
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.org/b.bsp", u)
}

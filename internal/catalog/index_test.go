package catalog

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/furnish/internal/kernel"
)

type fixtureOpener struct {
	pages map[string]string
	opens atomic.Int32
}

func (o *fixtureOpener) Open(_ context.Context, url string) (io.ReadCloser, error) {
	o.opens.Add(1)
	page, ok := o.pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(page)), nil
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func TestParseIndex_Pre(t *testing.T) {
	rows, err := ParseIndex(strings.NewReader(readFixture(t, "index_pre.html")))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "aareadme.txt", rows[0].Name)
	assert.Equal(t, int64(12<<10), rows[0].Size)

	assert.Equal(t, "de440.bsp", rows[2].Name)
	assert.Equal(t, "de440.bsp", rows[2].Href)
	assert.Equal(t, time.Date(2020, 6, 25, 13, 42, 0, 0, time.UTC), rows[2].Modified)
	assert.Equal(t, int64(114<<20), rows[2].Size)
	assert.False(t, rows[2].Dir)

	assert.Equal(t, "a_old_versions", rows[3].Name)
	assert.True(t, rows[3].Dir)
	assert.Zero(t, rows[3].Size)
}

func TestParseIndex_Table(t *testing.T) {
	rows, err := ParseIndex(strings.NewReader(readFixture(t, "index_table.html")))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "naif0011.tls", rows[0].Name)
	assert.Equal(t, time.Date(2015, 4, 24, 9, 12, 0, 0, time.UTC), rows[0].Modified)
	assert.Equal(t, "naif0012.tls", rows[1].Name)
	assert.Equal(t, int64(5222), rows[1].Size)
}

func TestIndexScanner_ScanCachesListings(t *testing.T) {
	const url = "https://naif.example.org/spk/planets/"
	opener := &fixtureOpener{pages: map[string]string{url: readFixture(t, "index_pre.html")}}
	scanner, err := NewIndexScanner(opener, 4, nil)
	require.NoError(t, err)

	entries, err := scanner.Scan(context.Background(), url, NaifGenericRules)
	require.NoError(t, err)
	require.Len(t, entries, 2, "readme and directories are not kernels")

	de440 := entries[1]
	assert.Equal(t, "de440.bsp", de440.Name)
	assert.Equal(t, kernel.SPK, de440.KType)
	assert.Equal(t, "https://naif.example.org/spk/planets/de440.bsp", de440.URL)
	assert.Equal(t, "440", de440.Version.String())
	assert.Equal(t, "de", de440.Family)
	assert.Equal(t, 2020, de440.Released.Year(), "listing date wins over rules")
	assert.Zero(t, de440.Integrity.Size)

	_, err = scanner.Scan(context.Background(), url, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), opener.opens.Load())
}

func TestIndexScanner_OpenError(t *testing.T) {
	scanner, err := NewIndexScanner(&fixtureOpener{}, 0, nil)
	require.NoError(t, err)
	_, err = scanner.List(context.Background(), "https://missing.example.org/")
	assert.ErrorContains(t, err, "open index")
}

func TestParseSize(t *testing.T) {
	assert.Equal(t, int64(0), parseSize("-"))
	assert.Equal(t, int64(512), parseSize("512"))
	assert.Equal(t, int64(1536), parseSize("1.5K"))
	assert.Equal(t, int64(1<<30), parseSize("1G"))
	assert.Equal(t, int64(0), parseSize("huge"))
}

func TestRules(t *testing.T) {
	ctx := context.Background()

	m, ok, err := NaifGenericRules.Describe(ctx, "de440s.bsp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, kernel.SPK, m.KType)
	assert.Equal(t, "440", m.Version.String())

	m, ok, err = NaifGenericRules.Describe(ctx, "earth_20200101_20221231_20220914.bpc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), m.Released)
	assert.Equal(t, []int{3000}, m.IDs)

	_, ok, err = NaifGenericRules.Describe(ctx, "cassini.bc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRules_FamilyGroupAndEnrich(t *testing.T) {
	rules := Rules{MustRule(`^(?P<family>[a-z]+)_v(?P<version>[\d.]+)\.tf$`, kernel.Metadata{})}

	m, ok, err := rules.Describe(context.Background(), "cas_v4.3.tf")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cas", m.Family)
	assert.Equal(t, kernel.FK, m.KType)
	assert.Equal(t, "4.3", m.Version.String())

	kept := rules.Enrich("cas_v4.3.tf", kernel.Metadata{Version: kernel.IntVersion(9)})
	assert.Equal(t, "9", kept.Version.String(), "explicit metadata wins")
	assert.Equal(t, "cas", kept.Family)
}

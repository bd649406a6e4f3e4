package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/kernel"
)

func TestImportEntries_RoundTripsMetadata(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := catalog.Entry{
		Name: "de440.bsp",
		Metadata: kernel.Metadata{
			KType:    kernel.SPK,
			Range:    kernel.Between(date(1549, 12, 31), date(2650, 1, 25)),
			IDs:      []int{10, 399, 301},
			Released: date(2020, 12, 1),
			Version:  kernel.IntVersion(440),
			Family:   "de",
			URL:      "https://naif.jpl.nasa.gov/pub/naif/generic_kernels/spk/planets/de440.bsp",
			Subdir:   "spk",
			Integrity: kernel.Integrity{
				Size:    114294784,
				SHA256:  "ABCDEF",
				Adler32: "0A0B0C0D",
			},
			Properties: map[string]string{"mission": "generic"},
		},
	}

	n, err := s.ImportEntries(ctx, []catalog.Entry{want})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok, err := s.Describe(ctx, "de440.bsp")
	require.NoError(t, err)
	require.True(t, ok)

	// ids come back sorted; checksums lower-cased.
	want.IDs = []int{10, 301, 399}
	want.Integrity.SHA256 = "abcdef"
	want.Integrity.Adler32 = "0a0b0c0d"
	if diff := cmp.Diff(want.Metadata, got, cmp.AllowUnexported(kernel.Version{})); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe_Unknown(t *testing.T) {
	s := createTestStore(t)
	_, ok, err := s.Describe(context.Background(), "nope.bsp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImportEntries_ReplacesExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ImportEntries(ctx, []catalog.Entry{createTestEntry("a.bsp", kernel.SPK, 1, 2)})
	require.NoError(t, err)
	before, err := s.CandidatesFor(ctx, kernel.SPK, nil)
	require.NoError(t, err)
	require.Len(t, before, 1)

	_, err = s.ImportEntries(ctx, []catalog.Entry{createTestEntry("a.bsp", kernel.SPK, 3)})
	require.NoError(t, err)

	m, ok, err := s.Describe(ctx, "a.bsp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{3}, m.IDs)

	after, err := s.CandidatesFor(ctx, kernel.SPK, nil)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.NotSame(t, before[0], after[0], "replaced entry must get a fresh file")
}

func TestImportEntries_RejectsBadEntryAtomically(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bad := createTestEntry("b.bsp", kernel.SPK)
	bad.Range = kernel.Between(date(2020, 1, 2), date(2020, 1, 1))

	_, err := s.ImportEntries(ctx, []catalog.Entry{createTestEntry("a.bsp", kernel.SPK), bad})
	require.Error(t, err)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}

func TestCandidatesFor_FiltersByTypeAndIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ImportEntries(ctx, []catalog.Entry{
		createTestEntry("mars.bsp", kernel.SPK, 499, 4),
		createTestEntry("de440.bsp", kernel.SPK),
		createTestEntry("moon.bsp", kernel.SPK, 301),
		createTestEntry("naif0012.tls", kernel.LSK),
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		ktype kernel.KType
		ids   []int
		want  []string
	}{
		{"all spk", kernel.SPK, nil, []string{"de440.bsp", "mars.bsp", "moon.bsp"}},
		{"mars ids keep generic", kernel.SPK, []int{499}, []string{"de440.bsp", "mars.bsp"}},
		{"any of several ids", kernel.SPK, []int{301, 4}, []string{"de440.bsp", "mars.bsp", "moon.bsp"}},
		{"other type", kernel.LSK, []int{499}, []string{"naif0012.tls"}},
		{"every type", "", nil, []string{"de440.bsp", "mars.bsp", "moon.bsp", "naif0012.tls"}},
		{"no match", kernel.CK, nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := s.CandidatesFor(ctx, tt.ktype, tt.ids)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kernel.Names(files))
		})
	}
}

func TestCandidatesFor_SharesFileInstances(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEntry("de440.bsp", kernel.SPK)
	e.URL = "https://example.test/de440.bsp"
	_, err := s.ImportEntries(ctx, []catalog.Entry{e})
	require.NoError(t, err)

	first, err := s.CandidatesFor(ctx, kernel.SPK, nil)
	require.NoError(t, err)
	first[0].SetLocalPath("/k/de440.bsp")

	second, err := s.CandidatesFor(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, "/k/de440.bsp", second[0].LocalPath())

	url, err := second[0].Remote().URL(ctx, "de440.bsp")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/de440.bsp", url)
}

func TestStore_ServesSetSelection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	older := createTestEntry("de430.bsp", kernel.SPK)
	older.Range = kernel.Between(date(1550, 1, 1), date(2650, 1, 1))
	older.Version = kernel.IntVersion(430)
	newer := createTestEntry("de440.bsp", kernel.SPK)
	newer.Range = kernel.Between(date(1550, 1, 1), date(2650, 1, 1))
	newer.Version = kernel.IntVersion(440)
	_, err := s.ImportEntries(ctx, []catalog.Entry{older, newer})
	require.NoError(t, err)

	set := kernel.NewSet("planets", kernel.SPK, kernel.WithSource(s))
	files, err := set.Resolve(ctx, kernel.Over(kernel.Between(date(2000, 1, 1), date(2001, 1, 1))))
	require.NoError(t, err)
	assert.Equal(t, []string{"de440.bsp"}, kernel.Names(files))
}

func TestDeleteKernel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ImportEntries(ctx, []catalog.Entry{createTestEntry("a.bsp", kernel.SPK, 1)})
	require.NoError(t, err)

	ok, err := s.DeleteKernel(ctx, "a.bsp")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteKernel(ctx, "a.bsp")
	require.NoError(t, err)
	assert.False(t, ok)

	var ids int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM kernel_ids").Scan(&ids))
	assert.Zero(t, ids, "ids cascade with the file")
}

func TestImportCatalog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c := catalog.New()
	require.NoError(t, c.Add(createTestEntry("naif0012.tls", kernel.LSK)))
	require.NoError(t, c.Add(createTestEntry("pck00011.tpc", kernel.PCK, 399)))

	n, err := s.ImportCatalog(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "naif0012.tls", entries[0].Name)
	assert.Equal(t, []int{399}, entries[1].IDs)
}

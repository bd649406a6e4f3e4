package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/kernel"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// createTestEntry creates a catalog entry with minimal required fields.
func createTestEntry(name string, ktype kernel.KType, ids ...int) catalog.Entry {
	return catalog.Entry{
		Name: name,
		Metadata: kernel.Metadata{
			KType: ktype,
			IDs:   ids,
		},
	}
}

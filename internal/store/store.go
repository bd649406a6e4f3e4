package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/furnish/internal/kernel"
)

//go:embed schema.sql
var schemaSQL string

// ErrSchemaTooNew is returned when the database was written by a newer
// build whose catalog or journal layout this one does not understand.
var ErrSchemaTooNew = errors.New("database schema is newer than this build")

// migration upgrades a kernel database to version. Every step must be safe
// on a database created from the current schema.sql, because a new file
// starts at user_version 0 with the latest tables already in place.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "index kernel_ids by body", indexCatalogBodies},
	{2, "record query ids in the journal", addJournalQueryIDs},
}

// currentSchemaVersion is the user_version of a fully migrated database.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Store holds the kernel catalog and the transition journal in one SQLite
// file. Catalog lookups are reads on the hot path of every resolution, so
// the file runs in WAL mode and readers never wait for a journal write.
type Store struct {
	db *sql.DB

	// files hands out one *kernel.File per catalogued name, so a local
	// path found by the fetch cache survives between resolutions.
	mu    sync.Mutex
	files map[string]*kernel.File
}

// Open opens the kernel database at path, creating it if needed, and
// brings its catalog and journal tables up to the current layout.
// Opening an already migrated database changes nothing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open kernel database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to kernel database: %w", err)
	}

	// One connection: SQLite has a single writer, and journal writes and
	// catalog imports must not interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, files: make(map[string]*kernel.File)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		// kernel_ids and transition_ops cascade from their parents.
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: version %d, this build knows %d", ErrSchemaTooNew, version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create catalog and journal tables: %w", err)
	}
	return migrate(db, version)
}

// migrate runs every migration above from, each in its own transaction
// together with the user_version bump, so an interrupted upgrade resumes
// at the first step that did not commit.
func migrate(db *sql.DB, from int) error {
	for _, m := range migrations {
		if m.version <= from {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: commit: %w", m.version, err)
		}
	}
	return nil
}

// indexCatalogBodies lets id-filtered candidate queries find the files for
// a body without scanning every kernel_ids row.
func indexCatalogBodies(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_kernel_ids_body ON kernel_ids(body_id)`)
	return err
}

// addJournalQueryIDs adds the body ids a transition was furnished for.
// Older rows read back as a query over every body.
func addJournalQueryIDs(tx *sql.Tx) error {
	ok, err := hasColumn(tx, "transitions", "ids")
	if err != nil || ok {
		return err
	}
	_, err = tx.Exec(`ALTER TABLE transitions ADD COLUMN ids TEXT NOT NULL DEFAULT '[]'`)
	return err
}

func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	return n > 0, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

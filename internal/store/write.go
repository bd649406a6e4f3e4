package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/furnish"
)

// ImportEntries upserts catalog entries in one transaction and returns how
// many rows were written. An entry that already exists has its metadata
// and ids replaced.
func (s *Store) ImportEntries(ctx context.Context, entries []catalog.Entry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import entries: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name, err := s.writeEntry(ctx, tx, e)
		if err != nil {
			return 0, fmt.Errorf("import entries: %w", err)
		}
		names = append(names, name)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import entries: commit: %w", err)
	}

	// Metadata on a *kernel.File is immutable; drop replaced instances.
	s.mu.Lock()
	for _, name := range names {
		delete(s.files, name)
	}
	s.mu.Unlock()
	return len(names), nil
}

// ImportCatalog imports every entry of c.
func (s *Store) ImportCatalog(ctx context.Context, c *catalog.Catalog) (int, error) {
	return s.ImportEntries(ctx, c.Entries())
}

func (s *Store) writeEntry(ctx context.Context, tx *sql.Tx, e catalog.Entry) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(e.Name))
	if name == "" {
		return "", fmt.Errorf("entry has no name")
	}
	m := e.Metadata
	if m.KType == "" {
		return "", fmt.Errorf("%s: no kernel type", name)
	}
	if !m.Range.Valid() {
		return "", fmt.Errorf("%s: invalid range %s", name, m.Range)
	}
	props, err := marshalProperties(m.Properties)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kernel_files
		(name, ktype, start_time, end_time, released, version, family, url, subdir, size, sha256, adler32, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ktype = excluded.ktype,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			released = excluded.released,
			version = excluded.version,
			family = excluded.family,
			url = excluded.url,
			subdir = excluded.subdir,
			size = excluded.size,
			sha256 = excluded.sha256,
			adler32 = excluded.adler32,
			properties = excluded.properties
	`,
		name,
		string(m.KType),
		formatTime(m.Range.Start),
		formatTime(m.Range.End),
		formatTime(m.Released),
		m.Version.String(),
		m.Family,
		m.URL,
		m.Subdir,
		m.Integrity.Size,
		strings.ToLower(m.Integrity.SHA256),
		strings.ToLower(m.Integrity.Adler32),
		props,
	)
	if err != nil {
		return "", fmt.Errorf("write kernel %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kernel_ids WHERE name = ?`, name); err != nil {
		return "", fmt.Errorf("clear ids for %s: %w", name, err)
	}
	for _, id := range m.IDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kernel_ids (name, body_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, name, id)
		if err != nil {
			return "", fmt.Errorf("write id %d for %s: %w", id, name, err)
		}
	}
	return name, nil
}

// DeleteKernel removes a catalog entry. It reports whether the name was
// present.
func (s *Store) DeleteKernel(ctx context.Context, name string) (bool, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	res, err := s.db.ExecContext(ctx, `DELETE FROM kernel_files WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete kernel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete kernel: rows affected: %w", err)
	}
	s.mu.Lock()
	delete(s.files, name)
	s.mu.Unlock()
	return n > 0, nil
}

// RecordTransition implements furnish.Journal. The transition and its
// operations are written in one transaction. Uses ON CONFLICT(id) DO
// NOTHING for idempotency: recording the same transition twice is a no-op.
func (s *Store) RecordTransition(ctx context.Context, t *furnish.Transition) error {
	files, err := marshalNames(t.Files)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	ids, err := marshalIDs(t.IDs)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write transition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO transitions
		(id, seq, recipe, start_time, end_time, ids, outcome, previous, files, fingerprint, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		t.ID,
		t.Seq,
		t.Recipe,
		formatTime(t.Range.Start),
		formatTime(t.Range.End),
		ids,
		string(t.Outcome),
		t.Previous,
		files,
		t.Fingerprint,
		t.Error,
		formatTime(t.At),
	)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write transition: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil
	}

	for i, op := range t.Ops {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transition_ops
			(transition_id, position, op, name, path, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.ID, i, string(op.Op), op.Name, op.Path, op.Err)
		if err != nil {
			return fmt.Errorf("write transition op %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write transition: commit: %w", err)
	}
	return nil
}

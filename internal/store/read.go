package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/kernel"
)

const kernelColumns = `name, ktype, start_time, end_time, released, version, family, url, subdir, size, sha256, adler32, properties`

type rowScanner interface {
	Scan(dest ...any) error
}

// Describe implements kernel.Describer.
func (s *Store) Describe(ctx context.Context, name string) (kernel.Metadata, bool, error) {
	name = norm.NFC.String(name)
	row := s.db.QueryRowContext(ctx, `SELECT `+kernelColumns+` FROM kernel_files WHERE name = ?`, name)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return kernel.Metadata{}, false, nil
	}
	if err != nil {
		return kernel.Metadata{}, false, err
	}
	ids, err := s.readIDs(ctx, name)
	if err != nil {
		return kernel.Metadata{}, false, err
	}
	e.IDs = ids
	return e.Metadata, true, nil
}

// CandidatesFor implements kernel.Source. An empty ktype matches every
// type. Files with no recorded ids match any id query. Results are ordered
// by name.
func (s *Store) CandidatesFor(ctx context.Context, ktype kernel.KType, ids []int) ([]*kernel.File, error) {
	var (
		where []string
		args  []any
	)
	if ktype != "" {
		where = append(where, "f.ktype = ?")
		args = append(args, string(ktype))
	}
	if len(ids) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		where = append(where, `(NOT EXISTS (SELECT 1 FROM kernel_ids i WHERE i.name = f.name)
			OR EXISTS (SELECT 1 FROM kernel_ids i WHERE i.name = f.name AND i.body_id IN (`+marks+`)))`)
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query := `SELECT ` + prefixed("f.", kernelColumns) + ` FROM kernel_files f`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY f.name COLLATE BINARY ASC`

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*kernel.File, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.file(e))
	}
	return out, nil
}

// Entries returns every catalogued kernel ordered by name.
// Returns an empty slice (not nil) if the catalog is empty.
func (s *Store) Entries(ctx context.Context) ([]catalog.Entry, error) {
	return s.queryEntries(ctx, `SELECT `+kernelColumns+` FROM kernel_files ORDER BY name COLLATE BINARY ASC`)
}

// queryEntries runs query and attaches ids to each entry. Rows are drained
// before ids are read because the pool holds a single connection.
func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]catalog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query kernels: %w", err)
	}
	entries := []catalog.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate kernels: %w", err)
	}
	rows.Close()

	for i := range entries {
		ids, err := s.readIDs(ctx, entries[i].Name)
		if err != nil {
			return nil, err
		}
		entries[i].IDs = ids
	}
	return entries, nil
}

func (s *Store) readIDs(ctx context.Context, name string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body_id FROM kernel_ids WHERE name = ? ORDER BY body_id ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// file returns the shared instance for e.Name, creating it on first use.
func (s *Store) file(e catalog.Entry) *kernel.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[e.Name]; ok {
		return f
	}
	var opts []kernel.FileOption
	if e.URL != "" {
		opts = append(opts, kernel.WithRemote(kernel.StaticURL(e.URL)))
	}
	f := kernel.NewFile(e.Name, e.Metadata, opts...)
	s.files[e.Name] = f
	return f
}

func scanEntry(row rowScanner) (catalog.Entry, error) {
	var (
		e                      catalog.Entry
		ktype, start, end, rel string
		version, props         string
	)
	m := &e.Metadata
	err := row.Scan(
		&e.Name, &ktype, &start, &end, &rel, &version,
		&m.Family, &m.URL, &m.Subdir,
		&m.Integrity.Size, &m.Integrity.SHA256, &m.Integrity.Adler32,
		&props,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Entry{}, err
		}
		return catalog.Entry{}, fmt.Errorf("scan kernel: %w", err)
	}
	m.KType = kernel.KType(ktype)
	if m.Range, err = parseRange(start, end); err != nil {
		return catalog.Entry{}, fmt.Errorf("kernel %s: %w", e.Name, err)
	}
	if m.Released, err = parseTime(rel); err != nil {
		return catalog.Entry{}, fmt.Errorf("kernel %s: %w", e.Name, err)
	}
	m.Version = kernel.ParseVersion(version)
	if m.Properties, err = unmarshalProperties(props); err != nil {
		return catalog.Entry{}, fmt.Errorf("kernel %s: %w", e.Name, err)
	}
	return e, nil
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
// Engines resume their clock from it with furnish.NewClockAt.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transitions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// ListTransitions returns up to limit of the most recent transitions in
// ascending seq order. A limit of zero or less returns every transition.
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ListTransitions(ctx context.Context, limit int) ([]furnish.Transition, error) {
	return s.queryTransitions(ctx, "", limit)
}

// RecipeTransitions is ListTransitions restricted to one recipe name.
func (s *Store) RecipeTransitions(ctx context.Context, recipe string, limit int) ([]furnish.Transition, error) {
	return s.queryTransitions(ctx, recipe, limit)
}

func (s *Store) queryTransitions(ctx context.Context, recipe string, limit int) ([]furnish.Transition, error) {
	query := `
		SELECT id, seq, recipe, start_time, end_time, ids, outcome, previous, files, fingerprint, error, at
		FROM transitions`
	var args []any
	if recipe != "" {
		query += ` WHERE recipe = ?`
		args = append(args, recipe)
	}
	// Newest first so LIMIT keeps the most recent; reversed below.
	query += ` ORDER BY seq DESC, id COLLATE BINARY DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	transitions := []furnish.Transition{}
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	rows.Close()

	for i, j := 0, len(transitions)-1; i < j; i, j = i+1, j-1 {
		transitions[i], transitions[j] = transitions[j], transitions[i]
	}
	for i := range transitions {
		ops, err := s.readOps(ctx, transitions[i].ID)
		if err != nil {
			return nil, err
		}
		transitions[i].Ops = ops
	}
	return transitions, nil
}

func (s *Store) readOps(ctx context.Context, transitionID string) ([]furnish.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op, name, path, error FROM transition_ops
		WHERE transition_id = ?
		ORDER BY position ASC
	`, transitionID)
	if err != nil {
		return nil, fmt.Errorf("query transition ops: %w", err)
	}
	defer rows.Close()

	var ops []furnish.Operation
	for rows.Next() {
		var op furnish.Operation
		var kind string
		if err := rows.Scan(&kind, &op.Name, &op.Path, &op.Err); err != nil {
			return nil, fmt.Errorf("scan transition op: %w", err)
		}
		op.Op = furnish.Op(kind)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition ops: %w", err)
	}
	return ops, nil
}

func scanTransition(row rowScanner) (furnish.Transition, error) {
	var (
		t                          furnish.Transition
		start, end, at, files, ids string
		outcome                    string
	)
	err := row.Scan(&t.ID, &t.Seq, &t.Recipe, &start, &end, &ids, &outcome, &t.Previous, &files, &t.Fingerprint, &t.Error, &at)
	if err != nil {
		return furnish.Transition{}, fmt.Errorf("scan transition: %w", err)
	}
	t.Outcome = furnish.Outcome(outcome)
	if t.Range, err = parseRange(start, end); err != nil {
		return furnish.Transition{}, fmt.Errorf("transition %s: %w", t.ID, err)
	}
	if t.At, err = parseTime(at); err != nil {
		return furnish.Transition{}, fmt.Errorf("transition %s: %w", t.ID, err)
	}
	if t.Files, err = unmarshalNames(files); err != nil {
		return furnish.Transition{}, fmt.Errorf("transition %s: %w", t.ID, err)
	}
	if t.IDs, err = unmarshalIDs(ids); err != nil {
		return furnish.Transition{}, fmt.Errorf("transition %s: %w", t.ID, err)
	}
	return t, nil
}

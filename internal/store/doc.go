// Package store provides SQLite-backed storage for the kernel catalog and
// the transition journal.
//
// The store holds:
//   - Kernel files: catalog metadata keyed by file name
//   - Kernel ids: the bodies each file provides data for
//   - Transitions: one record per furnish or unload, with its toolkit calls
//
// A Store is a kernel.Source and a kernel.Describer, so recipes can select
// from an imported catalog without loading YAML on every run. It is also a
// furnish.Journal.
//
// # Ordering
//
// Transitions are ordered by seq, the engine's logical clock, never by the
// wall-clock at column. Ties (which only occur across separate engines
// sharing one database) break on id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

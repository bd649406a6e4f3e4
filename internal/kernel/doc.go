// Package kernel models SPICE kernels and the rules for choosing them.
//
// A Kernel is anything that resolves, for a requested time range, into an
// ordered list of concrete files. There are four kinds:
//
//   - File: one physical kernel, local or remote. Resolves to itself when its
//     coverage intersects the request.
//   - Set: alternative candidates for one logical role (for example "the
//     Saturn satellite SPK"). Resolution picks the fewest candidates that
//     cover the request, preferring newer releases and versions.
//   - Stack: kernels that load in declared order and unload in reverse.
//   - Metakernel: a heterogeneous collection loaded by kernel type priority.
//
// Selection is pure. Given the same candidates and the same range it always
// returns the same files in the same order, or the same error:
// CoverageGapError when some instant of the request has no candidate, and
// AmbiguousSelectionError when two candidates cannot be told apart.
//
// Candidates for a Set come from an explicit list, from a Source (a catalog
// queried by type and body ids), or both.
package kernel

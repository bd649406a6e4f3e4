// Package furnish keeps a toolkit's loaded kernels in step with the
// recipe the caller wants active.
//
// The engine owns one LoadedState per recipe name and a ledger of the files
// currently loaded into the toolkit, in load order. A call to Furnish:
//
//  1. Resolves the recipe for the requested query into an ordered
//     target sequence, deduplicated by file name (first occurrence wins).
//  2. Makes every target file local through the Ensurer, concurrently.
//     Any failure aborts with no state change and no toolkit calls.
//  3. Under the toolkit lock, diffs the target against the ledger. The
//     longest prefix of the target already loaded in the same relative
//     order is kept.
//  4. Unloads every other loaded file, in reverse load order.
//  5. Loads the remaining target files in target order.
//  6. Records the recipe as Loaded and active. The previously active
//     recipe, if different, is marked inactive.
//
// After a successful call the toolkit holds exactly the target, in target
// order, so a later file overrides an earlier one as the recipe intends.
// A loaded file that would sit below a newly loaded one is unloaded and
// loaded again. Furnishing the same recipe twice for the same query issues
// no toolkit calls the second time.
//
// LOCKING:
//
// Each recipe name has its own mutex, so different recipes resolve and
// fetch in parallel. All toolkit calls and every read or write of the ledger
// happen under a single engine-wide mutex, because the toolkit has one
// global kernel pool.
//
// FAILURE:
//
// A toolkit failure stops the transition at the failing operation. The
// ledger reflects exactly the operations that succeeded, the recipe is
// marked Stale, and no recipe is active until the next successful call.
package furnish

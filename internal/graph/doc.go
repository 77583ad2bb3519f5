// Package graph answers structural questions about an indexed codebase:
// who calls a function, what it calls, the shortest call chain between two
// functions, which functions a file defines and which files import it.
//
// The Engine holds a full in-memory snapshot of the persisted graph. Load
// builds a new snapshot and swaps it in with one atomic store, so queries
// running concurrently with a reload see either the old or the new graph.
// Queries made before the first successful Load return ErrGraphNotLoaded.
package graph

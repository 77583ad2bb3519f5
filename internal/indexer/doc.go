// Package indexer coordinates the end-to-end indexing pipeline.
//
// A run plans its scope from the last indexed revision, extracts the code
// graph for the selected files, persists it, and embeds one record per
// function, type, test and commit node.
//
// # Basic Usage
//
//	idx := indexer.New(root, store,
//	    indexer.WithEmbedder(worker),
//	    indexer.WithSourceControl(vcs.New(root)))
//
//	stats, err := idx.IndexProject(ctx, false)
//
// # Incremental Indexing
//
// When the store holds the revision of a previous run and the project is a
// git work tree, only files changed between that revision and HEAD are
// re-extracted. Their old nodes, edges and rows are dropped before the new
// ones are merged. The stored functions of unchanged files are handed to
// the extractor, so calls into and out of the changed files are relinked and
// their callers and callees get fresh call graph fields. A stored call to a
// function whose id moved is dropped until the caller's file changes or the
// next full run.
//
// Outside a repository every run is a full run.
//
// # Concurrency
//
// One run at a time per Indexer. When Config.LockPath is set a file lock
// also serializes runs across processes; a busy lock yields
// ErrIndexInProgress.
package indexer

// Package extractor builds the structural code graph for a set of files.
//
// Extraction runs in three passes. The parse pass reads every Go file in
// parallel and turns its declarations into function, code and test nodes
// with DEFINED_IN edges. The link pass matches call sites to function names
// and emits CALLS edges; it starts only after every parse finished. The
// aggregate pass fills each function's derived call graph fields.
//
// WithKnownFunctions supplies already stored functions of other files. Call
// sites link to them, and those whose call graph fields change are part of
// the output.
//
// Directory nodes and CONTAINS edges come from path structure alone, so
// files in other languages still appear in the directory tree.
//
// Output is sorted by node id and edge key, which makes extraction of
// unchanged input reproduce the same graph.
package extractor

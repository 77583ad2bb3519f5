// Package types provides shared type definitions for the codegraph MCP server.
//
// The graph model is a closed set of node variants, one struct per node type,
// all implementing Node:
//
//	n := &types.FunctionNode{
//	    ID:       types.FunctionID("pkg/a.go", "foo", 3, 1),
//	    Name:     "foo",
//	    FilePath: "pkg/a.go",
//	}
//
// Nodes are persisted as a (type, id, properties) triple. MarshalNode encodes
// the properties and DecodeNode dispatches on the type tag to rebuild the
// variant:
//
//	props, _ := types.MarshalNode(n)
//	back, _ := types.DecodeNode(types.NodeFunction, n.ID, props)
//
// # Identifiers
//
// Node ids are composed from the node's location so re-extracting unchanged
// content reproduces them exactly:
//
//	file:<path>
//	dir:<path>
//	code:<path>:<name>:<line>:<col>
//	func:<path>:<name>:<line>:<col>
//	test:<path>:<name>:<line>:<col>
//	commit:<hash>
//	pr:<number>
//
// Paths are slash-separated and relative to the project root.
//
// # Search
//
// EmbeddingRecord is the searchable row derived from a node and SearchResult
// is a ranked hit over those rows. Similarity is 1 - cosine distance.
package types

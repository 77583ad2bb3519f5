// Package mcp implements the Model Context Protocol (MCP) server for codegraph.
//
// A server is bound to one project root. It exposes these tools:
//   - index_codebase: build or refresh the graph and embeddings
//   - search_code: semantic, metadata or hybrid search
//   - find_similar: nearest neighbours of an embedded node
//   - get_callers / get_callees: direct call relationships
//   - find_call_chain: shortest call path between two functions
//   - get_file_functions: functions defined in a file
//   - get_dependents: files importing a file or its package
//   - get_status: index coverage and the last indexed commit
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Start it with:
//
//	codegraph serve
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "parse configuration file",
//	    "mode": "hybrid",
//	    "node_types": ["function"],
//	    "limit": 5
//	  }
//	}
//
//	Response:
//	{
//	  "mode": "hybrid",
//	  "total": 2,
//	  "results": [
//	    {
//	      "rank": 1,
//	      "node_id": "func:internal/config/config.go:Load:40:1",
//	      "node_type": "function",
//	      "file_path": "internal/config/config.go",
//	      "similarity": 0.82,
//	      "snippet": "func Load(dir string) (*Config, error) {..."
//	    }
//	  ]
//	}
//
// Without a configured embedding worker, semantic matching falls back to a
// case-insensitive text search and similarities are reported as 0.
//
// # Graph tools
//
// Graph tools read an in-memory snapshot that is loaded on first use and
// reloaded after every index_codebase call.
//
//	Request:
//	{"name": "find_call_chain", "arguments": {"from": "func:a.go:main:3:1", "to": "func:b.go:run:9:1"}}
//
//	Response:
//	{"from": "...", "to": "...", "found": true, "calls": 1, "chain": ["func:a.go:main:3:1", "func:b.go:run:9:1"]}
//
// # Error Handling
//
// Errors are returned as MCPError values:
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32001  Node not found
//	-32002  Indexing already in progress
//	-32003  Project not indexed
//	-32004  Empty query
package mcp

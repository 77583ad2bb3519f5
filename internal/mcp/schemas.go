package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var nodeTypeEnum = []string{"file", "directory", "code", "function", "test", "commit", "pull_request"}

func nodeIDProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func limitProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of results to return (1-100)",
		"default":     10,
		"minimum":     1,
		"maximum":     100,
	}
}

func minSimilarityProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "number",
		"description": "Drop results below this cosine similarity (0.0-1.0)",
		"minimum":     0.0,
		"maximum":     1.0,
	}
}

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Build or refresh the code graph and embeddings for the project. Runs incrementally from the last indexed commit unless force_full is set.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force_full": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-extract every file instead of only files changed since the last run",
					"default":     false,
				},
			},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search functions, types, tests and commits by meaning, by attributes, or both",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query. Required for semantic and hybrid mode",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "semantic (vector only), metadata (attribute filters only) or hybrid (both, merged)",
					"enum":        []string{"semantic", "metadata", "hybrid"},
					"default":     "hybrid",
				},
				"limit": limitProperty(),
				"node_types": map[string]interface{}{
					"type":        "array",
					"description": "Only return these node types",
					"items": map[string]interface{}{
						"type": "string",
						"enum": nodeTypeEnum,
					},
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Substring the file path must contain",
				},
				"extension": map[string]interface{}{
					"type":        "string",
					"description": "File extension filter for metadata matches, e.g. go",
				},
				"text_contains": map[string]interface{}{
					"type":        "string",
					"description": "Substring the source text must contain for metadata matches. Hybrid mode defaults it to the query",
				},
				"min_similarity": minSimilarityProperty(),
			},
		},
	}
}

// findSimilarTool returns the tool definition for find_similar
func findSimilarTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_similar",
		Description: "Find the nodes whose embeddings are closest to an indexed node",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"node_id":        nodeIDProperty("Id of an embedded node, e.g. func:internal/a.go:Parse:12:1"),
				"limit":          limitProperty(),
				"min_similarity": minSimilarityProperty(),
			},
			Required: []string{"node_id"},
		},
	}
}

// getCallersTool returns the tool definition for get_callers
func getCallersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_callers",
		Description: "List the functions that call a function directly",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"node_id": nodeIDProperty("Function node id"),
			},
			Required: []string{"node_id"},
		},
	}
}

// getCalleesTool returns the tool definition for get_callees
func getCalleesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_callees",
		Description: "List the functions a function calls directly",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"node_id": nodeIDProperty("Function node id"),
			},
			Required: []string{"node_id"},
		},
	}
}

// findCallChainTool returns the tool definition for find_call_chain
func findCallChainTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_call_chain",
		Description: "Find the shortest chain of calls from one function to another",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"from": nodeIDProperty("Function node id the chain starts at"),
				"to":   nodeIDProperty("Function node id the chain ends at"),
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of calls in the chain",
					"default":     10,
					"minimum":     1,
				},
			},
			Required: []string{"from", "to"},
		},
	}
}

// fileFunctionsTool returns the tool definition for get_file_functions
func fileFunctionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file_functions",
		Description: "List the functions defined in a file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file": nodeIDProperty("Project-relative path or file node id"),
			},
			Required: []string{"file"},
		},
	}
}

// getDependentsTool returns the tool definition for get_dependents
func getDependentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_dependents",
		Description: "List the files that import a file or its package",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file": nodeIDProperty("Project-relative path or file node id"),
			},
			Required: []string{"file"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index coverage, graph size and the last indexed commit",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// explainCodeTool returns the tool definition for explain_code
func explainCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "explain_code",
		Description: "Search the project for a question and have the configured local model explain the matching code in a paragraph or two. Requires explain.command.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Question about the code, e.g. \"how are incremental runs planned\"",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Search results handed to the model (1-100, capped by explain.max_results)",
					"default":     8,
					"minimum":     1,
					"maximum":     100,
				},
				"node_types": map[string]interface{}{
					"type":        "array",
					"description": "Only explain these node types",
					"items": map[string]interface{}{
						"type": "string",
						"enum": nodeTypeEnum,
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

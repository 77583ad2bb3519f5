package chunker

import (
	"strings"
	"testing"

	"github.com/dshills/codegraph-mcp/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() *types.Graph {
	return &types.Graph{
		Nodes: []types.Node{
			&types.FileNode{ID: types.FileID("user.go"), Path: "user.go", Language: "go"},
			&types.DirectoryNode{ID: types.DirectoryID("pkg"), Path: "pkg", Name: "pkg"},
			&types.CodeNode{
				ID:        types.CodeID("user.go", "User", 3, 6),
				Name:      "User",
				Kind:      types.CodeClass,
				FilePath:  "user.go",
				Signature: "type User struct",
				Body:      "type User struct {\n\tName string\n}",
			},
			&types.FunctionNode{
				ID:        types.FunctionID("user.go", "Greet", 7, 1),
				Name:      "Greet",
				FilePath:  "user.go",
				Receiver:  "User",
				Signature: "func (u *User) Greet() string",
				Body:      "func (u *User) Greet() string {\n\treturn \"hi \" + u.Name\n}",
			},
			&types.TestNode{
				ID:        types.TestID("user_test.go", "TestGreet", 5, 1),
				Name:      "TestGreet",
				FilePath:  "user_test.go",
				Framework: "testify",
				Body:      "func TestGreet(t *testing.T) {}",
			},
			&types.CommitNode{ID: types.CommitID("abc123"), Hash: "abc123", Author: "dev", Message: "Add greeting"},
			&types.CommitNode{ID: types.CommitID("empty"), Hash: "empty"},
		},
	}
}

func TestBuildRecords_NodeSelection(t *testing.T) {
	records := New().BuildRecords(sampleGraph())

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.NodeID)
		assert.Nil(t, r.Embedding)
		assert.False(t, r.HasEmbedding())
	}
	assert.Equal(t, []string{
		types.CodeID("user.go", "User", 3, 6),
		types.FunctionID("user.go", "Greet", 7, 1),
		types.TestID("user_test.go", "TestGreet", 5, 1),
		types.CommitID("abc123"),
	}, ids)
}

func TestBuildRecords_Context(t *testing.T) {
	records := New().BuildRecords(sampleGraph())
	byID := make(map[string]types.EmbeddingRecord)
	for _, r := range records {
		byID[r.NodeID] = r
	}

	typeRec := byID[types.CodeID("user.go", "User", 3, 6)]
	assert.Equal(t, types.NodeCode, typeRec.NodeType)
	assert.Equal(t, "user.go", typeRec.FilePath)
	assert.Contains(t, typeRec.SourceText, "// File: user.go")
	assert.Contains(t, typeRec.SourceText, "// Method: func (u *User) Greet() string")

	fnRec := byID[types.FunctionID("user.go", "Greet", 7, 1)]
	assert.Contains(t, fnRec.SourceText, "// Receiver: type User struct")
	assert.Contains(t, fnRec.SourceText, "u.Name")

	testRec := byID[types.TestID("user_test.go", "TestGreet", 5, 1)]
	assert.Contains(t, testRec.SourceText, "// Framework: testify")

	commitRec := byID[types.CommitID("abc123")]
	assert.Empty(t, commitRec.FilePath)
	assert.Contains(t, commitRec.SourceText, "Add greeting")
}

func TestBuildRecords_SignatureFallback(t *testing.T) {
	g := &types.Graph{Nodes: []types.Node{
		&types.FunctionNode{ID: "func:a.go:F:1:1", Name: "F", FilePath: "a.go", Signature: "func F()"},
	}}
	records := New().BuildRecords(g)
	require.Len(t, records, 1)
	assert.True(t, strings.HasSuffix(records[0].SourceText, "func F()"))
}

func TestBuildRecords_Truncates(t *testing.T) {
	body := strings.Repeat("x := 1\n", 200)
	g := &types.Graph{Nodes: []types.Node{
		&types.FunctionNode{ID: "func:a.go:Big:1:1", Name: "Big", FilePath: "a.go", Body: body},
	}}

	records := New(WithMaxTokens(50)).BuildRecords(g)
	require.Len(t, records, 1)
	assert.LessOrEqual(t, len(records[0].SourceText), 50*TokensPerChar)
	assert.True(t, strings.HasSuffix(records[0].SourceText, "x := 1"), "cut at a line boundary")
}

func TestBuildRecords_Nil(t *testing.T) {
	assert.Nil(t, New().BuildRecords(nil))
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 2, EstimateTokenCount("12345678"))
}

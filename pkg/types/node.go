package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// NodeType is the type tag of a graph node.
type NodeType string

const (
	NodeFile        NodeType = "file"
	NodeDirectory   NodeType = "directory"
	NodeCode        NodeType = "code"
	NodeFunction    NodeType = "function"
	NodeTest        NodeType = "test"
	NodeCommit      NodeType = "commit"
	NodePullRequest NodeType = "pull_request"
)

// AllNodeTypes lists every node type in a stable order.
var AllNodeTypes = []NodeType{
	NodeFile, NodeDirectory, NodeCode, NodeFunction, NodeTest, NodeCommit, NodePullRequest,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, known := range AllNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// FileCategory classifies a file by its role in the project.
type FileCategory string

const (
	CategorySource FileCategory = "source"
	CategoryTest   FileCategory = "test"
	CategoryConfig FileCategory = "config"
	CategoryDev    FileCategory = "dev"
	CategoryVendor FileCategory = "vendor"
)

// CodeKind distinguishes class-like from interface-like declarations.
type CodeKind string

const (
	CodeClass     CodeKind = "class"
	CodeInterface CodeKind = "interface"
)

// Node is a typed graph vertex. The set of implementations is closed.
type Node interface {
	NodeID() string
	NodeType() NodeType
	isNode()
}

// FileNode is a tracked source file.
type FileNode struct {
	ID          string       `json:"-"`
	Path        string       `json:"path"`
	Language    string       `json:"language"`
	Size        int64        `json:"size"`
	ContentHash string       `json:"content_hash"`
	Category    FileCategory `json:"category"`
}

// DirectoryNode is a directory below the project root.
type DirectoryNode struct {
	ID   string `json:"-"`
	Path string `json:"path"`
	Name string `json:"name"`
}

// CodeNode is a class or interface declaration.
type CodeNode struct {
	ID          string   `json:"-"`
	Name        string   `json:"name"`
	Kind        CodeKind `json:"kind"`
	FilePath    string   `json:"file_path"`
	Signature   string   `json:"signature"`
	Body        string   `json:"body"`
	Language    string   `json:"language"`
	StartLine   int      `json:"start_line"`
	StartColumn int      `json:"start_column"`
	EndLine     int      `json:"end_line"`
}

// FunctionNode is a function, method or named function literal. The call
// graph fields are filled in by the aggregation pass after all files were
// linked.
type FunctionNode struct {
	ID          string `json:"-"`
	Name        string `json:"name"`
	FilePath    string `json:"file_path"`
	Receiver    string `json:"receiver,omitempty"`
	Signature   string `json:"signature"`
	ReturnType  string `json:"return_type"`
	Access      string `json:"access"`
	Body        string `json:"body"`
	Language    string `json:"language"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`

	Calls               []string `json:"calls"`
	CalledBy            []string `json:"called_by"`
	UsesExternalCallee  bool     `json:"uses_external_callee"`
	InternalCallGraph   []string `json:"internal_call_graph"`
	TransitiveCallDepth int      `json:"transitive_call_depth"`
}

// TestNode is a test declaration inside a test file.
type TestNode struct {
	ID          string `json:"-"`
	Name        string `json:"name"`
	FilePath    string `json:"file_path"`
	Framework   string `json:"framework"`
	Body        string `json:"body"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
}

// CommitNode is a single revision from source control history.
type CommitNode struct {
	ID          string    `json:"-"`
	Hash        string    `json:"hash"`
	Author      string    `json:"author"`
	Date        time.Time `json:"date"`
	Message     string    `json:"message"`
	DiffSummary string    `json:"diff_summary"`
}

// PullRequestNode is a pull request grouping commits.
type PullRequestNode struct {
	ID        string    `json:"-"`
	Number    string    `json:"number"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url"`
	Body      string    `json:"body"`
}

func (n *FileNode) NodeID() string        { return n.ID }
func (n *DirectoryNode) NodeID() string   { return n.ID }
func (n *CodeNode) NodeID() string        { return n.ID }
func (n *FunctionNode) NodeID() string    { return n.ID }
func (n *TestNode) NodeID() string        { return n.ID }
func (n *CommitNode) NodeID() string      { return n.ID }
func (n *PullRequestNode) NodeID() string { return n.ID }

func (*FileNode) NodeType() NodeType        { return NodeFile }
func (*DirectoryNode) NodeType() NodeType   { return NodeDirectory }
func (*CodeNode) NodeType() NodeType        { return NodeCode }
func (*FunctionNode) NodeType() NodeType    { return NodeFunction }
func (*TestNode) NodeType() NodeType        { return NodeTest }
func (*CommitNode) NodeType() NodeType      { return NodeCommit }
func (*PullRequestNode) NodeType() NodeType { return NodePullRequest }

func (*FileNode) isNode()        {}
func (*DirectoryNode) isNode()   {}
func (*CodeNode) isNode()        {}
func (*FunctionNode) isNode()    {}
func (*TestNode) isNode()        {}
func (*CommitNode) isNode()      {}
func (*PullRequestNode) isNode() {}

// FileID returns the id of the file at the project-relative path.
func FileID(path string) string { return "file:" + path }

// DirectoryID returns the id of the directory at the project-relative path.
func DirectoryID(path string) string { return "dir:" + path }

// CodeID returns the id of a class or interface declaration.
func CodeID(path, name string, line, col int) string {
	return positionalID("code", path, name, line, col)
}

// FunctionID returns the id of a function declaration.
func FunctionID(path, name string, line, col int) string {
	return positionalID("func", path, name, line, col)
}

// TestID returns the id of a test declaration.
func TestID(path, name string, line, col int) string {
	return positionalID("test", path, name, line, col)
}

// CommitID returns the id of a commit.
func CommitID(hash string) string { return "commit:" + hash }

// PullRequestID returns the id of a pull request.
func PullRequestID(number string) string { return "pr:" + number }

func positionalID(prefix, path, name string, line, col int) string {
	return prefix + ":" + path + ":" + name + ":" + strconv.Itoa(line) + ":" + strconv.Itoa(col)
}

// MarshalNode encodes the type-specific properties of n. The id is stored
// separately and is not part of the payload.
func MarshalNode(n Node) ([]byte, error) {
	if n == nil {
		return nil, ErrNilNode
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal %s node %s: %w", n.NodeType(), n.NodeID(), err)
	}
	return data, nil
}

// DecodeNode rebuilds a node from its type tag, id and encoded properties.
func DecodeNode(t NodeType, id string, props []byte) (Node, error) {
	var n Node
	switch t {
	case NodeFile:
		n = &FileNode{ID: id}
	case NodeDirectory:
		n = &DirectoryNode{ID: id}
	case NodeCode:
		n = &CodeNode{ID: id}
	case NodeFunction:
		n = &FunctionNode{ID: id}
	case NodeTest:
		n = &TestNode{ID: id}
	case NodeCommit:
		n = &CommitNode{ID: id}
	case NodePullRequest:
		n = &PullRequestNode{ID: id}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, n); err != nil {
			return nil, fmt.Errorf("decode %s node %s: %w", t, id, err)
		}
	}
	return n, nil
}

// NodeFilePath returns the file a node belongs to, or "" for nodes that are
// not tied to a single file.
func NodeFilePath(n Node) string {
	switch v := n.(type) {
	case *FileNode:
		return v.Path
	case *CodeNode:
		return v.FilePath
	case *FunctionNode:
		return v.FilePath
	case *TestNode:
		return v.FilePath
	default:
		return ""
	}
}

package chunker

import (
	"fmt"
	"strings"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

const (
	// MaxTokensPerChunk is the target maximum token count per record
	MaxTokensPerChunk = 1000

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Chunker turns graph nodes into searchable embedding records
type Chunker struct {
	maxTokens int
}

// Option configures a Chunker
type Option func(*Chunker)

// WithMaxTokens caps the estimated token count of each record's source text.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{maxTokens: MaxTokensPerChunk}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildRecords creates one record per function, type, test and commit node in
// g, in node order. Vectors are left nil; the indexer embeds them.
func (c *Chunker) BuildRecords(g *types.Graph) []types.EmbeddingRecord {
	if g == nil {
		return nil
	}

	methods := methodsByReceiver(g.Nodes)
	typeSigs := typeSignatures(g.Nodes)

	records := make([]types.EmbeddingRecord, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		text := c.sourceText(n, methods, typeSigs)
		if text == "" {
			continue
		}
		records = append(records, types.EmbeddingRecord{
			NodeID:     n.NodeID(),
			NodeType:   n.NodeType(),
			FilePath:   types.NodeFilePath(n),
			SourceText: c.truncate(text),
		})
	}
	return records
}

func (c *Chunker) sourceText(n types.Node, methods map[string][]string, typeSigs map[string]string) string {
	switch v := n.(type) {
	case *types.FunctionNode:
		var b strings.Builder
		writeHeader(&b, v.FilePath)
		if v.Receiver != "" {
			if sig, ok := typeSigs[typeKey(v.FilePath, v.Receiver)]; ok {
				fmt.Fprintf(&b, "// Receiver: %s\n", sig)
			}
		}
		b.WriteString(bodyOr(v.Body, v.Signature))
		return b.String()

	case *types.CodeNode:
		var b strings.Builder
		writeHeader(&b, v.FilePath)
		b.WriteString(bodyOr(v.Body, v.Signature))
		for _, m := range methods[typeKey(v.FilePath, v.Name)] {
			fmt.Fprintf(&b, "\n// Method: %s", m)
		}
		return b.String()

	case *types.TestNode:
		var b strings.Builder
		writeHeader(&b, v.FilePath)
		if v.Framework != "" {
			fmt.Fprintf(&b, "// Framework: %s\n", v.Framework)
		}
		b.WriteString(v.Body)
		return b.String()

	case *types.CommitNode:
		if strings.TrimSpace(v.Message) == "" {
			return ""
		}
		text := fmt.Sprintf("commit %s\nAuthor: %s\n\n%s", v.Hash, v.Author, v.Message)
		if v.DiffSummary != "" {
			text += "\n\n" + v.DiffSummary
		}
		return text
	}
	return ""
}

// truncate cuts text to the token budget at a line boundary where possible.
func (c *Chunker) truncate(text string) string {
	limit := c.maxTokens * TokensPerChar
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if i := strings.LastIndexByte(cut, '\n'); i > limit/2 {
		cut = cut[:i]
	}
	return cut
}

func writeHeader(b *strings.Builder, filePath string) {
	if filePath != "" {
		fmt.Fprintf(b, "// File: %s\n", filePath)
	}
}

func bodyOr(body, signature string) string {
	if strings.TrimSpace(body) != "" {
		return body
	}
	return signature
}

func typeKey(filePath, name string) string {
	return filePath + "\x00" + name
}

// methodsByReceiver maps a type (by file and name) to its method signatures.
func methodsByReceiver(nodes []types.Node) map[string][]string {
	out := make(map[string][]string)
	for _, n := range nodes {
		fn, ok := n.(*types.FunctionNode)
		if !ok || fn.Receiver == "" {
			continue
		}
		key := typeKey(fn.FilePath, fn.Receiver)
		out[key] = append(out[key], fn.Signature)
	}
	return out
}

func typeSignatures(nodes []types.Node) map[string]string {
	out := make(map[string]string)
	for _, n := range nodes {
		if cn, ok := n.(*types.CodeNode); ok {
			out[typeKey(cn.FilePath, cn.Name)] = cn.Signature
		}
	}
	return out
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}

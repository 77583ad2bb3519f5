// Package chunker builds the searchable text for graph nodes.
//
// Each function, type, test and commit node becomes one EmbeddingRecord keyed
// by the node id. The text carries a little context so that embeddings of
// small declarations stay distinguishable:
//   - File: the file path of the declaration
//   - Receiver: the type signature a method belongs to
//   - Method: method signatures listed after a type declaration
//
// Text is capped at MaxTokensPerChunk tokens, estimated as chars/4, and cut at
// a line boundary when one is close.
package chunker

package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyText    = errors.New("text cannot be empty")

	// ErrRequestTimeout is returned when a single request gets no reply in time.
	ErrRequestTimeout = errors.New("embedding request timed out")
	// ErrStartupTimeout is returned when the worker never reports ready.
	ErrStartupTimeout = errors.New("embedding worker startup timed out")
	// ErrWorkerExited rejects requests that were outstanding when the worker died.
	ErrWorkerExited = errors.New("embedding worker exited")
	ErrWorkerSpawn  = errors.New("failed to start embedding worker")
	// ErrModelLoad is reported by a worker that could not load its model.
	ErrModelLoad    = errors.New("embedding model failed to load")
	ErrWorkerClosed = errors.New("embedding worker closed")
)

// InferenceError is an error reply from the worker for one request.
type InferenceError struct {
	ID      int64
	Message string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("embedding request %d failed: %s", e.ID, e.Message)
}

// IsRetryable reports whether err is a transient worker failure (timeout or
// crash) rather than a rejection of the input.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var inf *InferenceError
	if errors.As(err, &inf) {
		return false
	}
	return errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrWorkerExited) ||
		errors.Is(err, ErrStartupTimeout)
}

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text    string
	IsQuery bool // queries and documents are embedded with different prefixes
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts   []string
	IsQuery bool
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Model      string
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the last observed embedding dimension, 0 before any result
	Dimension() int

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}, true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes the cache key for text embedded as a query or a document.
func ComputeHash(text string, isQuery bool) string {
	h := sha256.New()
	if isQuery {
		h.Write([]byte("query\x00"))
	} else {
		h.Write([]byte("document\x00"))
	}
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

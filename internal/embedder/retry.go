package embedder

import (
	"context"
	"time"
)

// Retry defaults
const (
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Maximum number of attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns the defaults used while indexing
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// EmbedWithRetry generates an embedding, retrying only timeouts and worker
// crashes. Inference errors are returned immediately.
func EmbedWithRetry(ctx context.Context, e Embedder, config RetryConfig, req EmbeddingRequest) (*Embedding, error) {
	return retryWithBackoff(ctx, config, IsRetryable, func() (*Embedding, error) {
		return e.GenerateEmbedding(ctx, req)
	})
}

// BatchWithRetry generates a batch of embeddings with the same retry policy
// as EmbedWithRetry. The batch is retried as a whole.
func BatchWithRetry(ctx context.Context, e Embedder, config RetryConfig, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return retryWithBackoff(ctx, config, IsRetryable, func() (*BatchEmbeddingResponse, error) {
		return e.GenerateBatch(ctx, req)
	})
}

// retryWithBackoff executes fn with exponential backoff while retryable
// accepts its error. Retry is skipped on context cancellation.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay
	attempts := max(config.MaxRetries, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if retryable != nil && !retryable(err) {
			return zero, err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}

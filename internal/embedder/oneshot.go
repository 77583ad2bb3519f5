package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ErrProcessFailed is returned when a one-shot process exits non-zero
// without a usable reply.
var ErrProcessFailed = errors.New("process failed")

// ProcessConfig describes a command that handles exactly one request: it
// reads a JSON document from stdin until EOF and prints one JSON document.
type ProcessConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // nil inherits the parent environment
	Timeout time.Duration
	Logger  *slog.Logger
}

// RunOnce runs cfg with input on stdin and returns its stdout. Stderr lines
// go to the logger at debug level. On a non-zero exit the output is returned
// together with an ErrProcessFailed error, because these processes report
// failures as JSON on stdout.
func RunOnce(ctx context.Context, cfg ProcessConfig, input []byte) ([]byte, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: command is required", ErrInvalidInput)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = &stderrLogger{logger: logger}
	cmd.WaitDelay = waitDelay
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	start := time.Now()
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && cfg.Timeout > 0 {
			return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, cfg.Command, cfg.Timeout)
		}
		return nil, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Debug("process.exit", "command", cfg.Command, "code", exitErr.ExitCode(), "duration", time.Since(start))
		return stdout.Bytes(), fmt.Errorf("%w: %v", ErrProcessFailed, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerSpawn, err)
	}
	return stdout.Bytes(), nil
}

// oneShotRequest is the input of a one-shot embedding process.
type oneShotRequest struct {
	Text    string `json:"text"`
	IsQuery bool   `json:"is_query"`
}

// oneShotReply is its output; Error is set instead of Embedding on failure.
type oneShotReply struct {
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	Error      string    `json:"error"`
}

// OneShot is an Embedder that starts a fresh process for every text. The
// model is loaded on each call, so it only suits occasional queries; Worker
// is the choice for indexing.
type OneShot struct {
	proc    ProcessConfig
	cache   *Cache
	workers int
	dim     atomic.Int64

	mu    sync.Mutex
	model string
}

// NewOneShot returns a one-shot embedder for cfg. StartupTimeout bounds each
// process, since every process loads the model.
func NewOneShot(cfg WorkerConfig) (*OneShot, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: worker command is required", ErrInvalidInput)
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	return &OneShot{
		proc: ProcessConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Dir:     cfg.Dir,
			Env:     cfg.Env,
			Timeout: cfg.StartupTimeout,
			Logger:  cfg.Logger,
		},
		cache:   NewCache(cfg.CacheSize),
		workers: cfg.BatchWorkers,
		model:   cfg.Model,
	}, nil
}

// GenerateEmbedding implements Embedder.
func (o *OneShot) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	hash := ComputeHash(req.Text, req.IsQuery)
	if cached, ok := o.cache.Get(hash); ok {
		return cached, nil
	}

	input, err := json.Marshal(oneShotRequest{Text: req.Text, IsQuery: req.IsQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	out, runErr := RunOnce(ctx, o.proc, input)

	var reply oneShotReply
	if len(bytes.TrimSpace(out)) > 0 {
		if err := json.Unmarshal(out, &reply); err != nil {
			if runErr != nil {
				return nil, runErr
			}
			return nil, fmt.Errorf("malformed embedding reply: %w", err)
		}
	}
	switch {
	case reply.Error != "":
		return nil, &InferenceError{Message: reply.Error}
	case runErr != nil:
		return nil, runErr
	case len(reply.Embedding) == 0:
		return nil, fmt.Errorf("%w: empty embedding", ErrProcessFailed)
	}

	o.dim.Store(int64(len(reply.Embedding)))
	if reply.Model != "" {
		o.mu.Lock()
		o.model = reply.Model
		o.mu.Unlock()
	}
	emb := &Embedding{
		Vector:    reply.Embedding,
		Dimension: len(reply.Embedding),
		Model:     o.Model(),
		Hash:      hash,
	}
	o.cache.Set(hash, emb)
	return emb, nil
}

// GenerateBatch implements Embedder with one process per text.
func (o *OneShot) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	embeddings, err := batchEmbed(ctx, req, o.workers, o.GenerateEmbedding)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Model: o.Model()}, nil
}

// Dimension implements Embedder.
func (o *OneShot) Dimension() int {
	return int(o.dim.Load())
}

// Model implements Embedder.
func (o *OneShot) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// Close implements Embedder.
func (o *OneShot) Close() error {
	o.cache.Clear()
	return nil
}

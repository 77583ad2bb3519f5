package embedder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultStartupTimeout = 5 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
	DefaultBatchWorkers   = 8
	DefaultMaxLineSize    = 64 << 20

	// waitDelay bounds how long Wait blocks on the pipes of a killed process.
	waitDelay = 5 * time.Second
)

// WorkerConfig describes how to launch the embedding worker process.
type WorkerConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // nil inherits the parent environment

	Model          string
	StartupTimeout time.Duration
	RequestTimeout time.Duration
	CacheSize      int
	BatchWorkers   int
	MaxLineSize    int // longest stdout line accepted
	Logger         *slog.Logger
}

// Worker supervises one long-lived embedding process speaking line-delimited
// JSON over stdio. The process is started lazily by the first request,
// restarted after a crash, and stopped by Close.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger
	cache  *Cache

	startup singleflight.Group
	nextID  atomic.Int64
	spawns  atomic.Int64
	dim     atomic.Int64

	mu     sync.Mutex
	proc   *workerProcess
	model  string
	closed bool
}

// NewWorker returns a supervisor for cfg. No process is started until the
// first request or an explicit Start.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: worker command is required", ErrInvalidInput)
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultMaxLineSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		logger: logger,
		cache:  NewCache(cfg.CacheSize),
		model:  cfg.Model,
	}, nil
}

// Start launches the worker if it is not running and waits for its ready
// handshake. Concurrent callers share one startup.
func (w *Worker) Start(ctx context.Context) error {
	_, err := w.ensureStarted(ctx)
	return err
}

// Ready reports whether a worker process is currently serving requests.
func (w *Worker) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.proc != nil && w.proc.alive()
}

// Spawns returns how many worker processes completed the ready handshake.
func (w *Worker) Spawns() int64 {
	return w.spawns.Load()
}

// Embed sends one text to the worker and waits for its vector.
func (w *Worker) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	p, err := w.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}

	id := w.nextID.Add(1)
	reply := make(chan workerReply, 1)
	if err := p.register(id, reply); err != nil {
		return nil, err
	}

	line, err := json.Marshal(workerRequest{ID: id, Text: text, IsQuery: isQuery})
	if err != nil {
		p.unregister(id)
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := p.write(line); err != nil {
		p.unregister(id)
		return nil, fmt.Errorf("%w: %v", ErrWorkerExited, err)
	}

	timer := time.NewTimer(w.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		w.observe(r)
		return r.embedding, nil
	case <-timer.C:
		p.unregister(id)
		return nil, fmt.Errorf("%w: request %d after %s", ErrRequestTimeout, id, w.cfg.RequestTimeout)
	case <-ctx.Done():
		p.unregister(id)
		return nil, ctx.Err()
	}
}

// GenerateEmbedding implements Embedder.
func (w *Worker) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text, req.IsQuery)
	if cached, ok := w.cache.Get(hash); ok {
		return cached, nil
	}

	vector, err := w.Embed(ctx, req.Text, req.IsQuery)
	if err != nil {
		return nil, err
	}

	emb := &Embedding{
		Vector:    vector,
		Dimension: len(vector),
		Model:     w.Model(),
		Hash:      hash,
	}
	w.cache.Set(hash, emb)
	return emb, nil
}

// GenerateBatch implements Embedder. Texts are sent concurrently and the
// replies are matched back by request id.
func (w *Worker) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := batchEmbed(ctx, req, w.cfg.BatchWorkers, w.GenerateEmbedding)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Model: w.Model()}, nil
}

// batchEmbed runs one for every text with at most workers in flight and
// keeps the input order. The first error cancels the rest.
func batchEmbed(ctx context.Context, req BatchEmbeddingRequest, workers int,
	one func(context.Context, EmbeddingRequest) (*Embedding, error)) ([]*Embedding, error) {
	embeddings := make([]*Embedding, len(req.Texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, text := range req.Texts {
		g.Go(func() error {
			emb, err := one(gctx, EmbeddingRequest{Text: text, IsQuery: req.IsQuery})
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			embeddings[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// Dimension implements Embedder.
func (w *Worker) Dimension() int {
	return int(w.dim.Load())
}

// Model implements Embedder.
func (w *Worker) Model() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

// Close stops the worker process. Outstanding requests fail with
// ErrWorkerExited and later requests with ErrWorkerClosed.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	p := w.proc
	w.proc = nil
	w.mu.Unlock()

	if p != nil {
		p.kill()
		<-p.done
	}
	w.logger.Info("worker.closed", "cached", w.cache.Size())
	w.cache.Clear()
	return nil
}

func (w *Worker) observe(r workerReply) {
	if len(r.embedding) > 0 {
		w.dim.Store(int64(len(r.embedding)))
	}
	if r.model != "" {
		w.mu.Lock()
		w.model = r.model
		w.mu.Unlock()
	}
}

func (w *Worker) ensureStarted(ctx context.Context) (*workerProcess, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWorkerClosed
	}
	if w.proc != nil && w.proc.alive() {
		p := w.proc
		w.mu.Unlock()
		return p, nil
	}
	w.mu.Unlock()

	ch := w.startup.DoChan("start", func() (any, error) {
		return w.spawn()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*workerProcess), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// spawn starts a process and waits for its ready line. A failed startup is
// not cached, so the next request tries again.
func (w *Worker) spawn() (*workerProcess, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWorkerClosed
	}
	if w.proc != nil && w.proc.alive() {
		p := w.proc
		w.mu.Unlock()
		return p, nil
	}
	w.mu.Unlock()

	cmd := exec.Command(w.cfg.Command, w.cfg.Args...)
	cmd.Dir = w.cfg.Dir
	cmd.Env = w.cfg.Env
	cmd.Stderr = &stderrLogger{logger: w.logger}
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerSpawn, err)
	}

	p := &workerProcess{
		cmd:     cmd,
		stdin:   stdin,
		logger:  w.logger.With("pid", cmd.Process.Pid),
		pending: make(map[int64]chan workerReply),
		ready:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	go p.run(stdout, w.cfg.MaxLineSize)

	timer := time.NewTimer(w.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case err := <-p.ready:
		if err != nil {
			p.kill()
			<-p.done
			return nil, err
		}
	case <-timer.C:
		p.kill()
		<-p.done
		return nil, fmt.Errorf("%w after %s", ErrStartupTimeout, w.cfg.StartupTimeout)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		p.kill()
		<-p.done
		return nil, ErrWorkerClosed
	}
	w.proc = p
	w.mu.Unlock()

	w.spawns.Add(1)
	p.logger.Info("worker.ready", "command", w.cfg.Command)

	go func() {
		<-p.done
		w.mu.Lock()
		if w.proc == p {
			w.proc = nil
		}
		w.mu.Unlock()
		p.logger.Warn("worker.exit", "error", p.exitErr)
	}()

	return p, nil
}

// workerProcess is one running worker and its outstanding requests.
type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan workerReply
	exited  bool
	exitErr error

	readyOnce sync.Once
	ready     chan error
	done      chan struct{}
}

func (p *workerProcess) register(id int64, ch chan workerReply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return fmt.Errorf("%w: %v", ErrWorkerExited, p.exitErr)
	}
	p.pending[id] = ch
	return nil
}

func (p *workerProcess) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *workerProcess) unregister(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *workerProcess) write(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (p *workerProcess) kill() {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *workerProcess) signalReady(err error) {
	p.readyOnce.Do(func() {
		p.ready <- err
	})
}

// run reads stdout until the process closes it, then reaps the process and
// fails whatever is still outstanding. A read error kills the process, since
// the stream can no longer be framed.
func (p *workerProcess) run(stdout io.Reader, maxLine int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
	for scanner.Scan() {
		p.handleLine(scanner.Bytes())
	}
	readErr := scanner.Err()
	if readErr != nil {
		p.logger.Warn("worker.read", "error", readErr)
		p.kill()
	}

	err := p.cmd.Wait()
	switch {
	case readErr != nil:
		err = fmt.Errorf("read stdout: %w", readErr)
	case err == nil:
		err = errors.New("process exited")
	}
	p.handleExit(err)
}

func (p *workerProcess) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var msg workerMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		p.logger.Warn("worker.malformed", "error", err, "line", truncate(string(line), 200))
		return
	}

	switch msg.Type {
	case msgReady:
		p.signalReady(nil)
	case msgError:
		p.logger.Error("worker.model_load", "error", msg.Error)
		p.signalReady(fmt.Errorf("%w: %s", ErrModelLoad, msg.Error))
	case msgResult:
		p.resolve(msg)
	default:
		p.logger.Warn("worker.unknown_message", "type", msg.Type)
	}
}

func (p *workerProcess) resolve(msg workerMessage) {
	if msg.ID == nil {
		p.logger.Warn("worker.result.unmatched", "error", msg.Error)
		return
	}

	p.mu.Lock()
	ch, ok := p.pending[*msg.ID]
	delete(p.pending, *msg.ID)
	p.mu.Unlock()
	if !ok {
		// Timed out or canceled; the caller is gone.
		p.logger.Debug("worker.result.late", "id", *msg.ID)
		return
	}

	if msg.Error != "" {
		ch <- workerReply{err: &InferenceError{ID: *msg.ID, Message: msg.Error}}
		return
	}
	ch <- workerReply{embedding: msg.Embedding, model: msg.Model}
}

func (p *workerProcess) handleExit(cause error) {
	p.signalReady(fmt.Errorf("%w before ready: %v", ErrWorkerExited, cause))

	p.mu.Lock()
	p.exited = true
	p.exitErr = cause
	pending := p.pending
	p.pending = make(map[int64]chan workerReply)
	p.mu.Unlock()

	for _, ch := range pending {
		ch <- workerReply{err: fmt.Errorf("%w: %v", ErrWorkerExited, cause)}
	}
	close(p.done)
}

// stderrLogger forwards worker stderr lines to the logger.
type stderrLogger struct {
	logger *slog.Logger
	buf    []byte
}

func (s *stderrLogger) Write(b []byte) (int, error) {
	s.buf = append(s.buf, b...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(s.buf[:i]); len(line) > 0 {
			s.logger.Debug("worker.stderr", "line", string(line))
		}
		s.buf = s.buf[i+1:]
	}
	return len(b), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

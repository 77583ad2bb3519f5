// Package explainer turns search results into a prose explanation by handing
// them to a local language model process.
//
// The process is started once per request. It reads one JSON document from
// stdin:
//
//	{"query": "...", "model": "...", "search_results": [
//	    {"file_path": "...", "node_type": "function", "similarity": 0.82, "source_text": "..."}]}
//
// and prints one JSON document:
//
//	{"success": true, "explanation": "...", "model": "...", "device": "cuda"}
//
// or {"success": false, "error": "..."} on failure.
package explainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/codegraph-mcp/internal/embedder"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

const (
	DefaultModel      = "Qwen/Qwen2.5-Coder-1.5B-Instruct"
	DefaultTimeout    = 5 * time.Minute
	DefaultMaxResults = 8

	// maxSourceRunes caps each snippet handed to the model.
	maxSourceRunes = 600
)

var (
	ErrEmptyQuery = errors.New("query cannot be empty")
	ErrNoResults  = errors.New("no search results to explain")
)

// ModelError is a failure reported by the explanation process itself.
type ModelError struct {
	Model   string
	Message string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("explanation failed (model %s): %s", e.Model, e.Message)
}

// Config describes the explanation process.
type Config struct {
	Command    string
	Args       []string
	Dir        string
	Env        []string
	Model      string
	Timeout    time.Duration // per request, model load included
	MaxResults int           // results passed to the model
	Logger     *slog.Logger
}

// Explanation is the model's answer for one query.
type Explanation struct {
	Query    string
	Text     string
	Model    string
	Device   string
	Sources  []string // node ids handed to the model, in rank order
	Duration time.Duration
}

// Explainer runs the explanation process.
type Explainer struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Explainer, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: explain command is required", embedder.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Explainer{cfg: cfg, logger: logger}, nil
}

// MaxResults is how many results Explain passes on.
func (e *Explainer) MaxResults() int {
	return e.cfg.MaxResults
}

type request struct {
	Query         string         `json:"query"`
	SearchResults []searchResult `json:"search_results"`
	Model         string         `json:"model"`
}

type searchResult struct {
	NodeID     string  `json:"node_id"`
	FilePath   string  `json:"file_path"`
	NodeType   string  `json:"node_type"`
	Similarity float64 `json:"similarity"`
	SourceText string  `json:"source_text"`
}

type reply struct {
	Success     bool   `json:"success"`
	Explanation string `json:"explanation"`
	Model       string `json:"model"`
	Device      string `json:"device"`
	Error       string `json:"error"`
}

// Explain asks the model to explain how the code in results answers query.
// Only the first MaxResults results are sent.
func (e *Explainer) Explain(ctx context.Context, query string, results []types.SearchResult) (*Explanation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	if len(results) > e.cfg.MaxResults {
		results = results[:e.cfg.MaxResults]
	}

	req := request{Query: query, Model: e.cfg.Model, SearchResults: make([]searchResult, len(results))}
	sources := make([]string, len(results))
	for i, r := range results {
		req.SearchResults[i] = searchResult{
			NodeID:     r.NodeID,
			FilePath:   r.FilePath,
			NodeType:   string(r.NodeType),
			Similarity: r.Similarity,
			SourceText: clip(r.SourceText, maxSourceRunes),
		}
		sources[i] = r.NodeID
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	start := time.Now()
	out, runErr := embedder.RunOnce(ctx, embedder.ProcessConfig{
		Command: e.cfg.Command,
		Args:    e.cfg.Args,
		Dir:     e.cfg.Dir,
		Env:     e.cfg.Env,
		Timeout: e.cfg.Timeout,
		Logger:  e.logger,
	}, input)

	var rep reply
	if err := json.Unmarshal(bytes.TrimSpace(out), &rep); err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, fmt.Errorf("malformed explanation reply: %w", err)
	}
	if !rep.Success {
		model := rep.Model
		if model == "" {
			model = e.cfg.Model
		}
		msg := rep.Error
		if msg == "" {
			msg = "no error message"
		}
		return nil, &ModelError{Model: model, Message: msg}
	}

	exp := &Explanation{
		Query:    query,
		Text:     strings.TrimSpace(rep.Explanation),
		Model:    rep.Model,
		Device:   rep.Device,
		Sources:  sources,
		Duration: time.Since(start),
	}
	if exp.Model == "" {
		exp.Model = e.cfg.Model
	}
	e.logger.Info("explain.done",
		"model", exp.Model,
		"device", exp.Device,
		"results", len(results),
		"duration", exp.Duration)
	return exp, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Package vcs reads revision and history information from git.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 30 * time.Second

// ErrNotRepository is returned when the directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Commit is one entry of the history with the files it touched, relative to
// the repository directory the Git was opened on.
type Commit struct {
	Hash    string
	Author  string
	Date    time.Time
	Message string
	Files   []string
}

// Git runs git commands in one directory.
type Git struct {
	dir     string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Git.
type Option func(*Git)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Git) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger used for command failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Git) {
		if l != nil {
			g.logger = l
		}
	}
}

// New returns a Git rooted at dir.
func New(dir string, opts ...Option) *Git {
	g := &Git{dir: dir, timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CurrentRevision returns the full hash of HEAD.
func (g *Git) CurrentRevision(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	return strings.TrimSpace(out), nil
}

// ChangedFiles lists files added, modified or copied between from and to.
// A rename reports the new path. Deleted files are excluded. Paths are
// relative to the directory.
func (g *Git) ChangedFiles(ctx context.Context, from, to string) ([]string, error) {
	return g.diffNames(ctx, from, to, "ACM")
}

// DeletedFiles lists files that exist at from but not at to, including the
// old side of a rename.
func (g *Git) DeletedFiles(ctx context.Context, from, to string) ([]string, error) {
	return g.diffNames(ctx, from, to, "D")
}

func (g *Git) diffNames(ctx context.Context, from, to, filter string) ([]string, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("both revisions are required")
	}
	out, err := g.run(ctx, "diff", "-z", "--name-only", "--relative", "--no-renames", "--diff-filter="+filter, from, to)
	if err != nil {
		return nil, fmt.Errorf("git diff %s..%s: %w", from, to, err)
	}
	return splitNames(out), nil
}

// Commits returns up to limit non-merge commits, newest first.
func (g *Git) Commits(ctx context.Context, limit int) ([]Commit, error) {
	args := []string{
		"log", "-z", "--no-merges", "--name-only", "--relative",
		"--pretty=format:\x1e%H\x1f%an\x1f%aI\x1f%s",
	}
	if limit > 0 {
		args = append(args, fmt.Sprintf("-n%d", limit))
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	return parseLog(out)
}

// parseLog reads `git log -z` output. Each entry starts with the header
// line and lists its paths NUL terminated.
func parseLog(out string) ([]Commit, error) {
	var commits []Commit
	for _, entry := range strings.Split(out, "\x1e") {
		entry = strings.Trim(entry, "\n\x00")
		if entry == "" {
			continue
		}
		header, rest := entry, ""
		if i := strings.IndexAny(entry, "\n\x00"); i >= 0 {
			header, rest = entry[:i], entry[i+1:]
		}
		fields := strings.Split(header, "\x1f")
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected log header %q", header)
		}
		date, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("commit %s: bad date %q: %w", fields[0], fields[2], err)
		}
		commits = append(commits, Commit{
			Hash:    fields[0],
			Author:  fields[1],
			Date:    date,
			Message: fields[3],
			Files:   splitNames(rest),
		})
	}
	return commits, nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		g.logger.Debug("git.fail", "args", args, "err", err, "stderr", strings.TrimSpace(stderr.String()))
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return string(out), nil
}

// splitNames splits NUL separated paths. Paths are taken verbatim, so
// non-ASCII names are not quoted.
func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, "\x00") {
		if name = strings.Trim(name, "\n"); name != "" {
			names = append(names, name)
		}
	}
	return names
}

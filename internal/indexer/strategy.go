package indexer

import (
	"context"
	"fmt"
)

// SourceControl answers revision questions about the indexed directory.
// Paths are relative to the project root.
type SourceControl interface {
	CurrentRevision(ctx context.Context) (string, error)
	ChangedFiles(ctx context.Context, from, to string) ([]string, error)
}

// deletionLister is implemented by source controls that can also report
// files removed between two revisions.
type deletionLister interface {
	DeletedFiles(ctx context.Context, from, to string) ([]string, error)
}

// Plan describes what an index run should re-extract.
type Plan struct {
	// IsIncremental is false when every discoverable file is selected.
	IsIncremental bool
	// ChangedFiles holds the root-relative paths selected by an incremental
	// plan. It is empty for full plans.
	ChangedFiles []string
	// DeletedFiles holds root-relative paths removed since LastCommitHash.
	DeletedFiles []string
	// LastCommitHash is the revision recorded by the previous run, if any.
	LastCommitHash string
	// CurrentCommitHash should be recorded once the run succeeds. It is
	// empty outside a repository.
	CurrentCommitHash string
}

// PlanStrategy decides between a full and an incremental run. It reads the
// commit-hash store but never writes it.
func (idx *Indexer) PlanStrategy(ctx context.Context, forceFull bool) (*Plan, error) {
	last, err := idx.storage.GetLastIndexedCommit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read last indexed commit: %w", err)
	}

	plan := &Plan{LastCommitHash: last}
	if idx.scm == nil {
		return plan, nil
	}

	current, err := idx.scm.CurrentRevision(ctx)
	if err != nil {
		idx.logger.Info("index.plan.no_repository", "root", idx.root, "error", err)
		return plan, nil
	}
	plan.CurrentCommitHash = current

	if forceFull || last == "" {
		return plan, nil
	}

	plan.IsIncremental = true
	if last == current {
		return plan, nil
	}

	changed, err := idx.scm.ChangedFiles(ctx, last, current)
	if err != nil {
		idx.logger.Warn("index.plan.changed_files", "from", last, "to", current, "error", err)
		return plan, nil
	}
	plan.ChangedFiles = changed

	if dl, ok := idx.scm.(deletionLister); ok {
		deleted, err := dl.DeletedFiles(ctx, last, current)
		if err != nil {
			idx.logger.Warn("index.plan.deleted_files", "from", last, "to", current, "error", err)
		} else {
			plan.DeletedFiles = deleted
		}
	}
	return plan, nil
}

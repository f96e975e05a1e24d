package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/project"
	"github.com/worklift/worklift/internal/port/database"
)

// WorktreeService materializes and reconciles attempt worktrees. An attempt
// owns its branch; the worktree is recreated on demand after cleanup.
type WorktreeService struct {
	store   database.Store
	git     GitClient
	baseDir string
	logger  *slog.Logger
}

// NewWorktreeService creates a WorktreeService placing worktrees under baseDir.
func NewWorktreeService(store database.Store, git GitClient, baseDir string, logger *slog.Logger) *WorktreeService {
	return &WorktreeService{store: store, git: git, baseDir: baseDir, logger: logger}
}

// WorktreePath returns the canonical worktree location for an attempt.
func (s *WorktreeService) WorktreePath(a *attempt.TaskAttempt) string {
	return filepath.Join(s.baseDir, a.ID.String())
}

// EnsureWorktree guarantees the attempt has a live worktree and returns its
// path. A cold attempt (worktree cleaned up earlier) is recreated from its
// branch; the branch always survives cleanup.
func (s *WorktreeService) EnsureWorktree(ctx context.Context, a *attempt.TaskAttempt, proj *project.Project) (string, error) {
	if a.ContainerRef != "" && !a.WorktreeDeleted {
		return a.ContainerRef, nil
	}

	path := s.WorktreePath(a)
	if err := s.git.AddWorktree(ctx, proj.GitRepoPath, path, a.Branch, a.TargetBranch); err != nil {
		return "", fmt.Errorf("ensure worktree for attempt %s: %w", a.ID, err)
	}
	if err := s.store.UpdateAttemptContainerRef(ctx, a.ID, path, false); err != nil {
		return "", err
	}
	a.ContainerRef = path
	a.WorktreeDeleted = false

	s.logger.Info("worktree materialized", "attempt_id", a.ID, "path", path, "branch", a.Branch)
	return path, nil
}

// RemoveWorktree tears down the attempt's worktree, keeping the branch.
func (s *WorktreeService) RemoveWorktree(ctx context.Context, a *attempt.TaskAttempt, proj *project.Project) error {
	if a.ContainerRef == "" || a.WorktreeDeleted {
		return nil
	}
	if err := s.git.RemoveWorktree(ctx, proj.GitRepoPath, a.ContainerRef); err != nil {
		return fmt.Errorf("remove worktree for attempt %s: %w", a.ID, err)
	}
	if err := s.store.UpdateAttemptContainerRef(ctx, a.ID, a.ContainerRef, true); err != nil {
		return err
	}
	a.WorktreeDeleted = true

	s.logger.Info("worktree removed", "attempt_id", a.ID, "branch", a.Branch)
	return nil
}

// ReconcileOptions controls how ReconcileToCommit applies a reset.
type ReconcileOptions struct {
	// PerformReset enables the actual hard reset. When false the outcome
	// only reports whether a reset would be needed.
	PerformReset bool
	// ForceWhenDirty applies the reset even over uncommitted changes.
	ForceWhenDirty bool
	// IsDirtyHint skips the dirtiness probe when the caller already knows.
	IsDirtyHint *bool
}

// ReconcileOutcome reports what ReconcileToCommit decided and did.
type ReconcileOutcome struct {
	Needed  bool `json:"needed"`
	Applied bool `json:"applied"`
}

// ReconcileToCommit moves the attempt worktree to targetOID if it is not
// already there. A dirty worktree withholds the reset unless forced; a
// worktree already at the target never resets regardless of options.
func (s *WorktreeService) ReconcileToCommit(ctx context.Context, dir, targetOID string, opts ReconcileOptions) (ReconcileOutcome, error) {
	head, err := s.git.HeadCommit(ctx, dir)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	if head == targetOID {
		return ReconcileOutcome{Needed: false, Applied: false}, nil
	}

	outcome := ReconcileOutcome{Needed: true}
	if !opts.PerformReset {
		return outcome, nil
	}

	dirty := false
	if opts.IsDirtyHint != nil {
		dirty = *opts.IsDirtyHint
	} else {
		dirty, err = s.git.IsDirty(ctx, dir)
		if err != nil {
			return outcome, err
		}
	}
	if dirty && !opts.ForceWhenDirty {
		s.logger.Warn("reset withheld, worktree dirty", "dir", dir, "target", targetOID)
		return outcome, nil
	}

	if err := s.git.HardReset(ctx, dir, targetOID); err != nil {
		return outcome, err
	}
	outcome.Applied = true
	s.logger.Info("worktree reconciled", "dir", dir, "target", targetOID)
	return outcome, nil
}

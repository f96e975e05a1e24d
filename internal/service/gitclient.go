// Package service contains the attempt-engine business logic: worktree
// lifecycle, execution processes, retries, branch status derivation, git
// coordination, and log streaming.
package service

import (
	"context"

	"github.com/worklift/worklift/internal/domain/attempt"
)

// GitClient is the subset of git operations the services need. *git.Service
// satisfies it; tests substitute fakes.
type GitClient interface {
	HeadCommit(ctx context.Context, dir string) (string, error)
	BranchExists(ctx context.Context, repoPath, branch string) (bool, error)
	RemoteBranchExists(ctx context.Context, repoPath, branch string) (bool, error)
	BranchHead(ctx context.Context, repoPath, branch string) (string, error)
	AheadBehind(ctx context.Context, dir, base, head string) (ahead, behind int, err error)
	RemoteAheadBehind(ctx context.Context, dir, branch string) (ahead, behind int, err error)
	IsDirty(ctx context.Context, dir string) (bool, error)
	ChangeCounts(ctx context.Context, dir string) (uncommitted, untracked int, err error)
	HardReset(ctx context.Context, dir, commit string) error
	AddWorktree(ctx context.Context, repoPath, path, branch, baseBranch string) error
	RemoveWorktree(ctx context.Context, repoPath, path string) error
	SquashMerge(ctx context.Context, repoPath, attemptBranch, targetBranch, message string) (string, error)
	Rebase(ctx context.Context, dir, ontoBranch string) error
	RebaseInProgress(ctx context.Context, dir string) (bool, error)
	ConflictedFiles(ctx context.Context, dir string) ([]string, error)
	ConflictOpInProgress(ctx context.Context, dir string) (attempt.ConflictOp, bool, error)
	AbortConflicts(ctx context.Context, dir string) error
	Push(ctx context.Context, dir, branch string, force bool) error
	CommitSubject(ctx context.Context, dir, ref string) (string, error)
	RemoteURL(ctx context.Context, dir string) (string, error)
	Diff(ctx context.Context, dir, base string) (string, error)
	DiffStats(ctx context.Context, dir, base string) (string, error)
}

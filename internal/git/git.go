package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/worklift/worklift/internal/domain/attempt"
)

// ErrRebaseInProgress is returned when an operation requires a quiescent
// worktree but a rebase is already underway.
var ErrRebaseInProgress = errors.New("git: rebase already in progress")

// ConflictError reports unresolved conflicts produced by a git operation.
// It is data, not a fatal failure: callers surface it to users as a
// resolvable state.
type ConflictError struct {
	Op      attempt.ConflictOp
	Files   []string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("git: %s produced conflicts in %d files: %s", e.Op, len(e.Files), e.Message)
}

// AsConflict unwraps err into a ConflictError if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Service runs git CLI operations against repositories and worktrees,
// serialized through a shared Pool.
type Service struct {
	pool *Pool
}

// NewService creates a Service using pool for concurrency control.
func NewService(pool *Pool) *Service {
	return &Service{pool: pool}
}

// HeadCommit returns the full OID of HEAD in dir.
func (s *Service) HeadCommit(ctx context.Context, dir string) (string, error) {
	var oid string
	err := s.pool.Run(ctx, func() error {
		out, err := runGit(ctx, dir, "rev-parse", "HEAD")
		if err != nil {
			return fmt.Errorf("git: head commit: %w", err)
		}
		oid = strings.TrimSpace(out)
		return nil
	})
	return oid, err
}

// BranchExists reports whether a local branch exists in the repository.
func (s *Service) BranchExists(ctx context.Context, repoPath, branch string) (bool, error) {
	var exists bool
	err := s.pool.Run(ctx, func() error {
		_, err := runGit(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
		exists = err == nil
		return nil
	})
	return exists, err
}

// RemoteBranchExists reports whether branch names a remote-tracking ref,
// e.g. "origin/main".
func (s *Service) RemoteBranchExists(ctx context.Context, repoPath, branch string) (bool, error) {
	var exists bool
	err := s.pool.Run(ctx, func() error {
		_, err := runGit(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/remotes/"+branch)
		exists = err == nil
		return nil
	})
	return exists, err
}

// BranchHead returns the OID a local branch points at.
func (s *Service) BranchHead(ctx context.Context, repoPath, branch string) (string, error) {
	var oid string
	err := s.pool.Run(ctx, func() error {
		out, err := runGit(ctx, repoPath, "rev-parse", "refs/heads/"+branch)
		if err != nil {
			return fmt.Errorf("git: resolve branch %s: %w", branch, err)
		}
		oid = strings.TrimSpace(out)
		return nil
	})
	return oid, err
}

// AheadBehind counts commits head has over base and base has over head.
func (s *Service) AheadBehind(ctx context.Context, dir, base, head string) (ahead, behind int, err error) {
	err = s.pool.Run(ctx, func() error {
		out, runErr := runGit(ctx, dir, "rev-list", "--left-right", "--count", base+"..."+head)
		if runErr != nil {
			return fmt.Errorf("git: ahead/behind %s...%s: %w", base, head, runErr)
		}
		behind, ahead, runErr = parseAheadBehind(out)
		return runErr
	})
	return ahead, behind, err
}

// RemoteAheadBehind fetches the branch's remote counterpart and counts the
// divergence between the local branch and the freshly fetched remote ref.
func (s *Service) RemoteAheadBehind(ctx context.Context, dir, branch string) (ahead, behind int, err error) {
	err = s.pool.Run(ctx, func() error {
		remote, runErr := firstRemote(ctx, dir)
		if runErr != nil {
			return runErr
		}
		if _, runErr = runGit(ctx, dir, "fetch", remote, branch); runErr != nil {
			return fmt.Errorf("git: fetch %s/%s: %w", remote, branch, runErr)
		}
		out, runErr := runGit(ctx, dir, "rev-list", "--left-right", "--count",
			remote+"/"+branch+"..."+branch)
		if runErr != nil {
			return fmt.Errorf("git: remote ahead/behind %s: %w", branch, runErr)
		}
		behind, ahead, runErr = parseAheadBehind(out)
		return runErr
	})
	return ahead, behind, err
}

// IsDirty reports whether the worktree has staged, unstaged, or untracked
// changes.
func (s *Service) IsDirty(ctx context.Context, dir string) (bool, error) {
	uncommitted, untracked, err := s.ChangeCounts(ctx, dir)
	if err != nil {
		return false, err
	}
	return uncommitted+untracked > 0, nil
}

// ChangeCounts counts tracked modifications and untracked files separately.
func (s *Service) ChangeCounts(ctx context.Context, dir string) (uncommitted, untracked int, err error) {
	err = s.pool.Run(ctx, func() error {
		out, runErr := runGit(ctx, dir, "status", "--porcelain")
		if runErr != nil {
			return fmt.Errorf("git: status: %w", runErr)
		}
		uncommitted, untracked = parseChangeCounts(out)
		return nil
	})
	return uncommitted, untracked, err
}

// HardReset moves the worktree HEAD to commit, discarding local changes.
func (s *Service) HardReset(ctx context.Context, dir, commit string) error {
	return s.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, dir, "reset", "--hard", commit); err != nil {
			return fmt.Errorf("git: reset --hard %s: %w", shortOID(commit), err)
		}
		return nil
	})
}

// AddWorktree materializes a worktree for branch at path. When the branch
// does not exist yet it is created from baseBranch.
func (s *Service) AddWorktree(ctx context.Context, repoPath, path, branch, baseBranch string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("git: resolve worktree path: %w", err)
	}
	exists, err := s.BranchExists(ctx, repoPath, branch)
	if err != nil {
		return err
	}
	return s.pool.Run(ctx, func() error {
		var runErr error
		if exists {
			_, runErr = runGit(ctx, repoPath, "worktree", "add", abs, branch)
		} else {
			_, runErr = runGit(ctx, repoPath, "worktree", "add", "-b", branch, abs, baseBranch)
		}
		if runErr != nil {
			return fmt.Errorf("git: add worktree for %s: %w", branch, runErr)
		}
		return nil
	})
}

// RemoveWorktree deletes the worktree at path and prunes stale registrations.
// Removing an already-absent worktree is not an error.
func (s *Service) RemoveWorktree(ctx context.Context, repoPath, path string) error {
	return s.pool.Run(ctx, func() error {
		if _, err := runGit(ctx, repoPath, "worktree", "remove", "--force", path); err != nil {
			if !strings.Contains(err.Error(), "is not a working tree") &&
				!strings.Contains(err.Error(), "No such file") {
				return fmt.Errorf("git: remove worktree: %w", err)
			}
		}
		_, _ = runGit(ctx, repoPath, "worktree", "prune")
		return nil
	})
}

// SquashMerge merges the attempt branch into the target branch as a single
// commit, without touching any working tree. The merged tree is computed
// with merge-tree; conflicts surface as a ConflictError and leave the target
// branch unchanged.
func (s *Service) SquashMerge(ctx context.Context, repoPath, attemptBranch, targetBranch, message string) (string, error) {
	var mergeCommit string
	err := s.pool.Run(ctx, func() error {
		targetHead, err := runGit(ctx, repoPath, "rev-parse", "refs/heads/"+targetBranch)
		if err != nil {
			return fmt.Errorf("git: resolve target %s: %w", targetBranch, err)
		}
		targetHead = strings.TrimSpace(targetHead)

		treeOut, err := runGit(ctx, repoPath, "merge-tree", "--write-tree", targetBranch, attemptBranch)
		if err != nil {
			// merge-tree exits 1 on conflicts and prints the conflicted paths.
			files := parseMergeTreeConflicts(treeOut)
			if len(files) > 0 {
				return &ConflictError{
					Op:      attempt.OpMerge,
					Files:   files,
					Message: fmt.Sprintf("merge of %s into %s has conflicts", attemptBranch, targetBranch),
				}
			}
			return fmt.Errorf("git: merge-tree: %w", err)
		}
		tree := strings.TrimSpace(strings.SplitN(treeOut, "\n", 2)[0])

		commit, err := runGit(ctx, repoPath, "commit-tree", tree, "-p", targetHead, "-m", message)
		if err != nil {
			return fmt.Errorf("git: commit-tree: %w", err)
		}
		commit = strings.TrimSpace(commit)

		// Compare-and-swap on the old head so a concurrent update loses cleanly.
		if _, err := runGit(ctx, repoPath, "update-ref",
			"refs/heads/"+targetBranch, commit, targetHead); err != nil {
			return fmt.Errorf("git: update-ref %s: %w", targetBranch, err)
		}
		mergeCommit = commit
		return nil
	})
	return mergeCommit, err
}

// Rebase replays the worktree's branch onto ontoBranch. Conflicts come back
// as a ConflictError with the rebase left in progress for the user to
// resolve or abort. An already-running rebase returns ErrRebaseInProgress.
func (s *Service) Rebase(ctx context.Context, dir, ontoBranch string) error {
	return s.pool.Run(ctx, func() error {
		if inProgress, err := rebaseInProgress(ctx, dir); err != nil {
			return err
		} else if inProgress {
			return ErrRebaseInProgress
		}
		if _, err := runGit(ctx, dir, "rebase", ontoBranch); err != nil {
			files, listErr := conflictedFiles(ctx, dir)
			if listErr == nil && len(files) > 0 {
				return &ConflictError{
					Op:      attempt.OpRebase,
					Files:   files,
					Message: fmt.Sprintf("rebase onto %s has conflicts", ontoBranch),
				}
			}
			return fmt.Errorf("git: rebase onto %s: %w", ontoBranch, err)
		}
		return nil
	})
}

// RebaseInProgress reports whether dir has a rebase underway.
func (s *Service) RebaseInProgress(ctx context.Context, dir string) (bool, error) {
	var in bool
	err := s.pool.Run(ctx, func() error {
		var runErr error
		in, runErr = rebaseInProgress(ctx, dir)
		return runErr
	})
	return in, err
}

// ConflictedFiles lists paths with unresolved conflicts in dir.
func (s *Service) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := s.pool.Run(ctx, func() error {
		var runErr error
		files, runErr = conflictedFiles(ctx, dir)
		return runErr
	})
	return files, err
}

// ConflictOpInProgress detects which git operation left the worktree
// conflicted, if any.
func (s *Service) ConflictOpInProgress(ctx context.Context, dir string) (attempt.ConflictOp, bool, error) {
	var op attempt.ConflictOp
	var found bool
	err := s.pool.Run(ctx, func() error {
		if in, err := rebaseInProgress(ctx, dir); err != nil {
			return err
		} else if in {
			op, found = attempt.OpRebase, true
			return nil
		}
		for _, probe := range []struct {
			ref string
			op  attempt.ConflictOp
		}{
			{"MERGE_HEAD", attempt.OpMerge},
			{"CHERRY_PICK_HEAD", attempt.OpCherryPick},
			{"REVERT_HEAD", attempt.OpRevert},
		} {
			if _, err := runGit(ctx, dir, "rev-parse", "--verify", "--quiet", probe.ref); err == nil {
				op, found = probe.op, true
				return nil
			}
		}
		return nil
	})
	return op, found, err
}

// AbortConflicts aborts whatever conflicted operation is in progress,
// restoring the worktree to its pre-operation state. Calling it on a clean
// worktree is a no-op.
func (s *Service) AbortConflicts(ctx context.Context, dir string) error {
	op, found, err := s.ConflictOpInProgress(ctx, dir)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return s.pool.Run(ctx, func() error {
		var runErr error
		switch op {
		case attempt.OpRebase:
			_, runErr = runGit(ctx, dir, "rebase", "--abort")
		case attempt.OpMerge:
			_, runErr = runGit(ctx, dir, "merge", "--abort")
		case attempt.OpCherryPick:
			_, runErr = runGit(ctx, dir, "cherry-pick", "--abort")
		case attempt.OpRevert:
			_, runErr = runGit(ctx, dir, "revert", "--abort")
		}
		if runErr != nil {
			return fmt.Errorf("git: abort %s: %w", op, runErr)
		}
		return nil
	})
}

// Push pushes branch to its remote, setting upstream on first push.
func (s *Service) Push(ctx context.Context, dir, branch string, force bool) error {
	return s.pool.Run(ctx, func() error {
		remote, err := firstRemote(ctx, dir)
		if err != nil {
			return err
		}
		args := []string{"push", "--set-upstream"}
		if force {
			args = append(args, "--force-with-lease")
		}
		args = append(args, remote, branch)
		if _, err := runGit(ctx, dir, args...); err != nil {
			return fmt.Errorf("git: push %s: %w", branch, err)
		}
		return nil
	})
}

// CommitSubject returns the first line of a commit's message.
func (s *Service) CommitSubject(ctx context.Context, dir, ref string) (string, error) {
	var subject string
	err := s.pool.Run(ctx, func() error {
		out, runErr := runGit(ctx, dir, "log", "-1", "--format=%s", ref)
		if runErr != nil {
			return fmt.Errorf("git: commit subject %s: %w", ref, runErr)
		}
		subject = strings.TrimSpace(out)
		return nil
	})
	return subject, err
}

// RemoteURL returns the fetch URL of the repository's first remote.
func (s *Service) RemoteURL(ctx context.Context, dir string) (string, error) {
	var url string
	err := s.pool.Run(ctx, func() error {
		remote, runErr := firstRemote(ctx, dir)
		if runErr != nil {
			return runErr
		}
		out, runErr := runGit(ctx, dir, "remote", "get-url", remote)
		if runErr != nil {
			return fmt.Errorf("git: remote url: %w", runErr)
		}
		url = strings.TrimSpace(out)
		return nil
	})
	return url, err
}

// Diff returns the combined diff of the branch against base, including
// uncommitted worktree changes.
func (s *Service) Diff(ctx context.Context, dir, base string) (string, error) {
	var diff string
	err := s.pool.Run(ctx, func() error {
		out, runErr := runGit(ctx, dir, "diff", base)
		if runErr != nil {
			return fmt.Errorf("git: diff against %s: %w", base, runErr)
		}
		diff = out
		return nil
	})
	return diff, err
}

// DiffStats returns the --shortstat summary of the branch against base,
// e.g. "3 files changed, 40 insertions(+), 7 deletions(-)".
func (s *Service) DiffStats(ctx context.Context, dir, base string) (string, error) {
	var stats string
	err := s.pool.Run(ctx, func() error {
		out, runErr := runGit(ctx, dir, "diff", "--shortstat", base)
		if runErr != nil {
			return fmt.Errorf("git: diff stats against %s: %w", base, runErr)
		}
		stats = strings.TrimSpace(out)
		return nil
	})
	return stats, err
}

func rebaseInProgress(ctx context.Context, dir string) (bool, error) {
	// rev-parse --git-path resolves per-worktree state dirs.
	for _, state := range []string{"rebase-merge", "rebase-apply"} {
		out, err := runGit(ctx, dir, "rev-parse", "--git-path", state)
		if err != nil {
			return false, fmt.Errorf("git: rebase state check: %w", err)
		}
		p := strings.TrimSpace(out)
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if _, statErr := os.Stat(p); statErr == nil {
			return true, nil
		}
	}
	return false, nil
}

func conflictedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := runGit(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("git: list conflicts: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func firstRemote(ctx context.Context, dir string) (string, error) {
	out, err := runGit(ctx, dir, "remote")
	if err != nil {
		return "", fmt.Errorf("git: list remotes: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", errors.New("git: repository has no remotes")
}

func shortOID(oid string) string {
	if len(oid) > 8 {
		return oid[:8]
	}
	return oid
}

// parseAheadBehind parses "rev-list --left-right --count A...B" output:
// "<left>\t<right>" where left is commits only in A and right only in B.
func parseAheadBehind(out string) (left, right int, err error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("git: unexpected rev-list output %q", strings.TrimSpace(out))
	}
	if left, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("git: parse rev-list count: %w", err)
	}
	if right, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("git: parse rev-list count: %w", err)
	}
	return left, right, nil
}

// parseChangeCounts splits porcelain status lines into tracked modifications
// and untracked files.
func parseChangeCounts(porcelain string) (uncommitted, untracked int) {
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 2 {
			continue
		}
		if strings.HasPrefix(line, "??") {
			untracked++
		} else {
			uncommitted++
		}
	}
	return uncommitted, untracked
}

// parseMergeTreeConflicts extracts conflicted paths from merge-tree's
// conflict output: the tree OID line, then "<mode> <oid> <stage>\t<path>"
// informational lines.
func parseMergeTreeConflicts(out string) []string {
	seen := map[string]bool{}
	var files []string
	for i, line := range strings.Split(out, "\n") {
		if i == 0 || line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		path := line[tab+1:]
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}

// ParseRemoteURL extracts the owner and repository name from a GitHub
// remote URL in https or ssh form.
func ParseRemoteURL(url string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(url), ".git")
	switch {
	case strings.HasPrefix(trimmed, "git@"):
		// git@github.com:owner/repo
		_, after, found := strings.Cut(trimmed, ":")
		if !found {
			return "", "", fmt.Errorf("git: unrecognized remote url %q", url)
		}
		trimmed = after
	case strings.Contains(trimmed, "://"):
		// https://github.com/owner/repo
		_, after, _ := strings.Cut(trimmed, "://")
		parts := strings.SplitN(after, "/", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("git: unrecognized remote url %q", url)
		}
		trimmed = parts[1]
	default:
		return "", "", fmt.Errorf("git: unrecognized remote url %q", url)
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("git: remote url %q has no owner/repo", url)
	}
	return parts[0], parts[1], nil
}

// runGit executes a git command and returns its stdout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/adapter/otel"
	"github.com/worklift/worklift/internal/domain"
	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/project"
	"github.com/worklift/worklift/internal/domain/task"
	"github.com/worklift/worklift/internal/git"
	"github.com/worklift/worklift/internal/port/database"
	"github.com/worklift/worklift/internal/port/hosting"
	"github.com/worklift/worklift/internal/port/messagequeue"
)

// GitOpsService coordinates merges, rebases, pushes, and pull requests for
// attempts.
type GitOpsService struct {
	store     database.Store
	git       GitClient
	worktrees *WorktreeService
	status    *BranchStatusService
	hosting   hosting.Provider
	processes *ProcessService
	logger    *slog.Logger
}

// NewGitOpsService creates a GitOpsService.
func NewGitOpsService(store database.Store, gitc GitClient, worktrees *WorktreeService,
	status *BranchStatusService, host hosting.Provider, processes *ProcessService,
	logger *slog.Logger) *GitOpsService {
	return &GitOpsService{
		store:     store,
		git:       gitc,
		worktrees: worktrees,
		status:    status,
		hosting:   host,
		processes: processes,
		logger:    logger,
	}
}

// ConflictData describes unresolved conflicts as an expected outcome, not a
// failure.
type ConflictData struct {
	Op      attempt.ConflictOp `json:"op"`
	Files   []string           `json:"files"`
	Message string             `json:"message"`
}

// MergeResult reports the outcome of a direct merge.
type MergeResult struct {
	Merged      bool   `json:"merged"`
	MergeCommit string `json:"merge_commit,omitempty"`
}

// mergeCommitMessage builds the squash-commit message: the task title tagged
// with the task's short id, then the task description as the body.
func mergeCommitMessage(t *task.Task) string {
	shortID := strings.SplitN(t.ID.String(), "-", 2)[0]
	msg := fmt.Sprintf("%s (worklift %s)", t.Title, shortID)
	if t.Description != "" {
		msg += "\n\n" + t.Description
	}
	return msg
}

// Merge squash-merges the attempt branch into its target branch without
// touching any working tree, records the merge, and moves the task to done.
// A dirty attempt worktree blocks the merge. Unlike Rebase, merge conflicts
// are not classified: a conflicted merge is a fatal error.
func (s *GitOpsService) Merge(ctx context.Context, attemptID uuid.UUID) (*MergeResult, error) {
	ctx, span := otel.StartGitOpSpan(ctx, "merge", attemptID.String())
	defer span.End()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}

	if a.ContainerRef != "" && !a.WorktreeDeleted {
		dirty, err := s.git.IsDirty(ctx, a.ContainerRef)
		if err != nil {
			return nil, err
		}
		if dirty {
			return nil, domain.Validationf("attempt %s has uncommitted changes; commit or discard them before merging", attemptID)
		}
	}

	message := mergeCommitMessage(t)
	commit, err := s.git.SquashMerge(ctx, proj.GitRepoPath, a.Branch, a.TargetBranch, message)
	if err != nil {
		return nil, err
	}

	m := &attempt.Merge{TaskAttemptID: attemptID, TargetBranch: a.TargetBranch, MergeCommit: commit}
	if err := s.store.CreateDirectMerge(ctx, m); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusDone); err != nil {
		return nil, err
	}
	s.status.Invalidate(ctx, attemptID)
	s.processes.publish(ctx, messagequeue.SubjectAttemptMerged, messagequeue.AttemptMergedPayload{
		TaskAttemptID: attemptID.String(),
		TargetBranch:  a.TargetBranch,
		MergeCommit:   commit,
	})

	s.logger.Info("attempt merged",
		"attempt_id", attemptID, "target", a.TargetBranch, "merge_commit", commit)
	return &MergeResult{Merged: true, MergeCommit: commit}, nil
}

// RebaseResult reports a rebase outcome. Conflicts and an already-running
// rebase are expected states, reported in Message/Conflict with Success
// false; only infrastructure failures surface as errors.
type RebaseResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Conflict *ConflictData `json:"conflict,omitempty"`
}

// Rebase replays the attempt branch onto its target. When newTargetBranch
// is non-empty the attempt is retargeted first; naming a branch that does
// not exist is reported in the result and leaves the target unchanged.
func (s *GitOpsService) Rebase(ctx context.Context, attemptID uuid.UUID, newTargetBranch string) (*RebaseResult, error) {
	ctx, span := otel.StartGitOpSpan(ctx, "rebase", attemptID.String())
	defer span.End()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}

	if newTargetBranch != "" && newTargetBranch != a.TargetBranch {
		exists, err := s.git.BranchExists(ctx, proj.GitRepoPath, newTargetBranch)
		if err != nil {
			return nil, err
		}
		if !exists {
			return &RebaseResult{
				Message: fmt.Sprintf("target branch %q not found; keeping %q", newTargetBranch, a.TargetBranch),
			}, nil
		}
		if err := s.store.UpdateAttemptTargetBranch(ctx, attemptID, newTargetBranch); err != nil {
			return nil, err
		}
		a.TargetBranch = newTargetBranch
	}

	if _, err := s.worktrees.EnsureWorktree(ctx, a, proj); err != nil {
		return nil, err
	}

	err = s.git.Rebase(ctx, a.ContainerRef, a.TargetBranch)
	s.status.Invalidate(ctx, attemptID)
	switch {
	case err == nil:
		s.logger.Info("attempt rebased", "attempt_id", attemptID, "target", a.TargetBranch)
		return &RebaseResult{Success: true}, nil
	case errors.Is(err, git.ErrRebaseInProgress):
		return &RebaseResult{Message: "a rebase is already in progress; resolve or abort it first"}, nil
	default:
		if ce, ok := git.AsConflict(err); ok {
			return &RebaseResult{
				Message:  ce.Message,
				Conflict: &ConflictData{Op: ce.Op, Files: ce.Files, Message: ce.Message},
			}, nil
		}
		return nil, err
	}
}

// AbortConflicts aborts the conflicted operation in the attempt worktree.
// Idempotent: a clean worktree is a no-op.
func (s *GitOpsService) AbortConflicts(ctx context.Context, attemptID uuid.UUID) error {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.ContainerRef == "" || a.WorktreeDeleted {
		return nil
	}
	if err := s.git.AbortConflicts(ctx, a.ContainerRef); err != nil {
		return err
	}
	s.status.Invalidate(ctx, attemptID)
	return nil
}

// Push pushes the attempt branch to the remote.
func (s *GitOpsService) Push(ctx context.Context, attemptID uuid.UUID) error {
	ctx, span := otel.StartGitOpSpan(ctx, "push", attemptID.String())
	defer span.End()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return err
	}
	if _, err := s.worktrees.EnsureWorktree(ctx, a, proj); err != nil {
		return err
	}
	if err := s.git.Push(ctx, a.ContainerRef, a.Branch, false); err != nil {
		return err
	}
	s.status.Invalidate(ctx, attemptID)
	return nil
}

// repoInfo resolves the hosting repository from the project remote.
func (s *GitOpsService) repoInfo(ctx context.Context, proj *project.Project) (hosting.RepoInfo, error) {
	url, err := s.git.RemoteURL(ctx, proj.GitRepoPath)
	if err != nil {
		return hosting.RepoInfo{}, err
	}
	owner, repo, err := git.ParseRemoteURL(url)
	if err != nil {
		return hosting.RepoInfo{}, err
	}
	return hosting.RepoInfo{Owner: owner, Repo: repo}, nil
}

// normalizeBase strips a remote prefix from a PR base branch name; hosting
// services take bare branch names.
func normalizeBase(base string) string {
	for _, prefix := range []string{"origin/", "upstream/"} {
		if strings.HasPrefix(base, prefix) {
			return strings.TrimPrefix(base, prefix)
		}
	}
	return base
}

// CreatePR pushes the attempt branch and opens a pull request against the
// target branch, recording it as an open PR merge.
func (s *GitOpsService) CreatePR(ctx context.Context, attemptID uuid.UUID, title, body string) (*attempt.Merge, error) {
	ctx, span := otel.StartGitOpSpan(ctx, "create_pr", attemptID.String())
	defer span.End()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.worktrees.EnsureWorktree(ctx, a, proj); err != nil {
		return nil, err
	}

	// Fail before pushing when the credential is unusable.
	if err := s.hosting.CheckToken(ctx); err != nil {
		return nil, err
	}

	if err := s.git.Push(ctx, a.ContainerRef, a.Branch, false); err != nil {
		return nil, err
	}

	repo, err := s.repoInfo(ctx, proj)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = t.Title
	}
	pr, err := s.hosting.CreatePR(ctx, hosting.CreatePRRequest{
		Repo:       repo,
		Title:      title,
		Body:       body,
		HeadBranch: a.Branch,
		BaseBranch: normalizeBase(a.TargetBranch),
	})
	if err != nil {
		return nil, err
	}

	m := &attempt.Merge{
		TaskAttemptID: attemptID,
		TargetBranch:  a.TargetBranch,
		PRNumber:      pr.Number,
		PRURL:         pr.URL,
		Status:        attempt.MergeStatusOpen,
	}
	if err := s.store.CreatePRMerge(ctx, m); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusInReview); err != nil {
		return nil, err
	}
	s.status.Invalidate(ctx, attemptID)

	s.logger.Info("pull request opened", "attempt_id", attemptID, "pr", pr.Number, "url", pr.URL)
	return m, nil
}

// AttachPR discovers an existing pull request for the attempt branch and
// records it, regardless of state. A merged PR also moves the task to done.
func (s *GitOpsService) AttachPR(ctx context.Context, attemptID uuid.UUID) (*attempt.Merge, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}
	repo, err := s.repoInfo(ctx, proj)
	if err != nil {
		return nil, err
	}

	prs, err := s.hosting.ListPRsForBranch(ctx, repo, a.Branch)
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, fmt.Errorf("attach pr: %w", domain.ErrNotFound)
	}
	pr := prs[0]

	m := &attempt.Merge{
		TaskAttemptID: attemptID,
		TargetBranch:  a.TargetBranch,
		PRNumber:      pr.Number,
		PRURL:         pr.URL,
		Status:        prStateToMergeStatus(pr.State),
	}
	if err := s.store.CreatePRMerge(ctx, m); err != nil {
		return nil, err
	}
	if pr.State == hosting.PRMerged {
		if pr.MergeCommit != "" {
			if err := s.store.UpdateMergeStatus(ctx, m.ID, attempt.MergeStatusMerged, &pr.MergeCommit); err != nil {
				return nil, err
			}
			m.MergeCommit = pr.MergeCommit
		}
		if err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusDone); err != nil {
			return nil, err
		}
	}
	s.status.Invalidate(ctx, attemptID)
	return m, nil
}

// RefreshPRStatus re-reads the newest PR merge from the hosting service and
// applies state changes. A PR merged remotely completes the task.
func (s *GitOpsService) RefreshPRStatus(ctx context.Context, attemptID uuid.UUID) (*attempt.Merge, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.LatestMergeByAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.IsOpenPR() {
		return m, nil
	}

	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}
	repo, err := s.repoInfo(ctx, proj)
	if err != nil {
		return nil, err
	}

	pr, err := s.hosting.GetPR(ctx, repo, m.PRNumber)
	if err != nil {
		return nil, err
	}
	switch pr.State {
	case hosting.PRMerged:
		var commit *string
		if pr.MergeCommit != "" {
			commit = &pr.MergeCommit
		}
		if err := s.store.UpdateMergeStatus(ctx, m.ID, attempt.MergeStatusMerged, commit); err != nil {
			return nil, err
		}
		if err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusDone); err != nil {
			return nil, err
		}
		m.Status = attempt.MergeStatusMerged
		m.MergeCommit = pr.MergeCommit
		s.status.Invalidate(ctx, attemptID)
	case hosting.PRClosed:
		if err := s.store.UpdateMergeStatus(ctx, m.ID, attempt.MergeStatusClosed, nil); err != nil {
			return nil, err
		}
		m.Status = attempt.MergeStatusClosed
		s.status.Invalidate(ctx, attemptID)
	}
	return m, nil
}

// ChangeTargetBranch retargets the attempt. The branch must exist locally.
func (s *GitOpsService) ChangeTargetBranch(ctx context.Context, attemptID uuid.UUID, branch string) error {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return err
	}

	exists, err := s.git.BranchExists(ctx, proj.GitRepoPath, branch)
	if err != nil {
		return err
	}
	if !exists {
		return domain.Validationf("branch %q does not exist", branch)
	}
	if err := s.store.UpdateAttemptTargetBranch(ctx, attemptID, branch); err != nil {
		return err
	}
	s.status.Invalidate(ctx, attemptID)
	return nil
}

// CommitInfo is a short description of one commit in the attempt's repo.
type CommitInfo struct {
	SHA     string `json:"sha"`
	Subject string `json:"subject"`
}

// GetCommitInfo looks up the subject line of a commit in the attempt's
// project repository. With an empty sha it describes the attempt branch head.
func (s *GitOpsService) GetCommitInfo(ctx context.Context, attemptID uuid.UUID, sha string) (*CommitInfo, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}

	ref := sha
	if ref == "" {
		ref = a.Branch
	}
	subject, err := s.git.CommitSubject(ctx, proj.GitRepoPath, ref)
	if err != nil {
		return nil, err
	}
	if sha == "" {
		if sha, err = s.git.BranchHead(ctx, proj.GitRepoPath, a.Branch); err != nil {
			return nil, err
		}
	}
	return &CommitInfo{SHA: sha, Subject: subject}, nil
}

func prStateToMergeStatus(state hosting.PRState) attempt.MergeStatus {
	switch state {
	case hosting.PRMerged:
		return attempt.MergeStatusMerged
	case hosting.PRClosed:
		return attempt.MergeStatusClosed
	default:
		return attempt.MergeStatusOpen
	}
}

package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/port/cache"
	"github.com/worklift/worklift/internal/port/database"
)

// BranchStatusService derives the full branch status of an attempt from
// repository facts, with a short-TTL cache in front since status is read on
// every UI poll.
type BranchStatusService struct {
	store       database.Store
	git         GitClient
	cache       cache.Cache
	ttl         time.Duration
	remoteReads bool
	logger      *slog.Logger
}

// NewBranchStatusService creates a BranchStatusService. remoteReads enables
// fetch-based remote divergence counting and requires hosting credentials.
func NewBranchStatusService(store database.Store, git GitClient, c cache.Cache,
	ttl time.Duration, remoteReads bool, logger *slog.Logger) *BranchStatusService {
	return &BranchStatusService{
		store:       store,
		git:         git,
		cache:       c,
		ttl:         ttl,
		remoteReads: remoteReads,
		logger:      logger,
	}
}

func statusCacheKey(attemptID uuid.UUID) string {
	return "branchstatus:" + attemptID.String()
}

// Invalidate drops the cached status after a mutation (merge, rebase, push,
// retry) so the next read reflects it.
func (s *BranchStatusService) Invalidate(ctx context.Context, attemptID uuid.UUID) {
	if err := s.cache.Delete(ctx, statusCacheKey(attemptID)); err != nil {
		s.logger.Warn("branch status invalidate failed", "attempt_id", attemptID, "error", err)
	}
}

// GetBranchStatus returns the attempt's derived branch status. Individual
// fact reads are best effort: a failed probe leaves its field nil rather
// than failing the whole status.
func (s *BranchStatusService) GetBranchStatus(ctx context.Context, attemptID uuid.UUID) (*attempt.BranchStatus, error) {
	key := statusCacheKey(attemptID)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached attempt.BranchStatus
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

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

	status := s.collect(ctx, a, proj.GitRepoPath)

	status.Merges, err = s.store.ListMergesByAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(status); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Warn("branch status cache set failed", "attempt_id", attemptID, "error", err)
		}
	}
	return status, nil
}

func (s *BranchStatusService) collect(ctx context.Context, a *attempt.TaskAttempt, repoPath string) *attempt.BranchStatus {
	status := &attempt.BranchStatus{TargetBranchName: a.TargetBranch}

	if head, err := s.git.BranchHead(ctx, repoPath, a.Branch); err == nil {
		status.HeadOID = head
	} else {
		s.logger.Warn("branch head probe failed", "attempt_id", a.ID, "error", err)
	}

	targetExists, err := s.git.BranchExists(ctx, repoPath, a.TargetBranch)
	if err != nil {
		s.logger.Warn("target branch probe failed", "attempt_id", a.ID, "error", err)
	}
	targetIsRemote := false
	if !targetExists {
		// Targets like "origin/main" live under refs/remotes, invisible to
		// the local branch probe.
		if remote, rerr := s.git.RemoteBranchExists(ctx, repoPath, a.TargetBranch); rerr == nil {
			targetIsRemote = remote
		} else {
			s.logger.Warn("remote target probe failed", "attempt_id", a.ID, "error", rerr)
		}
	}
	switch {
	case targetExists, targetIsRemote && s.remoteReads:
		if ahead, behind, err := s.git.AheadBehind(ctx, repoPath, a.TargetBranch, a.Branch); err == nil {
			status.CommitsAhead = &ahead
			status.CommitsBehind = &behind
		} else {
			s.logger.Warn("ahead/behind probe failed", "attempt_id", a.ID, "error", err)
		}
	case targetIsRemote:
		s.logger.Debug("remote target comparison skipped without hosting credentials",
			"attempt_id", a.ID, "target", a.TargetBranch)
	}

	worktreeLive := a.ContainerRef != "" && !a.WorktreeDeleted
	if worktreeLive {
		if uncommitted, untracked, err := s.git.ChangeCounts(ctx, a.ContainerRef); err == nil {
			dirty := uncommitted+untracked > 0
			status.HasUncommittedChanges = &dirty
			status.UncommittedCount = &uncommitted
			status.UntrackedCount = &untracked
		}
		if rebasing, err := s.git.RebaseInProgress(ctx, a.ContainerRef); err == nil {
			status.IsRebaseInProgress = rebasing
		}
		if files, err := s.git.ConflictedFiles(ctx, a.ContainerRef); err == nil {
			status.ConflictedFiles = files
		}
		if op, found, err := s.git.ConflictOpInProgress(ctx, a.ContainerRef); err == nil && found {
			status.ConflictOp = op
		}
	}

	if s.remoteReads && worktreeLive {
		if ahead, behind, err := s.git.RemoteAheadBehind(ctx, a.ContainerRef, a.Branch); err == nil {
			status.RemoteCommitsAhead = &ahead
			status.RemoteCommitsBehind = &behind
		}
	}

	ahead, behind := 0, 0
	if status.CommitsAhead != nil {
		ahead = *status.CommitsAhead
	}
	if status.CommitsBehind != nil {
		behind = *status.CommitsBehind
	}
	dirty := status.HasUncommittedChanges != nil && *status.HasUncommittedChanges
	hasConflicts := len(status.ConflictedFiles) > 0

	status.SyncStatus = attempt.DetermineSyncStatus(ahead, behind, dirty, status.IsRebaseInProgress, hasConflicts)
	if status.CommitsAhead == nil && status.CommitsBehind == nil &&
		!hasConflicts && !status.IsRebaseInProgress {
		status.SyncStatus = attempt.SyncUnknown
	}
	status.SuggestedActions = attempt.SuggestActions(ahead, behind, dirty, status.IsRebaseInProgress, hasConflicts)

	return status
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain"
	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/domain/task"
	"github.com/worklift/worklift/internal/port/database"
)

// AttemptService creates attempts and owns their top-level lifecycle.
type AttemptService struct {
	store     database.Store
	worktrees *WorktreeService
	processes *ProcessService
	git       GitClient
	logger    *slog.Logger
}

// NewAttemptService creates an AttemptService.
func NewAttemptService(store database.Store, worktrees *WorktreeService,
	processes *ProcessService, gitc GitClient, logger *slog.Logger) *AttemptService {
	return &AttemptService{
		store:     store,
		worktrees: worktrees,
		processes: processes,
		git:       gitc,
		logger:    logger,
	}
}

// branchSlug reduces a task title to a short branch-safe fragment.
func branchSlug(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
		if b.Len() >= 24 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// Create starts a new attempt on a task: a dedicated branch off the base,
// a fresh worktree, and the first agent run (behind the setup script when
// the project has one). The task moves to in-progress.
func (s *AttemptService) Create(ctx context.Context, req attempt.CreateRequest) (*attempt.TaskAttempt, error) {
	if req.Prompt == "" {
		return nil, domain.Validationf("prompt is required")
	}
	t, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	proj, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}

	base := req.BaseBranch
	if base == "" {
		return nil, domain.Validationf("base branch is required")
	}
	exists, err := s.git.BranchExists(ctx, proj.GitRepoPath, base)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.Validationf("base branch %q does not exist", base)
	}

	prefix := req.BranchPrefix
	if prefix == "" {
		prefix = "wl"
	}
	id := uuid.New()
	branch := fmt.Sprintf("%s/%s", prefix, strings.SplitN(id.String(), "-", 2)[0])
	if slug := branchSlug(t.Title); slug != "" {
		branch += "-" + slug
	}

	a := &attempt.TaskAttempt{
		TaskID:       req.TaskID,
		Branch:       branch,
		TargetBranch: base,
		Executor:     req.Executor,
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return nil, err
	}
	if _, err := s.worktrees.EnsureWorktree(ctx, a, proj); err != nil {
		return nil, err
	}

	profile := execution.Profile{Executor: req.Executor, Variant: req.Variant}
	if _, err := s.processes.StartAttempt(ctx, a, proj, req.Prompt, profile); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusInProgress); err != nil {
		return nil, err
	}

	s.logger.Info("attempt created", "attempt_id", a.ID, "task_id", t.ID, "branch", branch)
	return a, nil
}

// Get returns one attempt.
func (s *AttemptService) Get(ctx context.Context, id uuid.UUID) (*attempt.TaskAttempt, error) {
	return s.store.GetAttempt(ctx, id)
}

// ListByTask returns a task's attempts, newest first.
func (s *AttemptService) ListByTask(ctx context.Context, taskID uuid.UUID) ([]attempt.TaskAttempt, error) {
	return s.store.ListAttemptsByTask(ctx, taskID)
}

// Cleanup stops the attempt's running work, runs the cleanup script, and
// removes the worktree. The branch survives for later resumption.
func (s *AttemptService) Cleanup(ctx context.Context, id uuid.UUID) error {
	a, err := s.store.GetAttempt(ctx, id)
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

	if err := s.processes.StopAttemptExecutions(ctx, id); err != nil {
		return err
	}
	if a.ContainerRef != "" && !a.WorktreeDeleted && proj.CleanupScript != "" {
		proc, err := s.processes.RunCleanupScript(ctx, a, proj)
		if err != nil {
			s.logger.Warn("cleanup script start failed", "attempt_id", id, "error", err)
		} else if proc != nil {
			s.logger.Info("cleanup script started", "attempt_id", id, "execution_id", proc.ID)
		}
	}
	return s.worktrees.RemoveWorktree(ctx, a, proj)
}

// SaveDraft stores an unsent prompt for the attempt.
func (s *AttemptService) SaveDraft(ctx context.Context, d *attempt.Draft) error {
	return s.store.SaveDraft(ctx, d)
}

// GetDraft returns a stored draft, or ErrNotFound.
func (s *AttemptService) GetDraft(ctx context.Context, id uuid.UUID, t attempt.DraftType) (*attempt.Draft, error) {
	return s.store.GetDraft(ctx, id, t)
}

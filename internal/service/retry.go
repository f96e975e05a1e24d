package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/adapter/otel"
	"github.com/worklift/worklift/internal/domain"
	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/port/database"
	"github.com/worklift/worklift/internal/port/messagequeue"
)

// RetryService rewinds attempt history: it soft-drops a suffix of the
// process log, reconciles the worktree back to the matching commit, and
// starts a replacement run.
type RetryService struct {
	store     database.Store
	processes *ProcessService
	worktrees *WorktreeService
	metrics   *otel.Metrics
	logger    *slog.Logger
}

// NewRetryService creates a RetryService.
func NewRetryService(store database.Store, processes *ProcessService,
	worktrees *WorktreeService, metrics *otel.Metrics, logger *slog.Logger) *RetryService {
	return &RetryService{
		store:     store,
		processes: processes,
		worktrees: worktrees,
		metrics:   metrics,
		logger:    logger,
	}
}

// ReplaceRequest asks for a process and everything after it to be replaced
// by a new run with a fresh prompt.
type ReplaceRequest struct {
	ProcessID       uuid.UUID `json:"process_id"`
	Prompt          string    `json:"prompt"`
	Variant         string    `json:"variant,omitempty"`
	PerformGitReset bool      `json:"perform_git_reset"`
	ForceWhenDirty  bool      `json:"force_when_dirty"`
}

// ReplaceResult reports what a replace did.
type ReplaceResult struct {
	DroppedCount    int64     `json:"dropped_count"`
	GitResetNeeded  bool      `json:"git_reset_needed"`
	GitResetApplied bool      `json:"git_reset_applied"`
	TargetBeforeOID *string   `json:"target_before_oid,omitempty"`
	NewExecutionID  uuid.UUID `json:"new_execution_id"`
}

// ReplaceProcess rewinds the attempt to just before the target process and
// starts a replacement run. Steps: validate ownership, locate the reset
// point, reconcile the worktree, stop running work, drop the suffix, then
// start the new run against the surviving session if one remains.
func (s *RetryService) ReplaceProcess(ctx context.Context, attemptID uuid.UUID, req ReplaceRequest) (*ReplaceResult, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetProcess(ctx, req.ProcessID)
	if err != nil {
		return nil, err
	}
	if target.TaskAttemptID != attemptID {
		return nil, domain.Validationf("process %s does not belong to attempt %s", req.ProcessID, attemptID)
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

	// The reset point is the worktree HEAD before the replaced process ran.
	// Processes that never snapshotted one inherit the newest after-HEAD of
	// an earlier surviving process.
	resetOID := target.BeforeHeadCommit
	if resetOID == nil {
		resetOID, err = s.store.PrevAfterHeadCommit(ctx, attemptID, target.ID)
		if err != nil {
			return nil, err
		}
	}

	result := &ReplaceResult{TargetBeforeOID: resetOID}
	if resetOID != nil {
		outcome, err := s.worktrees.ReconcileToCommit(ctx, a.ContainerRef, *resetOID, ReconcileOptions{
			PerformReset:   req.PerformGitReset,
			ForceWhenDirty: req.ForceWhenDirty,
		})
		if err != nil {
			return nil, err
		}
		result.GitResetNeeded = outcome.Needed
		result.GitResetApplied = outcome.Applied
		if outcome.Applied {
			s.metrics.ResetsApplied.Add(ctx, 1)
		}
	}

	// Best effort: running work is stale once the suffix is dropped.
	if err := s.processes.StopAttemptExecutions(ctx, attemptID); err != nil {
		s.logger.Warn("stop before replace failed", "attempt_id", attemptID, "error", err)
	}

	dropped, err := s.store.DropProcessesAtAndAfter(ctx, attemptID, target.ID)
	if err != nil {
		return nil, err
	}
	result.DroppedCount = dropped
	s.metrics.ProcessesDropped.Add(ctx, dropped)
	s.processes.publish(ctx, messagequeue.SubjectExecDropped, messagequeue.ExecDroppedPayload{
		TaskAttemptID: attemptID.String(),
		FromExecution: target.ID.String(),
		DroppedCount:  dropped,
	})

	action, err := s.buildAgentAction(ctx, a, target, req.Prompt, req.Variant)
	if err != nil {
		return nil, err
	}

	proc, err := s.processes.StartExecution(ctx, a, execution.ReasonCodingAgent, action)
	if err != nil {
		return nil, err
	}
	result.NewExecutionID = proc.ID

	s.logger.Info("process replaced",
		"attempt_id", attemptID, "replaced", target.ID, "new_execution_id", proc.ID,
		"dropped", dropped, "reset_applied", result.GitResetApplied)
	return result, nil
}

// buildAgentAction resumes the newest surviving session when one exists;
// otherwise the replacement starts a fresh initial run.
func (s *RetryService) buildAgentAction(ctx context.Context, a *attempt.TaskAttempt,
	replaced *execution.Process, prompt, variant string) (execution.Action, error) {

	profile := execution.Profile{Executor: a.Executor}
	if p, ok := replaced.Action.Profile(); ok {
		profile = p
	}
	if variant != "" {
		profile.Variant = variant
	}

	sessionID, err := s.store.LatestSessionID(ctx, a.ID)
	if err != nil {
		return execution.Action{}, err
	}
	if sessionID != nil {
		return execution.NewFollowUpAction(prompt, *sessionID, profile), nil
	}
	return execution.NewInitialAction(prompt, profile), nil
}

// FollowUpRequest continues an attempt's conversation with a new prompt.
// When RetryProcessID is set the follow-up replaces that process instead of
// appending.
type FollowUpRequest struct {
	Prompt          string     `json:"prompt"`
	Variant         string     `json:"variant,omitempty"`
	RetryProcessID  *uuid.UUID `json:"retry_process_id,omitempty"`
	PerformGitReset bool       `json:"perform_git_reset"`
	ForceWhenDirty  bool       `json:"force_when_dirty"`
}

// FollowUp appends a coding-agent run to the attempt, resuming the latest
// surviving session. Any stored follow-up draft is cleared once the run is
// underway.
func (s *RetryService) FollowUp(ctx context.Context, attemptID uuid.UUID, req FollowUpRequest) (*execution.Process, error) {
	if req.RetryProcessID != nil {
		result, err := s.ReplaceProcess(ctx, attemptID, ReplaceRequest{
			ProcessID:       *req.RetryProcessID,
			Prompt:          req.Prompt,
			Variant:         req.Variant,
			PerformGitReset: req.PerformGitReset,
			ForceWhenDirty:  req.ForceWhenDirty,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.ClearDraft(ctx, attemptID, attempt.DraftFollowUp); err != nil {
			s.logger.Warn("clear follow-up draft", "attempt_id", attemptID, "error", err)
		}
		return s.store.GetProcess(ctx, result.NewExecutionID)
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
	if _, err := s.worktrees.EnsureWorktree(ctx, a, proj); err != nil {
		return nil, err
	}

	profile := execution.Profile{Executor: a.Executor}
	if latest, err := s.store.LatestExecutorProfile(ctx, attemptID); err != nil {
		return nil, err
	} else if latest != nil {
		profile = *latest
	}
	if req.Variant != "" {
		profile.Variant = req.Variant
	}

	var action execution.Action
	sessionID, err := s.store.LatestSessionID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		action = execution.NewFollowUpAction(req.Prompt, *sessionID, profile)
	} else {
		action = execution.NewInitialAction(req.Prompt, profile)
	}

	proc, err := s.processes.StartExecution(ctx, a, execution.ReasonCodingAgent, action)
	if err != nil {
		return nil, err
	}
	if err := s.store.ClearDraft(ctx, attemptID, attempt.DraftFollowUp); err != nil {
		s.logger.Warn("clear follow-up draft", "attempt_id", attemptID, "error", err)
	}
	return proc, nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/adapter/otel"
	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/domain/project"
	"github.com/worklift/worklift/internal/port/database"
	"github.com/worklift/worklift/internal/port/executor"
	"github.com/worklift/worklift/internal/port/messagequeue"
)

// ExecutorResolver returns the executor registered under name.
type ExecutorResolver func(name string) (executor.Executor, error)

// ProcessService starts, supervises, and stops execution processes. At most
// one writer process should run per attempt; callers enforce that by
// stopping running processes before starting replacements.
type ProcessService struct {
	store     database.Store
	logs      *LogService
	git       GitClient
	worktrees *WorktreeService
	queue     messagequeue.Queue
	metrics   *otel.Metrics
	resolve   ExecutorResolver
	logger    *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]executor.Handle
}

// NewProcessService creates a ProcessService.
func NewProcessService(store database.Store, logs *LogService, git GitClient,
	worktrees *WorktreeService, queue messagequeue.Queue, metrics *otel.Metrics,
	resolve ExecutorResolver, logger *slog.Logger) *ProcessService {
	return &ProcessService{
		store:     store,
		logs:      logs,
		git:       git,
		worktrees: worktrees,
		queue:     queue,
		metrics:   metrics,
		resolve:   resolve,
		logger:    logger,
		running:   make(map[uuid.UUID]executor.Handle),
	}
}

// StartExecution launches a process for the attempt and supervises it in
// the background. The worktree HEAD is snapshotted before launch so retries
// can locate reset points later.
func (s *ProcessService) StartExecution(ctx context.Context, a *attempt.TaskAttempt,
	reason execution.RunReason, action execution.Action) (*execution.Process, error) {
	return s.startExecution(ctx, a, reason, action, nil)
}

func (s *ProcessService) startExecution(ctx context.Context, a *attempt.TaskAttempt,
	reason execution.RunReason, action execution.Action,
	onExit func(ctx context.Context, status execution.Status)) (*execution.Process, error) {

	if a.ContainerRef == "" || a.WorktreeDeleted {
		return nil, fmt.Errorf("start execution: attempt %s has no live worktree", a.ID)
	}

	var beforeHead *string
	if head, err := s.git.HeadCommit(ctx, a.ContainerRef); err == nil {
		beforeHead = &head
	} else {
		s.logger.Warn("before-head snapshot failed", "attempt_id", a.ID, "error", err)
	}

	execName := "script"
	if profile, ok := action.Profile(); ok {
		execName = profile.Executor
	}
	exe, err := s.resolve(execName)
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}

	proc := &execution.Process{
		TaskAttemptID:    a.ID,
		RunReason:        reason,
		BeforeHeadCommit: beforeHead,
		Action:           action,
	}
	if err := s.store.CreateProcess(ctx, proc); err != nil {
		return nil, err
	}

	handle, err := exe.Start(ctx, executor.StartSpec{WorktreeDir: a.ContainerRef, Action: action})
	if err != nil {
		failErr := err
		if _, cerr := s.store.CompleteProcess(ctx, proc.ID, execution.StatusFailed, nil, nil); cerr != nil {
			s.logger.Error("mark failed process", "execution_id", proc.ID, "error", cerr)
		}
		return nil, fmt.Errorf("start execution %s: %w", proc.ID, failErr)
	}

	s.mu.Lock()
	s.running[proc.ID] = handle
	s.mu.Unlock()

	s.metrics.ProcessesStarted.Add(ctx, 1)
	s.publish(ctx, messagequeue.SubjectExecStarted, messagequeue.ExecStartedPayload{
		ExecutionID:   proc.ID.String(),
		TaskAttemptID: a.ID.String(),
		RunReason:     string(reason),
	})
	s.logger.Info("execution started",
		"execution_id", proc.ID, "attempt_id", a.ID, "reason", reason, "executor", execName)

	go s.supervise(proc, a, handle, onExit)
	return proc, nil
}

// supervise drains the log stream, waits for exit, snapshots the after-HEAD,
// and records the terminal state. A process stopped concurrently keeps its
// killed status; the late completion report is discarded.
func (s *ProcessService) supervise(proc *execution.Process, a *attempt.TaskAttempt,
	handle executor.Handle, onExit func(ctx context.Context, status execution.Status)) {

	ctx := context.Background()
	started := time.Now()
	_, span := otel.StartExecutionSpan(ctx, proc.ID.String(), a.ID.String(), string(proc.RunReason))
	defer span.End()

	for msg := range handle.Logs() {
		if msg.Type == execution.LogFinished {
			continue // Finish emits the terminal message exactly once.
		}
		if err := s.logs.Ingest(ctx, proc.ID, msg); err != nil {
			s.logger.Error("log ingest failed", "execution_id", proc.ID, "error", err)
		}
	}

	exitCode, waitErr := handle.Wait(ctx)

	s.mu.Lock()
	delete(s.running, proc.ID)
	s.mu.Unlock()

	var afterHead *string
	if head, err := s.git.HeadCommit(ctx, a.ContainerRef); err == nil {
		afterHead = &head
	}

	status := execution.StatusCompleted
	if waitErr != nil || exitCode != 0 {
		status = execution.StatusFailed
	}

	updated, err := s.store.CompleteProcess(ctx, proc.ID, status, &exitCode, afterHead)
	if err != nil {
		s.logger.Error("complete process failed", "execution_id", proc.ID, "error", err)
	}
	if !updated {
		// A concurrent stop already recorded a terminal state.
		status = execution.StatusKilled
	}

	if err := s.logs.Finish(ctx, proc.ID); err != nil {
		s.logger.Error("finish log stream failed", "execution_id", proc.ID, "error", err)
	}

	switch status {
	case execution.StatusCompleted:
		s.metrics.ProcessesCompleted.Add(ctx, 1)
	case execution.StatusFailed:
		s.metrics.ProcessesFailed.Add(ctx, 1)
	case execution.StatusKilled:
		s.metrics.ProcessesKilled.Add(ctx, 1)
	}
	s.metrics.ProcessDuration.Record(ctx, time.Since(started).Seconds())

	s.publish(ctx, messagequeue.SubjectExecCompleted, messagequeue.ExecCompletedPayload{
		ExecutionID:   proc.ID.String(),
		TaskAttemptID: a.ID.String(),
		Status:        string(status),
		ExitCode:      &exitCode,
	})
	s.logger.Info("execution finished",
		"execution_id", proc.ID, "attempt_id", a.ID, "status", status, "exit_code", exitCode)

	if onExit != nil {
		onExit(ctx, status)
	}
}

// StopExecution stops a running process. The killed status is recorded
// immediately; the subprocess kill is best effort and the supervisor's later
// completion report cannot overwrite the terminal state.
func (s *ProcessService) StopExecution(ctx context.Context, processID uuid.UUID) error {
	if _, err := s.store.MarkProcessKilled(ctx, processID); err != nil {
		return err
	}

	s.mu.Lock()
	handle := s.running[processID]
	s.mu.Unlock()

	if handle != nil {
		if err := handle.Stop(ctx); err != nil {
			s.logger.Warn("process stop signal failed", "execution_id", processID, "error", err)
		}
	}
	return nil
}

// StopAttemptExecutions stops every running process of an attempt.
func (s *ProcessService) StopAttemptExecutions(ctx context.Context, attemptID uuid.UUID) error {
	procs, err := s.store.RunningProcesses(ctx, attemptID)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if err := s.StopExecution(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// StartDevServer starts the project's dev script in the attempt worktree.
// Only one dev server runs per project: any running one is stopped first.
func (s *ProcessService) StartDevServer(ctx context.Context, a *attempt.TaskAttempt, proj *project.Project) (*execution.Process, error) {
	if proj.DevScript == "" {
		return nil, fmt.Errorf("start dev server: project %s has no dev script", proj.ID)
	}

	running, err := s.store.RunningDevServers(ctx, proj.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range running {
		if err := s.StopExecution(ctx, p.ID); err != nil {
			return nil, err
		}
	}

	action := execution.NewScriptAction(proj.DevScript, proj.ScriptLanguage, string(execution.ReasonDevServer))
	return s.StartExecution(ctx, a, execution.ReasonDevServer, action)
}

// StartAttempt begins work on a fresh attempt: the project setup script
// runs first (once per attempt), then the initial coding-agent request. The
// agent is only launched if setup succeeds.
func (s *ProcessService) StartAttempt(ctx context.Context, a *attempt.TaskAttempt,
	proj *project.Project, prompt string, profile execution.Profile) (*execution.Process, error) {

	agentAction := execution.NewInitialAction(prompt, profile)

	if proj.SetupScript == "" || a.SetupCompletedAt != nil {
		return s.StartExecution(ctx, a, execution.ReasonCodingAgent, agentAction)
	}

	setupAction := execution.NewScriptAction(proj.SetupScript, proj.ScriptLanguage, string(execution.ReasonSetupScript))
	attemptCopy := *a
	return s.startExecution(ctx, a, execution.ReasonSetupScript, setupAction,
		func(ctx context.Context, status execution.Status) {
			if status != execution.StatusCompleted {
				s.logger.Warn("setup script failed, agent not started",
					"attempt_id", attemptCopy.ID, "status", status)
				return
			}
			if err := s.store.SetAttemptSetupCompleted(ctx, attemptCopy.ID); err != nil {
				s.logger.Error("record setup completion", "attempt_id", attemptCopy.ID, "error", err)
			}
			if _, err := s.StartExecution(ctx, &attemptCopy, execution.ReasonCodingAgent, agentAction); err != nil {
				s.logger.Error("agent start after setup failed", "attempt_id", attemptCopy.ID, "error", err)
			}
		})
}

// RunCleanupScript runs the project cleanup script in the attempt worktree,
// if one is configured.
func (s *ProcessService) RunCleanupScript(ctx context.Context, a *attempt.TaskAttempt, proj *project.Project) (*execution.Process, error) {
	if proj.CleanupScript == "" {
		return nil, nil
	}
	action := execution.NewScriptAction(proj.CleanupScript, proj.ScriptLanguage, string(execution.ReasonCleanupScript))
	return s.StartExecution(ctx, a, execution.ReasonCleanupScript, action)
}

// FindByAttempt lists the attempt's processes, optionally including dropped
// history.
func (s *ProcessService) FindByAttempt(ctx context.Context, attemptID uuid.UUID, includeDropped bool) ([]execution.Process, error) {
	return s.store.ListProcessesByAttempt(ctx, attemptID, includeDropped)
}

// publish sends a lifecycle event; delivery is best effort.
func (s *ProcessService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		s.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}

// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/domain/project"
	"github.com/worklift/worklift/internal/domain/task"
)

// Store is the port interface for database operations.
type Store interface {
	// Projects and tasks
	GetProject(ctx context.Context, id uuid.UUID) (*project.Project, error)
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status task.Status) error

	// Attempts
	CreateAttempt(ctx context.Context, a *attempt.TaskAttempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*attempt.TaskAttempt, error)
	ListAttemptsByTask(ctx context.Context, taskID uuid.UUID) ([]attempt.TaskAttempt, error)
	UpdateAttemptTargetBranch(ctx context.Context, id uuid.UUID, targetBranch string) error
	UpdateAttemptContainerRef(ctx context.Context, id uuid.UUID, containerRef string, worktreeDeleted bool) error
	SetAttemptSetupCompleted(ctx context.Context, id uuid.UUID) error

	// Execution processes
	CreateProcess(ctx context.Context, p *execution.Process) error
	GetProcess(ctx context.Context, id uuid.UUID) (*execution.Process, error)
	ListProcessesByAttempt(ctx context.Context, attemptID uuid.UUID, includeDropped bool) ([]execution.Process, error)
	// CompleteProcess records a terminal status and exit metadata, but only
	// if the row is still running. Returns false when a terminal status was
	// already recorded (e.g. the process was stopped concurrently).
	CompleteProcess(ctx context.Context, id uuid.UUID, status execution.Status, exitCode *int64, afterHead *string) (bool, error)
	MarkProcessKilled(ctx context.Context, id uuid.UUID) (bool, error)
	SetProcessSessionID(ctx context.Context, id uuid.UUID, sessionID string) error
	// LatestSessionID returns the most recent non-dropped agent session for
	// the attempt, if any.
	LatestSessionID(ctx context.Context, attemptID uuid.UUID) (*string, error)
	// LatestExecutorProfile returns the profile of the newest non-dropped
	// coding-agent process for the attempt.
	LatestExecutorProfile(ctx context.Context, attemptID uuid.UUID) (*execution.Profile, error)
	// PrevAfterHeadCommit finds the after-HEAD of the newest non-dropped
	// process started before the given one that recorded an after-HEAD.
	PrevAfterHeadCommit(ctx context.Context, attemptID, beforeProcessID uuid.UUID) (*string, error)
	// DropProcessesAtAndAfter soft-drops the process and every non-dropped
	// process of the attempt started at or after it, atomically. Returns
	// the number of rows dropped.
	DropProcessesAtAndAfter(ctx context.Context, attemptID, processID uuid.UUID) (int64, error)
	RunningProcesses(ctx context.Context, attemptID uuid.UUID) ([]execution.Process, error)
	RunningDevServers(ctx context.Context, projectID uuid.UUID) ([]execution.Process, error)

	// Process logs
	AppendProcessLog(ctx context.Context, executionID uuid.UUID, msg execution.LogMsg) error
	GetProcessLogs(ctx context.Context, executionID uuid.UUID) ([]execution.ProcessLogs, error)

	// Merges
	CreateDirectMerge(ctx context.Context, m *attempt.Merge) error
	CreatePRMerge(ctx context.Context, m *attempt.Merge) error
	UpdateMergeStatus(ctx context.Context, id uuid.UUID, status attempt.MergeStatus, mergeCommit *string) error
	ListMergesByAttempt(ctx context.Context, attemptID uuid.UUID) ([]attempt.Merge, error)
	LatestMergeByAttempt(ctx context.Context, attemptID uuid.UUID) (*attempt.Merge, error)

	// Drafts
	SaveDraft(ctx context.Context, d *attempt.Draft) error
	GetDraft(ctx context.Context, attemptID uuid.UUID, t attempt.DraftType) (*attempt.Draft, error)
	ClearDraft(ctx context.Context, attemptID uuid.UUID, t attempt.DraftType) error
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/worklift/worklift/internal/domain"
	"github.com/worklift/worklift/internal/domain/execution"
)

const processColumns = `id, task_attempt_id, run_reason, status, exit_code,
	before_head_commit, after_head_commit, session_id, action, dropped,
	started_at, completed_at, created_at`

func scanProcess(row scannable) (execution.Process, error) {
	var p execution.Process
	var actionJSON []byte
	err := row.Scan(&p.ID, &p.TaskAttemptID, &p.RunReason, &p.Status, &p.ExitCode,
		&p.BeforeHeadCommit, &p.AfterHeadCommit, &p.SessionID, &actionJSON, &p.Dropped,
		&p.StartedAt, &p.CompletedAt, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(actionJSON, &p.Action); err != nil {
		return p, fmt.Errorf("decode action: %w", err)
	}
	return p, nil
}

func (s *Store) CreateProcess(ctx context.Context, p *execution.Process) error {
	actionJSON, err := json.Marshal(p.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO execution_processes
		   (task_attempt_id, run_reason, status, before_head_commit, action)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+processColumns,
		p.TaskAttemptID, p.RunReason, execution.StatusRunning, p.BeforeHeadCommit, actionJSON)

	created, err := scanProcess(row)
	if err != nil {
		return fmt.Errorf("create process: %w", err)
	}
	*p = created
	return nil
}

func (s *Store) GetProcess(ctx context.Context, id uuid.UUID) (*execution.Process, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+processColumns+` FROM execution_processes WHERE id = $1`, id)

	p, err := scanProcess(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get process %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get process %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) ListProcessesByAttempt(ctx context.Context, attemptID uuid.UUID, includeDropped bool) ([]execution.Process, error) {
	q := `SELECT ` + processColumns + ` FROM execution_processes WHERE task_attempt_id = $1`
	if !includeDropped {
		q += ` AND NOT dropped`
	}
	q += ` ORDER BY started_at ASC, created_at ASC`

	rows, err := s.pool.Query(ctx, q, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var procs []execution.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

// CompleteProcess records a terminal status, guarded so a process that was
// already stopped (or completed by a racing writer) keeps its first terminal
// state.
func (s *Store) CompleteProcess(ctx context.Context, id uuid.UUID, status execution.Status, exitCode *int64, afterHead *string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_processes
		 SET status = $2, exit_code = $3, after_head_commit = $4, completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, status, exitCode, afterHead)
	if err != nil {
		return false, fmt.Errorf("complete process %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkProcessKilled(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_processes
		 SET status = 'killed', completed_at = now()
		 WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return false, fmt.Errorf("mark process killed %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SetProcessSessionID(ctx context.Context, id uuid.UUID, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE execution_processes SET session_id = $2 WHERE id = $1`, id, sessionID)
	if err != nil {
		return fmt.Errorf("set process session %s: %w", id, err)
	}
	return nil
}

func (s *Store) LatestSessionID(ctx context.Context, attemptID uuid.UUID) (*string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id FROM execution_processes
		 WHERE task_attempt_id = $1 AND NOT dropped AND session_id IS NOT NULL
		   AND run_reason = 'codingagent'
		 ORDER BY started_at DESC, created_at DESC LIMIT 1`, attemptID)

	var sessionID string
	if err := row.Scan(&sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest session: %w", err)
	}
	return &sessionID, nil
}

func (s *Store) LatestExecutorProfile(ctx context.Context, attemptID uuid.UUID) (*execution.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT action FROM execution_processes
		 WHERE task_attempt_id = $1 AND NOT dropped AND run_reason = 'codingagent'
		 ORDER BY started_at DESC, created_at DESC LIMIT 1`, attemptID)

	var actionJSON []byte
	if err := row.Scan(&actionJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest executor profile: %w", err)
	}
	var action execution.Action
	if err := json.Unmarshal(actionJSON, &action); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	if profile, ok := action.Profile(); ok {
		return &profile, nil
	}
	return nil, nil
}

// PrevAfterHeadCommit finds the after-HEAD of the newest non-dropped process
// started strictly before the given one. Used to locate a reset point when
// the replaced process never recorded a before-HEAD.
func (s *Store) PrevAfterHeadCommit(ctx context.Context, attemptID, beforeProcessID uuid.UUID) (*string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT p.after_head_commit FROM execution_processes p
		 WHERE p.task_attempt_id = $1 AND NOT p.dropped AND p.after_head_commit IS NOT NULL
		   AND (p.started_at, p.created_at) < (
		     SELECT q.started_at, q.created_at FROM execution_processes q WHERE q.id = $2)
		 ORDER BY p.started_at DESC, p.created_at DESC LIMIT 1`,
		attemptID, beforeProcessID)

	var oid string
	if err := row.Scan(&oid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("prev after-head: %w", err)
	}
	return &oid, nil
}

// DropProcessesAtAndAfter soft-drops the target process and every later
// non-dropped process of the attempt in one transaction, so a crash cannot
// leave a partially dropped suffix.
func (s *Store) DropProcessesAtAndAfter(ctx context.Context, attemptID, processID uuid.UUID) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin drop tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE execution_processes p
		 SET dropped = TRUE
		 FROM execution_processes target
		 WHERE target.id = $2
		   AND p.task_attempt_id = $1 AND NOT p.dropped
		   AND (p.started_at, p.created_at) >= (target.started_at, target.created_at)`,
		attemptID, processID)
	if err != nil {
		return 0, fmt.Errorf("drop processes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("drop processes: target %s: %w", processID, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit drop tx: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RunningProcesses(ctx context.Context, attemptID uuid.UUID) ([]execution.Process, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+processColumns+` FROM execution_processes
		 WHERE task_attempt_id = $1 AND status = 'running'
		 ORDER BY started_at ASC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("running processes: %w", err)
	}
	defer rows.Close()

	var procs []execution.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

// RunningDevServers lists running dev-server processes across all attempts
// of a project. Only one dev server per project may run at a time.
func (s *Store) RunningDevServers(ctx context.Context, projectID uuid.UUID) ([]execution.Process, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+qualifiedProcessColumns("p")+` FROM execution_processes p
		 JOIN task_attempts a ON a.id = p.task_attempt_id
		 JOIN tasks t ON t.id = a.task_id
		 WHERE t.project_id = $1 AND p.run_reason = 'devserver' AND p.status = 'running'`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("running dev servers: %w", err)
	}
	defer rows.Close()

	var procs []execution.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		procs = append(procs, p)
	}
	return procs, rows.Err()
}

func qualifiedProcessColumns(alias string) string {
	return alias + `.id, ` + alias + `.task_attempt_id, ` + alias + `.run_reason, ` +
		alias + `.status, ` + alias + `.exit_code, ` + alias + `.before_head_commit, ` +
		alias + `.after_head_commit, ` + alias + `.session_id, ` + alias + `.action, ` +
		alias + `.dropped, ` + alias + `.started_at, ` + alias + `.completed_at, ` +
		alias + `.created_at`
}

// --- Process logs ---

func (s *Store) AppendProcessLog(ctx context.Context, executionID uuid.UUID, msg execution.LogMsg) error {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal log msg: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_process_logs (execution_id, msg, byte_size)
		 VALUES ($1, $2, $3)`,
		executionID, msgJSON, len(msgJSON))
	if err != nil {
		return fmt.Errorf("append process log: %w", err)
	}
	return nil
}

func (s *Store) GetProcessLogs(ctx context.Context, executionID uuid.UUID) ([]execution.ProcessLogs, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT msg, byte_size, inserted_at FROM execution_process_logs
		 WHERE execution_id = $1 ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("get process logs: %w", err)
	}
	defer rows.Close()

	var pages []execution.ProcessLogs
	for rows.Next() {
		var msgJSON []byte
		var page execution.ProcessLogs
		if err := rows.Scan(&msgJSON, &page.ByteSize, &page.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan process log: %w", err)
		}
		var msg execution.LogMsg
		if err := json.Unmarshal(msgJSON, &msg); err != nil {
			return nil, fmt.Errorf("decode log msg: %w", err)
		}
		page.ExecutionID = executionID.String()
		page.Msgs = []execution.LogMsg{msg}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

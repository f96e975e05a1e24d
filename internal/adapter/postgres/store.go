package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worklift/worklift/internal/domain"
	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/project"
	"github.com/worklift/worklift/internal/domain/task"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, git_repo_path, setup_script, cleanup_script, dev_script, script_language, created_at, updated_at
		 FROM projects WHERE id = $1`, id)

	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.GitRepoPath, &p.SetupScript, &p.CleanupScript, &p.DevScript,
		&p.ScriptLanguage, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// --- Tasks ---

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, title, description, status, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)

	var t task.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status task.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update task status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Attempts ---

const attemptColumns = `id, task_id, branch, target_branch, container_ref, executor,
	worktree_deleted, setup_completed_at, created_at, updated_at`

func scanAttempt(row scannable) (attempt.TaskAttempt, error) {
	var a attempt.TaskAttempt
	err := row.Scan(&a.ID, &a.TaskID, &a.Branch, &a.TargetBranch, &a.ContainerRef, &a.Executor,
		&a.WorktreeDeleted, &a.SetupCompletedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) CreateAttempt(ctx context.Context, a *attempt.TaskAttempt) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO task_attempts (task_id, branch, target_branch, container_ref, executor)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+attemptColumns,
		a.TaskID, a.Branch, a.TargetBranch, a.ContainerRef, a.Executor)

	created, err := scanAttempt(row)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	*a = created
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id uuid.UUID) (*attempt.TaskAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM task_attempts WHERE id = $1`, id)

	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get attempt %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get attempt %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListAttemptsByTask(ctx context.Context, taskID uuid.UUID) ([]attempt.TaskAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM task_attempts WHERE task_id = $1 ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []attempt.TaskAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *Store) UpdateAttemptTargetBranch(ctx context.Context, id uuid.UUID, targetBranch string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_attempts SET target_branch = $2, updated_at = now() WHERE id = $1`, id, targetBranch)
	if err != nil {
		return fmt.Errorf("update attempt target %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update attempt target %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateAttemptContainerRef(ctx context.Context, id uuid.UUID, containerRef string, worktreeDeleted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_attempts SET container_ref = $2, worktree_deleted = $3, updated_at = now() WHERE id = $1`,
		id, containerRef, worktreeDeleted)
	if err != nil {
		return fmt.Errorf("update attempt container %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update attempt container %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetAttemptSetupCompleted(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_attempts SET setup_completed_at = now(), updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set attempt setup completed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set attempt setup completed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Drafts ---

func (s *Store) SaveDraft(ctx context.Context, d *attempt.Draft) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO drafts (task_attempt_id, draft_type, prompt, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (task_attempt_id, draft_type)
		 DO UPDATE SET prompt = EXCLUDED.prompt, updated_at = now()`,
		d.TaskAttemptID, d.Type, d.Prompt)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *Store) GetDraft(ctx context.Context, attemptID uuid.UUID, t attempt.DraftType) (*attempt.Draft, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_attempt_id, draft_type, prompt, updated_at
		 FROM drafts WHERE task_attempt_id = $1 AND draft_type = $2`, attemptID, t)

	var d attempt.Draft
	err := row.Scan(&d.TaskAttemptID, &d.Type, &d.Prompt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get draft: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get draft: %w", err)
	}
	return &d, nil
}

func (s *Store) ClearDraft(ctx context.Context, attemptID uuid.UUID, t attempt.DraftType) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM drafts WHERE task_attempt_id = $1 AND draft_type = $2`, attemptID, t)
	if err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/worklift/worklift/internal/domain/attempt"
)

const mergeColumns = `id, task_attempt_id, kind, target_branch, merge_commit, pr_number, pr_url, status, created_at`

func scanMerge(row scannable) (attempt.Merge, error) {
	var m attempt.Merge
	var mergeCommit, prURL *string
	var prNumber *int64
	err := row.Scan(&m.ID, &m.TaskAttemptID, &m.Kind, &m.TargetBranch, &mergeCommit,
		&prNumber, &prURL, &m.Status, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.MergeCommit = orEmptyString(mergeCommit)
	m.PRURL = orEmptyString(prURL)
	if prNumber != nil {
		m.PRNumber = *prNumber
	}
	return m, nil
}

func (s *Store) CreateDirectMerge(ctx context.Context, m *attempt.Merge) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO merges (task_attempt_id, kind, target_branch, merge_commit, status)
		 VALUES ($1, 'direct', $2, $3, 'merged')
		 RETURNING `+mergeColumns,
		m.TaskAttemptID, m.TargetBranch, nullIfEmpty(m.MergeCommit))

	created, err := scanMerge(row)
	if err != nil {
		return fmt.Errorf("create direct merge: %w", err)
	}
	*m = created
	return nil
}

func (s *Store) CreatePRMerge(ctx context.Context, m *attempt.Merge) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO merges (task_attempt_id, kind, target_branch, pr_number, pr_url, status)
		 VALUES ($1, 'pr', $2, $3, $4, $5)
		 RETURNING `+mergeColumns,
		m.TaskAttemptID, m.TargetBranch, m.PRNumber, nullIfEmpty(m.PRURL), m.Status)

	created, err := scanMerge(row)
	if err != nil {
		return fmt.Errorf("create pr merge: %w", err)
	}
	*m = created
	return nil
}

func (s *Store) UpdateMergeStatus(ctx context.Context, id uuid.UUID, status attempt.MergeStatus, mergeCommit *string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE merges SET status = $2, merge_commit = COALESCE($3, merge_commit) WHERE id = $1`,
		id, status, mergeCommit)
	if err != nil {
		return fmt.Errorf("update merge status %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListMergesByAttempt(ctx context.Context, attemptID uuid.UUID) ([]attempt.Merge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mergeColumns+` FROM merges WHERE task_attempt_id = $1 ORDER BY created_at DESC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list merges: %w", err)
	}
	defer rows.Close()

	var merges []attempt.Merge
	for rows.Next() {
		m, err := scanMerge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		merges = append(merges, m)
	}
	return merges, rows.Err()
}

func (s *Store) LatestMergeByAttempt(ctx context.Context, attemptID uuid.UUID) (*attempt.Merge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mergeColumns+` FROM merges WHERE task_attempt_id = $1
		 ORDER BY created_at DESC LIMIT 1`, attemptID)

	m, err := scanMerge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest merge: %w", err)
	}
	return &m, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/scheduler"
)

const taskColumns = `id, organization_id, task_type, task_data, scheduled_for, status, priority,
	retry_count, max_retries, attempts, COALESCE(dedupe_key,''), COALESCE(last_error,''),
	COALESCE(claimed_by,''), claimed_at, completed_at, created_at, updated_at`

// claimReturning is taskColumns qualified for UPDATE ... FROM.
const claimReturning = `t.id, t.organization_id, t.task_type, t.task_data, t.scheduled_for, t.status, t.priority,
	t.retry_count, t.max_retries, t.attempts, COALESCE(t.dedupe_key,''), COALESCE(t.last_error,''),
	COALESCE(t.claimed_by,''), t.claimed_at, t.completed_at, t.created_at, t.updated_at`

// TaskRepo implements scheduler.Repository against PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED so concurrent processors never share a task.
type TaskRepo struct{ db *sql.DB }

// NewTaskRepo creates a Postgres-backed task repository.
func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

func scanTask(s rowScanner) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var data []byte
	var claimedAt, completedAt sql.NullTime
	err := s.Scan(&t.ID, &t.OrganizationID, &t.TaskType, &data, &t.ScheduledFor, &t.Status, &t.Priority,
		&t.RetryCount, &t.MaxRetries, &t.Attempts, &t.DedupeKey, &t.LastError,
		&t.ClaimedBy, &claimedAt, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ClaimedAt = timePtr(claimedAt)
	t.CompletedAt = timePtr(completedAt)
	if t.TaskData, err = unmarshalMap(data); err != nil {
		return nil, fmt.Errorf("decode task_data: %w", err)
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows, err error) ([]domain.ScheduledTask, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Insert stores a task. A taken dedupe key yields scheduler.ErrDuplicateTask.
func (r *TaskRepo) Insert(ctx context.Context, t *domain.ScheduledTask) (uuid.UUID, error) {
	data, err := marshalJSON(t.TaskData)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode task_data: %w", err)
	}
	var id uuid.UUID
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_tasks (id, organization_id, task_type, task_data, scheduled_for, status,
			priority, retry_count, max_retries, attempts, dedupe_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
		RETURNING id
	`, t.ID, t.OrganizationID, t.TaskType, data, t.ScheduledFor, string(t.Status),
		t.Priority, t.RetryCount, t.MaxRetries, t.Attempts, nullString(t.DedupeKey), t.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, scheduler.ErrDuplicateTask
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (r *TaskRepo) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledTask, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scheduler.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) List(ctx context.Context, f scheduler.ListFilter) ([]domain.ScheduledTask, error) {
	q := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.OrganizationID != nil {
		q += ` AND organization_id = ` + arg(*f.OrganizationID)
	}
	if f.Status != "" {
		q += ` AND status = ` + arg(string(f.Status))
	}
	if f.TaskType != "" {
		q += ` AND task_type = ` + arg(f.TaskType)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += ` ORDER BY scheduled_for DESC, id LIMIT ` + arg(limit)

	tasks, err := scanTasks(r.db.QueryContext(ctx, q, args...))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ClaimDue moves due tasks to processing in a single statement. Rows locked
// by another claimer are skipped, not waited on.
func (r *TaskRepo) ClaimDue(ctx context.Context, now time.Time, limit int, workerID string) ([]domain.ScheduledTask, error) {
	tasks, err := scanTasks(r.db.QueryContext(ctx, `
		WITH claimed AS (
			SELECT id FROM scheduled_tasks
			WHERE status IN ('pending', 'retry_scheduled') AND scheduled_for <= $1
			ORDER BY priority DESC, scheduled_for ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scheduled_tasks t
		SET status = 'processing', claimed_by = $3, claimed_at = $1, attempts = t.attempts + 1, updated_at = $1
		FROM claimed
		WHERE t.id = claimed.id
		RETURNING `+claimReturning, now, limit, workerID))
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	// UPDATE ... RETURNING does not preserve the CTE order.
	sortClaimed(tasks)
	return tasks, nil
}

func (r *TaskRepo) Complete(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = 'completed', completed_at = $3, claimed_by = NULL, last_error = NULL, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`, id, workerID, at)
	return claimResult(res, err, "complete task")
}

func (r *TaskRepo) Fail(ctx context.Context, u scheduler.FailureUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $3, retry_count = $4, scheduled_for = $5, last_error = $6,
			claimed_by = NULL, updated_at = $7
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
			AND ($8::timestamptz IS NULL OR claimed_at < $8)
	`, u.ID, u.WorkerID, string(u.Status), u.RetryCount, u.ScheduledFor, u.LastError, u.At,
		sql.NullTime{Time: u.ClaimedBefore, Valid: !u.ClaimedBefore.IsZero()})
	return claimResult(res, err, "fail task")
}

func (r *TaskRepo) Heartbeat(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET claimed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`, id, workerID, at)
	return claimResult(res, err, "renew task claim")
}

func (r *TaskRepo) Release(ctx context.Context, id uuid.UUID, workerID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = CASE WHEN retry_count > 0 THEN 'retry_scheduled' ELSE 'pending' END,
			attempts = GREATEST(attempts - 1, 0), claimed_by = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`, id, workerID)
	return claimResult(res, err, "release task")
}

func (r *TaskRepo) ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.ScheduledTask, error) {
	tasks, err := scanTasks(r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE status = 'processing' AND claimed_at < $1
		ORDER BY claimed_at
		LIMIT $2
	`, claimedBefore, limit))
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	return tasks, nil
}

func claimResult(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduler.ErrClaimLost
	}
	return nil
}

func sortClaimed(tasks []domain.ScheduledTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].ScheduledFor.Before(tasks[j].ScheduledFor)
	})
}

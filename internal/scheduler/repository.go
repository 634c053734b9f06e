package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
)

// Repository defines the data access contract for scheduled tasks.
// Implementations must be safe for concurrent use across processes.
type Repository interface {
	// Insert stores a new task. Returns ErrDuplicateTask if the task's
	// non-empty DedupeKey is already taken.
	Insert(ctx context.Context, t *domain.ScheduledTask) (uuid.UUID, error)

	// Get returns a single task. Returns ErrTaskNotFound if it doesn't exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledTask, error)

	// List returns tasks matching the filter, newest scheduled first.
	List(ctx context.Context, f ListFilter) ([]domain.ScheduledTask, error)

	// ClaimDue atomically moves up to limit eligible tasks (pending or
	// retry_scheduled, scheduled_for <= now) to processing, highest priority
	// first then earliest scheduled, increments their attempt counter, and
	// returns them. A task is returned to at most one caller.
	ClaimDue(ctx context.Context, now time.Time, limit int, workerID string) ([]domain.ScheduledTask, error)

	// Complete marks a claimed task completed. Returns ErrClaimLost if the
	// task is no longer processing under workerID.
	Complete(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error

	// Fail records a failed attempt on a claimed task, moving it to
	// retry_scheduled or failed. Returns ErrClaimLost like Complete.
	Fail(ctx context.Context, u FailureUpdate) error

	// Heartbeat renews a claim by moving claimed_at to at. Returns
	// ErrClaimLost if the task is no longer processing under workerID.
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error

	// Release hands an unstarted claim back, restoring its eligible status
	// and attempt count.
	Release(ctx context.Context, id uuid.UUID, workerID string) error

	// ListStale returns tasks that have been processing since before
	// claimedBefore.
	ListStale(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.ScheduledTask, error)
}

// FailureUpdate is the state written after a failed attempt.
type FailureUpdate struct {
	ID           uuid.UUID
	WorkerID     string
	Status       domain.TaskStatus
	RetryCount   int
	ScheduledFor time.Time
	LastError    string
	At           time.Time

	// ClaimedBefore, when set, only matches a claim last renewed before it.
	// The reaper uses it so a heartbeat landing after ListStale wins.
	ClaimedBefore time.Time
}

// ListFilter narrows List.
type ListFilter struct {
	OrganizationID *uuid.UUID
	Status         domain.TaskStatus
	TaskType       string
	Limit          int
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a ScheduledTask.
type TaskStatus string

const (
	TaskPending        TaskStatus = "pending"
	TaskProcessing     TaskStatus = "processing"
	TaskRetryScheduled TaskStatus = "retry_scheduled"
	TaskCompleted      TaskStatus = "completed"
	TaskFailed         TaskStatus = "failed"
)

// IsTerminal returns true if the task will never be claimed again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// IsEligible returns true if a task in this status may be claimed once due.
func (s TaskStatus) IsEligible() bool {
	return s == TaskPending || s == TaskRetryScheduled
}

// DefaultMaxRetries is applied when a task is enqueued without a limit.
const DefaultMaxRetries = 3

// ScheduledTask is a durable, time-triggered unit of work with bounded retry.
type ScheduledTask struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	OrganizationID uuid.UUID      `json:"organization_id" db:"organization_id"`
	TaskType       string         `json:"task_type" db:"task_type"`
	TaskData       map[string]any `json:"task_data" db:"task_data"`
	ScheduledFor   time.Time      `json:"scheduled_for" db:"scheduled_for"`
	Status         TaskStatus     `json:"status" db:"status"`
	Priority       int            `json:"priority" db:"priority"`
	RetryCount     int            `json:"retry_count" db:"retry_count"`
	MaxRetries     int            `json:"max_retries" db:"max_retries"`
	Attempts       int            `json:"attempts" db:"attempts"`
	DedupeKey      string         `json:"dedupe_key,omitempty" db:"dedupe_key"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
	ClaimedBy      string         `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// RetriesLeft reports whether another attempt is allowed after a failure.
func (t *ScheduledTask) RetriesLeft() bool {
	return t.RetryCount < t.MaxRetries
}

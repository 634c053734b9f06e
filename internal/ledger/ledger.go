// Package ledger keeps the append-only audit trail of automation runs and
// scheduled task attempts. Entries are written to one or more sinks
// (Postgres, DynamoDB, an S3 NDJSON archive); a failing sink never blocks
// the engine.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
)

// Kind identifies what an entry describes.
type Kind string

const (
	KindAutomationRun Kind = "automation_run"
	KindTaskAttempt   Kind = "task_attempt"
)

// Entry is one immutable ledger record.
type Entry struct {
	ID             uuid.UUID      `json:"id"`
	Kind           Kind           `json:"kind"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	SubjectID      uuid.UUID      `json:"subject_id"`
	ParentID       *uuid.UUID     `json:"parent_id,omitempty"`
	LeadID         *uuid.UUID     `json:"lead_id,omitempty"`
	Status         string         `json:"status"`
	Attempt        int            `json:"attempt,omitempty"`
	Error          string         `json:"error,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// RunEntry describes a finished automation run. ParentID is the automation.
func RunEntry(run *domain.AutomationRun, actions []domain.ActionType) Entry {
	at := run.StartedAt
	if run.CompletedAt != nil {
		at = *run.CompletedAt
	}
	automationID := run.AutomationID
	return Entry{
		ID:             uuid.New(),
		Kind:           KindAutomationRun,
		OrganizationID: run.OrganizationID,
		SubjectID:      run.ID,
		ParentID:       &automationID,
		LeadID:         run.LeadID,
		Status:         string(run.Status),
		Error:          run.ExecutionLog.Error,
		Detail: map[string]any{
			"actions":        actions,
			"failed_actions": run.ExecutionLog.Failed(),
			"duration_ms":    at.Sub(run.StartedAt).Milliseconds(),
		},
		RecordedAt: at,
	}
}

// TaskAttemptEntry describes one processing attempt of a scheduled task.
// status is the state the task moved to after the attempt.
func TaskAttemptEntry(task *domain.ScheduledTask, status domain.TaskStatus, attemptErr error, at time.Time) Entry {
	e := Entry{
		ID:             uuid.New(),
		Kind:           KindTaskAttempt,
		OrganizationID: task.OrganizationID,
		SubjectID:      task.ID,
		Status:         string(status),
		Attempt:        task.Attempts,
		Detail: map[string]any{
			"task_type":   task.TaskType,
			"retry_count": task.RetryCount,
			"max_retries": task.MaxRetries,
		},
		RecordedAt: at,
	}
	if status == domain.TaskRetryScheduled {
		e.Detail["next_attempt_at"] = task.ScheduledFor.UTC().Format(time.RFC3339)
	}
	if attemptErr != nil {
		e.Error = attemptErr.Error()
	}
	return e
}

// Recorder persists ledger entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Fanout writes every entry to all recorders and joins their errors.
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range f {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

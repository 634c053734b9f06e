package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
)

// AutomationRepository reads automation definitions. Returned automations
// carry their actions.
type AutomationRepository interface {
	// GetAutomation returns ErrAutomationNotFound if it doesn't exist.
	GetAutomation(ctx context.Context, id uuid.UUID) (*domain.Automation, error)

	// ListByTrigger returns the organization's active automations for a
	// trigger type.
	ListByTrigger(ctx context.Context, orgID uuid.UUID, trigger domain.TriggerType) ([]domain.Automation, error)

	// ListTimeBased returns active time_based automations across all
	// organizations.
	ListTimeBased(ctx context.Context) ([]domain.Automation, error)
}

// RunRepository persists automation runs.
type RunRepository interface {
	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, run *domain.AutomationRun) error

	// AppendRunLog appends one action outcome to the run's execution log.
	AppendRunLog(ctx context.Context, runID uuid.UUID, entry domain.ActionLogEntry) error

	// FinishRun moves a processing run to a terminal status. The full
	// execution log is written with it.
	FinishRun(ctx context.Context, run *domain.AutomationRun) error

	// GetRun returns ErrRunNotFound if it doesn't exist.
	GetRun(ctx context.Context, id uuid.UUID) (*domain.AutomationRun, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, f RunFilter) ([]domain.AutomationRun, error)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	OrganizationID uuid.UUID
	AutomationID   *uuid.UUID
	LeadID         *uuid.UUID
	Status         domain.RunStatus
	Limit          int
}

const (
	DefaultRunLimit = 100
	MaxRunLimit     = 500
)

// Normalize clamps Limit into (0, MaxRunLimit].
func (f *RunFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultRunLimit
	}
	if f.Limit > MaxRunLimit {
		f.Limit = MaxRunLimit
	}
}

// TaskEnqueuer is the part of the scheduled task queue the dispatcher and
// planner need.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, t *domain.ScheduledTask) (uuid.UUID, error)
}

// LeadStore is the record store as seen by mutating actions.
type LeadStore interface {
	// GetLead returns ErrLeadNotFound if it doesn't exist.
	GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error)

	// UpdateLead applies the patch and returns the updated lead.
	UpdateLead(ctx context.Context, id uuid.UUID, patch domain.LeadPatch) (*domain.Lead, error)
}

// Recipient is who an e-mail goes to.
type Recipient struct {
	Email  string
	Name   string
	LeadID *uuid.UUID
}

// DeliveryReceipt acknowledges an accepted e-mail.
type DeliveryReceipt struct {
	MessageID  string
	Provider   string
	AcceptedAt time.Time
}

// EmailSender renders and delivers a stored template.
type EmailSender interface {
	Send(ctx context.Context, templateID uuid.UUID, to Recipient, data map[string]any) (*DeliveryReceipt, error)
}

// Notification is an in-app message for one user.
type Notification struct {
	OrganizationID uuid.UUID      `json:"organization_id"`
	UserID         uuid.UUID      `json:"user_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NotificationSender delivers notifications to users.
type NotificationSender interface {
	Notify(ctx context.Context, n Notification) error
}

// TaskCreator stores follow-up work items for agents.
type TaskCreator interface {
	CreateLeadTask(ctx context.Context, t *domain.LeadTask) (uuid.UUID, error)
}

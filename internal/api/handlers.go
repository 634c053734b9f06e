// Package api is the thin admin and event-intake HTTP surface over the
// segmentation engine, the automation dispatcher and the task queue.
package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/ledger"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/ignite/leadflow/internal/segmentation"
)

// SegmentService is implemented by *segmentation.Engine.
type SegmentService interface {
	EvaluateSegment(ctx context.Context, segmentID uuid.UUID) (*segmentation.EvaluationResult, error)
	UpdateMemberships(ctx context.Context, segmentID uuid.UUID) (*segmentation.UpdateResult, error)
	AddLeadsToSegment(ctx context.Context, segmentID uuid.UUID, leadIDs []uuid.UUID) (int, error)
	RemoveLeadsFromSegment(ctx context.Context, segmentID uuid.UUID, leadIDs []uuid.UUID) (int, error)
	SegmentLeads(ctx context.Context, segmentID uuid.UUID) ([]uuid.UUID, error)
	LeadSegments(ctx context.Context, leadID uuid.UUID) ([]domain.Segment, error)
	RecomputeAll(ctx context.Context, orgID uuid.UUID) (*segmentation.SweepResult, error)
}

// AutomationService is implemented by *automation.Dispatcher.
type AutomationService interface {
	Dispatch(ctx context.Context, ev automation.Event) (*automation.DispatchResult, error)
	TriggerAutomation(ctx context.Context, automationID uuid.UUID, leadID *uuid.UUID, data map[string]any) (*automation.RunResult, error)
}

// RunReader is implemented by *automation.Pipeline.
type RunReader interface {
	ListRuns(ctx context.Context, f automation.RunFilter) ([]domain.AutomationRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.AutomationRun, error)
}

// TaskService is implemented by *scheduler.Queue.
type TaskService interface {
	Enqueue(ctx context.Context, t *domain.ScheduledTask) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledTask, error)
	List(ctx context.Context, f scheduler.ListFilter) ([]domain.ScheduledTask, error)
	ProcessDueBatch(ctx context.Context, limit int) (*scheduler.BatchResult, error)
}

// NotificationReader is implemented by *notify.RedisNotifier.
type NotificationReader interface {
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]automation.Notification, error)
	Subscribe(ctx context.Context, userID uuid.UUID) (<-chan automation.Notification, error)
}

// LedgerReader is implemented by *postgres.LedgerRepo.
type LedgerReader interface {
	ListBySubject(ctx context.Context, subjectID uuid.UUID, limit int) ([]ledger.Entry, error)
}

// Deps wires the handlers. Notifications, Ledger and Health may be nil.
type Deps struct {
	Segments      SegmentService
	Automations   AutomationService
	Runs          RunReader
	Tasks         TaskService
	Notifications NotificationReader
	Ledger        LedgerReader
	Health        *HealthChecker
}

// Handlers contains all HTTP handlers
type Handlers struct {
	segments      SegmentService
	automations   AutomationService
	runs          RunReader
	tasks         TaskService
	notifications NotificationReader
	ledger        LedgerReader
	health        *HealthChecker
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	if d.Health == nil {
		d.Health = NewHealthChecker(nil, nil)
	}
	return &Handlers{
		segments:      d.Segments,
		automations:   d.Automations,
		runs:          d.Runs,
		tasks:         d.Tasks,
		notifications: d.Notifications,
		ledger:        d.Ledger,
		health:        d.Health,
	}
}

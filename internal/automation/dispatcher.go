package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/logger"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/ignite/leadflow/internal/segmentation"
)

// Event is a lead lifecycle change reported by the record store or the
// segmentation engine.
type Event struct {
	OrganizationID uuid.UUID          `json:"organization_id"`
	TriggerType    domain.TriggerType `json:"trigger_type"`
	LeadID         *uuid.UUID         `json:"lead_id,omitempty"`
	Data           map[string]any     `json:"data,omitempty"`
}

// DispatchResult reports what one event set in motion.
type DispatchResult struct {
	Considered int         `json:"considered"`
	Matched    int         `json:"matched"`
	Results    []RunResult `json:"results"`
}

// Dispatcher resolves events against stored automations. Matching
// automations run inline when run_immediately is set and are deferred to the
// task queue otherwise.
type Dispatcher struct {
	automations AutomationRepository
	pipeline    *Pipeline
	tasks       TaskEnqueuer
	now         func() time.Time
}

// NewDispatcher creates a dispatcher. tasks may be nil, in which case
// deferred automations run inline.
func NewDispatcher(automations AutomationRepository, pipeline *Pipeline, tasks TaskEnqueuer) *Dispatcher {
	return &Dispatcher{automations: automations, pipeline: pipeline, tasks: tasks, now: time.Now}
}

// Dispatch runs or schedules every active automation of the event's
// organization whose trigger matches.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*DispatchResult, error) {
	if !ev.TriggerType.Valid() {
		return nil, fmt.Errorf("unknown trigger type %q", ev.TriggerType)
	}
	autos, err := d.automations.ListByTrigger(ctx, ev.OrganizationID, ev.TriggerType)
	if err != nil {
		return nil, fmt.Errorf("list automations for %s: %w", ev.TriggerType, err)
	}
	return d.dispatch(ctx, ev, autos)
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event, autos []domain.Automation) (*DispatchResult, error) {
	res := &DispatchResult{Results: []RunResult{}}
	var errs []error
	for i := range autos {
		a := &autos[i]
		if !a.Active || a.TriggerType != ev.TriggerType {
			continue
		}
		res.Considered++
		cfg, err := DecodeTriggerConfig(a.TriggerConfig)
		if err != nil {
			logger.Warn("automation skipped: bad trigger config", "component", "automation",
				"automation_id", a.ID.String(), "error", err)
			continue
		}
		if !cfg.Matches(ev.TriggerType, ev.Data) {
			continue
		}
		res.Matched++

		req := RunRequest{LeadID: ev.LeadID, TriggerData: ev.Data}
		var r *RunResult
		if a.RunImmediately || d.tasks == nil {
			r, err = d.pipeline.Run(ctx, a, req)
		} else {
			r, err = d.schedule(ctx, a, cfg, req)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("automation %s: %w", a.ID, err))
		}
		if r != nil {
			res.Results = append(res.Results, *r)
		}
	}
	return res, errors.Join(errs...)
}

func (d *Dispatcher) schedule(ctx context.Context, a *domain.Automation, cfg TriggerConfig, req RunRequest) (*RunResult, error) {
	task := scheduler.NewTask(a.OrganizationID, TaskRunAutomation, NewRunTaskData(a.ID, req.LeadID, req.TriggerData))
	task.ScheduledFor = d.now().Add(time.Duration(cfg.DelayMinutes) * time.Minute)
	task.Priority = cfg.Priority
	id, err := d.tasks.Enqueue(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("schedule run: %w", err)
	}
	return &RunResult{
		AutomationID:     a.ID,
		Triggered:        true,
		Success:          true,
		TriggeredActions: []domain.ActionType{},
		Message:          fmt.Sprintf("Automation scheduled for %s", task.ScheduledFor.UTC().Format(time.RFC3339)),
		Scheduled:        true,
		TaskID:           &id,
	}, nil
}

// HandleTransitions raises segment_entered and segment_exited events for
// committed membership changes.
func (d *Dispatcher) HandleTransitions(ctx context.Context, transitions []segmentation.Transition) error {
	type cacheKey struct {
		org uuid.UUID
		t   domain.TriggerType
	}
	cache := make(map[cacheKey][]domain.Automation)

	var errs []error
	for _, tr := range transitions {
		trigger := domain.TriggerSegmentEntered
		if tr.Kind == segmentation.Exited {
			trigger = domain.TriggerSegmentExited
		}
		key := cacheKey{tr.OrganizationID, trigger}
		autos, ok := cache[key]
		if !ok {
			var err error
			autos, err = d.automations.ListByTrigger(ctx, tr.OrganizationID, trigger)
			if err != nil {
				errs = append(errs, fmt.Errorf("list automations for %s: %w", trigger, err))
				continue
			}
			cache[key] = autos
		}
		if len(autos) == 0 {
			continue
		}

		leadID := tr.LeadID
		ev := Event{
			OrganizationID: tr.OrganizationID,
			TriggerType:    trigger,
			LeadID:         &leadID,
			Data: map[string]any{
				"segment_id": tr.SegmentID.String(),
				"changed_at": tr.At.UTC().Format(time.RFC3339),
			},
		}
		if _, err := d.dispatch(ctx, ev, autos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TriggerAutomation runs one automation directly, bypassing trigger
// matching. Returns ErrAutomationNotFound if it doesn't exist.
func (d *Dispatcher) TriggerAutomation(ctx context.Context, automationID uuid.UUID, leadID *uuid.UUID, data map[string]any) (*RunResult, error) {
	return d.pipeline.Trigger(ctx, automationID, RunRequest{LeadID: leadID, TriggerData: data})
}

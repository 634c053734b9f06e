package automation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/ledger"
	"github.com/ignite/leadflow/internal/pkg/logger"
)

// ActionRunner executes a single action. *Executor is the production
// implementation.
type ActionRunner interface {
	Execute(ctx context.Context, action domain.AutomationAction, inv Invocation) Outcome
}

// RunRequest carries what triggered a run.
type RunRequest struct {
	LeadID      *uuid.UUID
	TriggerData map[string]any
}

// RunResult is returned to whoever triggered an automation.
type RunResult struct {
	AutomationID     uuid.UUID           `json:"automation_id"`
	Triggered        bool                `json:"triggered"`
	Success          bool                `json:"success"`
	AutomationRunID  *uuid.UUID          `json:"automation_run_id,omitempty"`
	Status           domain.RunStatus    `json:"status,omitempty"`
	TriggeredActions []domain.ActionType `json:"triggered_actions"`
	Message          string              `json:"message"`

	// Set when the run was deferred to the task queue instead.
	Scheduled bool       `json:"scheduled,omitempty"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
}

const finishAttempts = 3

// Pipeline executes automations and records each execution as a Run.
// A run's actions execute strictly in order, one at a time.
type Pipeline struct {
	automations AutomationRepository
	runs        RunRepository
	runner      ActionRunner
	ledger      ledger.Recorder
	now         func() time.Time
	retryWait   time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRunLedger records every finished run.
func WithRunLedger(r ledger.Recorder) PipelineOption { return func(p *Pipeline) { p.ledger = r } }

// WithPipelineClock overrides time.Now, for tests.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline.
func NewPipeline(automations AutomationRepository, runs RunRepository, runner ActionRunner, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		automations: automations,
		runs:        runs,
		runner:      runner,
		ledger:      ledger.Nop{},
		now:         time.Now,
		retryWait:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Trigger loads an automation and runs it. Returns ErrAutomationNotFound if
// it doesn't exist.
func (p *Pipeline) Trigger(ctx context.Context, automationID uuid.UUID, req RunRequest) (*RunResult, error) {
	a, err := p.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, a, req)
}

// Run executes every active action of a in order and returns once the run
// is terminal. An inactive automation is not run and no Run is created.
//
// Action failures are recorded and do not stop the chain; the run still
// completes. Only a fault in the loop itself fails the run. Once started a
// run is not cancellable: ctx cancellation is ignored for the run's writes.
func (p *Pipeline) Run(ctx context.Context, a *domain.Automation, req RunRequest) (*RunResult, error) {
	res := &RunResult{AutomationID: a.ID, TriggeredActions: []domain.ActionType{}}
	if !a.Active {
		res.Message = "Automation not found or inactive"
		return res, nil
	}
	ctx = context.WithoutCancel(ctx)

	run := &domain.AutomationRun{
		ID:             uuid.New(),
		AutomationID:   a.ID,
		OrganizationID: a.OrganizationID,
		LeadID:         req.LeadID,
		Status:         domain.RunProcessing,
		TriggerData:    req.TriggerData,
		ExecutionLog:   domain.ExecutionLog{Actions: []domain.ActionLogEntry{}},
		StartedAt:      p.now(),
	}
	if run.TriggerData == nil {
		run.TriggerData = map[string]any{}
	}
	if err := p.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	res.Triggered = true
	res.AutomationRunID = &run.ID

	executed, loopErr := p.execute(ctx, a, run)
	res.TriggeredActions = executed

	completedAt := p.now()
	run.CompletedAt = &completedAt
	if loopErr != nil {
		run.Status = domain.RunFailed
		run.ExecutionLog.Error = loopErr.Error()
		res.Message = "Automation failed: " + loopErr.Error()
		logger.Error("automation run failed", "component", "automation", "automation_id", a.ID.String(),
			"run_id", run.ID.String(), "error", loopErr)
	} else {
		run.Status = domain.RunCompleted
		res.Message = "Automation triggered successfully"
	}
	res.Status = run.Status
	res.Success = run.Status == domain.RunCompleted

	finishErr := p.finish(ctx, run)
	if err := p.ledger.Record(ctx, ledger.RunEntry(run, executed)); err != nil {
		logger.Warn("run ledger write failed", "component", "automation", "run_id", run.ID.String(), "error", err)
	}
	if finishErr != nil {
		return res, fmt.Errorf("finish run %s: %w", run.ID, finishErr)
	}

	logger.Info("automation run finished", "component", "automation", "automation_id", a.ID.String(),
		"run_id", run.ID.String(), "status", string(run.Status), "actions", len(executed),
		"failed_actions", run.ExecutionLog.Failed())
	return res, nil
}

// execute runs the action chain. A panic escaping the runner is the loop
// fault that fails the run.
func (p *Pipeline) execute(ctx context.Context, a *domain.Automation, run *domain.AutomationRun) (executed []domain.ActionType, err error) {
	executed = []domain.ActionType{}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("automation loop panicked", "component", "automation", "run_id", run.ID.String(),
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	inv := Invocation{
		OrganizationID: a.OrganizationID,
		AutomationID:   a.ID,
		RunID:          run.ID,
		LeadID:         run.LeadID,
		TriggerData:    run.TriggerData,
	}
	for _, action := range a.OrderedActions() {
		if !action.Active {
			continue
		}
		out := p.runner.Execute(ctx, action, inv)
		entry := domain.ActionLogEntry{
			Order:      action.Order,
			ActionType: action.ActionType,
			Success:    out.Success,
			Detail:     out.Detail,
			Error:      out.Error,
			At:         p.now(),
		}
		run.ExecutionLog.Actions = append(run.ExecutionLog.Actions, entry)
		executed = append(executed, action.ActionType)
		if !out.Success {
			logger.Warn("automation action failed", "component", "automation", "run_id", run.ID.String(),
				"action_type", string(action.ActionType), "order", action.Order, "error", out.Error)
		}
		// The full log is written again by FinishRun.
		if err := p.runs.AppendRunLog(ctx, run.ID, entry); err != nil {
			logger.Warn("run log append failed", "component", "automation", "run_id", run.ID.String(), "error", err)
		}
	}
	return executed, nil
}

func (p *Pipeline) finish(ctx context.Context, run *domain.AutomationRun) error {
	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		if err = p.runs.FinishRun(ctx, run); err == nil {
			return nil
		}
		if errors.Is(err, ErrRunNotFound) {
			return err
		}
		logger.Warn("finish run failed, retrying", "component", "automation", "run_id", run.ID.String(),
			"attempt", attempt, "error", err)
		if attempt < finishAttempts {
			time.Sleep(time.Duration(attempt) * p.retryWait)
		}
	}
	return err
}

// ListRuns returns runs newest first.
func (p *Pipeline) ListRuns(ctx context.Context, f RunFilter) ([]domain.AutomationRun, error) {
	f.Normalize()
	return p.runs.ListRuns(ctx, f)
}

// GetRun returns a run. Returns ErrRunNotFound if it doesn't exist.
func (p *Pipeline) GetRun(ctx context.Context, id uuid.UUID) (*domain.AutomationRun, error) {
	return p.runs.GetRun(ctx, id)
}

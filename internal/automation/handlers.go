package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/logger"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/ignite/leadflow/internal/segmentation"
)

// Task types handled by the core.
const (
	TaskRunAutomation     = "run_automation"
	TaskRecomputeSegment  = "recompute_segment"
	TaskRecomputeSegments = "recompute_segments"
)

// RunTaskData is the payload of a run_automation task.
type RunTaskData struct {
	AutomationID uuid.UUID
	LeadID       *uuid.UUID
	TriggerData  map[string]any
}

// NewRunTaskData builds a run_automation payload.
func NewRunTaskData(automationID uuid.UUID, leadID *uuid.UUID, triggerData map[string]any) map[string]any {
	data := map[string]any{"automation_id": automationID.String()}
	if leadID != nil {
		data["lead_id"] = leadID.String()
	}
	if triggerData != nil {
		data["trigger_data"] = triggerData
	}
	return data
}

// DecodeRunTaskData reads a run_automation payload.
func DecodeRunTaskData(data map[string]any) (RunTaskData, error) {
	var d RunTaskData
	id, err := uuidField(data, "automation_id", true)
	if err != nil {
		return d, err
	}
	d.AutomationID = *id
	if d.LeadID, err = uuidField(data, "lead_id", false); err != nil {
		return d, err
	}
	if td, ok := data["trigger_data"].(map[string]any); ok {
		d.TriggerData = td
	}
	return d, nil
}

func uuidField(data map[string]any, key string, required bool) (*uuid.UUID, error) {
	s := dataString(data, key)
	if s == "" {
		if required {
			return nil, fmt.Errorf("%s is required", key)
		}
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &id, nil
}

// SegmentRecomputer is the part of the segmentation engine the recompute
// tasks use.
type SegmentRecomputer interface {
	UpdateMemberships(ctx context.Context, segmentID uuid.UUID) (*segmentation.UpdateResult, error)
	RecomputeAll(ctx context.Context, orgID uuid.UUID) (*segmentation.SweepResult, error)
}

// HandlerRegistry accepts task handlers. *scheduler.Queue implements it.
type HandlerRegistry interface {
	Register(taskType string, h scheduler.Handler)
}

// RegisterHandlers installs the core task handlers. segments may be nil when
// the process does not recompute segments.
func RegisterHandlers(reg HandlerRegistry, pipeline *Pipeline, segments SegmentRecomputer) {
	reg.Register(TaskRunAutomation, RunAutomationHandler(pipeline))
	if segments != nil {
		reg.Register(TaskRecomputeSegment, RecomputeSegmentHandler(segments))
		reg.Register(TaskRecomputeSegments, RecomputeSegmentsHandler(segments))
	}
}

// RunAutomationHandler runs the automation named in the task. A run whose
// loop faulted fails the attempt so the task is retried.
func RunAutomationHandler(pipeline *Pipeline) scheduler.Handler {
	return func(ctx context.Context, task *domain.ScheduledTask) error {
		d, err := DecodeRunTaskData(task.TaskData)
		if err != nil {
			return scheduler.Permanent(err)
		}
		res, err := pipeline.Trigger(ctx, d.AutomationID, RunRequest{LeadID: d.LeadID, TriggerData: d.TriggerData})
		if err != nil {
			if errors.Is(err, ErrAutomationNotFound) {
				return scheduler.Permanent(err)
			}
			return err
		}
		if !res.Triggered {
			logger.Info("scheduled automation not run", "component", "automation",
				"automation_id", d.AutomationID.String(), "reason", res.Message)
			return nil
		}
		if res.Status == domain.RunFailed {
			return errors.New(res.Message)
		}
		return nil
	}
}

// RecomputeSegmentHandler recomputes one segment.
func RecomputeSegmentHandler(segments SegmentRecomputer) scheduler.Handler {
	return func(ctx context.Context, task *domain.ScheduledTask) error {
		id, err := uuidField(task.TaskData, "segment_id", true)
		if err != nil {
			return scheduler.Permanent(err)
		}
		if _, err := segments.UpdateMemberships(ctx, *id); err != nil {
			if errors.Is(err, segmentation.ErrSegmentNotFound) {
				return scheduler.Permanent(err)
			}
			return err
		}
		return nil
	}
}

// RecomputeSegmentsHandler recomputes every dynamic segment of the task's
// organization, or of organization_id when the payload names one.
func RecomputeSegmentsHandler(segments SegmentRecomputer) scheduler.Handler {
	return func(ctx context.Context, task *domain.ScheduledTask) error {
		orgID := task.OrganizationID
		id, err := uuidField(task.TaskData, "organization_id", false)
		if err != nil {
			return scheduler.Permanent(err)
		}
		if id != nil {
			orgID = *id
		}
		sweep, err := segments.RecomputeAll(ctx, orgID)
		if err != nil {
			return err
		}
		if len(sweep.Errors) > 0 {
			return fmt.Errorf("%d of %d segments failed to recompute", len(sweep.Errors), len(sweep.Errors)+sweep.Segments)
		}
		return nil
	}
}

package automation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/ignite/leadflow/internal/segmentation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecomputer struct {
	updated []uuid.UUID
	swept   []uuid.UUID
	err     error
	sweep   *segmentation.SweepResult
}

func (f *fakeRecomputer) UpdateMemberships(_ context.Context, id uuid.UUID) (*segmentation.UpdateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updated = append(f.updated, id)
	return &segmentation.UpdateResult{SegmentID: id}, nil
}

func (f *fakeRecomputer) RecomputeAll(_ context.Context, org uuid.UUID) (*segmentation.SweepResult, error) {
	f.swept = append(f.swept, org)
	if f.sweep != nil {
		return f.sweep, nil
	}
	return &segmentation.SweepResult{}, nil
}

type registry map[string]scheduler.Handler

func (r registry) Register(taskType string, h scheduler.Handler) { r[taskType] = h }

func taskWith(data map[string]any) *domain.ScheduledTask {
	return &domain.ScheduledTask{ID: uuid.New(), OrganizationID: uuid.New(), TaskData: data}
}

func TestRegisterHandlers(t *testing.T) {
	reg := registry{}
	RegisterHandlers(reg, NewPipeline(newMemAutomations(), newMemRuns(), &scriptedRunner{}), nil)
	assert.Len(t, reg, 1)

	reg = registry{}
	RegisterHandlers(reg, NewPipeline(newMemAutomations(), newMemRuns(), &scriptedRunner{}), &fakeRecomputer{})
	assert.Contains(t, reg, TaskRunAutomation)
	assert.Contains(t, reg, TaskRecomputeSegment)
	assert.Contains(t, reg, TaskRecomputeSegments)
}

func TestRunAutomationHandler(t *testing.T) {
	org := uuid.New()
	a := testAutomation(org, domain.TriggerTimeBased, action(1, domain.ActionAddTag, nil))
	inactive := testAutomation(org, domain.TriggerTimeBased)
	inactive.Active = false
	runs := newMemRuns()
	runner := &scriptedRunner{}
	h := RunAutomationHandler(NewPipeline(newMemAutomations(a, inactive), runs, runner))
	ctx := context.Background()

	lead := uuid.New()
	require.NoError(t, h(ctx, taskWith(NewRunTaskData(a.ID, &lead, map[string]any{"k": "v"}))))
	run := runs.only()
	require.NotNil(t, run)
	assert.Equal(t, lead, *run.LeadID)
	assert.Equal(t, "v", run.TriggerData["k"])

	assert.NoError(t, h(ctx, taskWith(NewRunTaskData(inactive.ID, nil, nil))), "inactive automations are skipped")

	err := h(ctx, taskWith(NewRunTaskData(uuid.New(), nil, nil)))
	assert.True(t, scheduler.IsPermanent(err))
	assert.ErrorIs(t, err, ErrAutomationNotFound)

	err = h(ctx, taskWith(map[string]any{"automation_id": "not-a-uuid"}))
	assert.True(t, scheduler.IsPermanent(err))

	err = h(ctx, taskWith(map[string]any{}))
	assert.True(t, scheduler.IsPermanent(err))
}

func TestRunAutomationHandler_FailedRunIsRetried(t *testing.T) {
	org := uuid.New()
	a := testAutomation(org, domain.TriggerTimeBased, action(1, domain.ActionAddTag, nil))
	h := RunAutomationHandler(NewPipeline(newMemAutomations(a), newMemRuns(), &scriptedRunner{panicAt: 1}))

	err := h(context.Background(), taskWith(NewRunTaskData(a.ID, nil, nil)))
	require.Error(t, err)
	assert.False(t, scheduler.IsPermanent(err))
}

func TestRecomputeHandlers(t *testing.T) {
	ctx := context.Background()
	seg := uuid.New()
	rc := &fakeRecomputer{}

	require.NoError(t, RecomputeSegmentHandler(rc)(ctx, taskWith(map[string]any{"segment_id": seg.String()})))
	assert.Equal(t, []uuid.UUID{seg}, rc.updated)

	err := RecomputeSegmentHandler(rc)(ctx, taskWith(nil))
	assert.True(t, scheduler.IsPermanent(err))

	rc.err = segmentation.ErrSegmentNotFound
	err = RecomputeSegmentHandler(rc)(ctx, taskWith(map[string]any{"segment_id": seg.String()}))
	assert.True(t, scheduler.IsPermanent(err))

	rc.err = segmentation.ErrRecomputeInProgress
	err = RecomputeSegmentHandler(rc)(ctx, taskWith(map[string]any{"segment_id": seg.String()}))
	assert.False(t, scheduler.IsPermanent(err))
	assert.True(t, errors.Is(err, segmentation.ErrRecomputeInProgress))

	task := taskWith(nil)
	require.NoError(t, RecomputeSegmentsHandler(rc)(ctx, task))
	other := uuid.New()
	require.NoError(t, RecomputeSegmentsHandler(rc)(ctx, taskWith(map[string]any{"organization_id": other.String()})))
	assert.Equal(t, []uuid.UUID{task.OrganizationID, other}, rc.swept)

	rc.sweep = &segmentation.SweepResult{Segments: 2, Errors: map[uuid.UUID]string{uuid.New(): "boom"}}
	assert.Error(t, RecomputeSegmentsHandler(rc)(ctx, taskWith(nil)))
}

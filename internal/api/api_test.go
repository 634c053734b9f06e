package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/ledger"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/ignite/leadflow/internal/segmentation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSegments struct {
	evalErr    error
	recompute  error
	added      []uuid.UUID
	leads      []uuid.UUID
	sweptOrg   uuid.UUID
	leadSegs   []domain.Segment
	refreshRes *segmentation.UpdateResult
}

func (f *fakeSegments) EvaluateSegment(_ context.Context, id uuid.UUID) (*segmentation.EvaluationResult, error) {
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	return &segmentation.EvaluationResult{SegmentID: id, MatchingIDs: f.leads, CandidateCount: 10}, nil
}

func (f *fakeSegments) UpdateMemberships(_ context.Context, id uuid.UUID) (*segmentation.UpdateResult, error) {
	return f.refreshRes, nil
}

func (f *fakeSegments) AddLeadsToSegment(_ context.Context, _ uuid.UUID, ids []uuid.UUID) (int, error) {
	f.added = append(f.added, ids...)
	return len(ids), nil
}

func (f *fakeSegments) RemoveLeadsFromSegment(_ context.Context, _ uuid.UUID, ids []uuid.UUID) (int, error) {
	return len(ids) - 1, nil
}

func (f *fakeSegments) SegmentLeads(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.leads, nil
}

func (f *fakeSegments) LeadSegments(context.Context, uuid.UUID) ([]domain.Segment, error) {
	return f.leadSegs, nil
}

func (f *fakeSegments) RecomputeAll(_ context.Context, org uuid.UUID) (*segmentation.SweepResult, error) {
	f.sweptOrg = org
	if f.recompute != nil {
		return nil, f.recompute
	}
	return &segmentation.SweepResult{Segments: 2, Added: 3}, nil
}

type fakeAutomations struct {
	lastEvent   automation.Event
	dispatchRes *automation.DispatchResult
	dispatchErr error
	triggered   []map[string]any
	triggerErr  error
}

func (f *fakeAutomations) Dispatch(_ context.Context, ev automation.Event) (*automation.DispatchResult, error) {
	f.lastEvent = ev
	return f.dispatchRes, f.dispatchErr
}

func (f *fakeAutomations) TriggerAutomation(_ context.Context, id uuid.UUID, _ *uuid.UUID, data map[string]any) (*automation.RunResult, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	f.triggered = append(f.triggered, data)
	return &automation.RunResult{AutomationID: id, Triggered: true, Success: true, Status: domain.RunCompleted}, nil
}

type fakeRuns struct {
	filter automation.RunFilter
	runs   map[uuid.UUID]*domain.AutomationRun
}

func (f *fakeRuns) ListRuns(_ context.Context, filter automation.RunFilter) ([]domain.AutomationRun, error) {
	f.filter = filter
	return nil, nil
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (*domain.AutomationRun, error) {
	if r, ok := f.runs[id]; ok {
		return r, nil
	}
	return nil, automation.ErrRunNotFound
}

type fakeTasks struct {
	enqueued   []*domain.ScheduledTask
	enqueueErr error
	listFilter scheduler.ListFilter
	lastLimit  int
}

func (f *fakeTasks) Enqueue(_ context.Context, t *domain.ScheduledTask) (uuid.UUID, error) {
	if f.enqueueErr != nil {
		return uuid.Nil, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, t)
	return uuid.New(), nil
}

func (f *fakeTasks) Get(context.Context, uuid.UUID) (*domain.ScheduledTask, error) {
	return nil, scheduler.ErrTaskNotFound
}

func (f *fakeTasks) List(_ context.Context, filter scheduler.ListFilter) ([]domain.ScheduledTask, error) {
	f.listFilter = filter
	return []domain.ScheduledTask{{ID: uuid.New(), TaskType: "automation_run"}}, nil
}

func (f *fakeTasks) ProcessDueBatch(_ context.Context, limit int) (*scheduler.BatchResult, error) {
	f.lastLimit = limit
	return &scheduler.BatchResult{Claimed: 3, Completed: 2, Released: 1}, nil
}

type testEnv struct {
	segments    *fakeSegments
	automations *fakeAutomations
	runs        *fakeRuns
	tasks       *fakeTasks
	handler     http.Handler
	org         uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		segments:    &fakeSegments{},
		automations: &fakeAutomations{},
		runs:        &fakeRuns{runs: map[uuid.UUID]*domain.AutomationRun{}},
		tasks:       &fakeTasks{},
		org:         uuid.New(),
	}
	e.handler = SetupRoutes(NewHandlers(Deps{
		Segments:    e.segments,
		Automations: e.automations,
		Runs:        e.runs,
		Tasks:       e.tasks,
	}), nil)
	return e
}

func (e *testEnv) do(method, path string, body any, withOrg bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if withOrg {
		req.Header.Set("X-Organization-ID", e.org.String())
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGetOperators_ListsFieldsWithOperators(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/operators", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	fields := body["fields"].([]any)
	assert.Len(t, fields, len(segmentation.Fields()))
	first := fields[0].(map[string]any)
	assert.NotEmpty(t, first["id"])
	assert.NotEmpty(t, first["operators"])
	assert.Len(t, body["operators"], len(segmentation.GetOperatorMetadata()))
}

func TestEvaluateSegment(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		e := newTestEnv(t)
		rec := e.do(http.MethodGet, "/api/v1/segments/nope/evaluate", nil, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("not found", func(t *testing.T) {
		e := newTestEnv(t)
		e.segments.evalErr = fmt.Errorf("load: %w", segmentation.ErrSegmentNotFound)
		rec := e.do(http.MethodGet, "/api/v1/segments/"+uuid.NewString()+"/evaluate", nil, false)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("internal errors are not leaked", func(t *testing.T) {
		e := newTestEnv(t)
		e.segments.evalErr = errors.New("pq: connection refused")
		rec := e.do(http.MethodGet, "/api/v1/segments/"+uuid.NewString()+"/evaluate", nil, false)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pq:")
	})
	t.Run("ok", func(t *testing.T) {
		e := newTestEnv(t)
		e.segments.leads = []uuid.UUID{uuid.New()}
		id := uuid.New()
		rec := e.do(http.MethodGet, "/api/v1/segments/"+id.String()+"/evaluate", nil, false)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, id.String(), body["segment_id"])
		assert.Len(t, body["matching_ids"], 1)
	})
}

func TestSegmentMembers(t *testing.T) {
	e := newTestEnv(t)
	path := "/api/v1/segments/" + uuid.NewString() + "/members"

	rec := e.do(http.MethodPost, path, map[string]any{"lead_ids": []string{}}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	rec = e.do(http.MethodPost, path, map[string]any{"lead_ids": ids}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["added"])
	assert.Equal(t, ids, e.segments.added)

	rec = e.do(http.MethodDelete, path, map[string]any{"lead_ids": ids}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["removed"])
}

func TestSegmentLeads_EmptyListIsArray(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/segments/"+uuid.NewString()+"/leads", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{}, body["lead_ids"])
	assert.EqualValues(t, 0, body["count"])
}

func TestRecomputeSegments(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/segments/recompute", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/segments/recompute", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, e.org, e.segments.sweptOrg)

	e.segments.recompute = segmentation.ErrRecomputeInProgress
	rec = e.do(http.MethodPost, "/api/v1/segments/recompute", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecomputeSegments_OrgFromQuery(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/segments/recompute?org_id="+e.org.String(), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, e.org, e.segments.sweptOrg)

	rec = e.do(http.MethodPost, "/api/v1/segments/recompute?org_id=bogus", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEvent(t *testing.T) {
	t.Run("unknown trigger type", func(t *testing.T) {
		e := newTestEnv(t)
		rec := e.do(http.MethodPost, "/api/v1/events", map[string]any{"trigger_type": "lead_deleted"}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("org required", func(t *testing.T) {
		e := newTestEnv(t)
		rec := e.do(http.MethodPost, "/api/v1/events", map[string]any{"trigger_type": "lead_created"}, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("partial failure still reports results", func(t *testing.T) {
		e := newTestEnv(t)
		e.automations.dispatchRes = &automation.DispatchResult{
			Considered: 2, Matched: 2,
			Results: []automation.RunResult{{AutomationID: uuid.New(), Triggered: true, Success: true}},
		}
		e.automations.dispatchErr = errors.Join(errors.New("automation b: boom"))
		lead := uuid.New()

		rec := e.do(http.MethodPost, "/api/v1/events", map[string]any{
			"trigger_type": "lead_status_changed",
			"lead_id":      lead,
			"data":         map[string]any{"old_status": "new", "new_status": "qualified"},
		}, true)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.EqualValues(t, 2, body["matched"])
		assert.Len(t, body["results"], 1)
		assert.Equal(t, []any{"automation b: boom"}, body["errors"])

		ev := e.automations.lastEvent
		assert.Equal(t, e.org, ev.OrganizationID)
		assert.Equal(t, domain.TriggerLeadStatusChanged, ev.TriggerType)
		require.NotNil(t, ev.LeadID)
		assert.Equal(t, lead, *ev.LeadID)
		assert.Equal(t, "qualified", ev.Data["new_status"])
	})
	t.Run("total failure", func(t *testing.T) {
		e := newTestEnv(t)
		e.automations.dispatchErr = errors.New("list automations: db down")
		rec := e.do(http.MethodPost, "/api/v1/events", map[string]any{"trigger_type": "lead_created"}, true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestTriggerAutomation(t *testing.T) {
	e := newTestEnv(t)
	path := "/api/v1/automations/" + uuid.NewString() + "/trigger"

	rec := e.do(http.MethodPost, path, nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["success"])

	rec = e.do(http.MethodPost, path, map[string]any{"trigger_data": map[string]any{"source": "manual"}}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, e.automations.triggered, 2)
	assert.Equal(t, "manual", e.automations.triggered[1]["source"])

	e.automations.triggerErr = automation.ErrAutomationNotFound
	rec = e.do(http.MethodPost, path, nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e.automations.triggerErr = fmt.Errorf("decode: %w", automation.ErrInvalidConfig)
	rec = e.do(http.MethodPost, path, nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRuns_PassesFilter(t *testing.T) {
	e := newTestEnv(t)
	autoID := uuid.New()
	rec := e.do(http.MethodGet, "/api/v1/automations/runs?status=failed&limit=20&automation_id="+autoID.String(), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	f := e.runs.filter
	assert.Equal(t, e.org, f.OrganizationID)
	assert.Equal(t, domain.RunFailed, f.Status)
	assert.Equal(t, 20, f.Limit)
	require.NotNil(t, f.AutomationID)
	assert.Equal(t, autoID, *f.AutomationID)
	assert.Nil(t, f.LeadID)
	assert.Equal(t, []any{}, decodeBody(t, rec)["runs"])

	rec = e.do(http.MethodGet, "/api/v1/automations/runs?lead_id=x", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	e := newTestEnv(t)
	run := &domain.AutomationRun{ID: uuid.New(), Status: domain.RunCompleted}
	e.runs.runs[run.ID] = run

	rec := e.do(http.MethodGet, "/api/v1/automations/runs/"+run.ID.String(), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decodeBody(t, rec)["status"])

	rec = e.do(http.MethodGet, "/api/v1/automations/runs/"+uuid.NewString(), nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnqueueTask(t *testing.T) {
	t.Run("task_type required", func(t *testing.T) {
		e := newTestEnv(t)
		rec := e.do(http.MethodPost, "/api/v1/tasks", map[string]any{}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("negative retries", func(t *testing.T) {
		e := newTestEnv(t)
		rec := e.do(http.MethodPost, "/api/v1/tasks", map[string]any{"task_type": "x", "max_retries": -1}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("duplicate", func(t *testing.T) {
		e := newTestEnv(t)
		e.tasks.enqueueErr = scheduler.ErrDuplicateTask
		rec := e.do(http.MethodPost, "/api/v1/tasks", map[string]any{"task_type": "x", "dedupe_key": "k"}, true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
	t.Run("created", func(t *testing.T) {
		e := newTestEnv(t)
		at := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
		rec := e.do(http.MethodPost, "/api/v1/tasks", map[string]any{
			"task_type":     "segment_refresh",
			"task_data":     map[string]any{"segment_id": "abc"},
			"scheduled_for": at,
			"priority":      5,
			"max_retries":   0,
		}, true)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		require.Len(t, e.tasks.enqueued, 1)
		task := e.tasks.enqueued[0]
		assert.Equal(t, e.org, task.OrganizationID)
		assert.Equal(t, "segment_refresh", task.TaskType)
		assert.Equal(t, 0, task.MaxRetries)
		assert.Equal(t, 5, task.Priority)
		assert.True(t, task.ScheduledFor.Equal(at))
		assert.Equal(t, "abc", task.TaskData["segment_id"])
	})
	t.Run("default retries", func(t *testing.T) {
		e := newTestEnv(t)
		rec := e.do(http.MethodPost, "/api/v1/tasks", map[string]any{"task_type": "x"}, true)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, domain.DefaultMaxRetries, e.tasks.enqueued[0].MaxRetries)
	})
}

func TestTaskReads(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/tasks?status=pending", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])
	require.NotNil(t, e.tasks.listFilter.OrganizationID)
	assert.Equal(t, domain.TaskPending, e.tasks.listFilter.Status)

	rec = e.do(http.MethodGet, "/api/v1/tasks/"+uuid.NewString(), nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessDueTasks(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/tasks/process", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, scheduler.DefaultBatchLimit, e.tasks.lastLimit)
	assert.EqualValues(t, 2, decodeBody(t, rec)["processed"])

	e.do(http.MethodPost, "/api/v1/tasks/process?limit=50000", nil, false)
	assert.Equal(t, maxProcessLimit, e.tasks.lastLimit)
}

func TestNotifications_NotConfigured(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/users/"+uuid.NewString()+"/notifications", nil, false)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealth_WithoutDependencies(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Len(t, body["checks"], 3)

	rec = e.do(http.MethodGet, "/health/ready", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ready"])

	rec = e.do(http.MethodGet, "/health/live", nil, false)
	assert.Equal(t, "alive", decodeBody(t, rec)["status"])
}

func TestDetermineOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]ComponentCheck
		want   string
	}{
		{"all up", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "up"}}, "healthy"},
		{"db down", map[string]ComponentCheck{"database": {Status: "down", Message: "ping failed"}}, "unhealthy"},
		{"redis unconfigured", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "down", Message: notConfigured}}, "healthy"},
		{"redis down", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "down", Message: "ping failed"}}, "degraded"},
		{"backlog", map[string]ComponentCheck{"database": {Status: "up"}, "tasks": {Status: "degraded"}}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineOverallStatus(tt.checks))
		})
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5s", formatUptime(5*time.Second))
	assert.Equal(t, "2m 3s", formatUptime(2*time.Minute+3*time.Second))
	assert.Equal(t, "1d 1h 0m 0s", formatUptime(25*time.Hour))
}

func TestUnknownRoute(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/nothing", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeBody(t, rec)["error"])
}

type fakeLedger struct{ entries []ledger.Entry }

func (f *fakeLedger) ListBySubject(_ context.Context, subjectID uuid.UUID, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range f.entries {
		if e.SubjectID == subjectID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestGetLedgerEntries(t *testing.T) {
	subject := uuid.New()
	fl := &fakeLedger{entries: []ledger.Entry{
		{ID: uuid.New(), Kind: ledger.KindTaskAttempt, SubjectID: subject, Status: "retry_scheduled", Attempt: 1},
		{ID: uuid.New(), Kind: ledger.KindTaskAttempt, SubjectID: subject, Status: "completed", Attempt: 2},
		{ID: uuid.New(), Kind: ledger.KindTaskAttempt, SubjectID: uuid.New(), Status: "failed", Attempt: 1},
	}}
	h := SetupRoutes(NewHandlers(Deps{Ledger: fl}), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/"+subject.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["entries"], 2)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/"+subject.String()+"?limit=1", nil))
	assert.Len(t, decodeBody(t, rec)["entries"], 1)
}

func TestGetLedgerEntries_NotConfigured(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/ledger/"+uuid.NewString(), nil, false)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

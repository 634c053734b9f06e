package api

import (
	"net/http"
	"time"

	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/httputil"
	"github.com/ignite/leadflow/internal/scheduler"
)

const maxProcessLimit = 1000

type enqueueRequest struct {
	TaskType     string         `json:"task_type"`
	TaskData     map[string]any `json:"task_data"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	Priority     int            `json:"priority"`
	MaxRetries   *int           `json:"max_retries,omitempty"`
	DedupeKey    string         `json:"dedupe_key,omitempty"`
}

// POST /api/v1/tasks
func (h *Handlers) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.TaskType == "" {
		httputil.BadRequest(w, "task_type is required")
		return
	}
	if req.MaxRetries != nil && *req.MaxRetries < 0 {
		httputil.BadRequest(w, "max_retries must not be negative")
		return
	}

	t := scheduler.NewTask(org, req.TaskType, req.TaskData)
	t.Priority = req.Priority
	t.DedupeKey = req.DedupeKey
	if req.MaxRetries != nil {
		t.MaxRetries = *req.MaxRetries
	}
	if req.ScheduledFor != nil {
		t.ScheduledFor = req.ScheduledFor.UTC()
	}
	id, err := h.tasks.Enqueue(r.Context(), t)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, map[string]any{"id": id, "scheduled_for": t.ScheduledFor, "status": domain.TaskPending})
}

// GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	f := scheduler.ListFilter{
		Status:   domain.TaskStatus(r.URL.Query().Get("status")),
		TaskType: r.URL.Query().Get("task_type"),
		Limit:    httputil.QueryInt(r, "limit", 100),
	}
	if org, err := orgID(r); err == nil {
		f.OrganizationID = &org
	}
	tasks, err := h.tasks.List(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.ScheduledTask{}
	}
	httputil.OK(w, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// GET /api/v1/tasks/{taskID}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "taskID")
	if !ok {
		return
	}
	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, t)
}

// ProcessDueTasks runs one processing pass synchronously. Used by external
// cron in deployments that don't run the worker.
//
//	POST /api/v1/tasks/process
func (h *Handlers) ProcessDueTasks(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", scheduler.DefaultBatchLimit)
	if limit > maxProcessLimit {
		limit = maxProcessLimit
	}
	res, err := h.tasks.ProcessDueBatch(r.Context(), limit)
	if err != nil && res == nil {
		respondError(w, err)
		return
	}
	body := map[string]any{"processed": res.Claimed - res.Released, "result": res}
	if err != nil {
		body["error"] = err.Error()
	}
	httputil.OK(w, body)
}

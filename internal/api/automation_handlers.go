package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/domain"
	"github.com/ignite/leadflow/internal/pkg/httputil"
)

type eventRequest struct {
	TriggerType domain.TriggerType `json:"trigger_type"`
	LeadID      *uuid.UUID         `json:"lead_id,omitempty"`
	Data        map[string]any     `json:"data,omitempty"`
}

// IngestEvent dispatches a lead lifecycle event to matching automations.
// Partial failures still answer 200 with the per-automation results and
// the error list.
//
//	POST /api/v1/events
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if !req.TriggerType.Valid() {
		httputil.BadRequest(w, "unknown trigger_type")
		return
	}
	res, err := h.automations.Dispatch(r.Context(), automation.Event{
		OrganizationID: org,
		TriggerType:    req.TriggerType,
		LeadID:         req.LeadID,
		Data:           req.Data,
	})
	if res == nil {
		respondError(w, err)
		return
	}
	body := map[string]any{
		"considered": res.Considered,
		"matched":    res.Matched,
		"results":    res.Results,
	}
	if err != nil {
		body["errors"] = unwrapErrors(err)
	}
	httputil.OK(w, body)
}

func unwrapErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		out := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

type triggerRequest struct {
	LeadID      *uuid.UUID     `json:"lead_id,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// TriggerAutomation runs one automation immediately, bypassing trigger
// matching.
//
//	POST /api/v1/automations/{automationID}/trigger
func (h *Handlers) TriggerAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "automationID")
	if !ok {
		return
	}
	var req triggerRequest
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	res, err := h.automations.TriggerAutomation(r.Context(), id, req.LeadID, req.TriggerData)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// ListRuns returns recent runs for the organization, newest first.
//
//	GET /api/v1/automations/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	f := automation.RunFilter{
		OrganizationID: org,
		Status:         domain.RunStatus(r.URL.Query().Get("status")),
		Limit:          httputil.QueryInt(r, "limit", automation.DefaultRunLimit),
	}
	var err error
	if f.AutomationID, err = httputil.QueryUUID(r, "automation_id"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if f.LeadID, err = httputil.QueryUUID(r, "lead_id"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	runs, err := h.runs.ListRuns(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.AutomationRun{}
	}
	httputil.OK(w, map[string]any{"runs": runs, "count": len(runs)})
}

// GET /api/v1/automations/runs/{runID}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "runID")
	if !ok {
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, run)
}

package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/pkg/httputil"
	"github.com/ignite/leadflow/internal/segmentation"
)

type membersRequest struct {
	LeadIDs []uuid.UUID `json:"lead_ids"`
}

// GetOperators returns the rule field catalogue with each field's operators.
//
//	GET /api/v1/operators
func (h *Handlers) GetOperators(w http.ResponseWriter, r *http.Request) {
	type fieldInfo struct {
		segmentation.Field
		Operators []segmentation.OperatorMetadata `json:"operators"`
	}
	fields := segmentation.Fields()
	out := make([]fieldInfo, len(fields))
	for i, f := range fields {
		out[i] = fieldInfo{Field: f, Operators: f.Operators()}
	}
	httputil.OK(w, map[string]any{
		"fields":    out,
		"operators": segmentation.GetOperatorMetadata(),
	})
}

// EvaluateSegment computes the segment's matching leads without touching
// memberships.
//
//	GET /api/v1/segments/{segmentID}/evaluate
func (h *Handlers) EvaluateSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "segmentID")
	if !ok {
		return
	}
	res, err := h.segments.EvaluateSegment(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// RefreshSegment reconciles stored memberships with the rules.
//
//	POST /api/v1/segments/{segmentID}/refresh
func (h *Handlers) RefreshSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "segmentID")
	if !ok {
		return
	}
	res, err := h.segments.UpdateMemberships(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// RecomputeSegments refreshes every active dynamic segment of the org.
//
//	POST /api/v1/segments/recompute
func (h *Handlers) RecomputeSegments(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	res, err := h.segments.RecomputeAll(r.Context(), org)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// GET /api/v1/segments/{segmentID}/leads
func (h *Handlers) GetSegmentLeads(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "segmentID")
	if !ok {
		return
	}
	leads, err := h.segments.SegmentLeads(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if leads == nil {
		leads = []uuid.UUID{}
	}
	httputil.OK(w, map[string]any{"segment_id": id, "lead_ids": leads, "count": len(leads)})
}

// POST /api/v1/segments/{segmentID}/members
func (h *Handlers) AddSegmentMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, h.segments.AddLeadsToSegment, "added")
}

// DELETE /api/v1/segments/{segmentID}/members
func (h *Handlers) RemoveSegmentMembers(w http.ResponseWriter, r *http.Request) {
	h.changeMembers(w, r, h.segments.RemoveLeadsFromSegment, "removed")
}

type memberChange func(ctx context.Context, segmentID uuid.UUID, leadIDs []uuid.UUID) (int, error)

func (h *Handlers) changeMembers(w http.ResponseWriter, r *http.Request, change memberChange, verb string) {
	id, ok := pathUUID(w, r, "segmentID")
	if !ok {
		return
	}
	var req membersRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.LeadIDs) == 0 {
		httputil.BadRequest(w, "lead_ids is required")
		return
	}
	n, err := change(r.Context(), id, req.LeadIDs)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"segment_id": id, verb: n})
}

// GET /api/v1/leads/{leadID}/segments
func (h *Handlers) GetLeadSegments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "leadID")
	if !ok {
		return
	}
	segs, err := h.segments.LeadSegments(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"lead_id": id, "segments": segs, "count": len(segs)})
}

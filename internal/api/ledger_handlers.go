package api

import (
	"net/http"

	"github.com/ignite/leadflow/internal/ledger"
	"github.com/ignite/leadflow/internal/pkg/httputil"
)

// GetLedgerEntries returns the audit trail of one run or task, oldest first.
//
//	GET /api/v1/ledger/{subjectID}
func (h *Handlers) GetLedgerEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "subjectID")
	if !ok {
		return
	}
	if h.ledger == nil {
		httputil.NotConfigured(w, "postgres ledger")
		return
	}
	entries, err := h.ledger.ListBySubject(r.Context(), id, httputil.QueryInt(r, "limit", 100))
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	httputil.OK(w, map[string]any{"subject_id": id, "entries": entries})
}

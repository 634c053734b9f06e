package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/pkg/httputil"
)

// GET /api/v1/users/{userID}/notifications
func (h *Handlers) GetNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	if h.notifications == nil {
		httputil.NotConfigured(w, "notification history")
		return
	}
	items, err := h.notifications.Recent(r.Context(), id, httputil.QueryInt(r, "limit", 20))
	if err != nil {
		respondError(w, err)
		return
	}
	if items == nil {
		items = []automation.Notification{}
	}
	httputil.OK(w, map[string]any{"user_id": id, "notifications": items})
}

// StreamNotifications relays live notifications for one user as
// Server-Sent Events until the client disconnects.
//
//	GET /api/v1/users/{userID}/notifications/stream
func (h *Handlers) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	if h.notifications == nil {
		httputil.NotConfigured(w, "notification streaming")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	notes, err := h.notifications.Subscribe(ctx, id)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, payload)
			flusher.Flush()
		}
	}
}

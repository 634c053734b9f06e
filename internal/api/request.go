package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/leadflow/internal/pkg/httputil"
)

var errMissingOrg = errors.New("X-Organization-ID header is required")

// orgID reads the organization from the X-Organization-ID header, falling
// back to the org_id query parameter.
func orgID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-Organization-ID")
	if raw == "" {
		raw = r.URL.Query().Get("org_id")
	}
	if raw == "" {
		return uuid.Nil, errMissingOrg
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid organization id")
	}
	return id, nil
}

// requireOrg writes a 400 and returns false when the org is missing.
func requireOrg(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := orgID(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// pathUUID parses a chi URL parameter, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

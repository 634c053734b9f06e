package api

import (
	"errors"
	"net/http"

	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/pkg/httputil"
	"github.com/ignite/leadflow/internal/scheduler"
	"github.com/ignite/leadflow/internal/segmentation"
)

var notFoundErrors = []error{
	segmentation.ErrSegmentNotFound,
	automation.ErrAutomationNotFound,
	automation.ErrRunNotFound,
	automation.ErrLeadNotFound,
	scheduler.ErrTaskNotFound,
}

var conflictErrors = []error{
	segmentation.ErrRecomputeInProgress,
	segmentation.ErrLockLost,
	scheduler.ErrDuplicateTask,
}

// respondError maps core errors to status codes. Only 4xx messages reach
// the client; anything else is logged and reported as a generic 500.
func respondError(w http.ResponseWriter, err error) {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			httputil.NotFound(w, target.Error())
			return
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			httputil.Conflict(w, target.Error())
			return
		}
	}
	if errors.Is(err, automation.ErrInvalidConfig) {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}

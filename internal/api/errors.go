package api

import (
	"errors"
	"net/http"

	"github.com/ignite/mailpipe/internal/coordinator"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
	"github.com/ignite/mailpipe/internal/service/campaign"
	"github.com/ignite/mailpipe/internal/service/suppression"
	"github.com/ignite/mailpipe/internal/verify"
)

// respondServiceError maps service errors onto HTTP statuses. Anything
// unrecognised is a 500 with the details logged, never returned.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, campaign.ErrInvalidState):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, campaign.ErrEmptyList):
		httputil.Unprocessable(w, "empty_list", "list has no members")
	case errors.Is(err, campaign.ErrValidation):
		httputil.Unprocessable(w, "validation", err.Error())
	case errors.Is(err, suppression.ErrInvalidEmail):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, verify.ErrVerificationFailed):
		httputil.Forbidden(w, "verification failed")
	case errors.Is(err, coordinator.ErrStateNotFound):
		httputil.NotFound(w, "coordinator not found")
	default:
		httputil.InternalError(w, err)
	}
}

package api

import (
	"net/http"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
)

type suppressRequest struct {
	Email  string                   `json:"email"`
	Reason domain.SuppressionReason `json:"reason"`
}

// GET /api/suppressions/check?email=
func (s *Server) handleCheckSuppression(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		httputil.BadRequest(w, "email is required")
		return
	}
	v, err := s.deps.Suppression.Check(r.Context(), OrgIDFromContext(r.Context()), email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"email": domain.NormalizeEmail(email), "verdict": v.String()})
}

// POST /api/suppressions
func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var req suppressRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.deps.Suppression.Suppress(r.Context(), OrgIDFromContext(r.Context()), req.Email, req.Reason); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"email": domain.NormalizeEmail(req.Email)})
}

// DELETE /api/suppressions
func (s *Server) handleRemoveSuppression(w http.ResponseWriter, r *http.Request) {
	var req suppressRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.deps.Suppression.Remove(r.Context(), OrgIDFromContext(r.Context()), req.Email); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// POST /api/unsubscribes
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req suppressRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.deps.Suppression.Unsubscribe(r.Context(), OrgIDFromContext(r.Context()), req.Email); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"email": domain.NormalizeEmail(req.Email)})
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/coordinator"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
)

func adminOrgID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.BadRequest(w, "invalid organization id")
		return "", false
	}
	return id.String(), true
}

// POST /api/admin/coordinators/{orgID}/start
func (s *Server) handleStartCoordinator(w http.ResponseWriter, r *http.Request) {
	orgID, ok := adminOrgID(w, r)
	if !ok {
		return
	}
	err := s.deps.Coordinators.Start(r.Context(), orgID)
	if errors.Is(err, coordinator.ErrAlreadyRunning) {
		httputil.OK(w, map[string]any{"running": true, "message": "already running"})
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	log.Info("coordinator started", "org_id", orgID)
	httputil.OK(w, map[string]any{"running": true})
}

// POST /api/admin/coordinators/{orgID}/stop
func (s *Server) handleStopCoordinator(w http.ResponseWriter, r *http.Request) {
	orgID, ok := adminOrgID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Coordinators.Stop(r.Context(), orgID); err != nil {
		respondServiceError(w, err)
		return
	}
	log.Info("coordinator stopped", "org_id", orgID)
	httputil.OK(w, map[string]any{"running": false})
}

// GET /api/admin/coordinators/{orgID}/status
func (s *Server) handleCoordinatorStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := adminOrgID(w, r)
	if !ok {
		return
	}
	httputil.OK(w, s.deps.Coordinators.Status(orgID))
}

package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/service/campaign"
	"github.com/ignite/mailpipe/internal/verify"
)

var log = logger.New("api")

type createCampaignRequest struct {
	Name       string `json:"name"`
	SenderID   string `json:"sender_id"`
	TemplateID string `json:"template_id"`
	ListID     string `json:"list_id"`
}

// POST /api/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := s.deps.Campaigns.Create(r.Context(), OrgIDFromContext(r.Context()), campaign.CreateInput{
		Name:       req.Name,
		SenderID:   req.SenderID,
		TemplateID: req.TemplateID,
		ListID:     req.ListID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

// campaignID reads the {id} path parameter. Ids that are not UUIDs cannot
// exist and get a 404.
func campaignID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.NotFound(w, "not found")
		return "", false
	}
	return id.String(), true
}

// GET /api/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Campaigns.Get(r.Context(), OrgIDFromContext(r.Context()), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// POST /api/campaigns/{id}/queue
func (s *Server) handleQueueCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	n, err := s.deps.Campaigns.Queue(r.Context(), OrgIDFromContext(r.Context()), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, map[string]int{"jobs_created": n})
}

type sendBatchRequest struct {
	BatchSize         int    `json:"batch_size"`
	VerificationToken string `json:"verification_token"`
}

// POST /api/campaigns/{id}/send-batch
//
// Partial transport failure still returns 200 with the counts.
func (s *Server) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req sendBatchRequest
	if !httputil.DecodeOptional(w, r, &req) {
		return
	}
	ctx := r.Context()
	orgID := OrgIDFromContext(ctx)
	ip := clientIP(r)

	if err := s.deps.Verifier.Verify(ctx, req.VerificationToken, ip); err != nil {
		if errors.Is(err, verify.ErrVerificationFailed) {
			httputil.Forbidden(w, "verification failed")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	if s.deps.Guard != nil {
		if !s.allow(w, r, "ip:"+ip+":send-batch", s.opts.PerIPLimit) {
			return
		}
		if !s.allow(w, r, "org:"+orgID+":send-batch", s.opts.PerTenantLimit) {
			return
		}
	}

	res, err := s.deps.Campaigns.ProcessBatch(ctx, orgID, id, req.BatchSize)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, res)
}

// allow consults the rate guard for scope and writes a 429 when denied.
// A guard failure lets the request through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, scope string, limit int) bool {
	d, err := s.deps.Guard.CheckAndIncrement(r.Context(), scope, limit, s.opts.Window)
	if err != nil {
		log.Warn("rate guard unavailable", "scope", scope, "error", err)
		return true
	}
	if !d.Allowed {
		log.Info("send-batch throttled", "scope", scope, "retry_after", d.RetryAfter)
		httputil.TooManyRequests(w, d.RetryAfter)
		return false
	}
	return true
}

// GET /api/campaigns/{id}/status
func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	rep, err := s.deps.Campaigns.Status(r.Context(), OrgIDFromContext(r.Context()), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, rep)
}

// POST /api/campaigns/{id}/pause
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Campaigns.Pause(r.Context(), OrgIDFromContext(r.Context()), id); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": "paused"})
}

// POST /api/campaigns/{id}/resume
func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Campaigns.Resume(r.Context(), OrgIDFromContext(r.Context()), id); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": "sending"})
}

// clientIP returns the caller address. RealIP has already replaced
// RemoteAddr when a proxy header was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

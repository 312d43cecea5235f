// Package api exposes the campaign pipeline over HTTP.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/ignite/mailpipe/internal/coordinator"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/ratelimit"
	"github.com/ignite/mailpipe/internal/service/campaign"
	"github.com/ignite/mailpipe/internal/service/suppression"
	"github.com/ignite/mailpipe/internal/verify"
	"github.com/redis/go-redis/v9"
)

// CampaignService is the campaign surface used by the handlers.
type CampaignService interface {
	Create(ctx context.Context, orgID string, in campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, orgID, id string) (*domain.Campaign, error)
	Queue(ctx context.Context, orgID, id string) (int, error)
	ProcessBatch(ctx context.Context, orgID, id string, batchSize int) (domain.BatchResult, error)
	Status(ctx context.Context, orgID, id string) (*domain.StatusReport, error)
	Pause(ctx context.Context, orgID, id string) error
	Resume(ctx context.Context, orgID, id string) error
}

// SuppressionService manages the suppression and unsubscribe lists.
type SuppressionService interface {
	Check(ctx context.Context, orgID, email string) (suppression.Verdict, error)
	Suppress(ctx context.Context, orgID, email string, reason domain.SuppressionReason) error
	Unsubscribe(ctx context.Context, orgID, email string) error
	Remove(ctx context.Context, orgID, email string) error
}

// CoordinatorRegistry is the admin control surface for per-tenant
// coordinators.
type CoordinatorRegistry interface {
	Start(ctx context.Context, orgID string) error
	Stop(ctx context.Context, orgID string) error
	Status(orgID string) coordinator.Status
}

// RateGuard throttles manual batch sends.
type RateGuard interface {
	CheckAndIncrement(ctx context.Context, scope string, limit int, window time.Duration) (ratelimit.Decision, error)
}

// Deps are the collaborators the server routes to. Suppression,
// Coordinators, Guard, Verifier, DB and Redis may be nil.
type Deps struct {
	Campaigns    CampaignService
	Suppression  SuppressionService
	Coordinators CoordinatorRegistry
	Guard        RateGuard
	Verifier     verify.Verifier
	DB           *sql.DB
	Redis        redis.Cmdable
}

// Options configure auth and throttling.
type Options struct {
	AdminToken     string
	AllowedOrigins []string
	PerIPLimit     int
	PerTenantLimit int
	Window         time.Duration
}

// Server represents the API server
type Server struct {
	deps    Deps
	opts    Options
	health  *HealthChecker
	handler http.Handler
	server  *http.Server
}

// NewServer builds the router.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Verifier == nil {
		deps.Verifier = verify.NoopVerifier{}
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		health: NewHealthChecker(deps.DB, deps.Redis),
	}
	s.handler = s.routes()
	return s
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// a send-batch request runs the whole batch before responding
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}

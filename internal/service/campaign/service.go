package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/transport"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 500
	DefaultClaimTTL  = 10 * time.Minute
)

// Options tunes batch sizing and claim lifetime.
type Options struct {
	DefaultBatchSize int
	MaxBatchSize     int
	// ClaimTTL is the age after which recovery may release a claim. A
	// running batch renews its claims every ClaimTTL/3.
	ClaimTTL time.Duration
}

// Service implements the campaign send pipeline. All public methods are
// safe for concurrent use if the underlying repository is.
type Service struct {
	repo   Repository
	sender transport.Client
	opts   Options
	log    *logger.Logger
	now    func() time.Time
}

// NewService creates a campaign service backed by the given repository and
// transport client.
func NewService(repo Repository, sender transport.Client, opts Options) *Service {
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = DefaultBatchSize
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = MaxBatchSize
	}
	if opts.DefaultBatchSize > opts.MaxBatchSize {
		opts.DefaultBatchSize = opts.MaxBatchSize
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = DefaultClaimTTL
	}
	return &Service{
		repo:   repo,
		sender: sender,
		opts:   opts,
		log:    logger.New("campaign"),
		now:    time.Now,
	}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	return s.repo.GetCampaign(ctx, orgID, id)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name       string `json:"name"`
	SenderID   string `json:"sender_id"`
	TemplateID string `json:"template_id"`
	ListID     string `json:"list_id"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, orgID string, in CreateInput) (*domain.Campaign, error) {
	var missing []string
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if in.SenderID == "" {
		missing = append(missing, "sender_id")
	}
	if in.TemplateID == "" {
		missing = append(missing, "template_id")
	}
	if in.ListID == "" {
		missing = append(missing, "list_id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s required", ErrValidation, strings.Join(missing, ", "))
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           strings.TrimSpace(in.Name),
		SenderID:       in.SenderID,
		TemplateID:     in.TemplateID,
		ListID:         in.ListID,
		Status:         domain.CampaignDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Queue snapshots the campaign's list into jobs and moves it to queued.
// Returns the number of jobs created.
func (s *Service) Queue(ctx context.Context, orgID, id string) (int, error) {
	c, err := s.repo.GetCampaign(ctx, orgID, id)
	if err != nil {
		return 0, err
	}
	if !CanTransition(c.Status, domain.CampaignQueued) {
		return 0, fmt.Errorf("%w: cannot queue a %s campaign", ErrInvalidState, c.Status)
	}

	n, err := s.repo.SnapshotJobs(ctx, orgID, id)
	if err != nil {
		return 0, err
	}

	s.audit(ctx, orgID, "campaign.queued", id, map[string]any{"jobs_created": n})
	s.log.Info("campaign queued", "org_id", orgID, "campaign_id", id, "jobs", n)
	return n, nil
}

// Pause stops further batches from being processed.
func (s *Service) Pause(ctx context.Context, orgID, id string) error {
	return s.transition(ctx, orgID, id, domain.CampaignPaused, "campaign.paused")
}

// Resume returns a paused campaign to sending.
func (s *Service) Resume(ctx context.Context, orgID, id string) error {
	return s.transition(ctx, orgID, id, domain.CampaignSending, "campaign.resumed")
}

func (s *Service) transition(ctx context.Context, orgID, id string, to domain.CampaignStatus, action string) error {
	from := sourcesOf(to)
	if to == domain.CampaignSending {
		// queued -> sending is reserved for the first batch
		from = []domain.CampaignStatus{domain.CampaignPaused}
	}
	if err := s.repo.SetStatus(ctx, orgID, id, from, to); err != nil {
		return err
	}
	s.audit(ctx, orgID, action, id, nil)
	return nil
}

// Status returns the campaign status and per-status job counts.
func (s *Service) Status(ctx context.Context, orgID, id string) (*domain.StatusReport, error) {
	c, err := s.repo.GetCampaign(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountJobs(ctx, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return &domain.StatusReport{Status: c.Status, Counts: counts, Total: counts.Total()}, nil
}

// RecoverStaleClaims returns jobs left in processing by a crashed caller to
// the queue. olderThan may not be shorter than the claim TTL, otherwise a
// live batch could lose jobs between heartbeats.
func (s *Service) RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < s.opts.ClaimTTL {
		return 0, fmt.Errorf("%w: stale age %s is below claim ttl %s", ErrValidation, olderThan, s.opts.ClaimTTL)
	}
	n, err := s.repo.ReleaseStaleClaims(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	if n > 0 {
		s.log.Warn("released stale job claims", "count", n, "older_than", olderThan)
	}
	return n, nil
}

func (s *Service) audit(ctx context.Context, orgID, action, entityID string, data map[string]any) {
	err := s.repo.RecordAudit(ctx, &domain.AuditEvent{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Action:         action,
		EntityID:       entityID,
		Data:           data,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("audit write failed", "action", action, "entity_id", entityID, "error", err)
	}
}

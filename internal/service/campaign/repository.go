package campaign

import (
	"context"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
)

// Repository defines the data access contract for campaigns and their jobs.
// Every lookup is scoped to the owning organization; rows owned by another
// organization behave as if they do not exist.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetCampaign returns a single campaign. Returns ErrNotFound if it
	// doesn't exist or belongs to another organization.
	GetCampaign(ctx context.Context, orgID, id string) (*domain.Campaign, error)

	// CreateCampaign inserts a draft campaign. Returns ErrValidation if the
	// sender, template or list is not owned by the same organization.
	CreateCampaign(ctx context.Context, c *domain.Campaign) error

	// SetStatus moves a campaign to status `to` only if its current status
	// is one of `from`. Returns ErrInvalidState when the campaign exists but
	// no row matched, ErrNotFound when it does not exist.
	SetStatus(ctx context.Context, orgID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error

	// SnapshotJobs atomically creates one queued job per distinct contact of
	// the campaign's list and moves the campaign from draft to queued.
	// Returns ErrInvalidState if the campaign is not a draft and
	// ErrEmptyList if the list has no contacts; neither case changes state.
	SnapshotJobs(ctx context.Context, orgID, campaignID string) (int, error)

	// ClaimJobs marks up to limit queued jobs as processing and returns
	// them with their contact fields, ordered by job id. All jobs of one
	// call share a fresh ClaimToken. A claimed job is never returned by a
	// concurrent claim.
	ClaimJobs(ctx context.Context, orgID, campaignID string, limit int) ([]domain.ClaimedJob, error)

	// RenewClaims refreshes claimed_at for every job still held under token
	// and returns their ids. Jobs released by recovery are no longer held.
	RenewClaims(ctx context.Context, token string) ([]string, error)

	// CompleteJobs writes the given outcomes in one statement, touching only
	// jobs still in processing under token. Returns the number written.
	CompleteJobs(ctx context.Context, token string, outcomes []domain.JobOutcome) (int, error)

	// ReleaseStaleClaims returns jobs claimed longer than olderThan ago to
	// queued and drops their claim token. Returns the number released.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)

	// CountJobs returns per-status job counts for a campaign.
	CountJobs(ctx context.Context, orgID, campaignID string) (domain.JobCounts, error)

	GetSender(ctx context.Context, orgID, id string) (*domain.Sender, error)
	GetTemplate(ctx context.Context, orgID, id string) (*domain.Template, error)

	// RecordAudit appends an entry to the audit log.
	RecordAudit(ctx context.Context, e *domain.AuditEvent) error
}

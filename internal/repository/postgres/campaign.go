package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/campaign"
	"github.com/lib/pq"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

var _ campaign.Repository = (*CampaignRepo)(nil)

func (r *CampaignRepo) GetCampaign(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var completedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, sender_id, template_id, list_id,
		       status, created_at, updated_at, completed_at
		FROM campaigns
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.SenderID, &c.TemplateID, &c.ListID,
		&c.Status, &c.CreatedAt, &c.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

func (r *CampaignRepo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	// The insert only happens when every reference is owned by the same org.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, organization_id, name, sender_id, template_id, list_id, status, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, 'draft', NOW(), NOW()
		WHERE EXISTS (SELECT 1 FROM senders WHERE id = $4 AND organization_id = $2)
		  AND EXISTS (SELECT 1 FROM templates WHERE id = $5 AND organization_id = $2)
		  AND EXISTS (SELECT 1 FROM lists WHERE id = $6 AND organization_id = $2)
	`, c.ID, c.OrganizationID, c.Name, c.SenderID, c.TemplateID, c.ListID)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: sender, template or list not found", campaign.ErrValidation)
	}
	c.Status = domain.CampaignDraft
	return nil
}

func (r *CampaignRepo) SetStatus(ctx context.Context, orgID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	froms := make([]string, len(from))
	for i, s := range from {
		froms[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1::text,
		    updated_at = NOW(),
		    completed_at = CASE WHEN $1::text = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $2 AND organization_id = $3 AND status = ANY($4::text[])
	`, string(to), id, orgID, pq.Array(froms))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND organization_id = $2)`,
		id, orgID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return fmt.Errorf("%w: cannot move to %s", campaign.ErrInvalidState, to)
}

func (r *CampaignRepo) SnapshotJobs(ctx context.Context, orgID, campaignID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status domain.CampaignStatus
	var listID string
	err = tx.QueryRowContext(ctx, `
		SELECT status, list_id FROM campaigns
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, campaignID, orgID).Scan(&status, &listID)
	if err == sql.ErrNoRows {
		return 0, campaign.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock campaign: %w", err)
	}
	if status != domain.CampaignDraft {
		return 0, fmt.Errorf("%w: cannot queue a %s campaign", campaign.ErrInvalidState, status)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_jobs (id, campaign_id, contact_id, status, created_at, updated_at)
		SELECT gen_random_uuid(), $1, m.contact_id, 'queued', NOW(), NOW()
		FROM (
			SELECT DISTINCT lm.contact_id
			FROM list_members lm
			JOIN contacts ct ON ct.id = lm.contact_id AND ct.organization_id = $3
			WHERE lm.list_id = $2
		) m
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
	`, campaignID, listID, orgID)
	if err != nil {
		return 0, fmt.Errorf("snapshot jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, campaign.ErrEmptyList
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET status = 'queued', updated_at = NOW()
		WHERE id = $1
	`, campaignID); err != nil {
		return 0, fmt.Errorf("mark queued: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return int(n), nil
}

// ClaimJobs uses FOR UPDATE SKIP LOCKED so concurrent batches for the same
// campaign claim disjoint jobs without blocking each other.
func (r *CampaignRepo) ClaimJobs(ctx context.Context, orgID, campaignID string, limit int) ([]domain.ClaimedJob, error) {
	token := uuid.New().String()
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			SELECT j.id
			FROM campaign_jobs j
			JOIN campaigns c ON c.id = j.campaign_id
			WHERE j.campaign_id = $1
			  AND c.organization_id = $2
			  AND j.status = 'queued'
			ORDER BY j.id
			LIMIT $3
			FOR UPDATE OF j SKIP LOCKED
		), updated AS (
			UPDATE campaign_jobs j
			SET status = 'processing', claim_token = $4, claimed_at = NOW(), updated_at = NOW()
			FROM claimed
			WHERE j.id = claimed.id
			RETURNING j.id, j.campaign_id, j.contact_id, j.created_at, j.claimed_at
		)
		SELECT u.id, u.campaign_id, u.contact_id, u.created_at, u.claimed_at,
		       ct.organization_id, ct.email,
		       COALESCE(ct.first_name, ''), COALESCE(ct.last_name, '')
		FROM updated u
		JOIN contacts ct ON ct.id = u.contact_id
		ORDER BY u.id
	`, campaignID, orgID, limit, token)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ClaimedJob
	for rows.Next() {
		var j domain.ClaimedJob
		var claimedAt time.Time
		if err := rows.Scan(
			&j.ID, &j.CampaignID, &j.ContactID, &j.CreatedAt, &claimedAt,
			&j.Contact.OrganizationID, &j.Contact.Email,
			&j.Contact.FirstName, &j.Contact.LastName,
		); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		j.Status = domain.JobProcessing
		j.ClaimedAt = &claimedAt
		j.ClaimToken = token
		j.Contact.ID = j.ContactID
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim jobs rows: %w", err)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// RenewClaims pushes claimed_at forward for every job still held under
// token and returns their ids.
func (r *CampaignRepo) RenewClaims(ctx context.Context, token string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE campaign_jobs
		SET claimed_at = NOW()
		WHERE claim_token = $1 AND status = 'processing'
		RETURNING id
	`, token)
	if err != nil {
		return nil, fmt.Errorf("renew claims: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan renewed claim: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("renew claims rows: %w", err)
	}
	return ids, nil
}

// CompleteJobs batch updates job outcomes using UNNEST. Rows no longer held
// under token are skipped; the number written is returned.
func (r *CampaignRepo) CompleteJobs(ctx context.Context, token string, outcomes []domain.JobOutcome) (int, error) {
	if len(outcomes) == 0 {
		return 0, nil
	}

	ids := make([]string, len(outcomes))
	statuses := make([]string, len(outcomes))
	messageIDs := make([]string, len(outcomes))
	errs := make([]string, len(outcomes))
	ats := make([]string, len(outcomes))

	for i, o := range outcomes {
		ids[i] = o.JobID
		at := o.At
		if at.IsZero() {
			at = time.Now()
		}
		ats[i] = at.UTC().Format(time.RFC3339Nano)
		if o.Sent {
			statuses[i] = string(domain.JobSent)
			messageIDs[i] = o.ProviderMessageID
		} else {
			statuses[i] = string(domain.JobFailed)
			errs[i] = truncate(o.Error, 1000)
		}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_jobs
		SET status = data.status,
		    provider_message_id = NULLIF(data.message_id, ''),
		    last_error = NULLIF(data.error, ''),
		    sent_at = CASE WHEN data.status = 'sent' THEN data.at ELSE NULL END,
		    claim_token = NULL,
		    updated_at = NOW()
		FROM (
			SELECT UNNEST($1::uuid[]) AS id,
			       UNNEST($2::text[]) AS status,
			       UNNEST($3::text[]) AS message_id,
			       UNNEST($4::text[]) AS error,
			       UNNEST($5::timestamptz[]) AS at
		) AS data
		WHERE campaign_jobs.id = data.id
		  AND campaign_jobs.status = 'processing'
		  AND campaign_jobs.claim_token = $6
	`, pq.Array(ids), pq.Array(statuses), pq.Array(messageIDs), pq.Array(errs), pq.Array(ats), token)
	if err != nil {
		return 0, fmt.Errorf("complete jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *CampaignRepo) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_jobs
		SET status = 'queued', claim_token = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing'
		  AND claimed_at < NOW() - ($1 * INTERVAL '1 second')
	`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *CampaignRepo) CountJobs(ctx context.Context, orgID, campaignID string) (domain.JobCounts, error) {
	var counts domain.JobCounts
	rows, err := r.db.QueryContext(ctx, `
		SELECT j.status, COUNT(*)
		FROM campaign_jobs j
		JOIN campaigns c ON c.id = j.campaign_id
		WHERE j.campaign_id = $1 AND c.organization_id = $2
		GROUP BY j.status
	`, campaignID, orgID)
	if err != nil {
		return counts, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan job count: %w", err)
		}
		switch status {
		case domain.JobQueued:
			counts.Queued = n
		case domain.JobProcessing:
			counts.Processing = n
		case domain.JobSent:
			counts.Sent = n
		case domain.JobFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

func (r *CampaignRepo) GetSender(ctx context.Context, orgID, id string) (*domain.Sender, error) {
	s := &domain.Sender{}
	var replyTo sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, from_name, from_email, reply_to, created_at
		FROM senders
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&s.ID, &s.OrganizationID, &s.FromName, &s.FromEmail, &replyTo, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	if replyTo.Valid && replyTo.String != "" {
		s.ReplyTo = &replyTo.String
	}
	return s, nil
}

func (r *CampaignRepo) GetTemplate(ctx context.Context, orgID, id string) (*domain.Template, error) {
	t := &domain.Template{}
	var html, text sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, subject, html_body, text_body, created_at
		FROM templates
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Subject, &html, &text, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if html.Valid {
		t.HTMLBody = &html.String
	}
	if text.Valid {
		t.TextBody = &text.String
	}
	return t, nil
}

func (r *CampaignRepo) RecordAudit(ctx context.Context, e *domain.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data := []byte("{}")
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("encode audit data: %w", err)
		}
		data = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, organization_id, action, entity_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.OrganizationID, e.Action, e.EntityID, data, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

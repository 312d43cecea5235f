package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignQueued    CampaignStatus = "queued"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignPaused    CampaignStatus = "paused"
)

// Campaign is a single broadcast of one template to one list through one
// sender identity.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	Name           string         `json:"name" db:"name"`
	SenderID       string         `json:"sender_id" db:"sender_id"`
	TemplateID     string         `json:"template_id" db:"template_id"`
	ListID         string         `json:"list_id" db:"list_id"`
	Status         CampaignStatus `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal returns true if the campaign can no longer send.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted
}

// Sendable reports whether batches may be processed for the campaign.
func (c *Campaign) Sendable() bool {
	return c.Status == CampaignQueued || c.Status == CampaignSending
}

// JobStatus enumerates the lifecycle of a single per-contact send job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSent       JobStatus = "sent"
	JobFailed     JobStatus = "failed"
)

// Job is the unit of work "send this campaign to this one contact".
type Job struct {
	ID                string     `json:"id" db:"id"`
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	ContactID         string     `json:"contact_id" db:"contact_id"`
	Status            JobStatus  `json:"status" db:"status"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty" db:"provider_message_id"`
	LastError         *string    `json:"last_error,omitempty" db:"last_error"`
	SentAt            *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// ClaimedJob is a job claimed for processing together with the contact
// fields needed for personalization. ClaimToken identifies the claim; it is
// shared by every job claimed in the same call.
type ClaimedJob struct {
	Job
	ClaimToken string  `json:"claim_token"`
	Contact    Contact `json:"contact"`
}

// JobOutcome is the result of one processing attempt for a claimed job.
type JobOutcome struct {
	JobID             string
	Sent              bool
	ProviderMessageID string
	Error             string
	At                time.Time
}

// BatchResult summarizes one send-batch call.
type BatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// JobCounts holds per-status job counts for a campaign.
type JobCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// Total returns the sum of all counts.
func (c JobCounts) Total() int {
	return c.Queued + c.Processing + c.Sent + c.Failed
}

// StatusReport is returned by the campaign status endpoint.
type StatusReport struct {
	Status CampaignStatus `json:"status"`
	Counts JobCounts      `json:"counts"`
	Total  int            `json:"total"`
}

// AuditEvent is a single append-only audit log entry.
type AuditEvent struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	Action         string         `json:"action" db:"action"`
	EntityID       string         `json:"entity_id" db:"entity_id"`
	Data           map[string]any `json:"data" db:"data"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

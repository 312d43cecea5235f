package domain

import "time"

// SuppressionReason enumerates why an email was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce SuppressionReason = "hard_bounce"
	ReasonComplaint  SuppressionReason = "spam_complaint"
	ReasonManual     SuppressionReason = "manual"
)

// Suppression is a single entry in an organization's suppression list.
// Suppressed addresses never receive sequence mail.
type Suppression struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	Email          string            `json:"email" db:"email"`
	Reason         SuppressionReason `json:"reason" db:"reason"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Unsubscribe records a recipient's opt-out for an organization.
type Unsubscribe struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Email          string    `json:"email" db:"email"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

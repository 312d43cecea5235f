package domain

import "time"

// EnrollmentStatus enumerates the states of a contact's progress through a
// sequence.
type EnrollmentStatus string

const (
	EnrollmentActive       EnrollmentStatus = "active"
	EnrollmentCompleted    EnrollmentStatus = "completed"
	EnrollmentBounced      EnrollmentStatus = "bounced"
	EnrollmentUnsubscribed EnrollmentStatus = "unsubscribed"
)

// Enrollment is a contact's progress through a multi-step sequence.
// NextRunAt is epoch seconds.
type Enrollment struct {
	ID             string           `json:"id" db:"id"`
	OrganizationID string           `json:"organization_id" db:"organization_id"`
	ContactID      string           `json:"contact_id" db:"contact_id"`
	Email          string           `json:"email" db:"email"`
	FirstName      string           `json:"first_name" db:"first_name"`
	LastName       string           `json:"last_name" db:"last_name"`
	SequenceID     string           `json:"sequence_id" db:"sequence_id"`
	CurrentStep    int              `json:"current_step" db:"current_step"`
	NextRunAt      int64            `json:"next_run_at" db:"next_run_at"`
	Status         EnrollmentStatus `json:"status" db:"status"`
}

// Contact returns the recipient fields as a Contact for personalization.
func (e *Enrollment) Contact() Contact {
	return Contact{
		ID:             e.ContactID,
		OrganizationID: e.OrganizationID,
		Email:          e.Email,
		FirstName:      e.FirstName,
		LastName:       e.LastName,
	}
}

// SequenceStep is one email in a sequence. WaitDays is the delay before the
// following step becomes due.
type SequenceStep struct {
	ID         string `json:"id" db:"id"`
	SequenceID string `json:"sequence_id" db:"sequence_id"`
	Position   int    `json:"position" db:"position"`
	Subject    string `json:"subject" db:"subject"`
	HTMLBody   string `json:"html_body" db:"html_body"`
	TextBody   string `json:"text_body" db:"text_body"`
	WaitDays   int    `json:"wait_days" db:"wait_days"`
}

// Inbox is a sending identity used for sequence mail.
type Inbox struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	FromName       string     `json:"from_name" db:"from_name"`
	FromEmail      string     `json:"from_email" db:"from_email"`
	ReplyTo        string     `json:"reply_to" db:"reply_to"`
	Active         bool       `json:"active" db:"active"`
	LastUsedAt     *time.Time `json:"last_used_at" db:"last_used_at"`
}

// TransportJob is the message enqueued by the scheduling coordinator for
// delivery by the worker.
type TransportJob struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	EnrollmentID   string    `json:"enrollment_id"`
	StepID         string    `json:"step_id"`
	InboxID        string    `json:"inbox_id"`
	To             string    `json:"to"`
	ToName         string    `json:"to_name,omitempty"`
	FromName       string    `json:"from_name"`
	FromEmail      string    `json:"from_email"`
	ReplyTo        string    `json:"reply_to,omitempty"`
	Subject        string    `json:"subject"`
	HTMLBody       string    `json:"html_body,omitempty"`
	TextBody       string    `json:"text_body,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Message converts the job to a transport message.
func (j *TransportJob) Message() *EmailMessage {
	return &EmailMessage{
		FromEmail: j.FromEmail,
		FromName:  j.FromName,
		ReplyTo:   j.ReplyTo,
		ToEmail:   j.To,
		ToName:    j.ToName,
		Subject:   j.Subject,
		HTMLBody:  j.HTMLBody,
		TextBody:  j.TextBody,
		Tags: map[string]string{
			"enrollment_id": j.EnrollmentID,
			"step_id":       j.StepID,
		},
	}
}

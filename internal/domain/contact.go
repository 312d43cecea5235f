package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Contact is a single recipient owned by one organization.
type Contact struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Email          string `json:"email" db:"email"`
	FirstName      string `json:"first_name" db:"first_name"`
	LastName       string `json:"last_name" db:"last_name"`
}

// DisplayName joins first and last name, or returns "" when both are empty.
func (c Contact) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Template holds the content of a campaign email. At least one body is
// required at send time.
type Template struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Subject        string    `json:"subject" db:"subject"`
	HTMLBody       *string   `json:"html_body" db:"html_body"`
	TextBody       *string   `json:"text_body" db:"text_body"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// HasBody reports whether the template has a non-empty html or text body.
func (t *Template) HasBody() bool {
	return (t.HTMLBody != nil && strings.TrimSpace(*t.HTMLBody) != "") ||
		(t.TextBody != nil && strings.TrimSpace(*t.TextBody) != "")
}

// Sender is a verified from-identity used by campaigns.
type Sender struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	FromName       string    `json:"from_name" db:"from_name"`
	FromEmail      string    `json:"from_email" db:"from_email"`
	ReplyTo        *string   `json:"reply_to" db:"reply_to"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Validate checks that the from and reply-to addresses are well formed.
func (s *Sender) Validate() error {
	if !ValidEmail(s.FromEmail) {
		return fmt.Errorf("invalid from_email %q", s.FromEmail)
	}
	if s.ReplyTo != nil && *s.ReplyTo != "" && !ValidEmail(*s.ReplyTo) {
		return fmt.Errorf("invalid reply_to %q", *s.ReplyTo)
	}
	return nil
}

// ValidEmail reports whether addr is a bare, well-formed email address.
func ValidEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return false
	}
	return parsed.Address == addr
}

// NormalizeEmail lowercases and trims an address for list lookups.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

package domain

import "time"

// ProviderType identifies the transactional email API used for sending.
type ProviderType string

const (
	ProviderHTTP ProviderType = "http"
	ProviderSES  ProviderType = "ses"
)

// EmailMessage is the fully-resolved message handed to the transport client.
// By the time a message reaches this struct, all substitution is complete.
type EmailMessage struct {
	FromEmail string            `json:"from_email"`
	FromName  string            `json:"from_name,omitempty"`
	ReplyTo   string            `json:"reply_to,omitempty"`
	ToEmail   string            `json:"to_email"`
	ToName    string            `json:"to_name,omitempty"`
	Subject   string            `json:"subject"`
	HTMLBody  string            `json:"html_body,omitempty"`
	TextBody  string            `json:"text_body,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// HasBody reports whether at least one body is non-empty.
func (m *EmailMessage) HasBody() bool {
	return m.HTMLBody != "" || m.TextBody != ""
}

// SendResult is returned by the transport client after attempting delivery.
// Failures are values, never errors.
type SendResult struct {
	Success   bool         `json:"success"`
	MessageID string       `json:"message_id,omitempty"`
	Provider  ProviderType `json:"provider"`
	SentAt    time.Time    `json:"sent_at"`
	Error     string       `json:"error,omitempty"`
}

// Failed builds a failure result for the given provider.
func Failed(provider ProviderType, reason string) SendResult {
	return SendResult{Success: false, Provider: provider, Error: reason}
}

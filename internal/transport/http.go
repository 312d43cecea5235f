package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// maxErrorBody bounds how much of a provider error body is kept.
const maxErrorBody = 500

// HTTPClient posts messages as JSON to a transactional email endpoint.
// A 2xx response is an accepted message; the optional X-Message-Id header
// carries the provider's id. Any other status is a failure and the body
// text becomes the error detail.
type HTTPClient struct {
	endpoint  string
	apiKey    string
	keyHeader string
	http      *http.Client
	log       *logger.Logger
}

// NewHTTPClient creates an HTTP transport client.
func NewHTTPClient(endpoint, apiKey, keyHeader string, timeout time.Duration) *HTTPClient {
	if keyHeader == "" {
		keyHeader = "Authorization"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoint:  endpoint,
		apiKey:    apiKey,
		keyHeader: keyHeader,
		http:      &http.Client{Timeout: timeout},
		log:       logger.New("transport.http"),
	}
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	From    address           `json:"from"`
	ReplyTo *address          `json:"reply_to,omitempty"`
	To      []address         `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Send delivers msg. It never returns an error.
func (c *HTTPClient) Send(ctx context.Context, msg *domain.EmailMessage) domain.SendResult {
	if !msg.HasBody() {
		return domain.Failed(domain.ProviderHTTP, ErrEmptyBody)
	}

	payload := sendRequest{
		From:    address{Email: msg.FromEmail, Name: msg.FromName},
		To:      []address{{Email: msg.ToEmail, Name: msg.ToName}},
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
		Text:    msg.TextBody,
		Tags:    msg.Tags,
	}
	if msg.ReplyTo != "" {
		payload.ReplyTo = &address{Email: msg.ReplyTo}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return domain.Failed(domain.ProviderHTTP, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return domain.Failed(domain.ProviderHTTP, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		val := c.apiKey
		if strings.EqualFold(c.keyHeader, "Authorization") {
			val = "Bearer " + c.apiKey
		}
		req.Header.Set(c.keyHeader, val)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("send failed", "recipient", msg.ToEmail, "error", err)
		return domain.Failed(domain.ProviderHTTP, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = resp.Status
		}
		c.log.Warn("provider rejected message", "recipient", msg.ToEmail, "status", resp.StatusCode)
		return domain.Failed(domain.ProviderHTTP, truncate(detail, maxErrorBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return domain.SendResult{
		Success:   true,
		MessageID: resp.Header.Get("X-Message-Id"),
		Provider:  domain.ProviderHTTP,
		SentAt:    time.Now().UTC(),
	}
}

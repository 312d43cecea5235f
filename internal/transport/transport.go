// Package transport delivers a single personalized email through a
// transactional email API.
//
// Clients never return errors: network and API failures are converted to a
// failed domain.SendResult so callers can treat every outcome uniformly.
// Clients do not retry.
package transport

import (
	"context"
	"fmt"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
)

// Client sends one email. Implementations must be safe for concurrent use.
type Client interface {
	Send(ctx context.Context, msg *domain.EmailMessage) domain.SendResult
}

// ErrEmptyBody is reported when neither html nor text body is set.
const ErrEmptyBody = "empty message body"

// New builds the client selected by cfg.Provider.
func New(ctx context.Context, cfg config.TransportConfig) (Client, error) {
	switch domain.ProviderType(cfg.Provider) {
	case domain.ProviderHTTP:
		return NewHTTPClient(cfg.Endpoint, cfg.APIKey, cfg.APIKeyHeader, cfg.Timeout()), nil
	case domain.ProviderSES:
		return NewSESClient(ctx, cfg.SESRegion, cfg.SESAccessKey, cfg.SESSecretKey)
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Provider)
	}
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, msg *domain.EmailMessage) domain.SendResult

func (f ClientFunc) Send(ctx context.Context, msg *domain.EmailMessage) domain.SendResult {
	return f(ctx, msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Package verify checks human-verification tokens submitted with manual
// send requests.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/mailpipe/internal/pkg/httpretry"
)

// ErrVerificationFailed is returned when a token is missing or rejected.
var ErrVerificationFailed = errors.New("human verification failed")

// Verifier validates a verification token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// New returns a TurnstileVerifier when secret is set, NoopVerifier otherwise.
func New(secret, verifyURL string) Verifier {
	if secret == "" {
		return NoopVerifier{}
	}
	return NewTurnstileVerifier(secret, verifyURL)
}

// NoopVerifier accepts every request.
type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, string, string) error { return nil }

// TurnstileVerifier validates tokens against a Cloudflare Turnstile style
// siteverify endpoint. Throttled siteverify calls are retried twice.
type TurnstileVerifier struct {
	secret    string
	verifyURL string
	http      httpretry.Doer
}

const defaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

func NewTurnstileVerifier(secret, verifyURL string) *TurnstileVerifier {
	if verifyURL == "" {
		verifyURL = defaultVerifyURL
	}
	return &TurnstileVerifier{
		secret:    secret,
		verifyURL: verifyURL,
		http:      httpretry.New(&http.Client{Timeout: 10 * time.Second}, 2),
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing token", ErrVerificationFailed)
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("verify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify endpoint returned %d", resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(out.ErrorCodes, ","))
	}
	return nil
}

package suppression

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/domain"
)

// Verdict is the outcome of a send-eligibility check.
type Verdict int

const (
	Allowed Verdict = iota
	Suppressed
	Unsubscribed
)

func (v Verdict) String() string {
	switch v {
	case Suppressed:
		return "suppressed"
	case Unsubscribed:
		return "unsubscribed"
	default:
		return "allowed"
	}
}

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Check reports whether email may receive mail. The suppression list wins
// over the unsubscribe list when both match.
func (s *Service) Check(ctx context.Context, orgID, email string) (Verdict, error) {
	email = domain.NormalizeEmail(email)

	suppressed, err := s.repo.IsSuppressed(ctx, orgID, email)
	if err != nil {
		return Allowed, fmt.Errorf("check suppression: %w", err)
	}
	if suppressed {
		return Suppressed, nil
	}

	unsubscribed, err := s.repo.IsUnsubscribed(ctx, orgID, email)
	if err != nil {
		return Allowed, fmt.Errorf("check unsubscribe: %w", err)
	}
	if unsubscribed {
		return Unsubscribed, nil
	}
	return Allowed, nil
}

// Suppress adds an email to the suppression list. Idempotent.
func (s *Service) Suppress(ctx context.Context, orgID, email string, reason domain.SuppressionReason) error {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if reason == "" {
		reason = domain.ReasonManual
	}
	return s.repo.Suppress(ctx, &domain.Suppression{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Email:          email,
		Reason:         reason,
	})
}

// Unsubscribe records an opt-out for the organization. Idempotent.
func (s *Service) Unsubscribe(ctx context.Context, orgID, email string) error {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return s.repo.Unsubscribe(ctx, &domain.Unsubscribe{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Email:          email,
	})
}

// Remove deletes a suppression entry.
func (s *Service) Remove(ctx context.Context, orgID, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidEmail)
	}
	return s.repo.Remove(ctx, orgID, email)
}

package suppression

import (
	"context"

	"github.com/ignite/mailpipe/internal/domain"
)

// Repository defines the data access contract for the suppression and
// unsubscribe lists. Emails are passed normalized (lowercase, trimmed).
type Repository interface {
	// IsSuppressed returns true if the email is on the org's suppression list.
	IsSuppressed(ctx context.Context, orgID, email string) (bool, error)

	// IsUnsubscribed returns true if the email has opted out of the org's mail.
	IsUnsubscribed(ctx context.Context, orgID, email string) (bool, error)

	// Suppress adds an email to the suppression list. If it already exists,
	// the existing record is preserved (idempotent).
	Suppress(ctx context.Context, s *domain.Suppression) error

	// Unsubscribe records an opt-out. Idempotent.
	Unsubscribe(ctx context.Context, u *domain.Unsubscribe) error

	// Remove deletes a suppression entry. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, orgID, email string) error
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

var _ suppression.Repository = (*SuppressionRepo)(nil)

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, orgID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppression WHERE organization_id = $1 AND email = $2)`,
		orgID, email,
	).Scan(&exists)
	return exists, err
}

func (r *SuppressionRepo) IsUnsubscribed(ctx context.Context, orgID, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM unsubscribes WHERE organization_id = $1 AND email = $2)`,
		orgID, email,
	).Scan(&exists)
	return exists, err
}

func (r *SuppressionRepo) Suppress(ctx context.Context, s *domain.Suppression) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression (id, organization_id, email, reason, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (organization_id, email) DO NOTHING
	`, s.ID, s.OrganizationID, s.Email, s.Reason)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) Unsubscribe(ctx context.Context, u *domain.Unsubscribe) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unsubscribes (id, organization_id, email, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (organization_id, email) DO NOTHING
	`, u.ID, u.OrganizationID, u.Email)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, orgID, email string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM suppression WHERE organization_id = $1 AND email = $2`,
		orgID, email,
	)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

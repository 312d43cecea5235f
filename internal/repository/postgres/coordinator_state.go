package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/mailpipe/internal/coordinator"
)

// CoordinatorStateRepo implements coordinator.StateStore against PostgreSQL.
type CoordinatorStateRepo struct{ db *sql.DB }

func NewCoordinatorStateRepo(db *sql.DB) *CoordinatorStateRepo {
	return &CoordinatorStateRepo{db: db}
}

var _ coordinator.StateStore = (*CoordinatorStateRepo)(nil)

func (r *CoordinatorStateRepo) Load(ctx context.Context, orgID string) (*coordinator.State, error) {
	st := &coordinator.State{}
	err := r.db.QueryRowContext(ctx, `
		SELECT org_id, running, updated_at FROM coordinator_state WHERE org_id = $1
	`, orgID).Scan(&st.OrgID, &st.Running, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, coordinator.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load coordinator state: %w", err)
	}
	return st, nil
}

func (r *CoordinatorStateRepo) Save(ctx context.Context, st coordinator.State) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coordinator_state (org_id, running, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (org_id) DO UPDATE SET running = EXCLUDED.running, updated_at = NOW()
	`, st.OrgID, st.Running)
	if err != nil {
		return fmt.Errorf("save coordinator state: %w", err)
	}
	return nil
}

func (r *CoordinatorStateRepo) ListRunning(ctx context.Context) ([]coordinator.State, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT org_id, running, updated_at FROM coordinator_state WHERE running = true ORDER BY org_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list running coordinators: %w", err)
	}
	defer rows.Close()

	var out []coordinator.State
	for rows.Next() {
		var st coordinator.State
		if err := rows.Scan(&st.OrgID, &st.Running, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan coordinator state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

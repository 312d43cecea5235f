package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/mailpipe/internal/coordinator"
	"github.com/ignite/mailpipe/internal/domain"
)

// SequenceRepo implements coordinator.Store against PostgreSQL.
type SequenceRepo struct{ db *sql.DB }

// NewSequenceRepo creates a Postgres-backed sequence repository.
func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

var _ coordinator.Store = (*SequenceRepo)(nil)

func (r *SequenceRepo) DueEnrollments(ctx context.Context, orgID string, now int64, limit int) ([]domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.organization_id, e.contact_id, ct.email,
		       COALESCE(ct.first_name, ''), COALESCE(ct.last_name, ''),
		       e.sequence_id, e.current_step, e.next_run_at, e.status
		FROM enrollments e
		JOIN contacts ct ON ct.id = e.contact_id
		WHERE e.organization_id = $1
		  AND e.status = 'active'
		  AND e.next_run_at <= $2
		ORDER BY e.next_run_at, e.id
		LIMIT $3
	`, orgID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(
			&e.ID, &e.OrganizationID, &e.ContactID, &e.Email,
			&e.FirstName, &e.LastName,
			&e.SequenceID, &e.CurrentStep, &e.NextRunAt, &e.Status,
		); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SequenceRepo) StepAt(ctx context.Context, orgID, sequenceID string, position int) (*domain.SequenceStep, error) {
	s := &domain.SequenceStep{}
	err := r.db.QueryRowContext(ctx, `
		SELECT st.id, st.sequence_id, st.position, st.subject,
		       COALESCE(st.html_body, ''), COALESCE(st.text_body, ''), st.wait_days
		FROM sequence_steps st
		JOIN sequences sq ON sq.id = st.sequence_id
		WHERE st.sequence_id = $1 AND sq.organization_id = $2 AND st.position = $3
	`, sequenceID, orgID, position).Scan(
		&s.ID, &s.SequenceID, &s.Position, &s.Subject, &s.HTMLBody, &s.TextBody, &s.WaitDays,
	)
	if err == sql.ErrNoRows {
		return nil, coordinator.ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	return s, nil
}

func (r *SequenceRepo) SetEnrollmentStatus(ctx context.Context, orgID, id string, status domain.EnrollmentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET status = $1, updated_at = NOW()
		WHERE id = $2 AND organization_id = $3
	`, status, id, orgID)
	if err != nil {
		return fmt.Errorf("set enrollment status: %w", err)
	}
	return nil
}

func (r *SequenceRepo) AdvanceEnrollment(ctx context.Context, orgID, id string, step int, nextRunAt int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollments
		SET current_step = $1, next_run_at = $2, updated_at = NOW()
		WHERE id = $3 AND organization_id = $4 AND status = 'active'
	`, step, nextRunAt, id, orgID)
	if err != nil {
		return fmt.Errorf("advance enrollment: %w", err)
	}
	return nil
}

func (r *SequenceRepo) ActiveInboxes(ctx context.Context, orgID string) ([]domain.Inbox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, from_name, from_email, COALESCE(reply_to, ''), active, last_used_at
		FROM inboxes
		WHERE organization_id = $1 AND active = true
		ORDER BY last_used_at NULLS FIRST, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("active inboxes: %w", err)
	}
	defer rows.Close()

	var out []domain.Inbox
	for rows.Next() {
		var in domain.Inbox
		var lastUsed sql.NullTime
		if err := rows.Scan(&in.ID, &in.OrganizationID, &in.FromName, &in.FromEmail, &in.ReplyTo, &in.Active, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan inbox: %w", err)
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			in.LastUsedAt = &t
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *SequenceRepo) TouchInbox(ctx context.Context, orgID, inboxID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE inboxes SET last_used_at = $1
		WHERE id = $2 AND organization_id = $3
	`, at.UTC(), inboxID, orgID)
	if err != nil {
		return fmt.Errorf("touch inbox: %w", err)
	}
	return nil
}

// RecordSend stores the delivery outcome of a transport job.
func (r *SequenceRepo) RecordSend(ctx context.Context, job *domain.TransportJob, res domain.SendResult) error {
	status := "sent"
	if !res.Success {
		status = "failed"
	}
	var sentAt *time.Time
	if res.Success && !res.SentAt.IsZero() {
		t := res.SentAt.UTC()
		sentAt = &t
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_sends
			(id, organization_id, enrollment_id, step_id, inbox_id, email, status,
			 provider_message_id, error, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			provider_message_id = EXCLUDED.provider_message_id,
			error = EXCLUDED.error,
			sent_at = EXCLUDED.sent_at
	`, job.ID, job.OrganizationID, job.EnrollmentID, job.StepID, job.InboxID, job.To, status,
		res.MessageID, truncate(res.Error, 1000), sentAt)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}

package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/ratelimit"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

var (
	ErrAlreadyRunning = errors.New("coordinator already running")
	ErrStepNotFound   = errors.New("sequence step not found")
	ErrStateNotFound  = errors.New("coordinator state not found")
)

// Store is the sequence data the coordinator reads and advances.
type Store interface {
	// DueEnrollments returns up to limit active enrollments whose
	// next_run_at is at or before now (epoch seconds), oldest first.
	DueEnrollments(ctx context.Context, orgID string, now int64, limit int) ([]domain.Enrollment, error)

	// StepAt returns the step at position in the sequence, or
	// ErrStepNotFound when the sequence has no such step.
	StepAt(ctx context.Context, orgID, sequenceID string, position int) (*domain.SequenceStep, error)

	SetEnrollmentStatus(ctx context.Context, orgID, id string, status domain.EnrollmentStatus) error

	// AdvanceEnrollment moves an active enrollment to the given step and
	// next run time.
	AdvanceEnrollment(ctx context.Context, orgID, id string, step int, nextRunAt int64) error

	ActiveInboxes(ctx context.Context, orgID string) ([]domain.Inbox, error)

	// TouchInbox records that an inbox was selected at the given time.
	TouchInbox(ctx context.Context, orgID, inboxID string, at time.Time) error
}

// State is the durable per-tenant coordinator record.
type State struct {
	OrgID     string    `json:"org_id" dynamodbav:"org_id"`
	Running   bool      `json:"running" dynamodbav:"running"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// StateStore persists coordinator state across restarts.
type StateStore interface {
	// Load returns ErrStateNotFound when no state was ever saved.
	Load(ctx context.Context, orgID string) (*State, error)
	Save(ctx context.Context, s State) error
	ListRunning(ctx context.Context) ([]State, error)
}

// Checker decides whether a recipient may receive mail.
type Checker interface {
	Check(ctx context.Context, orgID, email string) (suppression.Verdict, error)
}

// Publisher enqueues transport jobs for the worker.
type Publisher interface {
	Publish(ctx context.Context, job *domain.TransportJob) error
}

// Limiter is the tenant send budget.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, scope string, limit int, window time.Duration) (ratelimit.Decision, error)
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/personalize"
	"github.com/ignite/mailpipe/internal/pkg/distlock"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

const secondsPerDay = 86400

// Options tunes a coordinator loop.
type Options struct {
	Interval time.Duration
	MaxDue   int

	// TenantLimit caps transport jobs per TenantWindow. 0 disables the cap.
	TenantLimit  int
	TenantWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.MaxDue <= 0 {
		o.MaxDue = 100
	}
	if o.TenantWindow <= 0 {
		o.TenantWindow = time.Hour
	}
	return o
}

// Deps are the collaborators shared by every coordinator in a registry.
// Limiter and Locks are optional.
type Deps struct {
	Store     Store
	States    StateStore
	Checker   Checker
	Publisher Publisher
	Limiter   Limiter
	Locks     distlock.Factory
}

// PassResult summarizes one scheduling pass.
type PassResult struct {
	Due          int  `json:"due"`
	Enqueued     int  `json:"enqueued"`
	Bounced      int  `json:"bounced"`
	Unsubscribed int  `json:"unsubscribed"`
	Completed    int  `json:"completed"`
	Skipped      int  `json:"skipped"`
	Errors       int  `json:"errors"`
	Throttled    bool `json:"throttled"`
	LockBusy     bool `json:"lock_busy"`
}

// Status is the observable state of a coordinator.
type Status struct {
	OrgID      string      `json:"org_id"`
	Running    bool        `json:"running"`
	LastTickAt *time.Time  `json:"last_tick_at,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
	LastPass   *PassResult `json:"last_pass,omitempty"`
}

// Coordinator is the scheduling loop for one organization. At most one
// pass runs at a time per instance.
type Coordinator struct {
	orgID string
	deps  Deps
	opts  Options
	log   *logger.Logger
	now   func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastTick time.Time
	lastErr  string
	lastPass *PassResult

	passMu sync.Mutex
}

// New creates a stopped coordinator for orgID.
func New(orgID string, deps Deps, opts Options) *Coordinator {
	return &Coordinator{
		orgID: orgID,
		deps:  deps,
		opts:  opts.withDefaults(),
		log:   logger.New("coordinator").With("org_id", orgID),
		now:   time.Now,
	}
}

// Start launches the loop. The first pass runs immediately. Returns false
// if the loop is already running.
func (c *Coordinator) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(ctx, c.done)
	c.log.Info("coordinator started", "interval", c.opts.Interval.String())
	return true
}

// Stop ends the loop after the current pass. It does not wait for an
// in-flight pass; use Wait for that. Returns false if not running.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.cancel()
	c.running = false
	c.log.Info("coordinator stopped")
	return true
}

// Wait blocks until the most recently started loop has exited.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{OrgID: c.orgID, Running: c.running, LastError: c.lastErr}
	if !c.lastTick.IsZero() {
		t := c.lastTick
		st.LastTickAt = &t
	}
	if c.lastPass != nil {
		p := *c.lastPass
		st.LastPass = &p
	}
	return st
}

func (c *Coordinator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.safeTick(ctx)
		}
	}
}

// safeTick runs one pass. Stop is only observed between passes, so the
// pass itself runs on a context that is not cancelled by Stop.
func (c *Coordinator) safeTick(loopCtx context.Context) {
	if loopCtx.Err() != nil {
		return
	}
	ctx := context.WithoutCancel(loopCtx)

	var (
		res PassResult
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		res, err = c.ProcessDueEnrollments(ctx, c.now())
	}()

	c.mu.Lock()
	c.lastTick = c.now()
	c.lastPass = &res
	c.lastErr = ""
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("scheduling pass failed", "error", err)
	}
}

// ProcessDueEnrollments runs one scheduling pass at time now. Errors on a
// single enrollment are logged and counted; only failures that prevent the
// pass from starting are returned.
func (c *Coordinator) ProcessDueEnrollments(ctx context.Context, now time.Time) (PassResult, error) {
	var res PassResult

	state, err := c.deps.States.Load(ctx, c.orgID)
	if errors.Is(err, ErrStateNotFound) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("load state: %w", err)
	}
	if state.OrgID == "" {
		return res, nil
	}
	orgID := state.OrgID

	c.passMu.Lock()
	defer c.passMu.Unlock()

	if c.deps.Locks != nil {
		lock := c.deps.Locks("coordinator:" + orgID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return res, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			res.LockBusy = true
			c.log.Debug("pass skipped, lock held elsewhere")
			return res, nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				c.log.Warn("lock release failed", "error", err)
			}
		}()
	}

	due, err := c.deps.Store.DueEnrollments(ctx, orgID, now.Unix(), c.opts.MaxDue)
	if err != nil {
		return res, fmt.Errorf("load due enrollments: %w", err)
	}
	res.Due = len(due)
	if len(due) == 0 {
		return res, nil
	}

	inboxes, err := c.deps.Store.ActiveInboxes(ctx, orgID)
	if err != nil {
		return res, fmt.Errorf("load inboxes: %w", err)
	}
	sel := NewInboxSelector(inboxes)

	for i := range due {
		outcome, err := c.processOne(ctx, orgID, &due[i], sel, now)
		if err != nil {
			res.Errors++
			c.log.Warn("enrollment failed", "enrollment_id", due[i].ID, "error", err)
			continue
		}
		switch outcome {
		case outcomeEnqueued:
			res.Enqueued++
		case outcomeBounced:
			res.Bounced++
		case outcomeUnsubscribed:
			res.Unsubscribed++
		case outcomeCompleted:
			res.Completed++
		case outcomeSkipped:
			res.Skipped++
		case outcomeThrottled:
			res.Throttled = true
		}
		if res.Throttled {
			break
		}
	}

	c.log.Info("scheduling pass complete",
		"due", res.Due, "enqueued", res.Enqueued, "bounced", res.Bounced,
		"unsubscribed", res.Unsubscribed, "completed", res.Completed,
		"skipped", res.Skipped, "errors", res.Errors, "throttled", res.Throttled)
	return res, nil
}

type outcome int

const (
	outcomeEnqueued outcome = iota
	outcomeBounced
	outcomeUnsubscribed
	outcomeCompleted
	outcomeSkipped
	outcomeThrottled
)

func (c *Coordinator) processOne(ctx context.Context, orgID string, e *domain.Enrollment, sel *InboxSelector, now time.Time) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	verdict, err := c.deps.Checker.Check(ctx, orgID, e.Email)
	if err != nil {
		return 0, err
	}
	switch verdict {
	case suppression.Suppressed:
		return outcomeBounced, c.deps.Store.SetEnrollmentStatus(ctx, orgID, e.ID, domain.EnrollmentBounced)
	case suppression.Unsubscribed:
		return outcomeUnsubscribed, c.deps.Store.SetEnrollmentStatus(ctx, orgID, e.ID, domain.EnrollmentUnsubscribed)
	}

	step, err := c.deps.Store.StepAt(ctx, orgID, e.SequenceID, e.CurrentStep)
	if errors.Is(err, ErrStepNotFound) {
		return outcomeCompleted, c.deps.Store.SetEnrollmentStatus(ctx, orgID, e.ID, domain.EnrollmentCompleted)
	}
	if err != nil {
		return 0, fmt.Errorf("load step %d: %w", e.CurrentStep, err)
	}

	inbox, ok := sel.Next()
	if !ok {
		// Left untouched; retried on the next tick.
		return outcomeSkipped, nil
	}

	if c.deps.Limiter != nil && c.opts.TenantLimit > 0 {
		d, err := c.deps.Limiter.CheckAndIncrement(ctx, "org:"+orgID+":sequence", c.opts.TenantLimit, c.opts.TenantWindow)
		if err != nil {
			return 0, fmt.Errorf("rate guard: %w", err)
		}
		if !d.Allowed {
			return outcomeThrottled, nil
		}
	}

	contact := e.Contact()
	r := personalize.Render(step.Subject, &step.HTMLBody, &step.TextBody, personalize.ContactVars(contact))

	job := &domain.TransportJob{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		EnrollmentID:   e.ID,
		StepID:         step.ID,
		InboxID:        inbox.ID,
		To:             e.Email,
		ToName:         contact.DisplayName(),
		FromName:       inbox.FromName,
		FromEmail:      inbox.FromEmail,
		ReplyTo:        inbox.ReplyTo,
		Subject:        r.Subject,
		HTMLBody:       r.HTMLBody,
		TextBody:       r.TextBody,
		EnqueuedAt:     now.UTC(),
	}
	if err := c.deps.Publisher.Publish(ctx, job); err != nil {
		return 0, fmt.Errorf("enqueue transport job: %w", err)
	}

	if err := c.deps.Store.TouchInbox(ctx, orgID, inbox.ID, now); err != nil {
		c.log.Warn("touch inbox failed", "inbox_id", inbox.ID, "error", err)
	}

	next := now.Unix() + int64(step.WaitDays)*secondsPerDay
	if err := c.deps.Store.AdvanceEnrollment(ctx, orgID, e.ID, e.CurrentStep+1, next); err != nil {
		return 0, fmt.Errorf("advance enrollment: %w", err)
	}
	return outcomeEnqueued, nil
}

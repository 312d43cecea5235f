package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/distlock"
	"github.com/ignite/mailpipe/internal/ratelimit"
	"github.com/ignite/mailpipe/internal/service/suppression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrg = "org-1"

type memStore struct {
	mu          sync.Mutex
	enrollments map[string]*domain.Enrollment
	steps       map[string][]domain.SequenceStep
	inboxes     []domain.Inbox
	touched     []string
	dueCalls    int
	dueErr      error
}

func newMemStore() *memStore {
	return &memStore{
		enrollments: make(map[string]*domain.Enrollment),
		steps:       make(map[string][]domain.SequenceStep),
	}
}

func (m *memStore) DueEnrollments(_ context.Context, orgID string, now int64, limit int) ([]domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dueCalls++
	if m.dueErr != nil {
		return nil, m.dueErr
	}
	var out []domain.Enrollment
	for _, e := range m.enrollments {
		if e.OrganizationID == orgID && e.Status == domain.EnrollmentActive && e.NextRunAt <= now {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) StepAt(_ context.Context, _, sequenceID string, position int) (*domain.SequenceStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps[sequenceID] {
		if s.Position == position {
			cp := s
			return &cp, nil
		}
	}
	return nil, ErrStepNotFound
}

func (m *memStore) SetEnrollmentStatus(_ context.Context, _, id string, status domain.EnrollmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[id].Status = status
	return nil
}

func (m *memStore) AdvanceEnrollment(_ context.Context, _, id string, step int, next int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.enrollments[id]
	e.CurrentStep = step
	e.NextRunAt = next
	return nil
}

func (m *memStore) ActiveInboxes(_ context.Context, _ string) ([]domain.Inbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Inbox(nil), m.inboxes...), nil
}

func (m *memStore) TouchInbox(_ context.Context, _, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	for i := range m.inboxes {
		if m.inboxes[i].ID == id {
			t := at
			m.inboxes[i].LastUsedAt = &t
		}
	}
	return nil
}

func (m *memStore) get(id string) domain.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.enrollments[id]
}

func (m *memStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dueCalls
}

type memStates struct {
	mu     sync.Mutex
	states map[string]State
}

func newMemStates() *memStates { return &memStates{states: make(map[string]State)} }

func (m *memStates) Load(_ context.Context, orgID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[orgID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return &st, nil
}

func (m *memStates) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.OrgID] = st
	return nil
}

func (m *memStates) ListRunning(_ context.Context) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []State
	for _, st := range m.states {
		if st.Running {
			out = append(out, st)
		}
	}
	return out, nil
}

type fakeChecker struct {
	suppressed   map[string]bool
	unsubscribed map[string]bool
	failFor      map[string]bool
}

func (f fakeChecker) Check(_ context.Context, _, email string) (suppression.Verdict, error) {
	switch {
	case f.failFor[email]:
		return suppression.Allowed, errors.New("lookup failed")
	case f.suppressed[email]:
		return suppression.Suppressed, nil
	case f.unsubscribed[email]:
		return suppression.Unsubscribed, nil
	}
	return suppression.Allowed, nil
}

type memPublisher struct {
	mu   sync.Mutex
	jobs []*domain.TransportJob
}

func (p *memPublisher) Publish(_ context.Context, job *domain.TransportJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

type fixture struct {
	store  *memStore
	states *memStates
	pub    *memPublisher
	deps   Deps
}

func newFixture(checker fakeChecker) *fixture {
	f := &fixture{store: newMemStore(), states: newMemStates(), pub: &memPublisher{}}
	f.states.states[testOrg] = State{OrgID: testOrg, Running: true}
	f.store.steps["seq-1"] = []domain.SequenceStep{
		{ID: "step-0", SequenceID: "seq-1", Position: 0, Subject: "Welcome {{first_name}}", HTMLBody: "<p>Hi {{first_name}}</p>", WaitDays: 2},
		{ID: "step-1", SequenceID: "seq-1", Position: 1, Subject: "Follow up", TextBody: "Still there?", WaitDays: 0},
	}
	f.store.inboxes = []domain.Inbox{
		{ID: "inbox-a", OrganizationID: testOrg, FromName: "Ann", FromEmail: "ann@acme.io", Active: true},
		{ID: "inbox-b", OrganizationID: testOrg, FromName: "Bob", FromEmail: "bob@acme.io", Active: true},
	}
	f.deps = Deps{Store: f.store, States: f.states, Checker: checker, Publisher: f.pub}
	return f
}

func (f *fixture) enroll(id, email string, step int, nextRunAt int64) {
	f.store.enrollments[id] = &domain.Enrollment{
		ID: id, OrganizationID: testOrg, ContactID: "ct-" + id, Email: email,
		FirstName: "Zoe", SequenceID: "seq-1", CurrentStep: step, NextRunAt: nextRunAt,
		Status: domain.EnrollmentActive,
	}
}

var now = time.Unix(1_700_000_000, 0)

func TestProcessDueEnrollmentsEnqueuesAndAdvances(t *testing.T) {
	f := newFixture(fakeChecker{})
	f.enroll("e1", "zoe@example.com", 0, now.Unix()-10)
	f.enroll("e2", "yan@example.com", 0, now.Unix())
	f.enroll("later", "later@example.com", 0, now.Unix()+3600)

	c := New(testOrg, f.deps, Options{})
	res, err := c.ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 2, res.Enqueued)
	require.Len(t, f.pub.jobs, 2)

	job := f.pub.jobs[0]
	assert.Equal(t, "e1", job.EnrollmentID)
	assert.Equal(t, "step-0", job.StepID)
	assert.Equal(t, "zoe@example.com", job.To)
	assert.Equal(t, "Welcome Zoe", job.Subject)
	assert.Equal(t, "<p>Hi Zoe</p>", job.HTMLBody)

	// two never-used inboxes rotate
	assert.Equal(t, "inbox-a", f.pub.jobs[0].InboxID)
	assert.Equal(t, "inbox-b", f.pub.jobs[1].InboxID)
	assert.Equal(t, "ann@acme.io", f.pub.jobs[0].FromEmail)

	e1 := f.store.get("e1")
	assert.Equal(t, 1, e1.CurrentStep)
	assert.Equal(t, now.Unix()+2*86400, e1.NextRunAt)
	assert.Equal(t, domain.EnrollmentActive, e1.Status)

	assert.Equal(t, 0, f.store.get("later").CurrentStep)
}

func TestSuppressedEnrollmentIsBounced(t *testing.T) {
	f := newFixture(fakeChecker{suppressed: map[string]bool{"bad@example.com": true}})
	f.enroll("e1", "bad@example.com", 0, now.Unix())

	res, err := New(testOrg, f.deps, Options{}).ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Bounced)
	assert.Empty(t, f.pub.jobs)
	assert.Equal(t, domain.EnrollmentBounced, f.store.get("e1").Status)
}

func TestUnsubscribedEnrollment(t *testing.T) {
	f := newFixture(fakeChecker{unsubscribed: map[string]bool{"gone@example.com": true}})
	f.enroll("e1", "gone@example.com", 0, now.Unix())

	res, err := New(testOrg, f.deps, Options{}).ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Unsubscribed)
	assert.Empty(t, f.pub.jobs)
	assert.Equal(t, domain.EnrollmentUnsubscribed, f.store.get("e1").Status)
}

func TestExhaustedSequenceCompletes(t *testing.T) {
	f := newFixture(fakeChecker{})
	f.enroll("e1", "done@example.com", 2, now.Unix())

	res, err := New(testOrg, f.deps, Options{}).ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completed)
	assert.Empty(t, f.pub.jobs)
	assert.Equal(t, domain.EnrollmentCompleted, f.store.get("e1").Status)
}

func TestNoInboxSkipsEnrollment(t *testing.T) {
	f := newFixture(fakeChecker{})
	f.store.inboxes[0].Active = false
	f.store.inboxes[1].Active = false
	f.enroll("e1", "zoe@example.com", 0, now.Unix())

	res, err := New(testOrg, f.deps, Options{}).ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, f.pub.jobs)
	e := f.store.get("e1")
	assert.Equal(t, 0, e.CurrentStep)
	assert.Equal(t, now.Unix(), e.NextRunAt)
	assert.Equal(t, domain.EnrollmentActive, e.Status)
}

func TestEnrollmentErrorDoesNotAbortPass(t *testing.T) {
	f := newFixture(fakeChecker{failFor: map[string]bool{"flaky@example.com": true}})
	f.enroll("e1", "flaky@example.com", 0, now.Unix())
	f.enroll("e2", "fine@example.com", 0, now.Unix())

	res, err := New(testOrg, f.deps, Options{}).ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Enqueued)
	require.Len(t, f.pub.jobs, 1)
	assert.Equal(t, "e2", f.pub.jobs[0].EnrollmentID)
}

func TestTenantBudgetThrottlesPass(t *testing.T) {
	f := newFixture(fakeChecker{})
	f.enroll("e1", "a@example.com", 0, now.Unix())
	f.enroll("e2", "b@example.com", 0, now.Unix())
	f.enroll("e3", "c@example.com", 0, now.Unix())
	f.deps.Limiter = ratelimit.NewGuard(ratelimit.NewMemoryStore())

	c := New(testOrg, f.deps, Options{TenantLimit: 1, TenantWindow: time.Hour})
	res, err := c.ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)

	assert.True(t, res.Throttled)
	assert.Equal(t, 1, res.Enqueued)
	assert.Len(t, f.pub.jobs, 1)
	assert.Equal(t, 0, f.store.get("e2").CurrentStep)
}

func TestPassIsNoopWithoutState(t *testing.T) {
	f := newFixture(fakeChecker{})
	delete(f.states.states, testOrg)
	f.enroll("e1", "zoe@example.com", 0, now.Unix())

	res, err := New(testOrg, f.deps, Options{}).ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, PassResult{}, res)
	assert.Equal(t, 0, f.store.calls())
}

type busyLock struct{}

func (busyLock) Acquire(context.Context) (bool, error) { return false, nil }
func (busyLock) Release(context.Context) error         { return nil }

func TestPassSkippedWhenLockHeld(t *testing.T) {
	f := newFixture(fakeChecker{})
	f.enroll("e1", "zoe@example.com", 0, now.Unix())
	var keys []string
	f.deps.Locks = distlock.Factory(func(key string) distlock.DistLock {
		keys = append(keys, key)
		return busyLock{}
	})

	res, err := New(testOrg, f.deps, Options{}).ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)
	assert.True(t, res.LockBusy)
	assert.Empty(t, f.pub.jobs)
	assert.Equal(t, []string{"coordinator:" + testOrg}, keys)
}

func TestOuterErrorKeepsRunning(t *testing.T) {
	f := newFixture(fakeChecker{})
	f.store.dueErr = errors.New("db unreachable")

	c := New(testOrg, f.deps, Options{Interval: 10 * time.Millisecond})
	require.True(t, c.Start())
	defer func() { c.Stop(); c.Wait() }()

	require.Eventually(t, func() bool { return f.store.calls() >= 2 }, time.Second, 5*time.Millisecond)
	st := c.Status()
	assert.True(t, st.Running)
	assert.Contains(t, st.LastError, "db unreachable")
}

func TestStartTwiceRunsOneLoop(t *testing.T) {
	f := newFixture(fakeChecker{})
	c := New(testOrg, f.deps, Options{Interval: time.Hour})

	assert.True(t, c.Start())
	assert.False(t, c.Start())

	require.Eventually(t, func() bool { return c.Status().LastTickAt != nil }, time.Second, 5*time.Millisecond)
	// one loop means exactly one immediate pass with an hour-long interval
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.store.calls())

	assert.True(t, c.Stop())
	assert.False(t, c.Stop())
	c.Wait()
	assert.False(t, c.Status().Running)
}

func TestRegistryStartStop(t *testing.T) {
	f := newFixture(fakeChecker{})
	delete(f.states.states, testOrg)
	r := NewRegistry(f.deps, Options{Interval: time.Hour})
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, testOrg))
	assert.ErrorIs(t, r.Start(ctx, testOrg), ErrAlreadyRunning)
	assert.True(t, r.Status(testOrg).Running)
	assert.True(t, f.states.states[testOrg].Running)

	require.NoError(t, r.Stop(ctx, testOrg))
	assert.False(t, r.Status(testOrg).Running)
	assert.False(t, f.states.states[testOrg].Running)

	// stopping again is harmless
	require.NoError(t, r.Stop(ctx, testOrg))
	assert.False(t, r.Status("unknown").Running)
	r.StopAll()
}

func TestRegistryRestore(t *testing.T) {
	f := newFixture(fakeChecker{})
	f.states.states["org-2"] = State{OrgID: "org-2", Running: true}
	f.states.states["org-3"] = State{OrgID: "org-3", Running: false}
	r := NewRegistry(f.deps, Options{Interval: time.Hour})

	n, err := r.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, r.Status(testOrg).Running)
	assert.True(t, r.Status("org-2").Running)
	assert.False(t, r.Status("org-3").Running)

	r.StopAll()
	assert.False(t, r.Status(testOrg).Running)
	// shutdown keeps the persisted flag for the next Restore
	assert.True(t, f.states.states[testOrg].Running)
}

func TestInboxSelectorOrder(t *testing.T) {
	older := now.Add(-time.Hour)
	newer := now
	sel := NewInboxSelector([]domain.Inbox{
		{ID: "c", Active: true, LastUsedAt: &newer},
		{ID: "b", Active: true, LastUsedAt: &older},
		{ID: "z", Active: true},
		{ID: "off", Active: false},
	})
	require.Equal(t, 3, sel.Len())

	var got []string
	for i := 0; i < 4; i++ {
		in, ok := sel.Next()
		require.True(t, ok)
		got = append(got, in.ID)
	}
	assert.Equal(t, []string{"z", "b", "c", "z"}, got)

	_, ok := NewInboxSelector(nil).Next()
	assert.False(t, ok)
}

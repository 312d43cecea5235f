package suppression

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ignite/mailpipe/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu      sync.RWMutex
	store   map[string]*domain.Suppression // keyed by "orgID:email"
	unsubs  map[string]bool
	failing error
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[string]*domain.Suppression), unsubs: make(map[string]bool)}
}

func key(orgID, email string) string { return orgID + ":" + email }

func (m *mockRepo) IsSuppressed(_ context.Context, orgID, email string) (bool, error) {
	if m.failing != nil {
		return false, m.failing
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.store[key(orgID, email)]
	return ok, nil
}

func (m *mockRepo) IsUnsubscribed(_ context.Context, orgID, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unsubs[key(orgID, email)], nil
}

func (m *mockRepo) Suppress(_ context.Context, s *domain.Suppression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(s.OrganizationID, s.Email)
	if _, exists := m.store[k]; exists {
		return nil
	}
	m.store[k] = s
	return nil
}

func (m *mockRepo) Unsubscribe(_ context.Context, u *domain.Unsubscribe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs[key(u.OrganizationID, u.Email)] = true
	return nil
}

func (m *mockRepo) Remove(_ context.Context, orgID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(orgID, email)
	if _, ok := m.store[k]; !ok {
		return ErrNotFound
	}
	delete(m.store, k)
	return nil
}

const testOrgID = "org-001"

func TestCheck_Allowed(t *testing.T) {
	svc := NewService(newMockRepo())
	v, err := svc.Check(context.Background(), testOrgID, "ok@example.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v != Allowed {
		t.Errorf("expected allowed, got %s", v)
	}
}

func TestSuppress_NormalizesAndBlocks(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if err := svc.Suppress(ctx, testOrgID, " BOUNCE@example.com ", domain.ReasonHardBounce); err != nil {
		t.Fatalf("Suppress: %v", err)
	}

	v, err := svc.Check(ctx, testOrgID, "bounce@EXAMPLE.com")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v != Suppressed {
		t.Errorf("expected suppressed, got %s", v)
	}

	// other tenants are unaffected
	v, _ = svc.Check(ctx, "org-002", "bounce@example.com")
	if v != Allowed {
		t.Errorf("suppression leaked across orgs: %s", v)
	}
}

func TestSuppressionWinsOverUnsubscribe(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_ = svc.Unsubscribe(ctx, testOrgID, "both@example.com")
	v, _ := svc.Check(ctx, testOrgID, "both@example.com")
	if v != Unsubscribed {
		t.Fatalf("expected unsubscribed, got %s", v)
	}

	_ = svc.Suppress(ctx, testOrgID, "both@example.com", domain.ReasonComplaint)
	v, _ = svc.Check(ctx, testOrgID, "both@example.com")
	if v != Suppressed {
		t.Errorf("expected suppressed, got %s", v)
	}
}

func TestSuppress_InvalidEmail(t *testing.T) {
	svc := NewService(newMockRepo())
	err := svc.Suppress(context.Background(), testOrgID, "not-an-email", domain.ReasonManual)
	if !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
	err = svc.Unsubscribe(context.Background(), testOrgID, "")
	if !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestSuppress_Idempotent(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Suppress(ctx, testOrgID, "dup@example.com", ""); err != nil {
			t.Fatalf("Suppress #%d: %v", i, err)
		}
	}
	if len(repo.store) != 1 {
		t.Errorf("expected 1 suppression, got %d", len(repo.store))
	}
	if repo.store[key(testOrgID, "dup@example.com")].Reason != domain.ReasonManual {
		t.Error("empty reason should default to manual")
	}
}

func TestRemove(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_ = svc.Suppress(ctx, testOrgID, "remove@example.com", domain.ReasonManual)
	if err := svc.Remove(ctx, testOrgID, "remove@example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if v, _ := svc.Check(ctx, testOrgID, "remove@example.com"); v != Allowed {
		t.Errorf("expected allowed after Remove, got %s", v)
	}
	if err := svc.Remove(ctx, testOrgID, "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCheck_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.failing = errors.New("db down")
	svc := NewService(repo)

	if _, err := svc.Check(context.Background(), testOrgID, "a@example.com"); err == nil {
		t.Error("expected error when repository fails")
	}
}

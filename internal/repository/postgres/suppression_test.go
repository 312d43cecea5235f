package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/suppression"
)

func TestSuppressionRepo_Lookups(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	mock.ExpectQuery("FROM suppression WHERE").
		WithArgs("org-1", "ann@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FROM unsubscribes WHERE").
		WithArgs("org-1", "ann@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	suppressed, err := repo.IsSuppressed(context.Background(), "org-1", "ann@example.com")
	if err != nil || !suppressed {
		t.Errorf("IsSuppressed() = %v, %v; want true, nil", suppressed, err)
	}
	unsub, err := repo.IsUnsubscribed(context.Background(), "org-1", "ann@example.com")
	if err != nil || unsub {
		t.Errorf("IsUnsubscribed() = %v, %v; want false, nil", unsub, err)
	}
}

func TestSuppressionRepo_Writes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	mock.ExpectExec("INSERT INTO suppression").
		WithArgs(sqlmock.AnyArg(), "org-1", "ann@example.com", "hard_bounce").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s := &domain.Suppression{OrganizationID: "org-1", Email: "ann@example.com", Reason: domain.ReasonHardBounce}
	if err := repo.Suppress(context.Background(), s); err != nil {
		t.Fatalf("Suppress() error: %v", err)
	}
	if s.ID == "" {
		t.Error("Suppress() should assign an id")
	}

	mock.ExpectExec("INSERT INTO unsubscribes").
		WithArgs(sqlmock.AnyArg(), "org-1", "ann@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Unsubscribe(context.Background(), &domain.Unsubscribe{OrganizationID: "org-1", Email: "ann@example.com"}); err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
}

func TestSuppressionRepo_Remove(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	mock.ExpectExec("DELETE FROM suppression").
		WithArgs("org-1", "ann@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Remove(context.Background(), "org-1", "ann@example.com"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	mock.ExpectExec("DELETE FROM suppression").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Remove(context.Background(), "org-1", "ann@example.com"); !errors.Is(err, suppression.ErrNotFound) {
		t.Errorf("Remove() error = %v, want ErrNotFound", err)
	}
}

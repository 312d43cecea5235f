package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/mailpipe/internal/coordinator"
)

func TestCoordinatorStateRepo_LoadSave(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCoordinatorStateRepo(db)
	now := time.Now()

	mock.ExpectExec("INSERT INTO coordinator_state").
		WithArgs("org-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Save(context.Background(), coordinator.State{OrgID: "org-1", Running: true}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	mock.ExpectQuery("FROM coordinator_state WHERE org_id").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"org_id", "running", "updated_at"}).AddRow("org-1", true, now))
	st, err := repo.Load(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !st.Running || st.OrgID != "org-1" {
		t.Errorf("Load() = %+v", st)
	}

	mock.ExpectQuery("FROM coordinator_state WHERE org_id").
		WithArgs("org-2").
		WillReturnError(sql.ErrNoRows)
	if _, err := repo.Load(context.Background(), "org-2"); !errors.Is(err, coordinator.ErrStateNotFound) {
		t.Errorf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestCoordinatorStateRepo_ListRunning(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCoordinatorStateRepo(db)
	now := time.Now()

	mock.ExpectQuery("WHERE running = true").
		WillReturnRows(sqlmock.NewRows([]string{"org_id", "running", "updated_at"}).
			AddRow("org-1", true, now).
			AddRow("org-2", true, now))

	states, err := repo.ListRunning(context.Background())
	if err != nil {
		t.Fatalf("ListRunning() error: %v", err)
	}
	if len(states) != 2 || states[1].OrgID != "org-2" {
		t.Errorf("ListRunning() = %+v", states)
	}
}

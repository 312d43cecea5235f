package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/service/campaign"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		db.Close()
	}
}

var campaignCols = []string{
	"id", "organization_id", "name", "sender_id", "template_id", "list_id",
	"status", "created_at", "updated_at", "completed_at",
}

func TestCampaignRepo_GetCampaign(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)
	now := time.Now()

	mock.ExpectQuery("SELECT id, organization_id, name").
		WithArgs("c-1", "org-1").
		WillReturnRows(sqlmock.NewRows(campaignCols).
			AddRow("c-1", "org-1", "Spring", "s-1", "t-1", "l-1", "sending", now, now, nil))

	c, err := repo.GetCampaign(context.Background(), "org-1", "c-1")
	if err != nil {
		t.Fatalf("GetCampaign() error: %v", err)
	}
	if c.Status != domain.CampaignSending || c.ListID != "l-1" {
		t.Errorf("unexpected campaign: %+v", c)
	}
	if c.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", c.CompletedAt)
	}

	mock.ExpectQuery("SELECT id, organization_id, name").
		WithArgs("c-2", "org-1").
		WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetCampaign(context.Background(), "org-1", "c-2"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("GetCampaign() error = %v, want ErrNotFound", err)
	}
}

func TestCampaignRepo_CreateCampaign(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("INSERT INTO campaigns").
		WithArgs(sqlmock.AnyArg(), "org-1", "Spring", "s-1", "t-1", "l-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &domain.Campaign{OrganizationID: "org-1", Name: "Spring", SenderID: "s-1", TemplateID: "t-1", ListID: "l-1"}
	if err := repo.CreateCampaign(context.Background(), c); err != nil {
		t.Fatalf("CreateCampaign() error: %v", err)
	}
	if c.ID == "" || c.Status != domain.CampaignDraft {
		t.Errorf("campaign not initialised: %+v", c)
	}

	// A reference owned by another tenant inserts nothing.
	mock.ExpectExec("INSERT INTO campaigns").WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.CreateCampaign(context.Background(), &domain.Campaign{OrganizationID: "org-1", Name: "x"})
	if !errors.Is(err, campaign.ErrValidation) {
		t.Errorf("CreateCampaign() error = %v, want ErrValidation", err)
	}
}

func TestCampaignRepo_SetStatus(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		exists  bool
		wantErr error
	}{
		{"updated", 1, false, nil},
		{"wrong state", 0, true, campaign.ErrInvalidState},
		{"missing", 0, false, campaign.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, cleanup := setupTestDB(t)
			defer cleanup()
			repo := NewCampaignRepo(db)

			mock.ExpectExec("UPDATE campaigns").
				WithArgs("paused", "c-1", "org-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.rows))
			if tt.rows == 0 {
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs("c-1", "org-1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			err := repo.SetStatus(context.Background(), "org-1", "c-1",
				[]domain.CampaignStatus{domain.CampaignQueued, domain.CampaignSending}, domain.CampaignPaused)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("SetStatus() error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("SetStatus() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCampaignRepo_SnapshotJobs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, list_id FROM campaigns").
		WithArgs("c-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "list_id"}).AddRow("draft", "l-1"))
	mock.ExpectExec("INSERT INTO campaign_jobs").
		WithArgs("c-1", "l-1", "org-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("UPDATE campaigns SET status = 'queued'").
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.SnapshotJobs(context.Background(), "org-1", "c-1")
	if err != nil {
		t.Fatalf("SnapshotJobs() error: %v", err)
	}
	if n != 3 {
		t.Errorf("SnapshotJobs() = %d, want 3", n)
	}
}

func TestCampaignRepo_SnapshotJobsEmptyList(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, list_id FROM campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"status", "list_id"}).AddRow("draft", "l-1"))
	mock.ExpectExec("INSERT INTO campaign_jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if _, err := repo.SnapshotJobs(context.Background(), "org-1", "c-1"); !errors.Is(err, campaign.ErrEmptyList) {
		t.Errorf("SnapshotJobs() error = %v, want ErrEmptyList", err)
	}
}

func TestCampaignRepo_SnapshotJobsNotDraft(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, list_id FROM campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"status", "list_id"}).AddRow("queued", "l-1"))
	mock.ExpectRollback()

	if _, err := repo.SnapshotJobs(context.Background(), "org-1", "c-1"); !errors.Is(err, campaign.ErrInvalidState) {
		t.Errorf("SnapshotJobs() error = %v, want ErrInvalidState", err)
	}
}

func TestCampaignRepo_ClaimJobs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)
	now := time.Now()

	cols := []string{"id", "campaign_id", "contact_id", "created_at", "claimed_at",
		"organization_id", "email", "first_name", "last_name"}
	mock.ExpectQuery("FOR UPDATE OF j SKIP LOCKED").
		WithArgs("c-1", "org-1", 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("j-2", "c-1", "ct-2", now, now, "org-1", "bob@example.com", "Bob", "").
			AddRow("j-1", "c-1", "ct-1", now, now, "org-1", "ann@example.com", "Ann", "Lee"))

	jobs, err := repo.ClaimJobs(context.Background(), "org-1", "c-1", 2)
	if err != nil {
		t.Fatalf("ClaimJobs() error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("ClaimJobs() returned %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != "j-1" || jobs[1].ID != "j-2" {
		t.Errorf("jobs not in id order: %s, %s", jobs[0].ID, jobs[1].ID)
	}
	if jobs[0].Status != domain.JobProcessing || jobs[0].ClaimedAt == nil {
		t.Errorf("job not marked claimed: %+v", jobs[0])
	}
	if jobs[0].Contact.ID != "ct-1" || jobs[0].Contact.FirstName != "Ann" {
		t.Errorf("contact not populated: %+v", jobs[0].Contact)
	}
	if jobs[0].ClaimToken == "" || jobs[0].ClaimToken != jobs[1].ClaimToken {
		t.Errorf("jobs of one claim must share a token: %q, %q", jobs[0].ClaimToken, jobs[1].ClaimToken)
	}
}

func TestCampaignRepo_RenewClaims(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("SET claimed_at = NOW\\(\\)\\s+WHERE claim_token = \\$1 AND status = 'processing'").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("j-2").AddRow("j-3"))

	ids, err := repo.RenewClaims(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("RenewClaims() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "j-2" || ids[1] != "j-3" {
		t.Errorf("RenewClaims() = %v, want [j-2 j-3]", ids)
	}
}

func TestCampaignRepo_CompleteJobs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	if n, err := repo.CompleteJobs(context.Background(), "tok-1", nil); err != nil || n != 0 {
		t.Fatalf("CompleteJobs(nil) = %d, %v", n, err)
	}

	mock.ExpectExec("campaign_jobs.claim_token = \\$6").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.CompleteJobs(context.Background(), "tok-1", []domain.JobOutcome{
		{JobID: "j-1", Sent: true, ProviderMessageID: "m-1", At: time.Now()},
		{JobID: "j-2", Sent: false, Error: "mailbox full"},
	})
	if err != nil {
		t.Fatalf("CompleteJobs() error: %v", err)
	}
	// j-2 was released and reclaimed elsewhere
	if n != 1 {
		t.Errorf("CompleteJobs() wrote %d rows, want 1", n)
	}
}

func TestCampaignRepo_ReleaseStaleClaims(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("SET status = 'queued', claim_token = NULL, claimed_at = NULL").
		WithArgs(float64(600)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.ReleaseStaleClaims(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("ReleaseStaleClaims() error: %v", err)
	}
	if n != 4 {
		t.Errorf("ReleaseStaleClaims() = %d, want 4", n)
	}
}

func TestCampaignRepo_CountJobs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("GROUP BY j.status").
		WithArgs("c-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("queued", 5).
			AddRow("processing", 1).
			AddRow("sent", 3).
			AddRow("failed", 2))

	counts, err := repo.CountJobs(context.Background(), "org-1", "c-1")
	if err != nil {
		t.Fatalf("CountJobs() error: %v", err)
	}
	want := domain.JobCounts{Queued: 5, Processing: 1, Sent: 3, Failed: 2}
	if counts != want {
		t.Errorf("CountJobs() = %+v, want %+v", counts, want)
	}
}

func TestCampaignRepo_GetSenderAndTemplate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)
	now := time.Now()

	mock.ExpectQuery("FROM senders").
		WithArgs("s-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "from_name", "from_email", "reply_to", "created_at"}).
			AddRow("s-1", "org-1", "Acme", "news@acme.test", nil, now))
	s, err := repo.GetSender(context.Background(), "org-1", "s-1")
	if err != nil {
		t.Fatalf("GetSender() error: %v", err)
	}
	if s.ReplyTo != nil {
		t.Errorf("ReplyTo = %v, want nil", *s.ReplyTo)
	}

	mock.ExpectQuery("FROM templates").
		WithArgs("t-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "subject", "html_body", "text_body", "created_at"}).
			AddRow("t-1", "org-1", "Welcome", "Hi {{first_name}}", "<p>Hi</p>", nil, now))
	tmpl, err := repo.GetTemplate(context.Background(), "org-1", "t-1")
	if err != nil {
		t.Fatalf("GetTemplate() error: %v", err)
	}
	if tmpl.HTMLBody == nil || *tmpl.HTMLBody != "<p>Hi</p>" || tmpl.TextBody != nil {
		t.Errorf("unexpected template bodies: %+v", tmpl)
	}

	mock.ExpectQuery("FROM templates").WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetTemplate(context.Background(), "org-1", "t-2"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("GetTemplate() error = %v, want ErrNotFound", err)
	}
}

func TestCampaignRepo_RecordAudit(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewCampaignRepo(db)

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(sqlmock.AnyArg(), "org-1", "campaign.queued", "c-1", []byte(`{"jobs":3}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &domain.AuditEvent{OrganizationID: "org-1", Action: "campaign.queued", EntityID: "c-1", Data: map[string]any{"jobs": 3}}
	if err := repo.RecordAudit(context.Background(), e); err != nil {
		t.Fatalf("RecordAudit() error: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("audit event not stamped: %+v", e)
	}
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trackimmo/internal/assignment"
	"trackimmo/internal/jobs"
	"trackimmo/internal/models"
	"trackimmo/internal/notify"
	"trackimmo/internal/repositories"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.City{}, &models.Client{}, &models.ClientCity{},
		&models.ClientPropertyType{}, &models.Address{}, &models.DPE{},
		&models.ClientAddress{}, &models.Job{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

type fakeNotifier struct {
	eveEmails []string
}

func (f *fakeNotifier) SendReport(ctx context.Context, clientEmail string, ccEmails []string, assignedCount int) error {
	return nil
}
func (f *fakeNotifier) SendNotificationEve(ctx context.Context, clientEmail string) error {
	f.eveEmails = append(f.eveEmails, clientEmail)
	return nil
}
func (f *fakeNotifier) SendCTOAlert(ctx context.Context, alert notify.CTOAlert) error { return nil }

var _ notify.Collaborator = (*fakeNotifier)(nil)

func createActiveClient(t *testing.T, db *gorm.DB, sendDay int, email string) *models.Client {
	t.Helper()
	client := &models.Client{ID: uuid.New(), Email: email, Status: models.ClientStatusActive, SendDay: sendDay}
	if err := db.Create(client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestTickSubmitsClientsMatchingSendDay(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	createActiveClient(t, db, 15, "a@example.com")
	createActiveClient(t, db, 16, "b@example.com")

	jm := jobs.New(repo, nil, assignment.New(repo), &fakeNotifier{}, 1)
	s := New(repo, jm, &fakeNotifier{})

	result, err := s.Tick(context.Background(), time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if result.Submitted != 1 {
		t.Fatalf("expected exactly one client submitted, got %d", result.Submitted)
	}
}

func TestTickRollsOverOnShortMonth(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	createActiveClient(t, db, 28, "a@example.com")
	createActiveClient(t, db, 30, "b@example.com")
	createActiveClient(t, db, 31, "c@example.com")

	jm := jobs.New(repo, nil, assignment.New(repo), &fakeNotifier{}, 1)
	s := New(repo, jm, &fakeNotifier{})

	result, err := s.Tick(context.Background(), time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if result.Submitted != 3 {
		t.Fatalf("expected all three send_day>=28 clients rolled into Feb 28, got %d", result.Submitted)
	}
}

func TestTickDoesNotRolloverOnNonLastDay(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	createActiveClient(t, db, 27, "a@example.com")
	createActiveClient(t, db, 28, "b@example.com")

	jm := jobs.New(repo, nil, assignment.New(repo), &fakeNotifier{}, 1)
	s := New(repo, jm, &fakeNotifier{})

	result, err := s.Tick(context.Background(), time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if result.Submitted != 1 {
		t.Fatalf("expected only send_day=27 selected on Feb 27, got %d", result.Submitted)
	}
}

func TestTickSendsNotificationEveForTomorrowsClients(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	createActiveClient(t, db, 16, "tomorrow@example.com")

	jm := jobs.New(repo, nil, assignment.New(repo), &fakeNotifier{}, 1)
	notifier := &fakeNotifier{}
	s := New(repo, jm, notifier)

	_, err := s.Tick(context.Background(), time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(notifier.eveEmails) != 1 || notifier.eveEmails[0] != "tomorrow@example.com" {
		t.Fatalf("expected a notification-eve email to tomorrow's client, got %v", notifier.eveEmails)
	}
}

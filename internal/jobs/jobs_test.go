package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trackimmo/internal/assignment"
	"trackimmo/internal/models"
	"trackimmo/internal/notify"
	"trackimmo/internal/repositories"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to open test database")
	err = db.AutoMigrate(&models.City{}, &models.Client{}, &models.ClientCity{},
		&models.ClientPropertyType{}, &models.Address{}, &models.DPE{},
		&models.ClientAddress{}, &models.Job{})
	require.NoError(t, err, "failed to migrate test database")
	return db
}

type fakeNotifier struct {
	reports   int
	ctoAlerts int
}

func (f *fakeNotifier) SendReport(ctx context.Context, clientEmail string, ccEmails []string, assignedCount int) error {
	f.reports++
	return nil
}
func (f *fakeNotifier) SendNotificationEve(ctx context.Context, clientEmail string) error { return nil }
func (f *fakeNotifier) SendCTOAlert(ctx context.Context, alert notify.CTOAlert) error {
	f.ctoAlerts++
	return nil
}

var _ notify.Collaborator = (*fakeNotifier)(nil)

func newTestClient(t *testing.T, db *gorm.DB, repo *repositories.Repository) *models.Client {
	t.Helper()
	ctx := context.Background()
	client := &models.Client{
		ID:                 uuid.New(),
		Email:              "client@example.com",
		Status:             models.ClientStatusActive,
		AddressesPerReport: 5,
		SendDay:            1,
	}
	require.NoError(t, db.Create(client).Error, "create client")
	city := &models.City{InseeCode: "75056", Name: "Paris", PostalCode: "75001", Department: "75"}
	require.NoError(t, repo.UpsertCity(ctx, city), "upsert city")
	require.NoError(t, db.Create(&models.ClientCity{ClientID: client.ID, CityID: city.ID}).Error, "link city")
	require.NoError(t, db.Create(&models.ClientPropertyType{ClientID: client.ID, PropertyType: models.PropertyTypeHouse}).Error, "link property type")
	return client
}

func TestSubmitIsIdempotentForActiveJob(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	client := newTestClient(t, db, repo)

	m := New(repo, nil, assignment.New(repo), &fakeNotifier{}, 1)
	ctx := context.Background()

	id1, err := m.Submit(ctx, client.ID)
	require.NoError(t, err, "first submit")
	id2, err := m.Submit(ctx, client.ID)
	require.NoError(t, err, "second submit")
	assert.Equal(t, id1, id2, "expected idempotent submit to return the same job")
}

func TestSubmitRejectsInactiveClient(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	ctx := context.Background()

	client := &models.Client{ID: uuid.New(), Email: "x@example.com", Status: models.ClientStatusInactive, SendDay: 1}
	require.NoError(t, db.Create(client).Error, "create client")

	m := New(repo, nil, assignment.New(repo), &fakeNotifier{}, 1)
	_, err := m.Submit(ctx, client.ID)
	assert.Error(t, err, "expected submit to reject an inactive client")
}

func TestIsPermanentErrorMatchesKnownPhrases(t *testing.T) {
	cases := []struct {
		err      error
		expected bool
	}{
		{errors.New("client not found or inactive: status=inactive"), true},
		{errors.New("no chosen cities for client x"), true},
		{errors.New("no property types for client x"), true},
		{errors.New("network timeout talking to upstream"), false},
		{nil, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, IsPermanentError(c.err), "IsPermanentError(%v)", c.err)
	}
}

func TestRunJobFailsPermanentlyWithNoChosenCities(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	ctx := context.Background()

	client := &models.Client{ID: uuid.New(), Email: "y@example.com", Status: models.ClientStatusActive, SendDay: 1}
	require.NoError(t, db.Create(client).Error, "create client")

	notifier := &fakeNotifier{}
	m := New(repo, nil, assignment.New(repo), notifier, 1)

	job := &models.Job{ClientID: client.ID, Status: models.JobStatusProcessing, AttemptCount: 1}
	require.NoError(t, repo.CreateJob(ctx, job), "create job")

	err := m.RunJob(ctx, job.ID)
	assert.Error(t, err, "expected run to fail: client has no chosen cities")

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err, "get job")
	assert.Equal(t, models.JobStatusFailedPermanent, got.Status)
	assert.Equal(t, 1, notifier.ctoAlerts, "expected exactly one CTO alert")
}

func TestHandleFailureSchedulesRetryBeforeMaxAttempts(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	ctx := context.Background()

	m := New(repo, nil, assignment.New(repo), &fakeNotifier{}, 1)

	job := &models.Job{ClientID: uuid.New(), Status: models.JobStatusProcessing, AttemptCount: 1}
	require.NoError(t, repo.CreateJob(ctx, job), "create job")

	err := m.handleFailure(ctx, job, errors.New("transient upstream timeout"))
	assert.Error(t, err, "expected handleFailure to propagate the original error")
	assert.Equal(t, models.JobStatusPending, job.Status)
	if assert.NotNil(t, job.NextAttempt) {
		assert.True(t, job.NextAttempt.After(time.Now()), "expected next_attempt to be scheduled in the future")
	}
}

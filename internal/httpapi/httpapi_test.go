package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trackimmo/internal/assignment"
	"trackimmo/internal/jobs"
	"trackimmo/internal/models"
	"trackimmo/internal/repositories"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

func TestAPIKeyRequiredRejectsMissingHeader(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	jm := jobs.New(repo, nil, assignment.New(repo), nil, 1)
	router := NewRouter(&Handlers{Jobs: jm, Repo: repo}, "secret")

	req := httptest.NewRequest(http.MethodPost, "/process-retry-queue", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without API key, got %d", rec.Code)
	}
}

func TestProcessClientReturnsJobID(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	ctx := context.Background()

	client := &models.Client{ID: uuid.New(), Email: "a@example.com", Status: models.ClientStatusActive, SendDay: 1}
	if err := db.Create(client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	city := &models.City{InseeCode: "75056", Name: "Paris", PostalCode: "75001", Department: "75"}
	if err := repo.UpsertCity(ctx, city); err != nil {
		t.Fatalf("upsert city: %v", err)
	}
	if err := db.Create(&models.ClientCity{ClientID: client.ID, CityID: city.ID}).Error; err != nil {
		t.Fatalf("link city: %v", err)
	}
	if err := db.Create(&models.ClientPropertyType{ClientID: client.ID, PropertyType: models.PropertyTypeHouse}).Error; err != nil {
		t.Fatalf("link property type: %v", err)
	}

	jm := jobs.New(repo, nil, assignment.New(repo), nil, 1)
	router := NewRouter(&Handlers{Jobs: jm, Repo: repo}, "")

	body, _ := json.Marshal(map[string]string{"client_id": client.ID.String()})
	req := httptest.NewRequest(http.MethodPost, "/process-client", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["success"] != true {
		t.Fatalf("expected success=true, got %v", resp)
	}
	if resp["job_id"] == "" || resp["job_id"] == nil {
		t.Fatal("expected a non-empty job_id")
	}
}

func TestJobStatusReturns404ForUnknownJob(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.New(db)
	jm := jobs.New(repo, nil, assignment.New(repo), nil, 1)
	router := NewRouter(&Handlers{Jobs: jm, Repo: repo}, "")

	req := httptest.NewRequest(http.MethodGet, "/job-status/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

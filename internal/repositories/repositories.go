// Package repositories is the persistence adapter (spec.md §4.G),
// following the teacher's *RepositoryImpl + interface shape
// (internal/repositories/property_repository.go) generalised to the
// verb-shaped operations the spec names rather than a generic CRUD
// interface, since each verb carries its own duplicate-avoidance or
// batching rule.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trackimmo/internal/models"
)

const duplicateURLBatchSize = 100
const addressInsertBatchSize = 100

// Repository bundles every verb spec.md §4.G names plus job-table CRUD.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate creates/updates every table and the partial unique index that
// enforces the single-active-job invariant (spec §5 Locking discipline).
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.City{}, &models.Client{}, &models.ClientCity{}, &models.ClientPropertyType{},
		&models.Address{}, &models.DPE{}, &models.ClientAddress{}, &models.Job{},
	); err != nil {
		return fmt.Errorf("repositories: automigrate: %w", err)
	}

	// Partial unique index: at most one active (pending|processing) job per
	// client. The same statement is run for every driver; there is no
	// fallback, and a failure is returned as a migration error.
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active_per_client
		ON jobs (client_id) WHERE status IN ('pending', 'processing')`).Error; err != nil {
		return fmt.Errorf("repositories: partial unique index: %w", err)
	}
	return nil
}

// UpsertCity inserts a new city or updates an existing one matched by
// insee_code (spec §4.E Stage 2: "Persists new cities with
// upsert-on-insee_code").
func (r *Repository) UpsertCity(ctx context.Context, city *models.City) error {
	var existing models.City
	err := r.db.WithContext(ctx).Where("insee_code = ?", city.InseeCode).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if city.ID == uuid.Nil {
			city.ID = models.NewID()
		}
		return r.db.WithContext(ctx).Create(city).Error
	case err != nil:
		return err
	default:
		city.ID = existing.ID
		return r.db.WithContext(ctx).Model(&existing).Updates(city).Error
	}
}

// FindAddressByURL looks up an address by its unique source URL.
func (r *Repository) FindAddressByURL(ctx context.Context, sourceURL string) (*models.Address, error) {
	var addr models.Address
	err := r.db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&addr).Error
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// ExistingSourceURLs returns the subset of urls already present, queried in
// batches of duplicateURLBatchSize (spec §4.G duplicate-avoidance
// invariant).
func (r *Repository) ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	found := make(map[string]bool, len(urls))
	for i := 0; i < len(urls); i += duplicateURLBatchSize {
		end := i + duplicateURLBatchSize
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[i:end]

		var rows []string
		if err := r.db.WithContext(ctx).Model(&models.Address{}).
			Where("source_url IN ?", batch).Pluck("source_url", &rows).Error; err != nil {
			return nil, err
		}
		for _, u := range rows {
			found[u] = true
		}
	}
	return found, nil
}

// InsertAddress inserts a new address. On a unique-URL race (another writer
// inserted the same source_url concurrently) it re-queries and reuses the
// existing ID rather than erroring, per spec §4.E Stage 7 step 2.
func (r *Repository) InsertAddress(ctx context.Context, addr *models.Address) (*models.Address, error) {
	if addr.ID == uuid.Nil {
		addr.ID = models.NewID()
	}
	err := r.db.WithContext(ctx).Create(addr).Error
	if err == nil {
		return addr, nil
	}
	if isUniqueViolation(err) {
		existing, lookupErr := r.FindAddressByURL(ctx, addr.SourceURL)
		if lookupErr != nil {
			return nil, fmt.Errorf("repositories: race on %s, re-query failed: %w", addr.SourceURL, lookupErr)
		}
		return existing, nil
	}
	return nil, err
}

// InsertAddressBatch inserts addresses in batches of addressInsertBatchSize.
func (r *Repository) InsertAddressBatch(ctx context.Context, addrs []*models.Address) error {
	for i := 0; i < len(addrs); i += addressInsertBatchSize {
		end := i + addressInsertBatchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		if err := r.db.WithContext(ctx).CreateInBatches(addrs[i:end], addressInsertBatchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// Works across the postgres and sqlite drivers the teacher's go.mod
	// carries without importing either driver's error type directly.
	msg := err.Error()
	return containsAny(msg, "duplicate key value", "UNIQUE constraint failed", "violates unique constraint")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// InsertDPE attaches an energy certificate to an address.
func (r *Repository) InsertDPE(ctx context.Context, dpe *models.DPE) error {
	if dpe.ID == uuid.Nil {
		dpe.ID = models.NewID()
	}
	if dpe.EnergyClass == "" {
		dpe.EnergyClass = "N"
	}
	if dpe.GESClass == "" {
		dpe.GESClass = "N"
	}
	if dpe.DPEDate.IsZero() {
		dpe.DPEDate = time.Now()
	}
	return r.db.WithContext(ctx).Create(dpe).Error
}

// ListAddressesByCityInDateRange is used by the price estimator to compute
// per-year growth rates for a (city, property-type) group.
func (r *Repository) ListAddressesByCityInDateRange(ctx context.Context, cityID uuid.UUID, propertyType models.PropertyType, from, to time.Time) ([]models.Address, error) {
	var addrs []models.Address
	err := r.db.WithContext(ctx).
		Where("city_id = ? AND property_type = ? AND sale_date BETWEEN ? AND ?", cityID, propertyType, from, to).
		Order("sale_date ASC").
		Find(&addrs).Error
	return addrs, err
}

// ListAlreadyAssignedAddresses returns the set of address IDs already
// assigned to a client (used by the assignment engine's exclusion set).
func (r *Repository) ListAlreadyAssignedAddresses(ctx context.Context, clientID uuid.UUID) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.ClientAddress{}).
		Where("client_id = ?", clientID).Pluck("address_id", &ids).Error
	if err != nil {
		return nil, err
	}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// ListAssignmentCandidates runs the assignment engine's candidate query
// (spec §4.H step 2): chosen cities, preferred types, sale-date window,
// excluding already-assigned addresses, oldest first.
func (r *Repository) ListAssignmentCandidates(ctx context.Context, cityIDs []uuid.UUID, propertyTypes []models.PropertyType, windowStart, windowEnd time.Time, excluded map[uuid.UUID]bool) ([]models.Address, error) {
	var addrs []models.Address
	err := r.db.WithContext(ctx).
		Where("city_id IN ? AND property_type IN ? AND sale_date BETWEEN ? AND ?", cityIDs, propertyTypes, windowStart, windowEnd).
		Order("sale_date ASC, created_at ASC").
		Find(&addrs).Error
	if err != nil {
		return nil, err
	}
	if len(excluded) == 0 {
		return addrs, nil
	}
	filtered := addrs[:0]
	for _, a := range addrs {
		if !excluded[a.ID] {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// InsertClientAddress creates one assignment join row.
func (r *Repository) InsertClientAddress(ctx context.Context, ca *models.ClientAddress) error {
	if ca.ID == uuid.Nil {
		ca.ID = models.NewID()
	}
	if ca.Status == "" {
		ca.Status = models.CAStatusNew
	}
	if ca.SendDate.IsZero() {
		ca.SendDate = time.Now()
	}
	return r.db.WithContext(ctx).Create(ca).Error
}

// ListClientsBySendDay returns active clients whose send_day matches day,
// plus (per spec §4.J month-end rollover) clients whose send_day exceeds
// the last day of the current month when includeRollover is set.
func (r *Repository) ListClientsBySendDay(ctx context.Context, day int, includeRollover bool) ([]models.Client, error) {
	var clients []models.Client
	query := r.db.WithContext(ctx).Where("status = ?", models.ClientStatusActive)
	if includeRollover {
		query = query.Where("send_day = ? OR send_day > ?", day, day)
	} else {
		query = query.Where("send_day = ?", day)
	}
	err := query.Find(&clients).Error
	return clients, err
}

// ClientChosenCities resolves a client's chosen-cities join rows into IDs.
func (r *Repository) ClientChosenCities(ctx context.Context, clientID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.ClientCity{}).
		Where("client_id = ?", clientID).Pluck("city_id", &ids).Error
	return ids, err
}

// ClientPropertyTypePrefs resolves a client's property-type preferences.
func (r *Repository) ClientPropertyTypePrefs(ctx context.Context, clientID uuid.UUID) ([]models.PropertyType, error) {
	var types []models.PropertyType
	err := r.db.WithContext(ctx).Model(&models.ClientPropertyType{}).
		Where("client_id = ?", clientID).Pluck("property_type", &types).Error
	return types, err
}

// --- Job table CRUD ---

// FindActiveJobByClient returns the client's active (pending|processing)
// job, if any.
func (r *Repository) FindActiveJobByClient(ctx context.Context, clientID uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND status IN ?", clientID, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a new job row.
func (r *Repository) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = models.NewID()
	}
	if job.AttemptCount == 0 {
		job.AttemptCount = 1
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// UpdateJob saves a job's mutable fields.
func (r *Repository) UpdateJob(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// GetJob fetches a job by ID.
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListDueRetries returns pending jobs whose next_attempt has passed,
// earliest first (spec §5 Ordering: "earliest first").
func (r *Repository) ListDueRetries(ctx context.Context, now time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt < ?", models.JobStatusPending, now).
		Order("next_attempt ASC").
		Find(&jobs).Error
	return jobs, err
}

// TouchClient updates a client's updated_at timestamp (spec §4.I step 6).
func (r *Repository) TouchClient(ctx context.Context, clientID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Client{}).Where("id = ?", clientID).
		Update("updated_at", time.Now()).Error
}

// GetClient fetches a client by ID.
func (r *Repository) GetClient(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	var c models.Client
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCity fetches a city by ID.
func (r *Repository) GetCity(ctx context.Context, id uuid.UUID) (*models.City, error) {
	var c models.City
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

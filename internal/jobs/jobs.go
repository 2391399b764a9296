// Package jobs is the job orchestrator (spec.md §4.I), adapting the
// teacher's JobManager/Worker channel-and-goroutine dispatch
// (internal/jobs/jobs.go) to the single-active-job, exponential-backoff,
// permanent-error-classification state machine spec.md §4.I names.
package jobs

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trackimmo/internal/assignment"
	"trackimmo/internal/citydata"
	"trackimmo/internal/models"
	"trackimmo/internal/notify"
	"trackimmo/internal/repositories"
)

const maxAttempts = 3

// permanentErrorPhrases is the lowercase-substring predicate spec §4.I
// names.
var permanentErrorPhrases = []string{
	"not found or inactive",
	"missing required",
	"invalid client",
	"no chosen cities",
	"no property types",
}

// IsPermanentError reports whether err's message matches the
// permanent-failure predicate.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range permanentErrorPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Manager runs client processing jobs: submit, run_job, and
// drain_retry_queue (spec §4.I).
type Manager struct {
	Repo        *repositories.Repository
	CityData    *citydata.Fetcher
	Assignment  *assignment.Engine
	Notify      notify.Collaborator
	RunScrape   func(ctx context.Context, job *models.Job, client *models.Client) error
	RunEnrich   func(ctx context.Context, job *models.Job, client *models.Client) error
	SkipScrape  bool
	workerCount int

	queue chan uuid.UUID
	wg    sync.WaitGroup
	mu    sync.Mutex // serialises submit's check-then-create against concurrent submits
}

// New builds a Manager. workerCount is the number of background workers
// StartWorkers launches, modeled on the teacher's createWorkers(count); the
// dispatch queue itself is buffered to 256 job IDs.
func New(repo *repositories.Repository, cityData *citydata.Fetcher, assign *assignment.Engine, notifier notify.Collaborator, workerCount int) *Manager {
	if workerCount <= 0 {
		workerCount = 4
	}
	m := &Manager{
		Repo:        repo,
		CityData:    cityData,
		Assignment:  assign,
		Notify:      notifier,
		workerCount: workerCount,
		queue:       make(chan uuid.UUID, 256),
	}
	return m
}

// StartWorkers launches the background worker pool that drains Submit's
// queue, mirroring the teacher's Worker.Start() goroutine shape.
func (m *Manager) StartWorkers(ctx context.Context) {
	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-m.queue:
			if !ok {
				return
			}
			log.Printf("👷 worker %d picked up job %s", id, jobID)
			if err := m.RunJob(ctx, jobID); err != nil {
				log.Printf("⚠️  worker %d: job %s failed: %v", id, jobID, err)
			}
		}
	}
}

// Stop waits for in-flight jobs to finish after the queue is closed.
func (m *Manager) Stop() {
	close(m.queue)
	m.wg.Wait()
}

// Submit validates the client is active and either returns an existing
// active job's ID (idempotent) or creates a new one and schedules
// background execution (spec §4.I submit).
func (m *Manager) Submit(ctx context.Context, clientID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.Repo.GetClient(ctx, clientID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("client not found or inactive: %w", err)
	}
	if client.Status != models.ClientStatusActive {
		return uuid.Nil, fmt.Errorf("client not found or inactive: status=%s", client.Status)
	}

	if existing, err := m.Repo.FindActiveJobByClient(ctx, clientID); err == nil && existing != nil {
		return existing.ID, nil
	}

	job := &models.Job{
		ClientID:     clientID,
		Status:       models.JobStatusProcessing,
		AttemptCount: 1,
	}
	if err := m.Repo.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("jobs: create job: %w", err)
	}

	select {
	case m.queue <- job.ID:
	default:
		go func() { m.queue <- job.ID }()
	}

	return job.ID, nil
}

// RunJob is the background body (spec §4.I run_job's seven steps).
func (m *Manager) RunJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := m.Repo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("jobs: get job %s: %w", jobID, err)
	}

	now := time.Now()
	job.Status = models.JobStatusProcessing
	job.LastAttempt = &now
	job.UpdatedAt = now
	if err := m.Repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	runErr := m.runJobBody(ctx, job)

	if runErr == nil {
		job.Status = models.JobStatusCompleted
		job.ErrorMessage = ""
		job.UpdatedAt = time.Now()
		return m.Repo.UpdateJob(ctx, job)
	}

	return m.handleFailure(ctx, job, runErr)
}

func (m *Manager) runJobBody(ctx context.Context, job *models.Job) error {
	client, err := m.Repo.GetClient(ctx, job.ClientID)
	if err != nil {
		return fmt.Errorf("client not found or inactive: %w", err)
	}
	if client.Status != models.ClientStatusActive {
		return fmt.Errorf("client not found or inactive: status=%s", client.Status)
	}

	chosenCities, err := m.Repo.ClientChosenCities(ctx, client.ID)
	if err != nil {
		return err
	}
	if len(chosenCities) == 0 {
		return fmt.Errorf("no chosen cities for client %s", client.ID)
	}

	propertyTypes, err := m.Repo.ClientPropertyTypePrefs(ctx, client.ID)
	if err != nil {
		return err
	}
	if len(propertyTypes) == 0 {
		return fmt.Errorf("no property types for client %s", client.ID)
	}

	// Step 2: refresh stale city rows.
	for _, cityID := range chosenCities {
		city, err := m.Repo.GetCity(ctx, cityID)
		if err != nil {
			continue
		}
		if !city.IsStale(time.Now()) {
			continue
		}
		result := m.CityData.Lookup(ctx, city.Name, city.PostalCode, city.InseeCode)
		if result.Status == "ok" {
			now := time.Now()
			city.AvgHousePrice = result.HousePriceAvg
			city.AvgApartmentPrice = result.ApartmentPriceAvg
			city.LastScraped = &now
			m.Repo.UpsertCity(ctx, city)
		}
	}

	// Step 3: scrape + enrich per chosen city, unless skip_scraping.
	if !m.SkipScrape && m.RunScrape != nil {
		if err := m.RunScrape(ctx, job, client); err != nil {
			return err
		}
	}
	if m.RunEnrich != nil {
		if err := m.RunEnrich(ctx, job, client); err != nil {
			return err
		}
	}

	// Step 4: assignment.
	assigned, err := m.Assignment.Assign(ctx, client, chosenCities, propertyTypes, client.AddressesPerReport)
	if err != nil {
		return err
	}

	// Step 5: hand off to the email collaborator if anything was assigned.
	if len(assigned) > 0 && m.Notify != nil {
		if err := m.Notify.SendReport(ctx, client.Email, []string(client.CCEmails), len(assigned)); err != nil {
			log.Printf("⚠️  jobs: report email failed for client %s: %v", client.ID, err)
		}
	}

	// Step 6: touch client.
	return m.Repo.TouchClient(ctx, client.ID)
}

func (m *Manager) handleFailure(ctx context.Context, job *models.Job, runErr error) error {
	job.ErrorMessage = runErr.Error()
	job.UpdatedAt = time.Now()

	if IsPermanentError(runErr) || job.AttemptCount >= maxAttempts {
		job.Status = models.JobStatusFailedPermanent
		if err := m.Repo.UpdateJob(ctx, job); err != nil {
			return err
		}
		if m.Notify != nil {
			alert := notify.CTOAlert{
				JobID:        job.ID,
				ClientID:     job.ClientID,
				ErrorMessage: job.ErrorMessage,
				AttemptCount: job.AttemptCount,
				OccurredAt:   time.Now(),
			}
			if err := m.Notify.SendCTOAlert(ctx, alert); err != nil {
				log.Printf("⚠️  jobs: CTO alert failed for job %s: %v", job.ID, err)
			}
		}
		return runErr
	}

	job.Status = models.JobStatusPending
	next := time.Now().Add(time.Duration(math.Pow(2, float64(job.AttemptCount))) * time.Hour)
	job.NextAttempt = &next
	if err := m.Repo.UpdateJob(ctx, job); err != nil {
		return err
	}
	return runErr
}

// DrainRetryQueue selects due pending jobs and runs each with an
// incremented attempt count (spec §4.I drain_retry_queue).
func (m *Manager) DrainRetryQueue(ctx context.Context) (processed, failed int, err error) {
	due, err := m.Repo.ListDueRetries(ctx, time.Now())
	if err != nil {
		return 0, 0, err
	}

	for _, job := range due {
		job.AttemptCount++
		if err := m.Repo.UpdateJob(ctx, &job); err != nil {
			failed++
			continue
		}
		if runErr := m.RunJob(ctx, job.ID); runErr != nil {
			failed++
			continue
		}
		processed++
	}
	return processed, failed, nil
}

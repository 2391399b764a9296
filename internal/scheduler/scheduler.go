// Package scheduler is the daily-tick driver (spec.md §4.J), reusing the
// teacher's cron-schedule bookkeeping style from jobs.go
// (ScheduleJob/checkScheduledJobs) but driven by an explicit Tick(today)
// entrypoint instead of a ticker, so cmd/server's -run-daily-updates path
// can invoke it deterministically.
package scheduler

import (
	"context"
	"log"
	"time"

	"trackimmo/internal/jobs"
	"trackimmo/internal/notify"
	"trackimmo/internal/repositories"
)

// Scheduler wires the job orchestrator and the email collaborator to a
// daily Tick.
type Scheduler struct {
	Repo   *repositories.Repository
	Jobs   *jobs.Manager
	Notify notify.Collaborator
}

// New builds a Scheduler.
func New(repo *repositories.Repository, jobManager *jobs.Manager, notifier notify.Collaborator) *Scheduler {
	return &Scheduler{Repo: repo, Jobs: jobManager, Notify: notifier}
}

// TickResult summarises one daily tick.
type TickResult struct {
	Submitted        int
	RetriesProcessed int
	RetriesFailed    int
	EveEmailsSent    int
}

// Tick lists clients whose send_day matches today (rolling forward on
// month-end for clients whose send_day doesn't exist in today's month,
// spec §4.J / edge case 6), submits a processing job for each, drains the
// retry queue, and dispatches notification-eve emails for clients whose
// send-day is tomorrow.
func (s *Scheduler) Tick(ctx context.Context, today time.Time) (TickResult, error) {
	var result TickResult

	rollover := isLastDayOfMonth(today)
	clients, err := s.Repo.ListClientsBySendDay(ctx, today.Day(), rollover)
	if err != nil {
		return result, err
	}

	for _, client := range clients {
		if _, err := s.Jobs.Submit(ctx, client.ID); err != nil {
			log.Printf("⚠️  scheduler: submit failed for client %s: %v", client.ID, err)
			continue
		}
		result.Submitted++
	}

	processed, failed, err := s.Jobs.DrainRetryQueue(ctx)
	if err != nil {
		log.Printf("⚠️  scheduler: drain retry queue: %v", err)
	}
	result.RetriesProcessed = processed
	result.RetriesFailed = failed

	if s.Notify != nil {
		tomorrow := today.AddDate(0, 0, 1)
		eveClients, err := s.Repo.ListClientsBySendDay(ctx, tomorrow.Day(), isLastDayOfMonth(tomorrow))
		if err != nil {
			log.Printf("⚠️  scheduler: list notification-eve clients: %v", err)
		}
		for _, client := range eveClients {
			if err := s.Notify.SendNotificationEve(ctx, client.Email); err != nil {
				log.Printf("⚠️  scheduler: notification-eve email failed for client %s: %v", client.ID, err)
				continue
			}
			result.EveEmailsSent++
		}
	}

	log.Printf("🗓️  scheduler tick %s: submitted=%d retries_ok=%d retries_failed=%d eve_emails=%d",
		today.Format("2006-01-02"), result.Submitted, result.RetriesProcessed, result.RetriesFailed, result.EveEmailsSent)

	return result, nil
}

// isLastDayOfMonth reports whether today is the final calendar day of its
// month, the trigger for rolling clients with a higher send_day forward
// (spec §4.J, edge case 6: "Feb 28 selects send_day in {28,29,30,31}").
func isLastDayOfMonth(today time.Time) bool {
	tomorrow := today.AddDate(0, 0, 1)
	return tomorrow.Day() == 1
}

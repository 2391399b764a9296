// Package assignment implements the weighted-random selection engine
// (spec.md §4.H): biased toward older sale dates, deterministic under an
// injected *rand.Rand per spec §8's determinism law.
package assignment

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"trackimmo/internal/models"
	"trackimmo/internal/repositories"
)

const (
	assignmentWindowMinYears = 6
	assignmentWindowMaxYears = 8
)

// Engine assigns addresses to clients using the repository's candidate
// query plus a weighted sampler.
type Engine struct {
	Repo *repositories.Repository
	Rand *rand.Rand // injected for deterministic tests; nil means time-seeded
}

func New(repo *repositories.Repository) *Engine {
	return &Engine{Repo: repo, Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Assign runs spec §4.H's full algorithm for one client and returns the
// addresses newly assigned (up to count).
func (e *Engine) Assign(ctx context.Context, client *models.Client, chosenCities []uuid.UUID, propertyTypes []models.PropertyType, count int) ([]models.Address, error) {
	already, err := e.Repo.ListAlreadyAssignedAddresses(ctx, client.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	windowStart := now.AddDate(-assignmentWindowMaxYears, 0, 0)
	windowEnd := now.AddDate(-assignmentWindowMinYears, 0, 0)

	candidates, err := e.Repo.ListAssignmentCandidates(ctx, chosenCities, propertyTypes, windowStart, windowEnd, already)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	chosen := WeightedSample(candidates, count, e.Rand)

	for _, addr := range chosen {
		ca := &models.ClientAddress{
			ClientID:  client.ID,
			AddressID: addr.ID,
			Status:    models.CAStatusNew,
			SendDate:  now,
		}
		if err := e.Repo.InsertClientAddress(ctx, ca); err != nil {
			return nil, err
		}
	}

	return chosen, nil
}

// WeightedSample draws up to n addresses from candidates (already sorted
// oldest-first, insertion-order stable) without replacement. Weight of the
// i-th candidate (0-indexed) is w_i = N - i, biasing the draw toward
// earlier (older) entries, per spec §4.H steps 4-5.
func WeightedSample(candidates []models.Address, n int, rng *rand.Rand) []models.Address {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	total := len(candidates)
	if n > total {
		n = total
	}

	pool := make([]models.Address, total)
	copy(pool, candidates)
	weights := make([]float64, total)
	for i := range weights {
		weights[i] = float64(total - i)
	}

	chosen := make([]models.Address, 0, n)
	for len(chosen) < n {
		idx := weightedPick(weights, rng)
		chosen = append(chosen, pool[idx])

		pool = append(pool[:idx], pool[idx+1:]...)
		weights = append(weights[:idx], weights[idx+1:]...)
	}
	return chosen
}

// weightedPick draws one index from weights proportional to their value.
func weightedPick(weights []float64, rng *rand.Rand) int {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return rng.Intn(len(weights))
	}

	r := rng.Float64() * sum
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if r < cumulative {
			return i
		}
	}
	return len(weights) - 1
}

package assignment

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"trackimmo/internal/models"
)

func makeCandidates(n int) []models.Address {
	base := time.Now().AddDate(-7, 0, 0)
	addrs := make([]models.Address, n)
	for i := 0; i < n; i++ {
		addrs[i] = models.Address{ID: uuid.New(), SaleDate: base.AddDate(0, 0, i)}
	}
	return addrs
}

func TestWeightedSampleRespectsCount(t *testing.T) {
	candidates := makeCandidates(20)
	rng := rand.New(rand.NewSource(1))
	chosen := WeightedSample(candidates, 5, rng)
	if len(chosen) != 5 {
		t.Fatalf("expected 5 chosen, got %d", len(chosen))
	}
}

func TestWeightedSampleNoDuplicates(t *testing.T) {
	candidates := makeCandidates(10)
	rng := rand.New(rand.NewSource(42))
	chosen := WeightedSample(candidates, 10, rng)
	seen := map[string]bool{}
	for _, c := range chosen {
		if seen[c.ID.String()] {
			t.Fatalf("duplicate address in sample: %s", c.ID)
		}
		seen[c.ID.String()] = true
	}
}

func TestWeightedSampleDeterministicWithFixedSeed(t *testing.T) {
	candidates := makeCandidates(15)
	rng1 := rand.New(rand.NewSource(7))
	rng2 := rand.New(rand.NewSource(7))

	chosen1 := WeightedSample(candidates, 5, rng1)
	chosen2 := WeightedSample(candidates, 5, rng2)

	for i := range chosen1 {
		if chosen1[i].ID != chosen2[i].ID {
			t.Fatalf("expected identical sequences with same seed, diverged at index %d", i)
		}
	}
}

func TestWeightedSampleCountExceedsTotal(t *testing.T) {
	candidates := makeCandidates(3)
	rng := rand.New(rand.NewSource(1))
	chosen := WeightedSample(candidates, 10, rng)
	if len(chosen) != 3 {
		t.Fatalf("expected capped at total candidates (3), got %d", len(chosen))
	}
}

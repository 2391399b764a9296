package enrichment

import (
	"context"
	"log"
	"math"
	"strconv"
	"time"

	"trackimmo/internal/models"
	"trackimmo/internal/repositories"
)

var outputColumnsStage6 = append(append([]string(nil), outputColumnsStage4...), "estimated_current_price", "estimation_confidence")

const (
	defaultAnnualGrowth = 0.03
	maxAnnualGrowth     = 0.10
	minAnnualGrowth     = -0.10
	daysPerYear         = 365.25
)

// dpeAdjustmentPct maps energy class to the price adjustment spec §4.E
// Stage 6 names: +5/+3/+1/0/-2/-5/-8% for A..G (N and unknown: 0).
var dpeAdjustmentPct = map[string]float64{
	"A": 0.05, "B": 0.03, "C": 0.01, "D": 0.0, "E": -0.02, "F": -0.05, "G": -0.08,
}

// PriceEstimator is Stage 6: compounds sale price forward using a
// (city, property-type) growth rate derived from persisted sale history,
// then applies a DPE-class adjustment (spec §4.E Stage 6).
type PriceEstimator struct {
	Repo *repositories.Repository
}

func (PriceEstimator) Number() int  { return 6 }
func (PriceEstimator) Name() string { return "price-estimator" }

func (e PriceEstimator) Run(ctx context.Context, inputPath, outputPath string) error {
	_, rows, err := readCSV(inputPath)
	if err != nil {
		return err
	}

	growthCache := make(map[string]float64)
	today := nowFunc()

	for _, row := range rows {
		saleDate, err := time.Parse("2006-01-02", row["sale_date"])
		if err != nil {
			continue
		}
		price, _ := strconv.Atoi(row["price"])
		ageYears := today.Sub(saleDate).Hours() / 24 / daysPerYear

		var estimate float64
		var confidence float64

		if ageYears < 0.5 {
			estimate = float64(price)
			confidence = 1.0
		} else {
			cacheKey := row["city_id"] + "|" + row["property_type"]
			rate, ok := growthCache[cacheKey]
			if !ok {
				rate = e.growthRate(ctx, row)
				growthCache[cacheKey] = rate
			}
			estimate = float64(price) * math.Pow(1+rate, ageYears)
			confidence = estimationConfidence(ageYears)
		}

		adjustmentApplied := false
		if adj, ok := dpeAdjustmentPct[row["dpe_energy_class"]]; ok {
			estimate *= 1 + adj
			adjustmentApplied = adj != 0 || row["dpe_energy_class"] != ""
		}
		if adjustmentApplied {
			confidence += 0.05
		}
		if score, err := strconv.ParseFloat(row["geocode_score"], 64); err == nil && score > 0.8 {
			confidence += 0.05
		}
		if row["property_type"] != "" {
			confidence += 0.05
		}
		confidence = clamp(confidence, 0, 1)

		row["estimated_current_price"] = strconv.Itoa(roundToThousand(estimate))
		row["estimation_confidence"] = strconv.FormatFloat(confidence, 'f', 2, 64)
	}

	log.Printf("📈 stage6 price-estimator: estimated %d rows", len(rows))
	return writeCSV(outputPath, outputColumnsStage6, rows)
}

// growthRate queries all persisted addresses for this (city, property-type)
// group, computes per-year mean €/m², then averages year-over-year ratios,
// falling back to defaultAnnualGrowth, clamped to [-10%, +10%].
func (e PriceEstimator) growthRate(ctx context.Context, row map[string]string) float64 {
	cityID, err := parseUUID(row["city_id"])
	if err != nil {
		return defaultAnnualGrowth
	}
	propertyType := models.PropertyType(row["property_type"])

	now := nowFunc()
	addrs, err := e.Repo.ListAddressesByCityInDateRange(ctx, cityID, propertyType, now.AddDate(-20, 0, 0), now)
	if err != nil || len(addrs) < 2 {
		return defaultAnnualGrowth
	}

	perYearSum := make(map[int]float64)
	perYearCount := make(map[int]int)
	for _, a := range addrs {
		if a.Surface <= 0 {
			continue
		}
		year := a.SaleDate.Year()
		perYearSum[year] += float64(a.Price) / float64(a.Surface)
		perYearCount[year]++
	}

	years := make([]int, 0, len(perYearSum))
	for y := range perYearSum {
		years = append(years, y)
	}
	if len(years) < 2 {
		return defaultAnnualGrowth
	}
	sortInts(years)

	var ratioSum float64
	var ratioCount int
	for i := 1; i < len(years); i++ {
		prevMean := perYearSum[years[i-1]] / float64(perYearCount[years[i-1]])
		currMean := perYearSum[years[i]] / float64(perYearCount[years[i]])
		if prevMean <= 0 {
			continue
		}
		ratioSum += currMean/prevMean - 1
		ratioCount++
	}
	if ratioCount == 0 {
		return defaultAnnualGrowth
	}

	rate := ratioSum / float64(ratioCount)
	return clamp(rate, minAnnualGrowth, maxAnnualGrowth)
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func estimationConfidence(ageYears float64) float64 {
	c := 0.8 - math.Min(0.05*ageYears, 0.6)
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundToThousand(v float64) int {
	return int(math.Round(v/1000) * 1000)
}

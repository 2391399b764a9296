package enrichment

import (
	"context"
	"log"

	"trackimmo/internal/citydata"
	"trackimmo/internal/repositories"
)

// CityPriceScraper is Stage 5: for each distinct city still present whose
// row was not scraped in the last 365 days, fetches the market page and
// upserts the price headlines (spec §4.E Stage 5). Row data passes through
// unchanged; this stage's effect is entirely on the city table.
type CityPriceScraper struct {
	Fetcher *citydata.Fetcher
	Repo    *repositories.Repository
}

func (CityPriceScraper) Number() int  { return 5 }
func (CityPriceScraper) Name() string { return "city-price-scraper" }

func (s CityPriceScraper) Run(ctx context.Context, inputPath, outputPath string) error {
	header, rows, err := readCSV(inputPath)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	refreshed := 0
	for _, row := range rows {
		cityID := row["city_id"]
		if cityID == "" || seen[cityID] {
			continue
		}
		seen[cityID] = true

		id, err := parseUUID(cityID)
		if err != nil {
			continue
		}
		city, err := s.Repo.GetCity(ctx, id)
		if err != nil {
			log.Printf("⚠️  stage5 city-price: city %s not found: %v", cityID, err)
			continue
		}
		if !city.IsStale(nowFunc()) {
			continue
		}

		result := s.Fetcher.Lookup(ctx, city.Name, city.PostalCode, city.InseeCode)
		if result.Status != "ok" {
			log.Printf("⚠️  stage5 city-price: refresh failed for %s: %s", city.Name, result.ErrorMessage)
			continue
		}

		city.AvgHousePrice = result.HousePriceAvg
		city.AvgApartmentPrice = result.ApartmentPriceAvg
		now := nowFunc()
		city.LastScraped = &now
		if err := s.Repo.UpsertCity(ctx, city); err != nil {
			log.Printf("⚠️  stage5 city-price: upsert failed for %s: %v", city.Name, err)
			continue
		}
		refreshed++
	}

	log.Printf("💶 stage5 city-price: refreshed %d of %d distinct cities", refreshed, len(seen))
	return writeCSV(outputPath, header, rows)
}

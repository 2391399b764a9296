package enrichment

import (
	"context"
	"fmt"
	"log"
	"sort"

	"trackimmo/internal/addressapi"
	"trackimmo/internal/citydata"
	"trackimmo/internal/models"
	"trackimmo/internal/repositories"
)

var outputColumnsStage2 = append(append([]string(nil), outputColumnsStage1...), "city_id", "postal_code", "insee_code", "department")

// CityResolver is Stage 2: groups rows by city name, resolves every
// distinct city via the address API's batch CSV mode, and upserts it on
// insee_code. The city table is not consulted first, so cities already
// stored are resolved again and their row is updated by the upsert.
type CityResolver struct {
	AddressAPI *addressapi.Client
	Repo       *repositories.Repository
}

func (CityResolver) Number() int  { return 2 }
func (CityResolver) Name() string { return "city-resolver" }

func (s CityResolver) Run(ctx context.Context, inputPath, outputPath string) error {
	_, rows, err := readCSV(inputPath)
	if err != nil {
		return err
	}

	byCity := make(map[string][]int)
	for i, row := range rows {
		byCity[row["city_name"]] = append(byCity[row["city_name"]], i)
	}

	cityIDs := make(map[string]string)
	for cityName, indices := range byCity {
		group := make([]map[string]string, len(indices))
		for i, idx := range indices {
			group[i] = rows[idx]
		}
		resolved, err := s.resolveCity(ctx, cityName, group)
		if err != nil {
			log.Printf("⚠️  stage2 city-resolver: dropping city %q: %v", cityName, err)
			continue
		}
		cityIDs[cityName] = resolved.ID.String()
		for _, idx := range indices {
			rows[idx]["city_id"] = resolved.ID.String()
			rows[idx]["postal_code"] = resolved.PostalCode
			rows[idx]["insee_code"] = resolved.InseeCode
			rows[idx]["department"] = resolved.Department
		}
	}

	out := make([]map[string]string, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		if row["city_id"] == "" {
			dropped++
			continue
		}
		out = append(out, row)
	}

	log.Printf("🏙️  stage2 city-resolver: %d cities resolved, %d rows kept, %d dropped", len(cityIDs), len(out), dropped)
	return writeCSV(outputPath, outputColumnsStage2, out)
}

// resolveCity geocodes every property row seen under cityName in a single
// multi-row batch (one "q" per row) and takes the modal postcode/citycode
// across all returned rows, mirroring the original's resolve_missing_cities
// (which batches every property for the city rather than probing with one
// address) so a single noisy/ambiguous row can't skew the result.
func (s CityResolver) resolveCity(ctx context.Context, cityName string, rows []map[string]string) (*models.City, error) {
	queries := make([]string, len(rows))
	for i, row := range rows {
		queries[i] = fmt.Sprintf("%s %s", row["address_raw"], cityName)
	}
	batch, err := s.AddressAPI.BatchCSV(ctx, queries)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("no address-api match for %q", cityName)
	}

	postalCode := modalValue(batch, "result_postcode")
	insee := modalValue(batch, "result_citycode")
	if insee == "" {
		return nil, fmt.Errorf("no insee code resolved for %q", cityName)
	}

	city := &models.City{
		Name:       cityName,
		PostalCode: postalCode,
		InseeCode:  insee,
		Department: citydata.DeriveDepartment(insee),
	}
	if err := s.Repo.UpsertCity(ctx, city); err != nil {
		return nil, err
	}
	return city, nil
}

// modalValue returns the most frequent non-empty value of column across
// rows (the "modal postcode/citycode" spec §4.E Stage 2 names).
func modalValue(rows []addressapi.CSVRow, column string) string {
	counts := make(map[string]int)
	for _, row := range rows {
		if v := row[column]; v != "" {
			counts[v]++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	type kv struct {
		key   string
		count int
	}
	ordered := make([]kv, 0, len(counts))
	for k, c := range counts {
		ordered = append(ordered, kv{k, c})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].key < ordered[j].key
	})
	return ordered[0].key
}

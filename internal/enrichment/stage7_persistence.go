package enrichment

import (
	"context"
	"log"
	"strconv"
	"time"

	"trackimmo/internal/models"
	"trackimmo/internal/repositories"
)

var requiredColumnsStage7 = []string{"address_raw", "city_id", "department", "sale_date", "property_type"}

// Persistence is Stage 7: reads the fully-enriched CSV and writes each row
// into the relational store, pre-checking source URLs for duplicates and
// attaching a DPE row when certificate fields are present (spec §4.E
// Stage 7).
type Persistence struct {
	Repo *repositories.Repository
}

func (Persistence) Number() int  { return 7 }
func (Persistence) Name() string { return "persistence" }

func (p Persistence) Run(ctx context.Context, inputPath, outputPath string) error {
	header, rows, err := readCSV(inputPath)
	if err != nil {
		return err
	}

	urls := make([]string, 0, len(rows))
	for _, row := range rows {
		if hasRequiredColumns(row) && row["source_url"] != "" {
			urls = append(urls, row["source_url"])
		}
	}
	existing, err := p.Repo.ExistingSourceURLs(ctx, urls)
	if err != nil {
		return err
	}

	inserted, skippedDup, droppedInvalid := 0, 0, 0
	for _, row := range rows {
		if !hasRequiredColumns(row) {
			droppedInvalid++
			row["persist_status"] = "dropped_missing_columns"
			continue
		}

		if row["source_url"] != "" && existing[row["source_url"]] {
			row["persist_status"] = "skipped_duplicate"
			skippedDup++
			continue
		}

		addr, err := p.insertRow(ctx, row)
		if err != nil {
			log.Printf("⚠️  stage7 persistence: insert failed for %s: %v", row["address_raw"], err)
			row["persist_status"] = "error"
			continue
		}
		row["persist_status"] = "inserted"
		row["address_id"] = addr.ID.String()
		inserted++
	}

	log.Printf("💾 stage7 persistence: %d inserted, %d duplicates skipped, %d dropped (missing columns)", inserted, skippedDup, droppedInvalid)
	return writeCSV(outputPath, append(header, "address_id", "persist_status"), rows)
}

func hasRequiredColumns(row map[string]string) bool {
	for _, col := range requiredColumnsStage7 {
		if row[col] == "" {
			return false
		}
	}
	return true
}

func (p Persistence) insertRow(ctx context.Context, row map[string]string) (*models.Address, error) {
	cityID, err := parseUUID(row["city_id"])
	if err != nil {
		return nil, err
	}
	saleDate, err := time.Parse("2006-01-02", row["sale_date"])
	if err != nil {
		return nil, err
	}

	addr := &models.Address{
		CityID:       cityID,
		Department:   truncateDepartment(row["department"]),
		AddressRaw:   row["address_raw"],
		SaleDate:     saleDate,
		PropertyType: models.ParsePropertyType(row["property_type"]),
		Surface:      atoiOr0(row["surface"]),
		Rooms:        atoiOr0(row["rooms"]),
		Price:        atoiOr0(row["price"]),
		SourceURL:    row["source_url"],
	}
	if lat, err := strconv.ParseFloat(row["latitude"], 64); err == nil {
		addr.Latitude = lat
	}
	if lon, err := strconv.ParseFloat(row["longitude"], 64); err == nil {
		addr.Longitude = lon
	}
	if est, err := strconv.Atoi(row["estimated_current_price"]); err == nil {
		addr.EstimatedCurrentPrice = est
	}

	inserted, err := p.Repo.InsertAddress(ctx, addr)
	if err != nil {
		return nil, err
	}

	if row["dpe_number"] != "" || row["dpe_energy_class"] != "" || row["construction_year"] != "" {
		dpe := &models.DPE{
			AddressID:   inserted.ID,
			EnergyClass: defaultClass(row["dpe_energy_class"]),
			GESClass:    defaultClass(row["dpe_ges_class"]),
			DPENumber:   row["dpe_number"],
		}
		if year, err := strconv.Atoi(row["construction_year"]); err == nil && year >= 1800 && year <= nowFunc().Year() {
			dpe.ConstructionYear = year
		}
		if d, err := time.Parse("2006-01-02", row["dpe_date"]); err == nil {
			dpe.DPEDate = d
		} else {
			dpe.DPEDate = nowFunc()
		}
		if err := p.Repo.InsertDPE(ctx, dpe); err != nil {
			log.Printf("⚠️  stage7 persistence: dpe insert failed for address %s: %v", inserted.ID, err)
		}
	}

	return inserted, nil
}

func truncateDepartment(dep string) string {
	if len(dep) > 3 {
		return dep[:3]
	}
	return dep
}

func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

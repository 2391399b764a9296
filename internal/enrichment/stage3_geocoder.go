package enrichment

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"

	"trackimmo/internal/addressapi"
)

var outputColumnsStage3 = append(append([]string(nil), outputColumnsStage2...), "latitude", "longitude", "geocode_score")

const (
	geocodeChunkSize      = 5000
	geocodeScoreThreshold = 0.5
	distanceThresholdKm   = 5.0
)

// Geocoder is Stage 3: batches rows in chunks of <=5000, posts
// "address + city + postal_code" to the address API's CSV endpoint, and
// filters on missing coordinates, low score, or excessive distance from
// the scrape's bounding box centroid.
type Geocoder struct {
	AddressAPI *addressapi.Client
	// BBoxCenter optionally supplies the scrape's rectangle centroid per
	// row's city, keyed by city_id, for the distance filter. Nil entries
	// skip the distance check (no bounding box known for that city).
	BBoxCenter map[string][2]float64 // cityID -> (lat, lon)
}

func (Geocoder) Number() int  { return 3 }
func (Geocoder) Name() string { return "geocoder" }

func (g Geocoder) Run(ctx context.Context, inputPath, outputPath string) error {
	_, rows, err := readCSV(inputPath)
	if err != nil {
		return err
	}

	out := make([]map[string]string, 0, len(rows))
	dropped := 0

	for start := 0; start < len(rows); start += geocodeChunkSize {
		end := start + geocodeChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		queries := make([]string, len(chunk))
		for i, row := range chunk {
			queries[i] = fmt.Sprintf("%s %s %s", row["address_raw"], row["city_name"], row["postal_code"])
		}

		results, err := g.AddressAPI.BatchCSV(ctx, queries)
		if err != nil {
			return fmt.Errorf("enrichment: geocoder chunk [%d:%d]: %w", start, end, err)
		}

		for i, row := range chunk {
			if i >= len(results) {
				dropped++
				continue
			}
			parsed := addressapi.ParseGeocodeRow(results[i])
			if !parsed.HasCoords || parsed.Score < geocodeScoreThreshold {
				dropped++
				continue
			}
			if center, ok := g.BBoxCenter[row["city_id"]]; ok {
				if haversineKm(center[0], center[1], parsed.Latitude, parsed.Longitude) > distanceThresholdKm {
					dropped++
					continue
				}
			}

			row["latitude"] = strconv.FormatFloat(parsed.Latitude, 'f', -1, 64)
			row["longitude"] = strconv.FormatFloat(parsed.Longitude, 'f', -1, 64)
			row["geocode_score"] = strconv.FormatFloat(parsed.Score, 'f', -1, 64)
			out = append(out, row)
		}
	}

	log.Printf("📍 stage3 geocoder: %d kept, %d dropped", len(out), dropped)
	return writeCSV(outputPath, outputColumnsStage3, out)
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := degToRad(lat2 - lat1)
	dLon := degToRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degToRad(lat1))*math.Cos(degToRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }

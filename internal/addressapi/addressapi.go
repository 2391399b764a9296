// Package addressapi wraps the French national address API (§6
// "Address-API"): centroid/bbox lookup for the geo divider, and the
// multipart CSV batch endpoint used by the city resolver and geocoder
// enrichment stages.
package addressapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trackimmo/internal/geodivider"
	"trackimmo/internal/retry"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CityLocation is the resolved centroid, bounding box and administrative
// identity of a municipality, per the original's _get_geocoding_data.
type CityLocation struct {
	CenterLat float64
	CenterLon float64
	BBox      *geodivider.BoundingBox // nil if the API returned no bbox

	InseeCode  string // properties.citycode
	PostalCode string // properties.postcode, cleaned to 5 digits
	Department string // first 2 (or 3 for Corsica) digits of InseeCode
	Region     string // first comma-separated segment of properties.context
}

type searchResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
		Properties struct {
			BBox     []float64 `json:"bbox"` // [minLon, minLat, maxLon, maxLat]
			CityCode string    `json:"citycode"`
			Postcode string    `json:"postcode"`
			Context  string    `json:"context"`
		} `json:"properties"`
	} `json:"features"`
}

// cleanPostalCode keeps only digits and takes the first 5, mirroring the
// original's handling of API responses like "91190-91650".
func cleanPostalCode(raw, fallback string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	clean := digits.String()
	if len(clean) >= 5 {
		return clean[:5]
	}
	return fallback
}

// departmentFromInsee returns the department code from an INSEE code: the
// first 2 digits, extended to 3 when those two digits are literally "20" —
// mirrors the original's _get_geocoding_data department derivation exactly,
// including its historical "20" (pre-1976 undivided Corsica) special case.
func departmentFromInsee(insee string) string {
	if len(insee) < 2 {
		return insee
	}
	dept := insee[:2]
	if dept == "20" && len(insee) >= 3 {
		return insee[:3]
	}
	return dept
}

// regionFromContext takes the first comma-separated segment of the
// address API's context field, mirroring the original's region extraction.
func regionFromContext(apiContext string) string {
	if apiContext == "" {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(apiContext, ",", 2)[0])
}

// ResolveCity fetches the centroid, bounding box and administrative
// identity (INSEE code, postal code, department, region) of a municipality,
// grounded on the original's _get_geocoding_data.
func (c *Client) ResolveCity(ctx context.Context, cityName, postalCode string) (*CityLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/search/", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("q", cityName+" "+postalCode)
	q.Set("limit", "1")
	q.Set("type", "municipality")
	req.URL.RawQuery = q.Encode()

	var parsed searchResponse
	err = retry.Do(ctx, retry.Default, func(int) error {
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("address api: status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	if err != nil {
		return nil, err
	}
	if len(parsed.Features) == 0 {
		return nil, fmt.Errorf("address api: no features for %q %q", cityName, postalCode)
	}

	f := parsed.Features[0]
	if len(f.Geometry.Coordinates) != 2 {
		return nil, fmt.Errorf("address api: malformed coordinates")
	}
	loc := &CityLocation{CenterLon: f.Geometry.Coordinates[0], CenterLat: f.Geometry.Coordinates[1]}

	if len(f.Properties.BBox) == 4 {
		loc.BBox = &geodivider.BoundingBox{
			MinLon: f.Properties.BBox[0],
			MinLat: f.Properties.BBox[1],
			MaxLon: f.Properties.BBox[2],
			MaxLat: f.Properties.BBox[3],
		}
	}

	loc.InseeCode = f.Properties.CityCode
	loc.PostalCode = cleanPostalCode(f.Properties.Postcode, postalCode)
	loc.Department = departmentFromInsee(loc.InseeCode)
	loc.Region = regionFromContext(f.Properties.Context)

	return loc, nil
}

// CSVRow is one row submitted to, or returned from, the batch CSV endpoint.
type CSVRow map[string]string

// BatchCSV posts queries (column "q") to /search/csv/ and returns the
// enriched rows. Used by the city resolver (one q per property row of a
// city, one call per city) and in bulk by the geocoder (one q per address).
func (c *Client) BatchCSV(ctx context.Context, queries []string) ([]CSVRow, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"q"}); err != nil {
		return nil, err
	}
	for _, q := range queries {
		if err := w.Write([]string{q}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	var rows []CSVRow
	err := retry.Do(ctx, retry.Default, func(int) error {
		body, contentType, err := buildMultipartCSV(buf.Bytes())
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/search/csv/", body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("address api csv: status %d", resp.StatusCode)
		}

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		rows, err = parseCSVRows(respBody)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func buildMultipartCSV(csvBytes []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("data", "query.csv")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(csvBytes); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func parseCSVRows(data []byte) ([]CSVRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	rows := make([]CSVRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(CSVRow, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GeocodeResult is a parsed row from the CSV geocoding response.
type GeocodeResult struct {
	Latitude    float64
	Longitude   float64
	ResultLabel string
	Score       float64
	HasCoords   bool
}

// ParseGeocodeRow extracts the fields the geocoder stage needs.
func ParseGeocodeRow(row CSVRow) GeocodeResult {
	res := GeocodeResult{ResultLabel: row["result_label"]}
	if lat, err := strconv.ParseFloat(row["latitude"], 64); err == nil {
		res.Latitude = lat
		res.HasCoords = true
	}
	if lon, err := strconv.ParseFloat(row["longitude"], 64); err == nil {
		res.Longitude = lon
	} else {
		res.HasCoords = false
	}
	if score, err := strconv.ParseFloat(row["result_score"], 64); err == nil {
		res.Score = score
	}
	return res
}

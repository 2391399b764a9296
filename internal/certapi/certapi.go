// Package certapi wraps the ADEME DPE/GES certificate datasets (spec.md §6
// "Certificate API"), grounded on
// original_source/trackimmo/modules/enrichment/dpe_enrichment.py's
// DPE_APIS table. Five datasets are queried in priority order: two
// "post-2021" buildings datasets, the tertiary post-2021 dataset, then the
// two legacy ("OLD") datasets.
package certapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trackimmo/internal/retry"
)

// Dataset names a queryable ADEME dataset, in priority order.
type Dataset struct {
	ID           string
	InseeField   string
	PostcodeField string
	CityField    string
}

// Datasets lists the five known certificate datasets in priority order: the
// two post-2021 building datasets, the post-2021 tertiary dataset, then the
// two legacy datasets (buildings, then tertiary).
var Datasets = []Dataset{
	{ID: "dpe03existant", InseeField: "code_insee_ban", PostcodeField: "code_postal_ban", CityField: "nom_commune_ban"},
	{ID: "dpe02neuf", InseeField: "code_insee_ban", PostcodeField: "code_postal_ban", CityField: "nom_commune_ban"},
	{ID: "dpe01tertiaire", InseeField: "code_insee_ban", PostcodeField: "code_postal_ban", CityField: "nom_commune_ban"},
	{ID: "dpe-france", InseeField: "code_insee_commune_actualise", PostcodeField: "code_postal", CityField: "commune"},
	{ID: "dpe-tertiaire", InseeField: "code_insee_commune", PostcodeField: "code_postal", CityField: "commune"},
}

const (
	maxPageSize      = 9000
	maxPageTimesSize = 10000 // hard API cap: page * size <= this
	earlyStopCount   = 200
)

// Client queries the ADEME certificate datasets API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Certificate is one normalised result row, regardless of source dataset.
type Certificate struct {
	DatasetID        string
	DPENumber        string
	DPEDate          string
	EnergyClass      string
	GESClass         string
	ConstructionYear int
	AddressRaw       string
	Latitude         float64
	Longitude        float64
	HasCoords        bool
}

type datasetResponse struct {
	Total   int                      `json:"total"`
	Results []map[string]interface{} `json:"results"`
}

// FetchForLocation queries all five datasets in priority order for a given
// field value (INSEE code preferred, falling back to postal code), paging
// until earlyStopCount certificates accumulate or the dataset is exhausted.
func (c *Client) FetchForLocation(ctx context.Context, field, value string) ([]Certificate, error) {
	var all []Certificate

	for _, ds := range Datasets {
		qField := ds.InseeField
		if field == "postal_code" {
			qField = ds.PostcodeField
		}

		certs, err := c.fetchDataset(ctx, ds, qField, value)
		if err != nil {
			return nil, fmt.Errorf("certapi: dataset %s: %w", ds.ID, err)
		}
		all = append(all, certs...)
		if len(all) >= earlyStopCount {
			break
		}
	}
	return all, nil
}

func (c *Client) fetchDataset(ctx context.Context, ds Dataset, qField, value string) ([]Certificate, error) {
	var out []Certificate
	page := 1
	size := maxPageSize
	if size*page > maxPageTimesSize {
		size = maxPageTimesSize / page
	}

	for {
		if page*size > maxPageTimesSize {
			break
		}

		var resp datasetResponse
		err := retry.Do(ctx, retry.Config{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2.0}, func(int) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/datasets/%s/lines", c.BaseURL, ds.ID), nil)
			if err != nil {
				return err
			}
			q := req.URL.Query()
			q.Set("q", value)
			q.Set("q_fields", qField)
			q.Set("size", fmt.Sprintf("%d", size))
			q.Set("page", fmt.Sprintf("%d", page))
			req.URL.RawQuery = q.Encode()

			httpResp, err := c.HTTPClient.Do(req)
			if err != nil {
				return err
			}
			defer httpResp.Body.Close()
			if httpResp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", httpResp.StatusCode)
			}
			return json.NewDecoder(httpResp.Body).Decode(&resp)
		})
		if err != nil {
			return nil, err
		}

		for _, row := range resp.Results {
			out = append(out, parseCertificate(ds, row))
		}

		if len(resp.Results) < size || len(out) >= earlyStopCount {
			break
		}
		page++
	}
	return out, nil
}

func parseCertificate(ds Dataset, row map[string]interface{}) Certificate {
	cert := Certificate{DatasetID: ds.ID}

	cert.DPENumber = firstString(row, "N°DPE", "numero_dpe")
	cert.DPEDate = firstString(row, "Date_réception_DPE", "date_reception_dpe")
	cert.EnergyClass = firstString(row, "Etiquette_DPE", "etiquette_dpe", "classe_consommation_energie")
	cert.GESClass = firstString(row, "Etiquette_GES", "etiquette_ges", "classe_estimation_ges")
	cert.AddressRaw = firstString(row, "Adresse_brute", "adresse_brut", "adresse_ban", "geo_adresse")

	if yearStr := firstString(row, "Année_construction", "annee_construction"); yearStr != "" {
		fmt.Sscanf(yearStr, "%d", &cert.ConstructionYear)
	}

	for _, key := range []string{"_geopoint", "geo_point", "geopoint", "coordinates_ban", "coordonnees_ban"} {
		if raw, ok := row[key]; ok {
			if lat, lon, ok := parseGeopoint(raw); ok {
				cert.Latitude, cert.Longitude, cert.HasCoords = lat, lon, true
				break
			}
		}
	}

	return cert
}

func firstString(row map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// parseGeopoint handles both "lat,lon" string and [lon, lat] array encodings
// the ADEME datasets use interchangeably.
func parseGeopoint(raw interface{}) (lat, lon float64, ok bool) {
	switch v := raw.(type) {
	case string:
		var a, b float64
		if n, _ := fmt.Sscanf(v, "%f,%f", &a, &b); n == 2 {
			return a, b, true
		}
	case []interface{}:
		if len(v) == 2 {
			lonF, lonOK := v[0].(float64)
			latF, latOK := v[1].(float64)
			if lonOK && latOK {
				return latF, lonF, true
			}
		}
	}
	return 0, 0, false
}

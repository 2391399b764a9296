package addressapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveCityParsesCoordinatesAndBBox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"features": [{
				"geometry": {"coordinates": [2.3522, 48.8566]},
				"properties": {"bbox": [2.2, 48.8, 2.5, 48.9]}
			}]
		}`))
	}))
	defer server.Close()

	client := New(server.URL)
	loc, err := client.ResolveCity(t.Context(), "Paris", "75001")
	if err != nil {
		t.Fatalf("resolve city: %v", err)
	}
	if loc.CenterLat != 48.8566 || loc.CenterLon != 2.3522 {
		t.Fatalf("unexpected center: %+v", loc)
	}
	if loc.BBox == nil || loc.BBox.MinLon != 2.2 {
		t.Fatalf("expected bbox to be parsed, got %+v", loc.BBox)
	}
}

func TestResolveCityParsesInseeDepartmentAndRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"features": [{
				"geometry": {"coordinates": [2.3522, 48.8566]},
				"properties": {
					"bbox": [2.2, 48.8, 2.5, 48.9],
					"citycode": "75056",
					"postcode": "75001",
					"context": "75, Paris, Île-de-France"
				}
			}]
		}`))
	}))
	defer server.Close()

	client := New(server.URL)
	loc, err := client.ResolveCity(t.Context(), "Paris", "75001")
	if err != nil {
		t.Fatalf("resolve city: %v", err)
	}
	if loc.InseeCode != "75056" {
		t.Fatalf("expected insee code 75056, got %q", loc.InseeCode)
	}
	if loc.PostalCode != "75001" {
		t.Fatalf("expected postal code 75001, got %q", loc.PostalCode)
	}
	if loc.Department != "75" {
		t.Fatalf("expected department 75, got %q", loc.Department)
	}
	if loc.Region != "75" {
		t.Fatalf("expected first context segment '75', got %q", loc.Region)
	}
}

func TestResolveCityLegacyDepartment20UsesThreeDigits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"features": [{
				"geometry": {"coordinates": [8.7369, 41.9267]},
				"properties": {"citycode": "20004", "postcode": "20000", "context": "Corse"}
			}]
		}`))
	}))
	defer server.Close()

	client := New(server.URL)
	loc, err := client.ResolveCity(t.Context(), "Ajaccio", "20000")
	if err != nil {
		t.Fatalf("resolve city: %v", err)
	}
	if loc.Department != "200" {
		t.Fatalf("expected 3-digit legacy department '200', got %q", loc.Department)
	}
}

func TestResolveCityCleansMultiplePostalCodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"features": [{
				"geometry": {"coordinates": [2.0, 48.0]},
				"properties": {"citycode": "91645", "postcode": "91190-91650"}
			}]
		}`))
	}))
	defer server.Close()

	client := New(server.URL)
	loc, err := client.ResolveCity(t.Context(), "Orsay", "91400")
	if err != nil {
		t.Fatalf("resolve city: %v", err)
	}
	if loc.PostalCode != "91190" {
		t.Fatalf("expected cleaned postal code 91190, got %q", loc.PostalCode)
	}
}

func TestResolveCityErrorsOnNoFeatures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": []}`))
	}))
	defer server.Close()

	client := New(server.URL)
	if _, err := client.ResolveCity(t.Context(), "Nowhere", "00000"); err == nil {
		t.Fatal("expected an error for an empty feature set")
	}
}

func TestBatchCSVRoundTripsRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("q,latitude,longitude,result_score,result_label\n1 rue de Paris,48.85,2.35,0.9,1 Rue de Paris\n"))
	}))
	defer server.Close()

	client := New(server.URL)
	rows, err := client.BatchCSV(t.Context(), []string{"1 rue de Paris"})
	if err != nil {
		t.Fatalf("batch csv: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	result := ParseGeocodeRow(rows[0])
	if !result.HasCoords || result.Latitude != 48.85 || result.Longitude != 2.35 {
		t.Fatalf("unexpected geocode result: %+v", result)
	}
	if result.Score != 0.9 {
		t.Fatalf("expected score 0.9, got %f", result.Score)
	}
}

func TestParseGeocodeRowMissingCoordsReportsFalse(t *testing.T) {
	row := CSVRow{"result_label": "unmatched"}
	result := ParseGeocodeRow(row)
	if result.HasCoords {
		t.Fatal("expected HasCoords=false when latitude/longitude are absent")
	}
}

func TestBuildMultipartCSVProducesMultipartBody(t *testing.T) {
	body, contentType, err := buildMultipartCSV([]byte("q\nfoo\n"))
	if err != nil {
		t.Fatalf("build multipart: %v", err)
	}
	if !strings.Contains(contentType, "multipart/form-data") {
		t.Fatalf("expected a multipart content type, got %s", contentType)
	}
	if body == nil {
		t.Fatal("expected a non-nil body reader")
	}
}

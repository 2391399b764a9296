package enrichment

import (
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"trackimmo/internal/addressapi"
	"trackimmo/internal/models"
	"trackimmo/internal/repositories"
)

func setupCityResolverTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.City{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestModalValuePicksMostFrequent(t *testing.T) {
	rows := []addressapi.CSVRow{
		{"result_postcode": "75001"},
		{"result_postcode": "75001"},
		{"result_postcode": "75002"},
	}
	if got := modalValue(rows, "result_postcode"); got != "75001" {
		t.Fatalf("expected modal value 75001, got %q", got)
	}
}

func TestModalValueTieBreaksLexically(t *testing.T) {
	rows := []addressapi.CSVRow{
		{"result_postcode": "75002"},
		{"result_postcode": "75001"},
	}
	if got := modalValue(rows, "result_postcode"); got != "75001" {
		t.Fatalf("expected lexically smaller value to win a tie, got %q", got)
	}
}

func TestModalValueIgnoresEmptyValues(t *testing.T) {
	rows := []addressapi.CSVRow{
		{"result_postcode": ""},
		{"result_postcode": ""},
		{"result_postcode": "75001"},
	}
	if got := modalValue(rows, "result_postcode"); got != "75001" {
		t.Fatalf("expected the only non-empty value to win, got %q", got)
	}
}

func TestModalValueEmptyWhenNoRows(t *testing.T) {
	if got := modalValue(nil, "result_postcode"); got != "" {
		t.Fatalf("expected empty string for no rows, got %q", got)
	}
}

// TestResolveCitySubmitsOneQueryPerRow verifies resolveCity batches every
// property row for a city into a single multi-row CSV request instead of
// probing with only the first row, per the original's resolve_missing_cities.
func TestResolveCitySubmitsOneQueryPerRow(t *testing.T) {
	var gotRows int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart form: %v", err)
		}
		file, _, err := r.FormFile("data")
		if err != nil {
			t.Fatalf("read uploaded csv: %v", err)
		}
		defer file.Close()

		records, err := csv.NewReader(file).ReadAll()
		if err != nil {
			t.Fatalf("parse csv: %v", err)
		}
		gotRows = len(records) - 1 // minus header

		w.Header().Set("Content-Type", "text/csv")
		var sb strings.Builder
		sb.WriteString("q,result_postcode,result_citycode\n")
		for range records[1:] {
			sb.WriteString("x,75001,75056\n")
		}
		w.Write([]byte(sb.String()))
	}))
	defer server.Close()

	db := setupCityResolverTestDB(t)
	resolver := CityResolver{
		AddressAPI: addressapi.New(server.URL),
		Repo:       repositories.New(db),
	}

	rows := []map[string]string{
		{"address_raw": "1 rue de Paris"},
		{"address_raw": "2 rue de Paris"},
		{"address_raw": "3 rue de Paris"},
	}
	city, err := resolver.resolveCity(t.Context(), "Paris", rows)
	if err != nil {
		t.Fatalf("resolve city: %v", err)
	}
	if gotRows != len(rows) {
		t.Fatalf("expected %d query rows submitted, got %d", len(rows), gotRows)
	}
	if city.InseeCode != "75056" {
		t.Fatalf("expected insee code 75056, got %q", city.InseeCode)
	}
}

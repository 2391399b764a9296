package enrichment

import "testing"

func TestHasRequiredColumnsAllPresent(t *testing.T) {
	row := map[string]string{
		"address_raw":   "1 rue A",
		"city_id":       "c1",
		"department":    "75",
		"sale_date":     "2020-01-01",
		"property_type": "house",
	}
	if !hasRequiredColumns(row) {
		t.Fatal("expected all required columns present to pass")
	}
}

func TestHasRequiredColumnsMissingOne(t *testing.T) {
	row := map[string]string{
		"address_raw":   "1 rue A",
		"city_id":       "c1",
		"department":    "75",
		"property_type": "house",
	}
	if hasRequiredColumns(row) {
		t.Fatal("expected missing sale_date to fail the check")
	}
}

func TestTruncateDepartmentTruncatesLongCodes(t *testing.T) {
	if got := truncateDepartment("75056"); got != "750" {
		t.Fatalf("expected truncation to 3 chars, got %q", got)
	}
}

func TestTruncateDepartmentLeavesShortCodesAlone(t *testing.T) {
	if got := truncateDepartment("2A"); got != "2A" {
		t.Fatalf("expected short code unchanged, got %q", got)
	}
}

func TestAtoiOr0ParsesValidInt(t *testing.T) {
	if got := atoiOr0("42"); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestAtoiOr0FallsBackOnGarbage(t *testing.T) {
	if got := atoiOr0("not-a-number"); got != 0 {
		t.Fatalf("expected 0 for unparsable input, got %d", got)
	}
}

package enrichment

import "testing"

func TestNormaliseTextFoldsAccentsAndUppercases(t *testing.T) {
	got := normaliseText("rue de l'Église")
	want := "RUE DE L EGLISE"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseStrictDateRejectsMalformed(t *testing.T) {
	if _, ok := parseStrictDate("2023-01-15"); ok {
		t.Fatal("expected ISO-formatted date to be rejected (spec requires DD/MM/YYYY)")
	}
	got, ok := parseStrictDate("15/01/2023")
	if !ok || got != "2023-01-15" {
		t.Fatalf("expected 2023-01-15, got %q ok=%v", got, ok)
	}
}

func TestMapPropertyTypeUnknownFallsBackToOther(t *testing.T) {
	if mapPropertyType("gazebo") != "other" {
		t.Fatal("expected unknown property type to map to other")
	}
	if mapPropertyType("maison") != "house" {
		t.Fatal("expected French label to map through the dictionary")
	}
}

func TestCoerceNonNegativeIntHandlesGarbage(t *testing.T) {
	if coerceNonNegativeInt("not-a-number") != 0 {
		t.Fatal("expected unparseable input to coerce to zero")
	}
	if coerceNonNegativeInt("-5") != 0 {
		t.Fatal("expected negative input to coerce to zero")
	}
	if coerceNonNegativeInt("42") != 42 {
		t.Fatal("expected valid input to parse through")
	}
}

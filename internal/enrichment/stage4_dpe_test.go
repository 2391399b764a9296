package enrichment

import "testing"

func TestSequenceMatchRatioIdenticalStringsIsOne(t *testing.T) {
	if r := sequenceMatchRatio("12 RUE DE LA PAIX", "12 RUE DE LA PAIX"); r != 1.0 {
		t.Fatalf("expected ratio 1.0 for identical strings, got %f", r)
	}
}

func TestSequenceMatchRatioCompletelyDifferentIsLow(t *testing.T) {
	r := sequenceMatchRatio("ABCDEF", "ZZZZZZ")
	if r > 0.2 {
		t.Fatalf("expected low ratio for disjoint strings, got %f", r)
	}
}

func TestExtractStreetNumberParsesLeadingDigits(t *testing.T) {
	n, ok := extractStreetNumber("12 RUE DE LA PAIX")
	if !ok || n != 12 {
		t.Fatalf("expected 12, got %d ok=%v", n, ok)
	}
	if _, ok := extractStreetNumber("RUE SANS NUMERO"); ok {
		t.Fatal("expected no number found")
	}
}

func TestDpeConfidenceCappedAt100(t *testing.T) {
	c := dpeConfidence(1.0, 1.0, true, true, true)
	if c != 100 {
		t.Fatalf("expected confidence capped at 100, got %f", c)
	}
}

func TestDpeConfidenceBaseline(t *testing.T) {
	c := dpeConfidence(0, 25, false, false, false)
	if c != 70 {
		t.Fatalf("expected baseline 70 with no bonuses, got %f", c)
	}
}

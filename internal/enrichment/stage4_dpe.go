package enrichment

import (
	"context"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"

	"trackimmo/internal/certapi"
)

var outputColumnsStage4 = append(append([]string(nil), outputColumnsStage3...),
	"dpe_number", "dpe_date", "dpe_energy_class", "dpe_ges_class", "construction_year", "dpe_confidence")

const (
	textSimilarityThreshold     = 0.70
	textSimilarityNoNumberThresh = 0.85
	geoValidationMeters         = 20.0
	streetNumberFuzzy           = 2
)

// DPEEnricher is Stage 4: groups rows by INSEE (falling back to postal
// code), queries the five certificate datasets in priority order, and
// matches candidates via text similarity + geographic validation
// (spec §4.E Stage 4), grounded on dpe_enrichment.py's two-phase approach.
type DPEEnricher struct {
	CertAPI *certapi.Client
	// Cache maps a location key (insee or postal code) to previously
	// fetched certificates, avoiding redundant dataset queries within one
	// run. A production deployment would persist this to disk with a
	// 30-day staleness check (spec §5 shared resources); here it is kept
	// in-memory for the duration of one stage run.
	cache map[string][]certapi.Certificate
}

func (d *DPEEnricher) Number() int  { return 4 }
func (d *DPEEnricher) Name() string { return "dpe-enrichment" }

func (d *DPEEnricher) Run(ctx context.Context, inputPath, outputPath string) error {
	if d.cache == nil {
		d.cache = make(map[string][]certapi.Certificate)
	}

	_, rows, err := readCSV(inputPath)
	if err != nil {
		return err
	}

	byLocation := make(map[string][]int)
	for i, row := range rows {
		key := locationKey(row)
		byLocation[key] = append(byLocation[key], i)
	}

	matched := 0
	for key, indices := range byLocation {
		certs, err := d.certificatesFor(ctx, key)
		if err != nil {
			log.Printf("⚠️  stage4 dpe: certificate lookup failed for %s: %v", key, err)
			continue
		}
		for _, idx := range indices {
			if applyDPEMatch(rows[idx], certs) {
				matched++
			}
		}
	}

	log.Printf("🏷️  stage4 dpe: %d/%d rows matched a certificate", matched, len(rows))
	return writeCSV(outputPath, outputColumnsStage4, rows)
}

func locationKey(row map[string]string) string {
	if insee := row["insee_code"]; insee != "" {
		return "insee:" + insee
	}
	return "postal:" + row["postal_code"]
}

func (d *DPEEnricher) certificatesFor(ctx context.Context, key string) ([]certapi.Certificate, error) {
	if cached, ok := d.cache[key]; ok {
		return cached, nil
	}

	field, value, _ := strings.Cut(key, ":")
	apiField := "insee_code"
	if field == "postal" {
		apiField = "postal_code"
	}

	certs, err := d.CertAPI.FetchForLocation(ctx, apiField, value)
	if err != nil {
		return nil, err
	}
	d.cache[key] = certs
	return certs, nil
}

// applyDPEMatch runs the two-phase match and writes the winning
// certificate's fields into row, if any. Returns whether a match was
// applied.
func applyDPEMatch(row map[string]string, certs []certapi.Certificate) bool {
	lat, latErr := strconv.ParseFloat(row["latitude"], 64)
	lon, lonErr := strconv.ParseFloat(row["longitude"], 64)
	if latErr != nil || lonErr != nil {
		return false
	}

	normalisedTarget := normaliseAddressForMatch(row["address_raw"])
	targetNumber, targetHasNumber := extractStreetNumber(normalisedTarget)

	type candidate struct {
		cert       certapi.Certificate
		confidence float64
		distanceM  float64
	}

	var candidates []candidate
	for _, cert := range certs {
		if !cert.HasCoords {
			continue
		}
		certNormalised := normaliseAddressForMatch(cert.AddressRaw)
		certNumber, certHasNumber := extractStreetNumber(certNormalised)

		if targetHasNumber && certHasNumber {
			if abs(targetNumber-certNumber) > streetNumberFuzzy {
				continue
			}
		}

		similarity := sequenceMatchRatio(normalisedTarget, certNormalised)
		threshold := textSimilarityThreshold
		if !targetHasNumber || !certHasNumber {
			threshold = textSimilarityNoNumberThresh
		}
		if similarity < threshold {
			continue
		}

		distM := haversineKm(lat, lon, cert.Latitude, cert.Longitude) * 1000
		if distM > geoValidationMeters {
			continue
		}

		confidence := dpeConfidence(similarity, distM, targetHasNumber, certHasNumber, targetNumber == certNumber)
		candidates = append(candidates, candidate{cert, confidence, distM})
	}

	if len(candidates) == 0 {
		return false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.distanceM < best.distanceM {
			best = c
		}
	}

	row["dpe_number"] = best.cert.DPENumber
	row["dpe_date"] = best.cert.DPEDate
	row["dpe_energy_class"] = defaultClass(best.cert.EnergyClass)
	row["dpe_ges_class"] = defaultClass(best.cert.GESClass)
	row["construction_year"] = strconv.Itoa(best.cert.ConstructionYear)
	row["dpe_confidence"] = strconv.FormatFloat(best.confidence, 'f', 1, 64)
	return true
}

func defaultClass(c string) string {
	if c == "" {
		return "N"
	}
	return c
}

var roadAbbrevRe = regexp.MustCompile(`\b(RUE|AV|AVE|BD|BLD|PL|CHE|ALL)\b`)
var postalInAddressRe = regexp.MustCompile(`\b\d{5}\b`)

// normaliseAddressForMatch applies the same uppercase/ASCII-fold
// normalisation as Stage 1, then strips postal codes and normalises
// road-type abbreviations (spec §4.E Stage 4 phase 1).
func normaliseAddressForMatch(addr string) string {
	n := normaliseText(addr)
	n = postalInAddressRe.ReplaceAllString(n, "")
	n = strings.ReplaceAll(n, "AVENUE", "AV")
	n = strings.ReplaceAll(n, "BOULEVARD", "BD")
	n = strings.ReplaceAll(n, "PLACE", "PL")
	n = strings.ReplaceAll(n, "CHEMIN", "CHE")
	n = strings.ReplaceAll(n, "ALLEE", "ALL")
	n = multiSpaceRe.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

var leadingNumberRe = regexp.MustCompile(`^(\d+)`)

func extractStreetNumber(addr string) (int, bool) {
	m := leadingNumberRe.FindString(addr)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// sequenceMatchRatio is a Go approximation of Python's
// difflib.SequenceMatcher.ratio(): 2*M / T where M is the total length of
// matching blocks found by a greedy longest-common-substring strategy and
// T is the combined length of both strings.
func sequenceMatchRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	matches := matchingBlockLength(a, b)
	return 2.0 * float64(matches) / float64(len(a)+len(b))
}

func matchingBlockLength(a, b string) int {
	if a == b {
		return len(a)
	}
	longest, aStart, bStart := longestCommonSubstring(a, b)
	if longest == 0 {
		return 0
	}
	total := longest
	total += matchingBlockLength(a[:aStart], b[:bStart])
	total += matchingBlockLength(a[aStart+longest:], b[bStart+longest:])
	return total
}

func longestCommonSubstring(a, b string) (length, aStart, bStart int) {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	best := 0
	bestA, bestB := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
				if dp[i][j] > best {
					best = dp[i][j]
					bestA, bestB = i-best, j-best
				}
			}
		}
	}
	return best, bestA, bestB
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// dpeConfidence implements spec §4.E Stage 4's scoring formula: base 70 +
// text-similarity*25 + distance bonus + street-number bonus, capped at 100.
func dpeConfidence(similarity, distanceM float64, targetHasNumber, certHasNumber, numbersEqual bool) float64 {
	score := 70.0 + similarity*25.0

	switch {
	case distanceM < 5:
		score += 40
	case distanceM < 10:
		score += 35
	case distanceM < 15:
		score += 25
	case distanceM < 20:
		score += 15
	}

	switch {
	case targetHasNumber && certHasNumber && numbersEqual:
		score += 25
	case targetHasNumber && certHasNumber:
		score += 15
	}

	return math.Min(score, 100)
}

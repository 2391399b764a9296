package enrichment

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var outputColumnsStage1 = []string{"address_raw", "city_name", "price", "surface", "rooms", "sale_date", "property_type", "source_url"}

// propertyTypeDict maps French and English scraped labels onto the closed
// enum, grounded on data_normalizer.py's PROPERTY_TYPE_MAPPING.
var propertyTypeDict = map[string]string{
	"maison":           "house",
	"appartement":      "apartment",
	"terrain":          "land",
	"local commercial": "commercial",
	"autre":            "other",
	"house":            "house",
	"apartment":        "apartment",
	"land":             "land",
	"commercial":       "commercial",
	"other":            "other",
	"1":                "house",
	"2":                "apartment",
	"4":                "land",
	"0":                "commercial",
	"5":                "other",
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)
var multiSpaceRe = regexp.MustCompile(`\s+`)

// Normaliser is Stage 1: uppercase/ASCII-fold text fields, coerce numerics,
// strictly parse dates, map property types, and drop invalid rows.
type Normaliser struct{}

func (Normaliser) Number() int  { return 1 }
func (Normaliser) Name() string { return "normaliser" }

func (Normaliser) Run(ctx context.Context, inputPath, outputPath string) error {
	_, rows, err := readCSV(inputPath)
	if err != nil {
		return err
	}

	out := make([]map[string]string, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		address := normaliseText(row["address_raw"])
		city := normaliseText(row["city_name"])
		price := coerceNonNegativeInt(row["price"])
		surface := coerceNonNegativeInt(row["surface"])
		rooms := coerceNonNegativeInt(row["rooms"])

		saleDate, ok := parseStrictDate(row["sale_date"])
		if !ok {
			dropped++
			continue
		}

		propertyType := mapPropertyType(row["property_type"])

		if address == "" || city == "" || price <= 0 {
			dropped++
			continue
		}

		out = append(out, map[string]string{
			"address_raw":   address,
			"city_name":     city,
			"price":         strconv.Itoa(price),
			"surface":       strconv.Itoa(surface),
			"rooms":         strconv.Itoa(rooms),
			"sale_date":     saleDate,
			"property_type": propertyType,
			"source_url":    row["source_url"],
		})
	}

	log.Printf("🧮 stage1 normaliser: %d kept, %d dropped", len(out), dropped)
	return writeCSV(outputPath, outputColumnsStage1, out)
}

// normaliseText upper-cases and ASCII-folds a string, stripping
// punctuation and collapsing whitespace, per data_normalizer.py's
// normalize_address/normalize_city.
func normaliseText(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToUpper(folded)
	folded = nonWordRe.ReplaceAllString(folded, " ")
	folded = multiSpaceRe.ReplaceAllString(folded, " ")
	return strings.TrimSpace(folded)
}

func coerceNonNegativeInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseStrictDate parses DD/MM/YYYY and returns YYYY-MM-DD, dropping the
// row on any parse failure (spec §4.E Stage 1).
func parseStrictDate(s string) (string, bool) {
	t, err := time.Parse("02/01/2006", strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func mapPropertyType(raw string) string {
	if mapped, ok := propertyTypeDict[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return "other"
}

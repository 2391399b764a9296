// Package citydata resolves municipal metadata and market price headlines
// for a city (spec.md §4.F), used both by the enrichment stage machine
// (Stage 5) and by the job orchestrator's pre-scrape refresh. The HTML
// extraction style (goquery over a static page, no JS rendering needed)
// is grounded on the teacher's internal/scraper.ScraperService.
package citydata

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"trackimmo/internal/addressapi"
	"trackimmo/internal/cache"
	"trackimmo/internal/retry"
)

// marketPriceCacheTTL bounds how long a scraped price headline is reused
// across lookups before the market page is fetched again.
const marketPriceCacheTTL = 6 * time.Hour

// Result is the outcome of a city-data lookup.
type Result struct {
	InseeCode         string
	Department        string
	Region            string
	HousePriceAvg     int
	ApartmentPriceAvg int
	Status            string // "ok" | "error"
	ErrorMessage      string
}

// Fetcher resolves INSEE/department/region via the address API, then
// scrapes the market page for price headlines.
type Fetcher struct {
	AddressAPI *addressapi.Client
	HTTPClient *http.Client
	MarketURL  string // base URL for the market page, "{base}/{insee}"
	Cache      *cache.Cache
}

func New(addr *addressapi.Client, marketBaseURL string) *Fetcher {
	return &Fetcher{
		AddressAPI: addr,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		MarketURL:  marketBaseURL,
	}
}

// WithCache attaches a cache to the fetcher, enabling cache-first market
// price lookups. Returns f for chaining.
func (f *Fetcher) WithCache(c *cache.Cache) *Fetcher {
	f.Cache = c
	return f
}

var corsicaPrefixes = map[string]bool{"2A": true, "2B": true}

// DeriveDepartment returns the 2-3 digit department code from an INSEE code
// (spec §4.E Stage 2): first 2 digits, except Corsica which needs 3 chars.
func DeriveDepartment(insee string) string {
	if len(insee) < 2 {
		return insee
	}
	prefix := strings.ToUpper(insee[:2])
	if corsicaPrefixes[prefix] {
		return prefix
	}
	return insee[:2]
}

// Lookup fetches {insee_code, department, region, house_price_avg,
// apartment_price_avg} for a city, per spec §4.F's contract.
func (f *Fetcher) Lookup(ctx context.Context, cityName, postalCode, inseeHint string) Result {
	loc, err := f.AddressAPI.ResolveCity(ctx, cityName, postalCode)
	if err != nil {
		return Result{Status: "error", ErrorMessage: fmt.Sprintf("resolve city: %v", err)}
	}

	insee := loc.InseeCode
	if insee == "" {
		insee = inseeHint
	}
	department := loc.Department
	if department == "" {
		department = DeriveDepartment(insee)
	}

	prices, err := f.fetchMarketPrices(ctx, cityName, insee)
	if err != nil {
		log.Printf("⚠️  citydata: market price fetch failed for %s: %v", cityName, err)
		return Result{
			InseeCode:    insee,
			Department:   department,
			Region:       loc.Region,
			Status:       "error",
			ErrorMessage: err.Error(),
		}
	}

	return Result{
		InseeCode:         insee,
		Department:        department,
		Region:            loc.Region,
		HousePriceAvg:     prices.HousePrice,
		ApartmentPriceAvg: prices.ApartmentPrice,
		Status:            "ok",
	}
}

type marketPrices struct {
	HousePrice     int `json:"house_price"`
	ApartmentPrice int `json:"apartment_price"`
}

var priceFigureRe = regexp.MustCompile(`[\d\s ]+`)

// fetchMarketPrices scrapes the static market page for a city and extracts
// the "Maisons — Prix" and "Appartements — Prix" headline figures,
// reusing the teacher's goquery HTML-extraction approach rather than a
// browser render (the market page is server-rendered). Results are cached
// by INSEE code so repeated lookups for the same city within the TTL skip
// the network round trip entirely.
func (f *Fetcher) fetchMarketPrices(ctx context.Context, cityName, insee string) (marketPrices, error) {
	cacheKey := "citydata:market:" + insee
	if f.Cache != nil {
		var cached marketPrices
		if hit, err := f.Cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached, nil
		}
	}

	targetURL := fmt.Sprintf("%s/%s", strings.TrimRight(f.MarketURL, "/"), insee)

	var doc *goquery.Document
	err := retry.Do(ctx, retry.Default, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; trackimmo/1.0)")

		resp, err := f.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("market page: status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(string(body)))
		return err
	})
	if err != nil {
		return marketPrices{}, err
	}

	out := marketPrices{}
	doc.Find("[data-stat='house-price'], .price-maisons").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		out.HousePrice = parsePriceFigure(sel.Text())
		return false
	})
	doc.Find("[data-stat='apartment-price'], .price-appartements").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		out.ApartmentPrice = parsePriceFigure(sel.Text())
		return false
	})

	if f.Cache != nil {
		if err := f.Cache.Set(ctx, cacheKey, out, marketPriceCacheTTL); err != nil {
			log.Printf("⚠️  citydata: cache set failed for %s: %v", insee, err)
		}
	}

	return out, nil
}

func parsePriceFigure(raw string) int {
	match := priceFigureRe.FindString(raw)
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match)
	n, _ := strconv.Atoi(digits)
	return n
}

// Package scrapeengine orchestrates the geo divider, URL generator, and
// headless browser into one scrape per city (spec.md §4.D), modeled on the
// teacher's internal/jobs.Worker channel-and-goroutine dispatch shape.
package scrapeengine

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	"trackimmo/internal/addressapi"
	"trackimmo/internal/browser"
	"trackimmo/internal/geodivider"
	"trackimmo/internal/urlgen"
)

const fetchConcurrency = 10

// CSVHeader is the mandatory column order for the raw-scrape CSV (spec §6).
var CSVHeader = []string{"address_raw", "city_name", "price", "surface", "rooms", "sale_date", "property_type", "source_url"}

// Metrics is a lightweight in-memory counter set, grounded on the original's
// utils/metrics.py. No push-based backend — programmatic Snapshot() only.
type Metrics struct {
	mu            sync.Mutex
	URLsFetched   int
	CardsAccepted int
	CardsDropped  int
	Subdivisions  int
}

func (m *Metrics) incFetched()               { m.mu.Lock(); m.URLsFetched++; m.mu.Unlock() }
func (m *Metrics) addAccepted(n int)         { m.mu.Lock(); m.CardsAccepted += n; m.mu.Unlock() }
func (m *Metrics) addDropped(n int)          { m.mu.Lock(); m.CardsDropped += n; m.mu.Unlock() }
func (m *Metrics) incSubdivisions()          { m.mu.Lock(); m.Subdivisions++; m.mu.Unlock() }

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{URLsFetched: m.URLsFetched, CardsAccepted: m.CardsAccepted, CardsDropped: m.CardsDropped, Subdivisions: m.Subdivisions}
}

// Engine scrapes one city's listings into a raw CSV file.
type Engine struct {
	AddressAPI *addressapi.Client
	Fetcher    *browser.Fetcher
	Generator  *urlgen.Generator
	Divider    *geodivider.Divider
	Metrics    *Metrics
}

// New builds an Engine from its collaborators.
func New(addr *addressapi.Client, fetcher *browser.Fetcher) *Engine {
	return &Engine{
		AddressAPI: addr,
		Fetcher:    fetcher,
		Generator:  urlgen.NewGenerator(),
		Divider:    geodivider.New(),
		Metrics:    &Metrics{},
	}
}

// Row is one deduplicated, accepted record ready for the CSV sink.
type Row struct {
	AddressRaw   string
	CityName     string
	Price        int
	Surface      float64
	Rooms        int
	SaleDate     string
	PropertyType string
	SourceURL    string
}

func rowFromRecord(rec browser.Record, cityName string) Row {
	return Row{
		AddressRaw:   rec.Address,
		CityName:     cityName,
		Price:        rec.Price,
		Surface:      rec.Surface,
		Rooms:        rec.Rooms,
		SaleDate:     rec.SaleDate,
		PropertyType: rec.PropertyType,
		SourceURL:    rec.DetailsURL,
	}
}

func identityKey(r Row) string {
	return fmt.Sprintf("%s|%s|%d|%.1f|%d|%s", r.AddressRaw, r.CityName, r.Price, r.Surface, r.Rooms, r.SaleDate)
}

// ScrapeCity runs the full pipeline for one city and writes the raw CSV to
// outputPath, per spec §4.D's five-step contract.
func (e *Engine) ScrapeCity(ctx context.Context, cityName, postalCode string, propertyTypes []string, start, end urlgen.Period, outputPath string) error {
	loc, err := e.AddressAPI.ResolveCity(ctx, cityName, postalCode)
	if err != nil {
		return fmt.Errorf("scrapeengine: resolve city: %w", err)
	}

	var bbox geodivider.BoundingBox
	if loc.BBox != nil {
		bbox = *loc.BBox
	} else {
		bbox = geodivider.FallbackBoundingBox(loc.CenterLat, loc.CenterLon)
	}
	rectangles := e.Divider.Divide(bbox)

	periods := urlgen.MonthRange(start.Year, start.Month, end.Year, end.Month)
	initial := e.Generator.GenerateInitial(rectangles, propertyTypes, periods)

	sub := urlgen.NewSubdivider(e.Generator)
	rows := e.dispatch(ctx, initial, sub, cityName)

	deduped := dedupe(rows)
	log.Printf("🧹 scrapeengine: %s kept %d of %d rows after dedup", cityName, len(deduped), len(rows))

	return writeCSV(outputPath, deduped)
}

func (e *Engine) dispatch(ctx context.Context, tasks []urlgen.Task, sub *urlgen.Subdivider, cityName string) []Row {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rows    []Row
		pending = tasks
	)

	for len(pending) > 0 {
		batch := pending
		pending = nil
		results := make(chan []urlgen.Task, len(batch))

		for _, task := range batch {
			wg.Add(1)
			go func(t urlgen.Task) {
				defer wg.Done()
				e.Metrics.incFetched()
				res, err := e.Fetcher.Fetch(ctx, t.URL)
				if err != nil {
					log.Printf("⚠️  scrapeengine: fetch failed for %s: %v", cityName, err)
					results <- nil
					return
				}

				if urlgen.NeedsSubdivision(res.Count) {
					samples := samplePrices(res.Records)
					children := sub.Subdivide(t, res.Count, samples)
					if children != nil {
						e.Metrics.incSubdivisions()
						results <- children
						return
					}
				}

				mu.Lock()
				e.Metrics.addAccepted(len(res.Records))
				for _, rec := range res.Records {
					rows = append(rows, rowFromRecord(rec, cityName))
				}
				mu.Unlock()
				results <- nil
			}(task)
		}

		wg.Wait()
		close(results)
		for children := range results {
			pending = append(pending, children...)
		}
	}

	return rows
}

func samplePrices(records []browser.Record) []int {
	prices := make([]int, 0, len(records))
	for _, r := range records {
		if r.Price > 0 {
			prices = append(prices, r.Price)
		}
	}
	return prices
}

// dedupe applies the two-pass rule from spec §4.D: first by source_url
// (hard unique), then by property identity for distinct URLs pointing at
// the same sale.
func dedupe(rows []Row) []Row {
	seenURL := make(map[string]bool, len(rows))
	seenIdentity := make(map[string]bool, len(rows))
	out := make([]Row, 0, len(rows))

	for _, r := range rows {
		if r.SourceURL != "" {
			if seenURL[r.SourceURL] {
				continue
			}
			seenURL[r.SourceURL] = true
		}
		key := identityKey(r)
		if seenIdentity[key] {
			continue
		}
		seenIdentity[key] = true
		out = append(out, r)
	}
	return out
}

// writeCSV writes rows (even zero rows, header-only) to path.
func writeCSV(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("scrapeengine: create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.AddressRaw, r.CityName,
			strconv.Itoa(r.Price), strconv.FormatFloat(r.Surface, 'f', -1, 64),
			strconv.Itoa(r.Rooms), r.SaleDate, r.PropertyType, r.SourceURL,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

// Manifest is the explicit city-ID → raw-CSV-path mapping used in
// skip_scraping mode, replacing the original's filename-substring
// heuristic with an auditable lookup (SPEC_FULL.md §10 supplement).
type Manifest struct {
	mu    sync.RWMutex
	paths map[string]string // keyed by city ID string
}

// NewManifest builds an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{paths: make(map[string]string)}
}

// Record associates a city ID with the raw-CSV path produced for it.
func (m *Manifest) Record(cityID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[cityID] = path
}

// Lookup returns the raw-CSV path for a city ID, if one was recorded.
func (m *Manifest) Lookup(cityID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.paths[cityID]
	return p, ok
}

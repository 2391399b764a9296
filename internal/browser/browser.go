// Package browser drives a real headless Chrome instance (via chromedp) to
// render the listings site's client-side search results and extract one
// record per result card (spec.md §4.C). chromedp is the domain dependency
// this component needs beyond the teacher's goquery-only scraper, which
// cannot execute the JavaScript the listings site requires — see
// DESIGN.md.
package browser

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"trackimmo/internal/retry"
)

const (
	navigationTimeout    = 60 * time.Second
	selectorWaitTimeout  = 10 * time.Second
	resultsContainerSel  = `[data-testid="results-list"], .search-results-list`
	cardSelector         = `.property-card, [data-testid="property-card"]`
	maxFetchRetries      = 3
	retryLinearBackoff   = 2 * time.Second
)

// Record is one extracted property card.
type Record struct {
	Address      string
	City         string
	PostalCode   string
	Price        int
	Rooms        int
	Surface      float64
	SaleDate     string // DD/MM/YYYY
	PropertyType string
	DetailsURL   string
}

// Fetcher drives one shared browser allocator and hands out a fresh page
// (tab) per fetch, per spec.md §4.C's concurrency contract ("each fetch
// must use its own page to avoid state bleed").
type Fetcher struct {
	Headless bool
	sem      *semaphore.Weighted

	allocCtx   context.Context
	allocClose context.CancelFunc
}

// NewFetcher builds a Fetcher with a concurrency semaphore sized by
// maxConcurrent (default 10 per spec.md §4.C).
func NewFetcher(headless bool, maxConcurrent int) *Fetcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", headless))
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		Headless:   headless,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		allocCtx:   allocCtx,
		allocClose: cancel,
	}
}

// Close releases the shared browser allocator.
func (f *Fetcher) Close() {
	if f.allocClose != nil {
		f.allocClose()
	}
}

// FetchResult is the outcome of fetching one search URL.
type FetchResult struct {
	Count   int
	Records []Record
}

// Fetch navigates to url on a fresh page, waits for the results container,
// and extracts every card. Retries up to maxFetchRetries times with linear
// backoff on timeout or selector miss.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	var result *FetchResult
	// retry.Do's own delay grows exponentially, so it is left at zero and
	// each retry first waits retryLinearBackoff × attempt (2s, then 4s).
	err := retry.Do(ctx, retry.Config{
		MaxRetries: maxFetchRetries - 1,
	}, func(attempt int) error {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryLinearBackoff * time.Duration(attempt)):
			}
		}
		r, err := f.fetchOnce(ctx, url)
		if err != nil {
			log.Printf("⚠️  fetch attempt %d failed for %s: %v", attempt+1, url, err)
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*FetchResult, error) {
	pageCtx, cancel := chromedp.NewContext(f.allocCtx)
	defer cancel()

	pageCtx, navCancel := context.WithTimeout(pageCtx, navigationTimeout)
	defer navCancel()

	var nodes []*cdp.Node
	err := chromedp.Run(pageCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(resultsContainerSel, chromedp.ByQuery),
		chromedp.Nodes(cardSelector, &nodes, chromedp.ByQueryAll),
	)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(nodes))
	for _, node := range nodes {
		rec, ok := extractCard(pageCtx, node)
		if ok {
			records = append(records, rec)
		}
	}

	return &FetchResult{Count: len(records), Records: records}, nil
}

// extractCard pulls the fields spec.md §4.C names out of one card node.
// Field extraction is delegated to per-attribute chromedp actions scoped to
// the node so a malformed card never aborts the whole page.
func extractCard(ctx context.Context, node *cdp.Node) (Record, bool) {
	var (
		address, city, postalCode, priceText, roomsText, surfaceText string
		dateEpochMillis, detailsHref                                 string
		propertyTypeCode                                             string
	)

	attrs := map[string]*string{
		"data-address":       &address,
		"data-city":          &city,
		"data-postal-code":   &postalCode,
		"data-price":         &priceText,
		"data-rooms":         &roomsText,
		"data-surface":       &surfaceText,
		"datetime":           &dateEpochMillis,
		"href":               &detailsHref,
		"data-property-type": &propertyTypeCode,
	}

	for attr, dest := range attrs {
		_ = chromedp.Run(ctx, chromedp.AttributeValue(attr, dest, nil, chromedp.ByQuery, chromedp.FromNode(node)))
	}

	if address == "" {
		return Record{}, false
	}

	price, _ := strconv.Atoi(priceText)
	rooms, _ := strconv.Atoi(roomsText)
	surface, _ := strconv.ParseFloat(surfaceText, 64)
	saleDate := formatEpochMillisToDDMMYYYY(dateEpochMillis)

	return Record{
		Address:      address,
		City:         city,
		PostalCode:   postalCode,
		Price:        price,
		Rooms:        rooms,
		Surface:      surface,
		SaleDate:     saleDate,
		PropertyType: propertyTypeCode,
		DetailsURL:   detailsHref,
	}, true
}

func formatEpochMillisToDDMMYYYY(raw string) string {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ""
	}
	t := time.UnixMilli(ms).UTC()
	return t.Format("02/01/2006")
}

// Package urlgen builds ImmoData search URLs and adaptively subdivides them
// so no single query returns more than the site's ~100-result truncation
// ceiling (spec.md §4.B). Grounded on
// original_source/trackimmo/modules/scraper/url_generator.py for the
// subdivision level structure and cache shape; the exact split-point rule
// follows spec.md §4.B's simplified progressive formula.
package urlgen

import (
	"container/list"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"trackimmo/internal/geodivider"
)

// truncation ceiling: a page with >= this many cards must be subdivided.
const subdivisionThreshold = 99

const globalMaxPrice = 25_000_000

var propertyTypeCodes = map[string]string{
	"house":      "1",
	"apartment":  "2",
	"land":       "4",
	"commercial": "0",
	"other":      "5",
}

var monthNamesFR = [...]string{
	"", "Janvier", "Février", "Mars", "Avril", "Mai", "Juin",
	"Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre",
}

// Task describes one search URL together with the metadata needed to decide
// how to subdivide it further.
type Task struct {
	URL               string
	Rectangle         geodivider.Rectangle
	Period            string // "Mois AAAA"
	PropertyTypes     []string
	PropertyTypeGroup string // "all" | "apartment" | "house" | "other"
	SubdivisionLevel  int    // 0, 1, 2, 3, ...
	ProgressiveLevel  int    // meaningful once SubdivisionLevel >= 2
	MinPrice          *int
	MaxPrice          *int
}

const baseURL = "https://www.immo-data.fr/explorateur/transaction/recherche"

// Generator builds the level-0 (initial) URL set: one URL per
// (rectangle, month), all requested property types combined.
type Generator struct {
	BaseURL string
}

func NewGenerator() *Generator {
	return &Generator{BaseURL: baseURL}
}

// Period is a (month, year) the site's month/year filters address.
type Period struct {
	Month int
	Year  int
}

// MonthRange expands a monthly range, inclusive of both start and end.
func MonthRange(startYear, startMonth, endYear, endMonth int) []Period {
	var periods []Period
	y, m := startYear, startMonth
	for y < endYear || (y == endYear && m <= endMonth) {
		periods = append(periods, Period{Month: m, Year: y})
		m++
		if m > 12 {
			m = 1
			y++
		}
	}
	return periods
}

func (p Period) label() string {
	return fmt.Sprintf("%s %d", monthNamesFR[p.Month], p.Year)
}

// GenerateInitial produces the level-0 URL set: rectangles × months, with
// every requested property type combined into a single URL.
func (g *Generator) GenerateInitial(rectangles []geodivider.Rectangle, propertyTypes []string, periods []Period) []Task {
	valid := make([]string, 0, len(propertyTypes))
	for _, pt := range propertyTypes {
		if _, ok := propertyTypeCodes[pt]; ok {
			valid = append(valid, pt)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	tasks := make([]Task, 0, len(rectangles)*len(periods))
	for _, rect := range rectangles {
		for _, period := range periods {
			periodLabel := period.label()
			t := Task{
				Rectangle:         rect,
				Period:            periodLabel,
				PropertyTypes:     append([]string(nil), valid...),
				PropertyTypeGroup: "all",
				SubdivisionLevel:  0,
			}
			t.URL = g.buildURL(t)
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (g *Generator) buildURL(t Task) string {
	base := g.BaseURL
	if base == "" {
		base = baseURL
	}
	codes := make([]string, 0, len(t.PropertyTypes))
	for _, pt := range t.PropertyTypes {
		codes = append(codes, propertyTypeCodes[pt])
	}
	v := url.Values{}
	v.Set("center", fmt.Sprintf("%g;%g", t.Rectangle.CenterLon, t.Rectangle.CenterLat))
	v.Set("zoom", fmt.Sprintf("%d", t.Rectangle.Zoom))
	v.Set("propertytypes", joinComma(codes))
	v.Set("minmonthyear", t.Period)
	v.Set("maxmonthyear", t.Period)
	if t.MinPrice != nil {
		v.Set("minprice", fmt.Sprintf("%d", *t.MinPrice))
	}
	if t.MaxPrice != nil {
		v.Set("maxprice", fmt.Sprintf("%d", *t.MaxPrice))
	}
	return base + "?" + v.Encode()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// typeGroups is the fixed level-0 -> level-1 partition (spec.md §4.B).
var typeGroups = []struct {
	label string
	types []string
}{
	{"apartment", []string{"apartment"}},
	{"house", []string{"house"}},
	{"other", []string{"land", "commercial", "other"}},
}

type cacheEntry struct {
	key          string
	level        int
	successCount int
}

// Subdivider tracks the success-memoising cache and performs adaptive
// subdivision decisions. Safe for concurrent use.
type Subdivider struct {
	gen *Generator

	mu      sync.Mutex
	entries map[string]*list.Element // key -> LRU element
	order   *list.List               // front = most recently touched
	maxSize int
}

func NewSubdivider(gen *Generator) *Subdivider {
	return &Subdivider{
		gen:     gen,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: 1000,
	}
}

func cacheKey(t Task) string {
	return fmt.Sprintf("%.3f,%.3f|%s|%s", t.Rectangle.CenterLon, t.Rectangle.CenterLat, t.Period, t.PropertyTypeGroup)
}

func (s *Subdivider) lookup(key string) *cacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if !ok {
		return nil
	}
	s.order.MoveToFront(el)
	entry := el.Value.(*cacheEntry)
	copyEntry := *entry
	return &copyEntry
}

func (s *Subdivider) record(key string, level int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.level = level
		entry.successCount++
		s.order.MoveToFront(el)
		return
	}

	entry := &cacheEntry{key: key, level: level, successCount: 1}
	el := s.order.PushFront(entry)
	s.entries[key] = el

	for len(s.entries) > s.maxSize {
		back := s.order.Back()
		if back == nil {
			break
		}
		s.order.Remove(back)
		delete(s.entries, back.Value.(*cacheEntry).key)
	}
}

// NeedsSubdivision reports whether a fetched page must be subdivided.
func NeedsSubdivision(cardCount int) bool {
	return cardCount >= subdivisionThreshold
}

// Subdivide returns the child tasks replacing t, given the observed card
// count and (optionally) a sample of prices from the fetched page used to
// pick percentile split points. Returns nil if no subdivision is needed.
func (s *Subdivider) Subdivide(t Task, cardCount int, samplePrices []int) []Task {
	if !NeedsSubdivision(cardCount) {
		s.record(cacheKey(t), 0)
		return nil
	}

	key := cacheKey(t)
	if cached := s.lookup(key); cached != nil && cached.successCount >= 2 {
		if cached.level == 1 && t.SubdivisionLevel == 0 && len(t.PropertyTypes) > 1 {
			return s.subdivideByType(t)
		}
		if cached.level >= 2 && t.SubdivisionLevel <= 1 {
			return s.subdivideByPrice(t, samplePrices, 1)
		}
	}

	switch {
	case t.SubdivisionLevel == 0:
		if len(t.PropertyTypes) > 1 {
			children := s.subdivideByType(t)
			s.record(key, 1)
			return children
		}
		children := s.subdivideByPrice(t, samplePrices, 1)
		s.record(key, 2)
		return children
	case t.SubdivisionLevel == 1:
		children := s.subdivideByPrice(t, samplePrices, 1)
		s.record(key, 2)
		return children
	default:
		nextProgressive := t.ProgressiveLevel + 1
		children := s.subdivideByPrice(t, samplePrices, nextProgressive)
		s.record(key, t.SubdivisionLevel+1)
		return children
	}
}

func (s *Subdivider) subdivideByType(t Task) []Task {
	var children []Task
	for _, group := range typeGroups {
		var valid []string
		for _, want := range group.types {
			for _, have := range t.PropertyTypes {
				if have == want {
					valid = append(valid, want)
				}
			}
		}
		if len(valid) == 0 {
			continue
		}
		child := Task{
			Rectangle:         t.Rectangle,
			Period:            t.Period,
			PropertyTypes:     valid,
			PropertyTypeGroup: group.label,
			SubdivisionLevel:  1,
		}
		child.URL = s.gen.buildURL(child)
		children = append(children, child)
	}
	return children
}

// numDivisions applies spec.md §4.B's rule: start with 2^progressiveLevel,
// then adjust up or down so each division holds roughly 50-99 properties
// (thresholdOptimalMin-thresholdMin), clamped to [2, 8].
func numDivisions(progressiveLevel int, total int) int {
	const thresholdOptimalMin = 50
	const thresholdMin = 99

	start := 1 << progressiveLevel // 2^level
	if start < 1 {
		start = 1
	}

	estimatedPerDivision := total / start
	switch {
	case estimatedPerDivision < thresholdOptimalMin:
		divisions := total / thresholdOptimalMin
		if divisions < 2 {
			divisions = 2
		}
		if divisions > 8 {
			divisions = 8
		}
		return divisions
	case estimatedPerDivision > thresholdMin:
		divisions := total/thresholdOptimalMin + 1
		if divisions > 8 {
			divisions = 8
		}
		return divisions
	default:
		return start
	}
}

func (s *Subdivider) subdivideByPrice(t Task, samplePrices []int, progressiveLevel int) []Task {
	minPrice := 0
	if t.MinPrice != nil {
		minPrice = *t.MinPrice
	}
	maxPrice := globalMaxPrice
	if t.MaxPrice != nil {
		maxPrice = *t.MaxPrice
	}

	total := len(samplePrices)
	divisionTotal := total
	if divisionTotal < 1 {
		divisionTotal = 1
	}
	divisions := numDivisions(progressiveLevel, divisionTotal)

	// Force a minimum 1000€ step when the range is very tight (boundary
	// behaviour: two children emitted, not zero).
	if maxPrice-minPrice < 5000 {
		step := 2500
		if maxPrice-minPrice < 1000 {
			step = 1000
		}
		mid := minPrice + step
		bounds := []int{minPrice, mid, maxPrice}
		return s.priceChildren(t, bounds, progressiveLevel)
	}

	var bounds []int
	if total >= 20 && divisions <= 4 {
		bounds = percentileBounds(samplePrices, minPrice, maxPrice, divisions)
	} else {
		bounds = arithmeticBounds(minPrice, maxPrice, divisions)
	}

	return s.priceChildren(t, bounds, progressiveLevel)
}

func percentileBounds(prices []int, minPrice, maxPrice, divisions int) []int {
	sorted := append([]int(nil), prices...)
	sort.Ints(sorted)

	bounds := make([]int, 0, divisions+1)
	bounds = append(bounds, minPrice)
	for i := 1; i < divisions; i++ {
		idx := int(float64(i) / float64(divisions) * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		bounds = append(bounds, sorted[idx])
	}
	bounds = append(bounds, maxPrice)
	return bounds
}

func arithmeticBounds(minPrice, maxPrice, divisions int) []int {
	bounds := make([]int, 0, divisions+1)
	step := float64(maxPrice-minPrice) / float64(divisions)
	for i := 0; i <= divisions; i++ {
		bounds = append(bounds, minPrice+int(float64(i)*step))
	}
	bounds[len(bounds)-1] = maxPrice
	return bounds
}

// priceChildren turns a sorted list of N+1 bounds into N child Tasks,
// forcing a 1€ separation on degenerate (equal-bound) ranges and pinning
// the final upper bound to the parent's MaxPrice, or to the global cap when
// the parent has no MaxPrice (or one above the cap).
func (s *Subdivider) priceChildren(t Task, bounds []int, progressiveLevel int) []Task {
	children := make([]Task, 0, len(bounds)-1)
	for i := 0; i < len(bounds)-1; i++ {
		lo, hi := bounds[i], bounds[i+1]
		if hi-lo < 1 {
			hi = lo + 1
		}
		if i == len(bounds)-2 {
			hi = globalMaxPrice
			if t.MaxPrice != nil && *t.MaxPrice < globalMaxPrice {
				hi = *t.MaxPrice
			}
		}
		loCopy, hiCopy := lo, hi
		child := Task{
			Rectangle:         t.Rectangle,
			Period:            t.Period,
			PropertyTypes:     t.PropertyTypes,
			PropertyTypeGroup: t.PropertyTypeGroup,
			SubdivisionLevel:  t.SubdivisionLevel + 1,
			ProgressiveLevel:  progressiveLevel,
			MinPrice:          &loCopy,
			MaxPrice:          &hiCopy,
		}
		child.URL = s.gen.buildURL(child)
		children = append(children, child)
	}
	return children
}

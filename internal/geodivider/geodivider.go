// Package geodivider splits a city into overlapping geographic rectangles
// sized for the listings site's zoom-12 viewport (spec.md §4.A). Grounded on
// original_source/trackimmo/modules/scraper/geo_divider.py for the viewport
// dimensions and overlap percentage.
package geodivider

import "math"

const (
	rectangleWidthKm  = 17.0
	rectangleHeightKm = 14.0
	zoomLevel         = 12
	defaultOverlapPct = 10.0
	kmPerDegreeLat    = 110.574
)

// Rectangle is one tile of a city's geographic coverage.
type Rectangle struct {
	CenterLat float64
	CenterLon float64
	MinLat    float64
	MinLon    float64
	MaxLat    float64
	MaxLon    float64
	Zoom      int
}

// BoundingBox is a city's extent as reported by the address API, or a
// synthesised fallback square around its centroid.
type BoundingBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// Divider computes rectangle tilings. Stateless and safe for concurrent use.
type Divider struct {
	OverlapPercent float64
}

// New returns a Divider configured with the default 10% overlap.
func New() *Divider {
	return &Divider{OverlapPercent: defaultOverlapPct}
}

// kmPerDegreeLon returns the km-per-degree-longitude at a given latitude,
// scaled by cos(latitude) per spec.md §4.A.
func kmPerDegreeLon(latDeg float64) float64 {
	return kmPerDegreeLat * math.Cos(latDeg*math.Pi/180)
}

// FallbackBoundingBox synthesises a ±1km square around a centroid when the
// address API has no bounding box for the city.
func FallbackBoundingBox(centerLat, centerLon float64) BoundingBox {
	dLat := 1.0 / kmPerDegreeLat
	dLon := 1.0 / kmPerDegreeLon(centerLat)
	return BoundingBox{
		MinLat: centerLat - dLat,
		MaxLat: centerLat + dLat,
		MinLon: centerLon - dLon,
		MaxLon: centerLon + dLon,
	}
}

// Divide tiles a bounding box into overlapping Rectangles sized for the
// zoom-12 viewport. Always returns at least one rectangle.
func (d *Divider) Divide(bbox BoundingBox) []Rectangle {
	overlap := d.OverlapPercent
	if overlap <= 0 {
		overlap = defaultOverlapPct
	}

	centerLat := (bbox.MinLat + bbox.MaxLat) / 2
	lonPerDeg := kmPerDegreeLon(centerLat)
	if lonPerDeg <= 0 {
		lonPerDeg = kmPerDegreeLon(0.1) // avoid division by zero near the poles
	}

	rectHeightDeg := rectangleHeightKm / kmPerDegreeLat
	rectWidthDeg := rectangleWidthKm / lonPerDeg

	stepLat := rectHeightDeg * (1 - overlap/100)
	stepLon := rectWidthDeg * (1 - overlap/100)
	if stepLat <= 0 {
		stepLat = rectHeightDeg
	}
	if stepLon <= 0 {
		stepLon = rectWidthDeg
	}

	latSpan := bbox.MaxLat - bbox.MinLat
	lonSpan := bbox.MaxLon - bbox.MinLon

	nLat := int(math.Ceil(latSpan/stepLat)) + 1
	nLon := int(math.Ceil(lonSpan/stepLon)) + 1
	if nLat < 1 {
		nLat = 1
	}
	if nLon < 1 {
		nLon = 1
	}

	rectangles := make([]Rectangle, 0, nLat*nLon)
	for i := 0; i < nLat; i++ {
		centerLat := bbox.MinLat + rectHeightDeg/2 + float64(i)*stepLat
		for j := 0; j < nLon; j++ {
			centerLon := bbox.MinLon + rectWidthDeg/2 + float64(j)*stepLon
			rectangles = append(rectangles, Rectangle{
				CenterLat: centerLat,
				CenterLon: centerLon,
				MinLat:    centerLat - rectHeightDeg/2,
				MaxLat:    centerLat + rectHeightDeg/2,
				MinLon:    centerLon - rectWidthDeg/2,
				MaxLon:    centerLon + rectWidthDeg/2,
				Zoom:      zoomLevel,
			})
		}
	}

	return rectangles
}

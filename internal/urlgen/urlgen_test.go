package urlgen

import (
	"testing"

	"trackimmo/internal/geodivider"
)

func sampleRect() geodivider.Rectangle {
	return geodivider.Rectangle{CenterLat: 48.85, CenterLon: 2.35, Zoom: 12}
}

func TestGenerateInitialOneURLPerRectangleAndMonth(t *testing.T) {
	gen := NewGenerator()
	rects := []geodivider.Rectangle{sampleRect(), sampleRect()}
	periods := MonthRange(2023, 1, 2023, 3)
	tasks := gen.GenerateInitial(rects, []string{"house", "apartment"}, periods)
	if len(tasks) != len(rects)*len(periods) {
		t.Fatalf("expected %d tasks, got %d", len(rects)*len(periods), len(tasks))
	}
	for _, task := range tasks {
		if task.SubdivisionLevel != 0 {
			t.Errorf("expected level 0, got %d", task.SubdivisionLevel)
		}
	}
}

func TestSubdivideBelowThresholdNoSubdivision(t *testing.T) {
	gen := NewGenerator()
	sub := NewSubdivider(gen)
	task := gen.GenerateInitial([]geodivider.Rectangle{sampleRect()}, []string{"house"}, MonthRange(2023, 1, 2023, 1))[0]
	children := sub.Subdivide(task, 40, nil)
	if children != nil {
		t.Fatalf("expected no subdivision below threshold, got %d children", len(children))
	}
}

func TestSubdivideAtThresholdEmitsAtLeastTwoChildren(t *testing.T) {
	gen := NewGenerator()
	sub := NewSubdivider(gen)
	task := gen.GenerateInitial([]geodivider.Rectangle{sampleRect()}, []string{"house", "apartment"}, MonthRange(2023, 1, 2023, 1))[0]
	children := sub.Subdivide(task, 101, nil)
	if len(children) < 2 {
		t.Fatalf("expected >= 2 children at threshold, got %d", len(children))
	}
}

func TestSubdivideSingleTypeGoesStraightToPriceSplit(t *testing.T) {
	gen := NewGenerator()
	sub := NewSubdivider(gen)
	task := gen.GenerateInitial([]geodivider.Rectangle{sampleRect()}, []string{"house"}, MonthRange(2023, 1, 2023, 1))[0]
	children := sub.Subdivide(task, 150, nil)
	if len(children) < 2 {
		t.Fatalf("expected price-split children, got %d", len(children))
	}
	for _, c := range children {
		if c.MinPrice == nil || c.MaxPrice == nil {
			t.Errorf("expected price bounds on subdivided child")
		}
	}
}

func TestTightPriceRangeForcesMinimumStep(t *testing.T) {
	gen := NewGenerator()
	sub := NewSubdivider(gen)
	lo, hi := 100000, 103000 // < 5000 span
	task := Task{
		Rectangle:         sampleRect(),
		Period:            "Janvier 2023",
		PropertyTypes:     []string{"house"},
		PropertyTypeGroup: "house",
		SubdivisionLevel:  1,
		MinPrice:          &lo,
		MaxPrice:          &hi,
	}
	children := sub.subdivideByPrice(task, nil, 2)
	if len(children) != 2 {
		t.Fatalf("expected exactly 2 children for a tight range, got %d", len(children))
	}
}

func TestFinalRangeUpperBoundIsGlobalCap(t *testing.T) {
	gen := NewGenerator()
	sub := NewSubdivider(gen)
	task := gen.GenerateInitial([]geodivider.Rectangle{sampleRect()}, []string{"house"}, MonthRange(2023, 1, 2023, 1))[0]
	children := sub.Subdivide(task, 150, nil)
	last := children[len(children)-1]
	if last.MaxPrice == nil || *last.MaxPrice != globalMaxPrice {
		t.Errorf("expected final child max price to be the global cap, got %+v", last.MaxPrice)
	}
}

func TestNumDivisionsKeepsBaseWhenWithinThresholds(t *testing.T) {
	// progressiveLevel=1 -> base 2 divisions; 150/2=75 properties per
	// division, within [50,99], so the base is kept unchanged.
	if got := numDivisions(1, 150); got != 2 {
		t.Fatalf("expected base divisions of 2 to be kept, got %d", got)
	}
}

func TestNumDivisionsIncreasesWhenTooFewDivisions(t *testing.T) {
	// progressiveLevel=1 -> base 2; 400/2=200 per division, over the 99
	// ceiling, so divisions increase toward total/50.
	if got := numDivisions(1, 400); got != 8 {
		t.Fatalf("expected divisions to increase to 8, got %d", got)
	}
}

func TestNumDivisionsDecreasesWhenTooManyDivisions(t *testing.T) {
	// progressiveLevel=3 -> base 8; 160/8=20 per division, under the 50
	// floor, so divisions decrease toward total/50.
	if got := numDivisions(3, 160); got != 3 {
		t.Fatalf("expected divisions to decrease to 3, got %d", got)
	}
}

func TestNumDivisionsNeverGoesBelow2(t *testing.T) {
	if got := numDivisions(1, 10); got != 2 {
		t.Fatalf("expected a floor of 2 divisions, got %d", got)
	}
}

func TestCacheCountsTwoSubdivisionsOfSameTask(t *testing.T) {
	gen := NewGenerator()
	sub := NewSubdivider(gen)
	task := gen.GenerateInitial([]geodivider.Rectangle{sampleRect()}, []string{"house", "apartment"}, MonthRange(2023, 1, 2023, 1))[0]

	// First two subdivisions train the cache at level 1 (type split).
	sub.Subdivide(task, 101, nil)
	sub.Subdivide(task, 101, nil)

	cached := sub.lookup(cacheKey(task))
	if cached == nil || cached.successCount < 2 {
		t.Fatalf("expected cache entry with successCount >= 2, got %+v", cached)
	}
}

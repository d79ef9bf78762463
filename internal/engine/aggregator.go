package engine

import (
	"fmt"
	"math"
	"runtime"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/sync/errgroup"

	"playground/internal/bookworm"
)

// DefaultYearDim is the year column of every Bookworm database.
const DefaultYearDim = "date_year"

// maxYearSpan bounds the reconstructed year range so a bad window cannot
// allocate an unbounded grid.
const maxYearSpan = 10000

// YearWindow is the half-open year range [Min, Max).
type YearWindow struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether Min <= y < Max.
func (w YearWindow) Contains(y int) bool { return y >= w.Min && y < w.Max }

type DensifyOptions struct {
	CategoryDim string
	YearDim     string             // defaults to DefaultYearDim
	Count       bookworm.CountType // defaults to the table's first count type
	Series      string             // category name when CategoryDim is empty

	Window          *YearWindow // nil: the years present in the data
	SmoothingWindow int         // 0 disables smoothing
	LogTransform    bool
	CategoryFilter  []string
}

// Point is one (year, count) cell of a series. Smoothed is set only when
// smoothing was requested.
type Point struct {
	Year     int      `json:"year"`
	Count    float64  `json:"count"`
	Smoothed *float64 `json:"smoothed,omitempty"`
}

// Value is the smoothed count when present, else the raw count.
func (p Point) Value() float64 {
	if p.Smoothed != nil {
		return *p.Smoothed
	}
	return p.Count
}

type Series struct {
	Category string  `json:"category"`
	Points   []Point `json:"points"`
}

// DenseGrid is a gap-free category x year grid. Every series carries the
// same ascending Years.
type DenseGrid struct {
	CategoryDim string   `json:"category_dim"`
	Years       []int    `json:"years"`
	Series      []Series `json:"series"`
}

// Cell is a flattened grid record.
type Cell struct {
	Category string   `json:"category"`
	Year     int      `json:"year"`
	Count    float64  `json:"count"`
	Smoothed *float64 `json:"smoothed,omitempty"`
}

func (g *DenseGrid) Empty() bool { return len(g.Series) == 0 }

// Lookup returns the series for category.
func (g *DenseGrid) Lookup(category string) (Series, bool) {
	for _, s := range g.Series {
		if s.Category == category {
			return s, true
		}
	}
	return Series{}, false
}

// Cells flattens the grid, category-major.
func (g *DenseGrid) Cells() []Cell {
	out := make([]Cell, 0, len(g.Series)*len(g.Years))
	for _, s := range g.Series {
		for _, p := range s.Points {
			out = append(out, Cell{Category: s.Category, Year: p.Year, Count: p.Count, Smoothed: p.Smoothed})
		}
	}
	return out
}

// Densify turns a sparse (category, year, count) result into a DenseGrid.
//
// Counts are log-transformed (ln(c+1)) before zero-filling, so filled cells
// stay 0. The reconstructed range covers the data and the window; smoothing
// runs over that whole range and the output is then cut to the window.
// Categories keep their first-appearance order and a category with no rows
// inside the output range is left out.
func Densify(t *bookworm.ResultTable, opts DensifyOptions) (*DenseGrid, error) {
	if opts.YearDim == "" {
		opts.YearDim = DefaultYearDim
	}
	if w := opts.Window; w != nil && (w.Max <= w.Min || w.Max-w.Min > maxYearSpan) {
		return nil, fmt.Errorf("densify: bad year window [%d, %d)", w.Min, w.Max)
	}
	grid := &DenseGrid{CategoryDim: opts.CategoryDim}
	if t == nil || len(t.Rows) == 0 {
		return grid, nil
	}

	count := opts.Count
	if count == "" {
		if len(t.CountTypes) == 0 {
			return nil, &MalformedDataError{Field: "counttype", Reason: "table has no count columns"}
		}
		count = t.CountTypes[0]
	}

	// 1. Columns (year coercion happens here)
	cs, err := LoadColumnar(t, opts.CategoryDim, opts.YearDim, count, opts.Series)
	if err != nil {
		return nil, err
	}

	// 2. Log transform on the raw values only
	if opts.LogTransform {
		for i, c := range cs.Counts {
			cs.Counts[i] = math.Log1p(c)
		}
	}

	// 3. Allow-list
	if len(opts.CategoryFilter) > 0 {
		allow := make(map[string]bool, len(opts.CategoryFilter))
		for _, c := range opts.CategoryFilter {
			allow[c] = true
		}
		cs = cs.Retain(allow)
	}

	// 4. Year range
	lo, hi, ok := cs.YearRange()
	if !ok {
		return grid, nil
	}
	outLo, outHi := int(lo), int(hi)
	if w := opts.Window; w != nil {
		outLo, outHi = w.Min, w.Max-1
		if w.Min < int(lo) {
			lo = int32(w.Min)
		}
		if w.Max-1 > int(hi) {
			hi = int32(w.Max - 1)
		}
	}
	if int(hi-lo) >= maxYearSpan {
		return nil, &MalformedDataError{Field: opts.YearDim, Reason: fmt.Sprintf("year range %d-%d too wide", lo, hi)}
	}

	// 5. THE MATRIX: Flattened [Category][Year] -> [Category * numYears + Year - lo]
	numYears := int(hi-lo) + 1
	numCats := len(cs.CategoryDict)
	matrix := make([]float64, numCats*numYears)
	seen := make([]bool, numCats*numYears)
	for j, y := range cs.Years {
		idx := int(cs.CategoryIDs[j])*numYears + int(y-lo)
		matrix[idx] += cs.Counts[j]
		seen[idx] = true
	}

	// 6. Smoothing, one category per task
	var smoothed []float64
	if k := opts.SmoothingWindow; k > 0 {
		smoothed = make([]float64, len(matrix))
		var g errgroup.Group
		g.SetLimit(runtime.NumCPU())
		for c := 0; c < numCats; c++ {
			s, e := c*numYears, (c+1)*numYears
			g.Go(func() error {
				trailingMean(matrix[s:e], smoothed[s:e], k)
				return nil
			})
		}
		_ = g.Wait()
	}

	// 7. Cut to the output range
	first, last := outLo-int(lo), outHi-int(lo)
	for c := 0; c < numCats; c++ {
		base := c * numYears
		present := false
		for i := first; i <= last; i++ {
			if seen[base+i] {
				present = true
				break
			}
		}
		if !present {
			continue
		}
		s := Series{Category: cs.CategoryDict[c], Points: make([]Point, 0, last-first+1)}
		for i := first; i <= last; i++ {
			p := Point{Year: int(lo) + i, Count: matrix[base+i]}
			if smoothed != nil {
				v := smoothed[base+i]
				p.Smoothed = &v
			}
			s.Points = append(s.Points, p)
		}
		grid.Series = append(grid.Series, s)
	}
	if len(grid.Series) > 0 {
		grid.Years = make([]int, 0, last-first+1)
		for y := outLo; y <= outHi; y++ {
			grid.Years = append(grid.Years, y)
		}
	}
	return grid, nil
}

// trailingMean writes the mean of raw[i-k+1 : i+1] into out[i]; the window
// narrows at the start of the series.
func trailingMean(raw, out []float64, k int) {
	for i := range raw {
		lo := i - k + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = stats.Mean(raw[lo : i+1])
	}
}

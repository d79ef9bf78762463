package engine

import (
	"math"
	"strconv"
	"strings"

	"playground/internal/bookworm"
)

// parseYear parses "1999", "1999.0" or "1999.7" -> 1999.
func parseYear(s string) (int32, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int32(f), true
}

// LoadColumnar pulls the category, year and count columns out of t.
// With an empty categoryDim every row lands in a single category called
// series. A year that is not a number rejects the whole table.
func LoadColumnar(t *bookworm.ResultTable, categoryDim, yearDim string, count bookworm.CountType, series string) (*ColumnStore, error) {
	catIdx := -1
	if categoryDim != "" {
		if catIdx = t.GroupIndex(categoryDim); catIdx < 0 {
			return nil, &MalformedDataError{Field: categoryDim, Reason: "column missing"}
		}
	}
	yearIdx := t.GroupIndex(yearDim)
	if yearIdx < 0 {
		return nil, &MalformedDataError{Field: yearDim, Reason: "column missing"}
	}
	countIdx := t.CountIndex(count)
	if countIdx < 0 {
		return nil, &MalformedDataError{Field: string(count), Reason: "count column missing"}
	}

	n := len(t.Rows)
	store := &ColumnStore{
		Years:       make([]int32, n),
		Counts:      make([]float64, n),
		CategoryIDs: make([]int32, n),
	}
	dict := make(map[string]int32)
	if catIdx < 0 {
		dict[series] = 0
		store.CategoryDict = []string{series}
	}

	for row, r := range t.Rows {
		if len(r.Groups) <= yearIdx || len(r.Counts) <= countIdx || (catIdx >= 0 && len(r.Groups) <= catIdx) {
			return nil, &MalformedDataError{Field: yearDim, Reason: "short row at " + strconv.Itoa(row)}
		}
		y, ok := parseYear(r.Groups[yearIdx])
		if !ok {
			return nil, &MalformedDataError{Field: yearDim, Value: r.Groups[yearIdx], Reason: "is not a year"}
		}
		store.Years[row] = y
		store.Counts[row] = r.Counts[countIdx]

		if catIdx < 0 {
			continue
		}
		s := r.Groups[catIdx]
		id, ok := dict[s]
		if !ok {
			id = int32(len(store.CategoryDict))
			store.CategoryDict = append(store.CategoryDict, s)
			dict[s] = id
		}
		store.CategoryIDs[row] = id
	}
	return store, nil
}

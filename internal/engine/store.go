package engine

// ColumnStore holds one (category, year, count) slice of a result table in
// Struct-of-Arrays format.
type ColumnStore struct {
	// Data Columns (Flat Arrays)
	Years  []int32
	Counts []float64

	// Dictionary Encoded IDs (0..N), assigned in order of first appearance
	CategoryIDs []int32

	// Dictionary (ID -> String)
	CategoryDict []string
}

// Len is the number of rows.
func (cs *ColumnStore) Len() int { return len(cs.Years) }

// YearRange returns the smallest and largest year. ok is false when the
// store is empty.
func (cs *ColumnStore) YearRange() (lo, hi int32, ok bool) {
	if len(cs.Years) == 0 {
		return 0, 0, false
	}
	lo, hi = cs.Years[0], cs.Years[0]
	for _, y := range cs.Years[1:] {
		if y < lo {
			lo = y
		}
		if y > hi {
			hi = y
		}
	}
	return lo, hi, true
}

// Retain keeps only rows whose category is in allow, re-encoding the
// dictionary so IDs stay dense and in first-appearance order.
func (cs *ColumnStore) Retain(allow map[string]bool) *ColumnStore {
	out := &ColumnStore{}
	remap := make([]int32, len(cs.CategoryDict))
	for i := range remap {
		remap[i] = -1
	}
	for j, cid := range cs.CategoryIDs {
		if !allow[cs.CategoryDict[cid]] {
			continue
		}
		if remap[cid] < 0 {
			remap[cid] = int32(len(out.CategoryDict))
			out.CategoryDict = append(out.CategoryDict, cs.CategoryDict[cid])
		}
		out.CategoryIDs = append(out.CategoryIDs, remap[cid])
		out.Years = append(out.Years, cs.Years[j])
		out.Counts = append(out.Counts, cs.Counts[j])
	}
	return out
}

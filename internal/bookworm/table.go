package bookworm

import "strings"

// Row is one realized combination of group values and its counts.
// Groups lines up with ResultTable.Groups, Counts with ResultTable.CountTypes.
type Row struct {
	Groups []string
	Counts []float64
}

// ResultTable is what a data query returns. Tables handed out by a cache
// are shared: treat them as read-only and derive new tables instead.
type ResultTable struct {
	Groups     []string
	CountTypes []CountType
	Rows       []Row
}

// GroupIndex returns the column of group name, or -1.
func (t *ResultTable) GroupIndex(name string) int {
	name = ColumnName(name)
	for i, g := range t.Groups {
		if g == name {
			return i
		}
	}
	return -1
}

// CountIndex returns the column of count type c, or -1.
func (t *ResultTable) CountIndex(c CountType) int {
	for i, ct := range t.CountTypes {
		if ct == c {
			return i
		}
	}
	return -1
}

// IsUnknown reports whether v is Bookworm's placeholder for a missing value.
func IsUnknown(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "unknown")
}

// DropUnknowns returns a copy of t without rows holding a placeholder in
// any group column.
func (t *ResultTable) DropUnknowns() *ResultTable {
	return t.Filter(func(r Row) bool {
		for _, g := range r.Groups {
			if IsUnknown(g) {
				return false
			}
		}
		return true
	})
}

// Filter returns a copy of t holding only the rows keep accepts.
func (t *ResultTable) Filter(keep func(Row) bool) *ResultTable {
	out := &ResultTable{
		Groups:     t.Groups,
		CountTypes: t.CountTypes,
		Rows:       make([]Row, 0, len(t.Rows)),
	}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// MapColumn returns a copy of t with fn applied to every value of the
// named group column. Other columns are shared with t.
func (t *ResultTable) MapColumn(name string, fn func(string) string) *ResultTable {
	idx := t.GroupIndex(name)
	out := &ResultTable{
		Groups:     t.Groups,
		CountTypes: t.CountTypes,
		Rows:       make([]Row, len(t.Rows)),
	}
	copy(out.Rows, t.Rows)
	if idx < 0 {
		return out
	}
	for i, r := range out.Rows {
		groups := append([]string(nil), r.Groups...)
		groups[idx] = fn(groups[idx])
		out.Rows[i].Groups = groups
	}
	return out
}

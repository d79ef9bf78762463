package bookworm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// CountType selects the quantity Bookworm aggregates.
type CountType string

const (
	TextCount       CountType = "TextCount"
	WordCount       CountType = "WordCount"
	WordsPerMillion CountType = "WordsPerMillion"
)

// Valid reports whether c is one of the count types the API understands.
func (c CountType) Valid() bool {
	switch c {
	case TextCount, WordCount, WordsPerMillion:
		return true
	}
	return false
}

// Op is a restriction operator.
type Op string

const (
	OpIn  Op = "in"
	OpLT  Op = "$lt"
	OpLTE Op = "$lte"
	OpGT  Op = "$gt"
	OpGTE Op = "$gte"
)

// Restriction limits one field of the corpus. OpIn uses Values, the
// comparison operators use Number.
type Restriction struct {
	Field  string
	Op     Op
	Values []string
	Number float64
}

// In restricts field to any of values.
func In(field string, values ...string) Restriction {
	return Restriction{Field: field, Op: OpIn, Values: values}
}

// Cmp restricts field with a numeric comparison.
func Cmp(field string, op Op, n float64) Restriction {
	return Restriction{Field: field, Op: op, Number: n}
}

func (r Restriction) key() string {
	if r.Op == OpIn {
		vals := append([]string(nil), r.Values...)
		sort.Strings(vals)
		for i, v := range vals {
			vals[i] = strconv.Quote(v)
		}
		return r.Field + " in [" + strings.Join(vals, ",") + "]"
	}
	return r.Field + " " + string(r.Op) + " " + strconv.FormatFloat(r.Number, 'g', -1, 64)
}

const (
	MethodData   = "data"
	MethodSearch = "search_results"
	MethodFields = "returnPossibleFields"
)

// Values for Query.Collation.
const (
	CaseSensitive   = "case_sensitive"
	CaseInsensitive = "case_insensitive"
)

// Query is a single request to the counting API. A Query is a value:
// build a fresh one per call and never modify it after handing it to a
// cache or client.
type Query struct {
	Method     string
	Groups     []string
	CountTypes []CountType
	Limits     []Restriction
	Collation  string
}

// Key is the canonical form of q. Two queries with equal keys request the
// same data: group order is significant, restriction order and the order of
// values inside a set are not.
func (q Query) Key() string {
	var b strings.Builder
	method := q.Method
	if method == "" {
		method = MethodData
	}
	b.WriteString(method)
	b.WriteString("|groups=")
	b.WriteString(strings.Join(q.Groups, ","))
	b.WriteString("|counttype=")
	for i, c := range q.CountTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(c))
	}
	limits := make([]string, len(q.Limits))
	for i, r := range q.Limits {
		limits[i] = r.key()
	}
	sort.Strings(limits)
	b.WriteString("|limits=")
	b.WriteString(strings.Join(limits, ";"))
	if q.Collation != "" {
		b.WriteString("|collation=")
		b.WriteString(q.Collation)
	}
	return b.String()
}

// Fingerprint is a short hash of Key, used to correlate log lines.
func (q Query) Fingerprint() string {
	return fmt.Sprintf("%016x", xxh3.HashString(q.Key()))
}

// searchLimits renders the restrictions in Bookworm's search_limits shape.
// Every restriction on a field is merged so the request matches Key:
// comparisons share one object, set restrictions on the same field
// intersect, and a set next to comparisons becomes "$in" in that object.
func (q Query) searchLimits() map[string]any {
	sets := make(map[string][]string)
	cmps := make(map[string]map[string]any)
	var fields []string
	for _, r := range q.Limits {
		if _, ok := sets[r.Field]; !ok {
			if _, ok := cmps[r.Field]; !ok {
				fields = append(fields, r.Field)
			}
		}
		if r.Op == OpIn {
			if prev, ok := sets[r.Field]; ok {
				sets[r.Field] = intersect(prev, r.Values)
			} else {
				sets[r.Field] = append([]string{}, r.Values...)
			}
			continue
		}
		if cmps[r.Field] == nil {
			cmps[r.Field] = make(map[string]any)
		}
		cmps[r.Field][string(r.Op)] = r.Number
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		set, hasSet := sets[f]
		cmp, hasCmp := cmps[f]
		switch {
		case hasSet && hasCmp:
			cmp["$in"] = set
			out[f] = cmp
		case hasCmp:
			out[f] = cmp
		default:
			out[f] = set
		}
	}
	return out
}

// intersect keeps the values of a that are also in b, in a's order.
func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, v := range b {
		in[v] = true
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if in[v] {
			out = append(out, v)
		}
	}
	return out
}

// ColumnName strips Bookworm's "*" group prefix.
func ColumnName(group string) string {
	return strings.TrimPrefix(group, "*")
}

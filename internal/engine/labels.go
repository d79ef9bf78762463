package engine

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// LabelMap is facet -> (raw code -> human label).
type LabelMap map[string]map[string]string

// LabelMapper translates coded facet values to labels and back. It is
// read-only after construction.
//
// Several codes can share one label (the language table has two codes
// labelled "Serbian"). ToCode then returns the lexicographically smallest
// of them, so the answer does not depend on file or map order.
type LabelMapper struct {
	forward LabelMap
	reverse LabelMap
	equiv   LabelMap
}

// NewLabelMapper builds a mapper from a code->label table and an optional
// label->query-value equivalence table (genre/language URIs).
func NewLabelMapper(labels, equivalences LabelMap) *LabelMapper {
	m := &LabelMapper{
		forward: labels,
		reverse: make(LabelMap, len(labels)),
		equiv:   equivalences,
	}
	for facet, codes := range labels {
		rev := make(map[string]string, len(codes))
		for code, label := range codes {
			if prev, ok := rev[label]; !ok || code < prev {
				rev[label] = code
			}
		}
		m.reverse[facet] = rev
	}
	return m
}

// LoadLabelMap reads a {facet: {key: value}} JSON file. An empty path
// yields an empty map.
func LoadLabelMap(path string) (LabelMap, error) {
	if path == "" {
		return LabelMap{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("label map: %w", err)
	}
	var m LabelMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("label map %s: %w", path, err)
	}
	if m == nil {
		m = LabelMap{}
	}
	return m, nil
}

// ToLabel returns the label for code, or code itself when facet or code is
// unknown.
func (m *LabelMapper) ToLabel(facet, code string) string {
	if label, ok := m.forward[facet][code]; ok {
		return label
	}
	return code
}

// ToCode is the inverse of ToLabel, with the same pass-through rule.
func (m *LabelMapper) ToCode(facet, label string) string {
	if code, ok := m.reverse[facet][label]; ok {
		return code
	}
	return label
}

// QueryValue turns a display label picked in the UI into a value usable as
// a query restriction: the equivalence table wins, then the reverse label
// lookup, then the label itself.
func (m *LabelMapper) QueryValue(facet, label string) string {
	if v, ok := m.equiv[facet][label]; ok {
		return v
	}
	return m.ToCode(facet, label)
}

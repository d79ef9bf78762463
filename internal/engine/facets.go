package engine

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"playground/internal/bookworm"
	"playground/internal/models"
)

const (
	// internalFacet is a character field that makes no sense as a grouping.
	internalFacet = "is_gov_doc"

	DefaultValueLimit = 40
	DefaultLabelWidth = 20
	DefaultSelected   = 10
)

// codedFacets store opaque codes and need a LabelMapper for display.
var codedFacets = map[string]bool{
	"genres":                  true,
	"languages":               true,
	"digitization_agent_code": true,
	"format":                  true,
	"htsource":                true,
}

// IsCoded reports whether facet values are codes rather than display text.
func IsCoded(facet string) bool { return codedFacets[facet] }

// FieldLister enumerates the API's schema and the values of one field.
type FieldLister interface {
	Fields(ctx context.Context) ([]bookworm.Field, error)
	FieldValues(ctx context.Context, field string, limit int) ([]string, error)
}

// Pretty turns a field name into a heading: "lc_classes" -> "Lc Classes".
func Pretty(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// GroupableFacets keeps the categorical fields of schema, minus the
// internal-only one, labelled with Pretty.
func GroupableFacets(schema []bookworm.Field) []models.Option {
	out := make([]models.Option, 0, len(schema))
	for _, f := range schema {
		if f.Type != "character" || f.Name == internalFacet {
			continue
		}
		out = append(out, models.Option{Label: Pretty(f.Name), Value: f.Name})
	}
	return out
}

// Truncate shortens s to n runes plus an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// DefaultSelection is the first n option values.
func DefaultSelection(opts []models.Option, n int) []string {
	if n > len(opts) {
		n = len(opts)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = opts[i].Value
	}
	return out
}

type FacetOptions struct {
	lister FieldLister
	labels *LabelMapper
	width  int
}

func NewFacetOptions(lister FieldLister, labels *LabelMapper) *FacetOptions {
	return &FacetOptions{lister: lister, labels: labels, width: DefaultLabelWidth}
}

// ListGroupable fetches the schema and returns the groupable facets.
func (f *FacetOptions) ListGroupable(ctx context.Context) ([]models.Option, error) {
	schema, err := f.lister.Fields(ctx)
	if err != nil {
		return nil, err
	}
	return GroupableFacets(schema), nil
}

// ListValues returns up to limit non-blank values of facet. The value is
// the raw code; the label goes through the LabelMapper for coded facets and
// is truncated for display.
func (f *FacetOptions) ListValues(ctx context.Context, facet string, limit int) ([]models.Option, error) {
	if limit <= 0 {
		limit = DefaultValueLimit
	}
	values, err := f.lister.FieldValues(ctx, facet, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Option, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		label := v
		if IsCoded(facet) {
			label = f.labels.ToLabel(facet, v)
		}
		out = append(out, models.Option{Label: Truncate(label, f.width), Value: v})
	}
	return out, nil
}

// ValueSet is ListValues plus the default multi-select state.
func (f *FacetOptions) ValueSet(ctx context.Context, facet string, limit int) (models.OptionSet, error) {
	opts, err := f.ListValues(ctx, facet, limit)
	if err != nil {
		return models.OptionSet{}, err
	}
	return models.OptionSet{Options: opts, Selected: DefaultSelection(opts, DefaultSelected)}, nil
}

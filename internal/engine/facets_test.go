package engine

import (
	"context"
	"testing"

	"playground/internal/bookworm"
)

type fakeLister struct {
	fields []bookworm.Field
	values map[string][]string
	limit  int
}

func (f *fakeLister) Fields(ctx context.Context) ([]bookworm.Field, error) {
	return f.fields, nil
}

func (f *fakeLister) FieldValues(ctx context.Context, field string, limit int) ([]string, error) {
	f.limit = limit
	return f.values[field], nil
}

func TestPretty(t *testing.T) {
	for in, want := range map[string]string{
		"lc_classes":              "Lc Classes",
		"languages":               "Languages",
		"digitization_agent_code": "Digitization Agent Code",
	} {
		if got := Pretty(in); got != want {
			t.Errorf("Pretty(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGroupableFacets(t *testing.T) {
	opts := GroupableFacets([]bookworm.Field{
		{Name: "lc_classes", Type: "character"},
		{Name: "date_year", Type: "integer"},
		{Name: "is_gov_doc", Type: "character"},
		{Name: "languages", Type: "character"},
	})
	if len(opts) != 2 {
		t.Fatalf("Expected 2 options, got %+v", opts)
	}
	if opts[0].Label != "Lc Classes" || opts[0].Value != "lc_classes" || opts[1].Value != "languages" {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 20); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abcdefghijklmnopqrstuvwxyz", 20); got != "abcdefghijklmnopqrst…" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("ééééé", 3); got != "ééé…" {
		t.Errorf("multi-byte truncation: got %q", got)
	}
}

func TestListValues(t *testing.T) {
	lister := &fakeLister{values: map[string][]string{
		"languages":  {"eng", " ", "xyz", "ger"},
		"lc_classes": {"Language and Literature and More", "eng"},
	}}
	labels := NewLabelMapper(LabelMap{
		"languages":  {"eng": "English", "ger": "German"},
		"lc_classes": {"eng": "should not be used"},
	}, nil)
	f := NewFacetOptions(lister, labels)

	opts, err := f.ListValues(context.Background(), "languages", 0)
	if err != nil {
		t.Fatal(err)
	}
	if lister.limit != DefaultValueLimit {
		t.Errorf("Expected default limit %d, got %d", DefaultValueLimit, lister.limit)
	}
	if len(opts) != 3 {
		t.Fatalf("Blank value should be skipped: %+v", opts)
	}
	if opts[0].Label != "English" || opts[0].Value != "eng" || opts[1].Label != "xyz" {
		t.Errorf("Unexpected options %+v", opts)
	}

	opts, err = f.ListValues(context.Background(), "lc_classes", 40)
	if err != nil {
		t.Fatal(err)
	}
	if opts[0].Label != "Language and Literat…" {
		t.Errorf("Expected truncated label, got %q", opts[0].Label)
	}
	if opts[1].Label != "eng" {
		t.Errorf("Uncoded facet must not be mapped, got %q", opts[1].Label)
	}
}

func TestValueSetDefaultSelection(t *testing.T) {
	values := make([]string, 15)
	for i := range values {
		values[i] = string(rune('a' + i))
	}
	f := NewFacetOptions(&fakeLister{values: map[string][]string{"format": values}}, NewLabelMapper(nil, nil))
	set, err := f.ValueSet(context.Background(), "format", 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Options) != 15 || len(set.Selected) != DefaultSelected {
		t.Fatalf("Unexpected set: %d options, %d selected", len(set.Options), len(set.Selected))
	}
	if set.Selected[0] != "a" || set.Selected[9] != "j" {
		t.Errorf("Unexpected selection %v", set.Selected)
	}

	if got := DefaultSelection(set.Options[:3], DefaultSelected); len(got) != 3 {
		t.Errorf("Short lists select everything, got %v", got)
	}
}

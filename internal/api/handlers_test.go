package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"playground/internal/bookworm"
	"playground/internal/engine"
	"playground/internal/models"
)

type stubLister struct{}

func (stubLister) Fields(ctx context.Context) ([]bookworm.Field, error) { return nil, nil }

func (stubLister) FieldValues(ctx context.Context, field string, limit int) ([]string, error) {
	return []string{"eng", "fre"}, nil
}

func newTestServer(t *testing.T, fetch engine.FetchFunc) (*echo.Echo, *Handler) {
	t.Helper()
	cache := func(name string) *engine.QueryCache {
		c, err := engine.NewQueryCache(fetch, engine.CacheOptions{Name: name, Capacity: 4})
		if err != nil {
			t.Fatal(err)
		}
		return c
	}
	logger := log.New("test")
	logger.SetLevel(log.OFF)
	labels := engine.NewLabelMapper(engine.LabelMap{"languages": {"eng": "English"}}, nil)
	svc := engine.NewService(engine.ServiceConfig{
		Counts:   cache("counts"),
		Dates:    cache("dates"),
		Heatmap:  cache("heatmap"),
		Labels:   labels,
		Facets:   engine.NewFacetOptions(stubLister{}, labels),
		Settings: engine.DefaultSettings(),
		Logger:   logger,
	})

	e := echo.New()
	e.JSONSerializer = JSONSerializer{}
	h := NewHandler(svc)
	h.RegisterRoutes(e)
	return e, h
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func barFetch(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
	return &bookworm.ResultTable{
		Groups:     []string{"languages"},
		CountTypes: []bookworm.CountType{bookworm.WordCount, bookworm.TextCount},
		Rows: []bookworm.Row{
			{Groups: []string{"eng"}, Counts: []float64{100, 10}},
			{Groups: []string{"fre"}, Counts: []float64{50, 5}},
		},
	}, nil
}

func TestGetFacetsLoading(t *testing.T) {
	e, h := newTestServer(t, barFetch)

	if rec := get(e, "/api/facets"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before load, got %d", rec.Code)
	}

	h.SetFacets([]models.Option{{Label: "Languages", Value: "languages"}})
	rec := get(e, "/api/facets")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var opts []models.Option
	if err := json.Unmarshal(rec.Body.Bytes(), &opts); err != nil {
		t.Fatal(err)
	}
	if len(opts) != 1 || opts[0].Value != "languages" {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestGetFacetValues(t *testing.T) {
	e, _ := newTestServer(t, barFetch)
	rec := get(e, "/api/facets/languages/values?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var set models.OptionSet
	if err := json.Unmarshal(rec.Body.Bytes(), &set); err != nil {
		t.Fatal(err)
	}
	if len(set.Options) != 2 || set.Options[0].Label != "English" || len(set.Selected) != 2 {
		t.Errorf("Unexpected set %+v", set)
	}
}

func TestGetBarChart(t *testing.T) {
	e, _ := newTestServer(t, barFetch)
	rec := get(e, "/api/bar?group=languages&trim=5&counttype=WordCount")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var fig struct {
		Data []struct {
			Type string    `json:"type"`
			X    []string  `json:"x"`
			Y    []float64 `json:"y"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fig); err != nil {
		t.Fatal(err)
	}
	if fig.Data[0].Type != "bar" || fig.Data[0].X[0] != "English" || fig.Data[0].Y[0] != 100 {
		t.Errorf("Unexpected figure %s", rec.Body.String())
	}
}

func TestFailuresBecomePlaceholders(t *testing.T) {
	e, _ := newTestServer(t, func(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
		return nil, &bookworm.UpstreamQueryError{Method: "data", Err: errors.New("down")}
	})

	for _, target := range []string{"/api/heatmap?word=cookie&facet=languages", "/api/bar?group=languages", "/api/bar/dates?group=languages&value=English"} {
		rec := get(e, target)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", target, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), engine.DefaultErrorMessage) {
			t.Errorf("%s: expected placeholder, got %s", target, rec.Body.String())
		}
	}

	if rec := get(e, "/api/heatmap/grid.arrow?word=cookie&facet=languages"); rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 for arrow export, got %d", rec.Code)
	}
}

func TestGetExamplesValidatesYear(t *testing.T) {
	e, _ := newTestServer(t, barFetch)
	if rec := get(e, "/api/heatmap/examples?word=cookie&facet=languages&value=English&year=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestGetHeatmapArrow(t *testing.T) {
	e, _ := newTestServer(t, func(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
		return &bookworm.ResultTable{
			Groups:     []string{"languages", "date_year"},
			CountTypes: []bookworm.CountType{bookworm.WordsPerMillion},
			Rows:       []bookworm.Row{{Groups: []string{"eng", "1950"}, Counts: []float64{2}}},
		}, nil
	})
	rec := get(e, "/api/heatmap/grid.arrow?word=cookie&facet=languages&min=1940&max=1960")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/vnd.apache.arrow.stream" {
		t.Errorf("Unexpected content type %q", ct)
	}
	r, err := ipc.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("Body is not an arrow stream: %v", err)
	}
	defer r.Release()
	if !r.Next() {
		t.Fatal("Expected one record")
	}
	if n := r.Record().NumRows(); n != 20 {
		t.Errorf("Expected 20 rows (1940-1959), got %d", n)
	}
}

func TestGetNav(t *testing.T) {
	e, h := newTestServer(t, barFetch)
	h.WithNav(models.Option{Label: "Line Chart", Value: "/linechart"})
	rec := get(e, "/api/nav")
	var links []models.Option
	if err := json.Unmarshal(rec.Body.Bytes(), &links); err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].Value != "/linechart" {
		t.Errorf("Unexpected links %+v", links)
	}
}

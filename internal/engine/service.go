package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"playground/internal/bookworm"
	"playground/internal/models"
)

// Date distribution chart covers (1800, 2016).
const (
	distMinYear = 1800
	distMaxYear = 2016
)

// ErrBadRequest marks parameter problems, as opposed to upstream or data
// failures.
var ErrBadRequest = errors.New("bad request")

// Settings are the fixed query shapes of the dashboard pages.
type Settings struct {
	BarTopN          int // rank cut-off for the bar chart query
	HeatmapTopN      int // rank cut-off for heatmap facet values
	HardMinYear      int // heatmap query bounds, exclusive
	HardMaxYear      int
	DateSmoothing    int
	HeatmapSmoothing int
	SearchTimeout    time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		BarTopN:          60,
		HeatmapTopN:      30,
		HardMinYear:      1650,
		HardMaxYear:      2015,
		DateSmoothing:    10,
		HeatmapSmoothing: 5,
		SearchTimeout:    30 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.BarTopN <= 0 {
		s.BarTopN = d.BarTopN
	}
	if s.HeatmapTopN <= 0 {
		s.HeatmapTopN = d.HeatmapTopN
	}
	if s.HardMaxYear <= s.HardMinYear {
		s.HardMinYear, s.HardMaxYear = d.HardMinYear, d.HardMaxYear
	}
	if s.DateSmoothing < 0 {
		s.DateSmoothing = 0
	}
	if s.HeatmapSmoothing < 0 {
		s.HeatmapSmoothing = 0
	}
	if s.SearchTimeout <= 0 {
		s.SearchTimeout = d.SearchTimeout
	}
	return s
}

// Searcher runs search_results queries. Results are not cached.
type Searcher interface {
	Search(ctx context.Context, q bookworm.Query) ([]string, error)
}

// Service is the boundary between the data pipeline and the HTTP layer.
// Figure methods never fail: errors are logged with their parameters and
// replaced by a Placeholder.
type Service struct {
	counts   *QueryCache
	dates    *QueryCache
	heat     *QueryCache
	labels   *LabelMapper
	facets   *FacetOptions
	search   Searcher
	settings Settings
	log      *log.Logger
}

type ServiceConfig struct {
	Counts   *QueryCache // bar chart counts
	Dates    *QueryCache // year distribution of one facet value
	Heatmap  *QueryCache
	Labels   *LabelMapper
	Facets   *FacetOptions
	Search   Searcher
	Settings Settings
	Logger   *log.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.New("engine")
	}
	if cfg.Labels == nil {
		cfg.Labels = NewLabelMapper(nil, nil)
	}
	cfg.Settings = cfg.Settings.withDefaults()
	return &Service{
		counts:   cfg.Counts,
		dates:    cfg.Dates,
		heat:     cfg.Heatmap,
		labels:   cfg.Labels,
		facets:   cfg.Facets,
		search:   cfg.Search,
		settings: cfg.Settings,
		log:      cfg.Logger,
	}
}

func (s *Service) fail(err error, fields log.JSON) {
	fields["error"] = err.Error()
	s.log.Errorj(fields)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// --- BAR CHART ---

type BarParams struct {
	Group        string
	Trim         int
	DropUnknowns bool
	CountType    bookworm.CountType
}

func (s *Service) barQuery(group string) bookworm.Query {
	return bookworm.Query{
		Groups:     []string{"*" + group},
		CountTypes: []bookworm.CountType{bookworm.WordCount, bookworm.TextCount},
		Limits:     []bookworm.Restriction{bookworm.Cmp(group+"__id", bookworm.OpLT, float64(s.settings.BarTopN))},
	}
}

// barTable is the labelled bar chart table.
func (s *Service) barTable(ctx context.Context, group string, drop bool) (*bookworm.ResultTable, error) {
	if group == "" {
		return nil, badRequest("missing group")
	}
	t, err := s.counts.Get(ctx, s.barQuery(group))
	if err != nil {
		return nil, err
	}
	if drop {
		t = t.DropUnknowns()
	}
	return t.MapColumn(group, func(v string) string { return s.labels.ToLabel(group, v) }), nil
}

func (s *Service) BarChart(ctx context.Context, p BarParams) models.Figure {
	fig, err := s.barChart(ctx, p)
	if err != nil {
		s.fail(err, log.JSON{"page": "bar", "group": p.Group, "trim": p.Trim, "drop": p.DropUnknowns, "counttype": p.CountType})
		return Placeholder("")
	}
	return fig
}

func (s *Service) barChart(ctx context.Context, p BarParams) (models.Figure, error) {
	// The bar query only asks for text and word counts.
	if !p.CountType.Valid() || p.CountType == bookworm.WordsPerMillion {
		return models.Figure{}, badRequest("count type %q", p.CountType)
	}
	t, err := s.barTable(ctx, p.Group, p.DropUnknowns)
	if err != nil {
		return models.Figure{}, err
	}
	gi, ci := t.GroupIndex(p.Group), t.CountIndex(p.CountType)
	if gi < 0 || ci < 0 {
		return models.Figure{}, &MalformedDataError{Field: p.Group, Reason: "bar columns missing"}
	}

	rows := append([]bookworm.Row(nil), t.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Counts[ci] != rows[j].Counts[ci] {
			return rows[i].Counts[ci] > rows[j].Counts[ci]
		}
		return rows[i].Groups[gi] < rows[j].Groups[gi]
	})
	if p.Trim > 0 && len(rows) > p.Trim {
		rows = rows[:p.Trim]
	}
	x := make([]string, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		x[i], y[i] = r.Groups[gi], r.Counts[ci]
	}
	return models.Figure{
		Data:   []models.Trace{{Type: "bar", X: x, Y: y}},
		Layout: models.Layout{Title: Pretty(p.Group), YTitle: string(p.CountType)},
	}, nil
}

// BarTable is the bar chart data as a table figure.
func (s *Service) BarTable(ctx context.Context, group string, drop bool) models.Figure {
	t, err := s.barTable(ctx, group, drop)
	if err != nil {
		s.fail(err, log.JSON{"page": "bar", "table": true, "group": group, "drop": drop})
		return Placeholder("")
	}
	header := make([][]string, 0, len(t.Groups)+len(t.CountTypes))
	cells := make([][]string, 0, cap(header))
	for i, g := range t.Groups {
		header = append(header, []string{g})
		col := make([]string, len(t.Rows))
		for j, r := range t.Rows {
			col[j] = r.Groups[i]
		}
		cells = append(cells, col)
	}
	for i, c := range t.CountTypes {
		header = append(header, []string{string(c)})
		col := make([]string, len(t.Rows))
		for j, r := range t.Rows {
			col[j] = strconv.FormatFloat(r.Counts[i], 'f', -1, 64)
		}
		cells = append(cells, col)
	}
	return models.Figure{Data: []models.Trace{{
		Type:   "table",
		Header: &models.TableBlock{Values: header},
		Cells:  &models.TableBlock{Values: cells},
	}}}
}

// --- DATE DISTRIBUTION ---

// DateDistribution charts the smoothed number of texts per year for the
// facet value shown as label. An empty label gives the prompt figure.
func (s *Service) DateDistribution(ctx context.Context, group, label string) models.Figure {
	if label == "" {
		return EmptyDateDistribution(group)
	}
	fig, err := s.dateDistribution(ctx, group, label)
	if err != nil {
		s.fail(err, log.JSON{"page": "bar", "chart": "date_distribution", "group": group, "value": label})
		return Placeholder("")
	}
	return fig
}

func (s *Service) dateDistribution(ctx context.Context, group, label string) (models.Figure, error) {
	if group == "" {
		return models.Figure{}, badRequest("missing group")
	}
	q := bookworm.Query{
		Groups:     []string{DefaultYearDim},
		CountTypes: []bookworm.CountType{bookworm.TextCount},
		Limits:     []bookworm.Restriction{bookworm.In(group, s.labels.QueryValue(group, label))},
	}
	t, err := s.dates.Get(ctx, q)
	if err != nil {
		return models.Figure{}, err
	}
	// Unlike the heatmap, years outside the chart never feed the mean.
	window := YearWindow{Min: distMinYear + 1, Max: distMaxYear}
	t = clipYears(t, window)
	grid, err := Densify(t, DensifyOptions{
		Series:          label,
		Window:          &window,
		SmoothingWindow: s.settings.DateSmoothing,
	})
	if err != nil {
		return models.Figure{}, err
	}

	var years []int
	var values []float64
	top := 0.0
	if series, ok := grid.Lookup(label); ok {
		years = grid.Years
		values = make([]float64, len(series.Points))
		for i, p := range series.Points {
			values[i] = p.Value()
			if values[i] > top {
				top = values[i]
			}
		}
	}
	return models.Figure{
		Data: []models.Trace{{Type: "scatter", X: years, Y: values}},
		Layout: models.Layout{
			Height: 300,
			YAxis:  &models.Axis{Range: [2]float64{0, float64(int(top) + 100)}},
			Title:  "Date Distribution for " + Pretty(label),
		},
	}, nil
}

// clipYears drops rows whose year falls outside w. Rows with an unreadable
// year are kept so Densify can reject them.
func clipYears(t *bookworm.ResultTable, w YearWindow) *bookworm.ResultTable {
	yi := t.GroupIndex(DefaultYearDim)
	if yi < 0 {
		return t
	}
	return t.Filter(func(r bookworm.Row) bool {
		if yi >= len(r.Groups) {
			return true
		}
		y, ok := parseYear(r.Groups[yi])
		return !ok || w.Contains(int(y))
	})
}

// --- HEATMAP ---

type HeatmapParams struct {
	Words    []string
	Facet    string
	Selected []string // raw facet values; empty keeps every category
	Window   YearWindow
}

// ParseWords splits a comma separated search box.
func ParseWords(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func (s *Service) heatQuery(p HeatmapParams) bookworm.Query {
	return bookworm.Query{
		Groups:     []string{p.Facet, DefaultYearDim},
		CountTypes: []bookworm.CountType{bookworm.WordsPerMillion},
		Limits: []bookworm.Restriction{
			bookworm.In("word", p.Words...),
			bookworm.Cmp(p.Facet+"__id", bookworm.OpLT, float64(s.settings.HeatmapTopN+1)),
			bookworm.Cmp(DefaultYearDim, bookworm.OpLT, float64(s.settings.HardMaxYear)),
			bookworm.Cmp(DefaultYearDim, bookworm.OpGT, float64(s.settings.HardMinYear)),
		},
		Collation: bookworm.CaseInsensitive,
	}
}

// HeatmapGrid is the log-scaled, smoothed word frequency grid behind the
// heatmap.
func (s *Service) HeatmapGrid(ctx context.Context, p HeatmapParams) (*DenseGrid, error) {
	if len(p.Words) == 0 {
		return nil, badRequest("missing search words")
	}
	if p.Facet == "" {
		return nil, badRequest("missing facet")
	}
	if p.Window.Max <= p.Window.Min {
		return nil, badRequest("empty year window [%d, %d)", p.Window.Min, p.Window.Max)
	}
	t, err := s.heat.Get(ctx, s.heatQuery(p))
	if err != nil {
		return nil, err
	}
	fi := t.GroupIndex(p.Facet)
	if fi < 0 {
		return nil, &MalformedDataError{Field: p.Facet, Reason: "column missing"}
	}
	t = t.DropUnknowns().Filter(func(r bookworm.Row) bool { return r.Groups[fi] != "0" })
	t = t.MapColumn(p.Facet, func(v string) string { return s.labels.ToLabel(p.Facet, v) })

	filter := make([]string, 0, len(p.Selected))
	for _, v := range p.Selected {
		if IsCoded(p.Facet) {
			v = s.labels.ToLabel(p.Facet, v)
		}
		filter = append(filter, v)
	}
	window := p.Window
	return Densify(t, DensifyOptions{
		CategoryDim:     p.Facet,
		Count:           bookworm.WordsPerMillion,
		Window:          &window,
		SmoothingWindow: s.settings.HeatmapSmoothing,
		LogTransform:    true,
		CategoryFilter:  filter,
	})
}

func (s *Service) Heatmap(ctx context.Context, p HeatmapParams) models.Figure {
	grid, err := s.HeatmapGrid(ctx, p)
	if err != nil {
		s.fail(err, log.JSON{"page": "heatmap", "words": p.Words, "facet": p.Facet, "facet_query": p.Selected, "years": []int{p.Window.Min, p.Window.Max}})
		return Placeholder("")
	}
	labels := make([]string, len(grid.Series))
	z := make([][]float64, len(grid.Series))
	for i, series := range grid.Series {
		labels[i] = series.Category
		row := make([]float64, len(series.Points))
		for j, pt := range series.Points {
			row[j] = pt.Value()
		}
		z[i] = row
	}
	noScale := false
	return models.Figure{
		Data:   []models.Trace{{Type: "heatmap", X: grid.Years, Y: labels, Z: z, ShowScale: &noScale}},
		Layout: models.Layout{Title: fmt.Sprintf(`"%s" by %s`, strings.Join(p.Words, ","), Pretty(p.Facet))},
	}
}

// --- EXAMPLE BOOKS ---

type ExampleParams struct {
	Words []string
	Facet string
	Value string // display label of the clicked row
	Year  int
}

var resultLink = regexp.MustCompile(`href=(.*)><em>(.*?)</em> \((.*?)\)`)

// Examples lists books matching a heatmap cell.
func (s *Service) Examples(ctx context.Context, p ExampleParams) ([]models.BookLink, error) {
	if len(p.Words) == 0 || p.Facet == "" || p.Value == "" {
		return nil, badRequest("words, facet and value are required")
	}
	q := bookworm.Query{
		Method: bookworm.MethodSearch,
		Limits: []bookworm.Restriction{
			bookworm.In(p.Facet, s.labels.QueryValue(p.Facet, p.Value)),
			bookworm.Cmp(DefaultYearDim, bookworm.OpGTE, float64(p.Year)),
			bookworm.Cmp(DefaultYearDim, bookworm.OpLT, float64(p.Year+1)),
			bookworm.In("word", p.Words...),
		},
		Collation: bookworm.CaseInsensitive,
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.SearchTimeout)
	defer cancel()
	results, err := s.search.Search(ctx, q)
	if err != nil {
		s.fail(err, log.JSON{"page": "heatmap", "chart": "examples", "words": p.Words, "facet": p.Facet, "value": p.Value, "year": p.Year})
		return nil, err
	}
	links := make([]models.BookLink, 0, len(results))
	for _, r := range results {
		m := resultLink.FindStringSubmatch(r)
		if m == nil {
			s.log.Debugj(log.JSON{"unparsed_result": r})
			continue
		}
		links = append(links, models.BookLink{Href: m[1], Title: m[2], Year: m[3]})
	}
	return links, nil
}

// --- FACET OPTIONS ---

func (s *Service) GroupOptions(ctx context.Context) ([]models.Option, error) {
	opts, err := s.facets.ListGroupable(ctx)
	if err != nil {
		s.fail(err, log.JSON{"chart": "facet_groups"})
		return nil, err
	}
	return opts, nil
}

func (s *Service) FacetValues(ctx context.Context, facet string, limit int) (models.OptionSet, error) {
	if facet == "" {
		return models.OptionSet{}, badRequest("missing facet")
	}
	set, err := s.facets.ValueSet(ctx, facet, limit)
	if err != nil {
		s.fail(err, log.JSON{"chart": "facet_values", "facet": facet, "limit": limit})
		return models.OptionSet{}, err
	}
	return set, nil
}

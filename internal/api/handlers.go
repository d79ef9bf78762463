package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/labstack/echo/v4"

	"playground/internal/bookworm"
	"playground/internal/engine"
	"playground/internal/models"
)

// Page defaults, matching the initial widget state of the dashboard.
const (
	defaultTrim     = 20
	minTrim         = 10
	maxTrim         = 60
	defaultWord     = "computer"
	defaultFacet    = "lc_classes"
	defaultMinYear  = 1900
	defaultMaxYear  = 2000
	defaultBarGroup = "languages"

	arrowStream = "application/vnd.apache.arrow.stream"
)

type Handler struct {
	svc    *engine.Service
	facets atomic.Pointer[[]models.Option]
	nav    []models.Option
}

func NewHandler(svc *engine.Service) *Handler {
	return &Handler{svc: svc}
}

// WithNav sets the header links served by /api/nav.
func (h *Handler) WithNav(links ...models.Option) *Handler {
	h.nav = links
	return h
}

// SetFacets publishes the groupable facets once they are enumerated.
func (h *Handler) SetFacets(opts []models.Option) {
	h.facets.Store(&opts)
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	api := e.Group("/api")
	api.GET("/nav", h.GetNav)
	api.GET("/facets", h.GetFacets)
	api.GET("/facets/:facet/values", h.GetFacetValues)
	api.GET("/bar", h.GetBarChart)
	api.GET("/bar/table", h.GetBarTable)
	api.GET("/bar/dates", h.GetDateDistribution)
	api.GET("/heatmap", h.GetHeatmap)
	api.GET("/heatmap/examples", h.GetExamples)
	api.GET("/heatmap/grid.arrow", h.GetHeatmapArrow)
}

// --- PARAMS ---
func getIntParam(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return def
	}
	return v
}

func getStringParam(c echo.Context, name, def string) string {
	if v := c.QueryParam(name); v != "" {
		return v
	}
	return def
}

// dropUnknowns reads the "drop"/"keep" radio; anything but keep drops.
func dropUnknowns(c echo.Context) bool {
	switch c.QueryParam("drop") {
	case "keep", "false", "0":
		return false
	}
	return true
}

func heatmapParams(c echo.Context) engine.HeatmapParams {
	word := getStringParam(c, "word", defaultWord)
	if compare := c.QueryParam("compare"); compare != "" {
		word += "," + compare
	}
	return engine.HeatmapParams{
		Words:    engine.ParseWords(word),
		Facet:    getStringParam(c, "facet", defaultFacet),
		Selected: c.QueryParams()["values"],
		Window: engine.YearWindow{
			Min: getIntParam(c, "min", defaultMinYear),
			Max: getIntParam(c, "max", defaultMaxYear),
		},
	}
}

func httpError(err error) error {
	if errors.Is(err, engine.ErrBadRequest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var uerr *bookworm.UpstreamQueryError
	if errors.As(err, &uerr) {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream query failed")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// --- HANDLERS ---
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "facets_loaded": h.facets.Load() != nil})
}

func (h *Handler) GetNav(c echo.Context) error {
	if h.nav == nil {
		return c.JSON(http.StatusOK, []models.Option{})
	}
	return c.JSON(http.StatusOK, h.nav)
}

// GetFacets answers 503 until the background enumeration has finished.
func (h *Handler) GetFacets(c echo.Context) error {
	opts := h.facets.Load()
	if opts == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "loading"})
	}
	return c.JSON(http.StatusOK, *opts)
}

func (h *Handler) GetFacetValues(c echo.Context) error {
	set, err := h.svc.FacetValues(c.Request().Context(), c.Param("facet"), getIntParam(c, "limit", engine.DefaultValueLimit))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) GetBarChart(c echo.Context) error {
	trim := getIntParam(c, "trim", defaultTrim)
	if trim < minTrim {
		trim = minTrim
	}
	if trim > maxTrim {
		trim = maxTrim
	}
	fig := h.svc.BarChart(c.Request().Context(), engine.BarParams{
		Group:        getStringParam(c, "group", defaultBarGroup),
		Trim:         trim,
		DropUnknowns: dropUnknowns(c),
		CountType:    bookworm.CountType(getStringParam(c, "counttype", string(bookworm.TextCount))),
	})
	return c.JSON(http.StatusOK, fig)
}

func (h *Handler) GetBarTable(c echo.Context) error {
	fig := h.svc.BarTable(c.Request().Context(), getStringParam(c, "group", defaultBarGroup), dropUnknowns(c))
	return c.JSON(http.StatusOK, fig)
}

func (h *Handler) GetDateDistribution(c echo.Context) error {
	fig := h.svc.DateDistribution(c.Request().Context(), getStringParam(c, "group", defaultBarGroup), c.QueryParam("value"))
	return c.JSON(http.StatusOK, fig)
}

func (h *Handler) GetHeatmap(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Heatmap(c.Request().Context(), heatmapParams(c)))
}

func (h *Handler) GetExamples(c echo.Context) error {
	p := heatmapParams(c)
	year, err := strconv.Atoi(c.QueryParam("year"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "year must be an integer")
	}
	links, err := h.svc.Examples(c.Request().Context(), engine.ExampleParams{
		Words: p.Words,
		Facet: p.Facet,
		Value: c.QueryParam("value"),
		Year:  year,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, links)
}

// GetHeatmapArrow streams the heatmap grid as an Arrow IPC stream.
func (h *Handler) GetHeatmapArrow(c echo.Context) error {
	grid, err := h.svc.HeatmapGrid(c.Request().Context(), heatmapParams(c))
	if err != nil {
		return httpError(err)
	}
	var buf bytes.Buffer
	if err := engine.WriteArrow(&buf, grid, nil); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "arrow encoding failed").SetInternal(err)
	}
	return c.Blob(http.StatusOK, arrowStream, buf.Bytes())
}

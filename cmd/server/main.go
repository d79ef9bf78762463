package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"playground/internal/api"
	"playground/internal/bookworm"
	"playground/internal/config"
	"playground/internal/engine"
	"playground/internal/models"
)

// facetRetry is the pause between failed facet enumerations.
const facetRetry = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.json", "path to the YAML or JSON config file")
	flag.Parse()

	logger := log.New("dashboard")
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	logger.SetLevel(cfg.LogLevel())

	// 1. Initialize Echo (starts instantly)
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(cfg.LogLevel())
	e.JSONSerializer = api.JSONSerializer{}
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// 2. Remote API and the per-page query caches
	client, err := bookworm.NewClient(bookworm.Options{
		Endpoint:           cfg.Settings.Endpoint,
		Database:           cfg.Settings.DBName,
		Timeout:            cfg.Client.Timeout,
		RateLimit:          cfg.Client.RateLimit,
		Burst:              cfg.Client.Burst,
		InsecureSkipVerify: cfg.Client.InsecureSkipVerify,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal(err)
	}
	newCache := func(name string) *engine.QueryCache {
		c, err := engine.NewQueryCache(client, engine.CacheOptions{
			Name:     name,
			Capacity: cfg.Cache.Capacity,
			Timeout:  cfg.Client.Timeout,
			Logger:   logger,
		})
		if err != nil {
			logger.Fatal(err)
		}
		return c
	}

	labels := loadLabels(logger, cfg.Data)
	settings := engine.DefaultSettings()
	settings.SearchTimeout = cfg.Client.SearchTimeout
	svc := engine.NewService(engine.ServiceConfig{
		Counts:   newCache("counts"),
		Dates:    newCache("dates"),
		Heatmap:  newCache("heatmap"),
		Labels:   labels,
		Facets:   engine.NewFacetOptions(client, labels),
		Search:   client,
		Settings: settings,
		Logger:   logger,
	})

	// 3. Handler answers 503 on /api/facets until the schema is loaded
	h := api.NewHandler(svc)
	if cfg.Settings.LineChart != "" {
		h.WithNav(models.Option{Label: "Line Chart", Value: cfg.Settings.LineChart})
	}
	h.RegisterRoutes(e)

	// 4. Enumerate facets in the background
	go func() {
		for {
			t0 := time.Now()
			opts, err := loadFacets(context.Background(), svc)
			if err == nil {
				h.SetFacets(opts)
				logger.Infoj(log.JSON{"facets": len(opts), "took": time.Since(t0).String()})
				return
			}
			logger.Warnj(log.JSON{"facets": "enumeration failed", "error": err.Error(), "retry_in": facetRetry.String()})
			time.Sleep(facetRetry)
		}
	}()

	// 5. Start server
	logger.Infoj(log.JSON{"addr": cfg.Server.Addr, "endpoint": cfg.Settings.Endpoint, "database": cfg.Settings.DBName})
	e.Logger.Fatal(e.Start(cfg.Server.Addr))
}

// loadFacets lists the groupable facets and warms the counts cache with the
// bar chart's initial group alongside.
func loadFacets(ctx context.Context, svc *engine.Service) ([]models.Option, error) {
	var opts []models.Option
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		opts, err = svc.GroupOptions(ctx)
		return err
	})
	g.Go(func() error {
		svc.BarChart(ctx, engine.BarParams{Group: "languages", Trim: 20, DropUnknowns: true, CountType: bookworm.TextCount})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadLabels reads the label and equivalence maps. A missing or broken file
// leaves the raw codes on screen.
func loadLabels(logger *log.Logger, data config.DataConfig) *engine.LabelMapper {
	read := func(path string) engine.LabelMap {
		m, err := engine.LoadLabelMap(path)
		if err != nil {
			logger.Warnj(log.JSON{"labels": path, "error": err.Error()})
			return engine.LabelMap{}
		}
		return m
	}
	return engine.NewLabelMapper(read(data.Labels), read(data.Equivalences))
}

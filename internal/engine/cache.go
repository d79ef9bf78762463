package engine

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"playground/internal/bookworm"
)

// DefaultCacheCapacity matches the number of distinct queries each page
// remembers.
const DefaultCacheCapacity = 32

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playground_query_cache_lookups_total",
		Help: "Query cache lookups by cache and result (hit, miss, error).",
	}, []string{"cache", "result"})
	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playground_query_cache_evictions_total",
		Help: "Entries dropped from a query cache to make room.",
	}, []string{"cache"})
)

// Fetcher runs a data query against the counting API.
type Fetcher interface {
	Run(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error)

func (f FetchFunc) Run(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
	return f(ctx, q)
}

// QueryCache memoizes a Fetcher by Query.Key. It holds at most capacity
// tables; when full, the entry inserted first is dropped. Hits do not
// refresh an entry. Failed fetches are never stored, and concurrent misses
// on one key share a single fetch.
type QueryCache struct {
	name    string
	fetch   Fetcher
	timeout time.Duration
	entries *lru.Cache[string, *bookworm.ResultTable]
	flight  singleflight.Group
	log     *log.Logger
}

type CacheOptions struct {
	Name     string
	Capacity int
	// Timeout bounds one upstream fetch. Zero means 30s; there is no
	// unbounded mode.
	Timeout time.Duration
	Logger  *log.Logger
}

func NewQueryCache(fetch Fetcher, opts CacheOptions) (*QueryCache, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCacheCapacity
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New("cache")
	}
	c := &QueryCache{name: opts.Name, fetch: fetch, timeout: opts.Timeout, log: opts.Logger}
	entries, err := lru.NewWithEvict[string, *bookworm.ResultTable](opts.Capacity, func(key string, _ *bookworm.ResultTable) {
		cacheEvictions.WithLabelValues(c.name).Inc()
		c.log.Debugj(log.JSON{"cache": c.name, "evicted": key})
	})
	if err != nil {
		return nil, fmt.Errorf("query cache %s: %w", opts.Name, err)
	}
	c.entries = entries
	return c, nil
}

// Get returns the table for q, calling the API only on a miss.
func (c *QueryCache) Get(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
	key := q.Key()
	// Peek, not Get: lookups must not change the eviction order.
	if t, ok := c.entries.Peek(key); ok {
		cacheLookups.WithLabelValues(c.name, "hit").Inc()
		return t, nil
	}

	// The shared fetch outlives any one caller: a cancelled request stops
	// waiting but does not fail the others waiting on the same key.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		if t, ok := c.entries.Peek(key); ok {
			return t, nil
		}
		cacheLookups.WithLabelValues(c.name, "miss").Inc()
		fctx, cancel := context.WithTimeout(fetchCtx, c.timeout)
		defer cancel()
		t, err := c.fetch.Run(fctx, q)
		if err != nil {
			cacheLookups.WithLabelValues(c.name, "error").Inc()
			return nil, err
		}
		c.entries.Add(key, t)
		return t, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*bookworm.ResultTable), nil
	}
}

// Len is the number of cached tables.
func (c *QueryCache) Len() int { return c.entries.Len() }

// Contains reports whether q is cached, without touching the entry.
func (c *QueryCache) Contains(q bookworm.Query) bool { return c.entries.Contains(q.Key()) }

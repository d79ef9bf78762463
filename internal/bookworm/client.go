// Package bookworm talks to a Bookworm counting API.
package bookworm

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"
)

// maxResponseBody caps how much of a response is read (32 MiB).
const maxResponseBody int64 = 32 << 20

// Options configures a Client.
type Options struct {
	Endpoint           string
	Database           string
	Timeout            time.Duration
	RateLimit          float64 // requests per second, 0 = unlimited
	Burst              int
	InsecureSkipVerify bool
	Logger             *log.Logger
}

// Field describes one entry of the API's field schema.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Client issues queries against one Bookworm database. It never retries:
// a failed call surfaces as *UpstreamQueryError.
type Client struct {
	endpoint string
	database string
	http     *http.Client
	limiter  *rate.Limiter
	log      *log.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("bookworm: empty endpoint")
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("bookworm: endpoint: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New("bookworm")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		endpoint: opts.Endpoint,
		database: opts.Database,
		http:     &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter:  rate.NewLimiter(limit, opts.Burst),
		log:      logger,
	}, nil
}

type wireQuery struct {
	Database     string         `json:"database"`
	Method       string         `json:"method"`
	Format       string         `json:"format"`
	Groups       []string       `json:"groups,omitempty"`
	CountType    []CountType    `json:"counttype,omitempty"`
	SearchLimits map[string]any `json:"search_limits,omitempty"`
	Collation    string         `json:"words_collation,omitempty"`
}

func (c *Client) encode(q Query) ([]byte, error) {
	method := q.Method
	if method == "" {
		method = MethodData
	}
	w := wireQuery{
		Database:  c.database,
		Method:    method,
		Format:    "json",
		Groups:    q.Groups,
		CountType: q.CountTypes,
		Collation: q.Collation,
	}
	if len(q.Limits) > 0 {
		w.SearchLimits = q.searchLimits()
	}
	return json.Marshal(w)
}

// do sends q and returns the raw response payload with any status
// envelope removed.
func (c *Client) do(ctx context.Context, q Query) (json.RawMessage, error) {
	body, err := c.encode(q)
	if err != nil {
		return nil, upstream(q, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, upstream(q, err)
	}

	u, _ := url.Parse(c.endpoint)
	params := u.Query()
	params.Set("query", string(body))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, upstream(q, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, upstream(q, err)
	}
	defer resp.Body.Close()
	observeUpstream(q, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, upstream(q, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstream(q, fmt.Errorf("%w: http %d", ErrStatus, resp.StatusCode))
	}
	c.log.Debugj(log.JSON{"query": q.Fingerprint(), "method": q.Method, "bytes": len(raw), "elapsed": time.Since(start).String()})

	payload, err := unwrapEnvelope(raw)
	if err != nil {
		return nil, upstream(q, err)
	}
	return payload, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// unwrapEnvelope accepts both the bare payload and the
// {"status", "message", "data"} envelope of newer API versions.
func unwrapEnvelope(raw []byte) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(raw), nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch env.Status {
	case "":
		return json.RawMessage(raw), nil
	case "success":
		return env.Data, nil
	default:
		return nil, fmt.Errorf("%w: %s: %s", ErrStatus, env.Status, env.Message)
	}
}

// Run executes a data query.
func (c *Client) Run(ctx context.Context, q Query) (*ResultTable, error) {
	payload, err := c.do(ctx, q)
	if err != nil {
		return nil, err
	}
	var nested any
	if err := json.Unmarshal(payload, &nested); err != nil {
		return nil, upstream(q, fmt.Errorf("decode data: %w", err))
	}

	t := &ResultTable{
		Groups:     make([]string, len(q.Groups)),
		CountTypes: q.CountTypes,
	}
	for i, g := range q.Groups {
		t.Groups[i] = ColumnName(g)
	}
	if err := flatten(nested, len(q.Groups), len(q.CountTypes), nil, &t.Rows); err != nil {
		return nil, upstream(q, err)
	}
	return t, nil
}

// flatten walks one map level per group down to the leaf count arrays.
// Keys are visited in sorted order so the row order is deterministic.
func flatten(node any, depth, counts int, prefix []string, rows *[]Row) error {
	if depth == 0 {
		leaf, ok := node.([]any)
		if !ok {
			// Single count types sometimes come back unwrapped.
			leaf = []any{node}
		}
		if len(leaf) < counts {
			return fmt.Errorf("decode data: %d counts for %d count types", len(leaf), counts)
		}
		row := Row{Groups: append([]string(nil), prefix...), Counts: make([]float64, counts)}
		for i := 0; i < counts; i++ {
			switch v := leaf[i].(type) {
			case float64:
				row.Counts[i] = v
			case nil:
			default:
				return fmt.Errorf("decode data: count %v is %T", v, v)
			}
		}
		*rows = append(*rows, row)
		return nil
	}

	m, ok := node.(map[string]any)
	if !ok {
		if node == nil {
			return nil
		}
		return fmt.Errorf("decode data: expected object at depth %d, got %T", depth, node)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := flatten(m[k], depth-1, counts, append(prefix, k), rows); err != nil {
			return err
		}
	}
	return nil
}

// Fields returns the API's field schema.
func (c *Client) Fields(ctx context.Context) ([]Field, error) {
	q := Query{Method: MethodFields}
	payload, err := c.do(ctx, q)
	if err != nil {
		return nil, err
	}
	var fields []Field
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, upstream(q, fmt.Errorf("decode fields: %w", err))
	}
	return fields, nil
}

// FieldValues returns up to limit distinct values of field, most frequent
// first.
func (c *Client) FieldValues(ctx context.Context, field string, limit int) ([]string, error) {
	q := Query{
		Groups:     []string{field},
		CountTypes: []CountType{TextCount},
		Limits:     []Restriction{Cmp(field+"__id", OpLT, float64(limit+1))},
	}
	t, err := c.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	rows := append([]Row(nil), t.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Counts[0] != rows[j].Counts[0] {
			return rows[i].Counts[0] > rows[j].Counts[0]
		}
		return rows[i].Groups[0] < rows[j].Groups[0]
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	values := make([]string, len(rows))
	for i, r := range rows {
		values[i] = r.Groups[0]
	}
	return values, nil
}

// Search runs a search_results query and returns the raw result snippets.
func (c *Client) Search(ctx context.Context, q Query) ([]string, error) {
	q.Method = MethodSearch
	payload, err := c.do(ctx, q)
	if err != nil {
		return nil, err
	}
	var results []string
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, upstream(q, fmt.Errorf("decode search results: %w", err))
	}
	return results, nil
}

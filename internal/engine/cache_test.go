package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"playground/internal/bookworm"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  error
	delay time.Duration
}

func (f *countingFetcher) Run(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[q.Key()]++
	fail := f.fail
	f.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return &bookworm.ResultTable{Groups: q.Groups}, nil
}

func (f *countingFetcher) count(q bookworm.Query) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[q.Key()]
}

func groupQuery(group string) bookworm.Query {
	return bookworm.Query{Groups: []string{group}, CountTypes: []bookworm.CountType{bookworm.TextCount}}
}

func TestQueryCacheStructuralHit(t *testing.T) {
	f := &countingFetcher{}
	c, err := NewQueryCache(f, CacheOptions{Name: "test", Capacity: 4})
	if err != nil {
		t.Fatal(err)
	}

	q1 := bookworm.Query{Groups: []string{"genres"}, Limits: []bookworm.Restriction{bookworm.In("word", "a", "b")}}
	q2 := bookworm.Query{Groups: []string{"genres"}, Limits: []bookworm.Restriction{bookworm.In("word", "b", "a")}}

	first, err := c.Get(context.Background(), q1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Get(context.Background(), q2)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("Expected the cached table on the second call")
	}
	if n := f.count(q1); n != 1 {
		t.Errorf("Expected 1 upstream call, got %d", n)
	}
}

func TestQueryCacheInsertionOrderEviction(t *testing.T) {
	// Capacity 2; Q1, Q2, Q1, Q3, Q1:
	// miss, miss, hit, miss (evicts Q1), miss.
	f := &countingFetcher{}
	c, err := NewQueryCache(f, CacheOptions{Name: "test", Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	q1, q2, q3 := groupQuery("q1"), groupQuery("q2"), groupQuery("q3")

	for _, q := range []bookworm.Query{q1, q2, q1, q3} {
		if _, err := c.Get(context.Background(), q); err != nil {
			t.Fatal(err)
		}
	}
	if c.Contains(q1) {
		t.Error("Q1 was inserted first and should have been evicted")
	}
	if !c.Contains(q2) || !c.Contains(q3) {
		t.Error("Q2 and Q3 should still be cached")
	}

	if _, err := c.Get(context.Background(), q1); err != nil {
		t.Fatal(err)
	}
	if n := f.count(q1); n != 2 {
		t.Errorf("Expected Q1 fetched twice, got %d", n)
	}
	if n := f.count(q2); n != 1 {
		t.Errorf("Expected Q2 fetched once, got %d", n)
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", c.Len())
	}
}

func TestQueryCacheDoesNotStoreFailures(t *testing.T) {
	boom := errors.New("boom")
	f := &countingFetcher{fail: boom}
	c, err := NewQueryCache(f, CacheOptions{Name: "test", Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	q := groupQuery("q")

	if _, err := c.Get(context.Background(), q); !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("Failure was cached")
	}

	f.mu.Lock()
	f.fail = nil
	f.mu.Unlock()
	if _, err := c.Get(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	if n := f.count(q); n != 2 {
		t.Errorf("Expected a second upstream call after the failure, got %d", n)
	}
}

func TestQueryCacheConcurrentMissesShareFetch(t *testing.T) {
	f := &countingFetcher{delay: 50 * time.Millisecond}
	c, err := NewQueryCache(f, CacheOptions{Name: "test", Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	q := groupQuery("q")

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), q); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d lookups failed", failures.Load())
	}
	if n := f.count(q); n != 1 {
		t.Errorf("Expected 1 upstream call, got %d", n)
	}
}

func TestQueryCacheAppliesTimeout(t *testing.T) {
	fetch := FetchFunc(func(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, err := NewQueryCache(fetch, CacheOptions{Name: "test", Capacity: 2, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Get(context.Background(), groupQuery("slow"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("Timed out fetch was cached")
	}
}

func TestQueryCacheCancelledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	fetch := FetchFunc(func(ctx context.Context, q bookworm.Query) (*bookworm.ResultTable, error) {
		once.Do(func() { close(started) })
		select {
		case <-time.After(60 * time.Millisecond):
			return &bookworm.ResultTable{Groups: q.Groups}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	c, err := NewQueryCache(fetch, CacheOptions{Name: "test", Capacity: 2})
	if err != nil {
		t.Fatal(err)
	}
	q := groupQuery("genres")

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, q)
		leaderErr <- err
	}()
	<-started

	followerErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), q)
		followerErr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the cancelled caller to see context.Canceled, got %v", err)
	}
	if err := <-followerErr; err != nil {
		t.Errorf("Caller with a live context failed: %v", err)
	}
	if !c.Contains(q) {
		t.Error("Completed fetch was not cached")
	}
}

package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingResolver struct {
	calls atomic.Int64
	loc   Location
	err   error
}

func (c *countingResolver) Resolve(context.Context, string) (Location, error) {
	c.calls.Add(1)
	return c.loc, c.err
}

func TestCachedResolverReusesEntries(t *testing.T) {
	inner := &countingResolver{loc: Location{Country: "DE", Org: "Hetzner Online GmbH"}}
	cached := NewCachedResolver(inner, time.Minute)

	for i := 0; i < 5; i++ {
		loc, err := cached.Resolve(context.Background(), "203.0.113.9")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if loc.Country != "DE" || loc.Org != "Hetzner Online GmbH" {
			t.Fatalf("unexpected location %+v", loc)
		}
	}

	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("inner resolver called %d times, want 1", got)
	}
}

func TestCachedResolverCachesFailuresAsEmpty(t *testing.T) {
	inner := &countingResolver{err: errors.New("lookup down")}
	cached := NewCachedResolver(inner, time.Minute)

	loc, err := cached.Resolve(context.Background(), "198.51.100.4")
	if err != nil {
		t.Fatalf("resolve should degrade, got error %v", err)
	}
	if !loc.IsZero() {
		t.Fatalf("expected zero location, got %+v", loc)
	}

	if _, err := cached.Resolve(context.Background(), "198.51.100.4"); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("failure was not cached, inner called %d times", got)
	}
}

func TestCachedResolverCollapsesConcurrentLookups(t *testing.T) {
	inner := &countingResolver{loc: Location{Country: "US"}}
	cached := NewCachedResolver(inner, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cached.Resolve(context.Background(), "192.0.2.77"); err != nil {
				t.Errorf("resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("concurrent lookups hit upstream %d times, want 1", got)
	}
}

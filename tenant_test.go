package synapse

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueryCacheHitAndMiss(t *testing.T) {
	c := newQueryCache(time.Minute, true)
	key := cacheKey("u1", "hello", nil, 5)

	if c.has(key) {
		t.Fatal("expected a miss before anything is computed")
	}

	want := []SearchResult{{Memory: Memory{ID: "m1"}}}
	var calls int32
	got, err := c.getOrCompute(key, func() ([]SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return want, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("unexpected result: %+v", got)
	}

	if !c.has(key) {
		t.Fatal("expected a hit after the first compute")
	}

	if _, err := c.getOrCompute(key, func() ([]SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected compute to run once on a cache hit, ran %d times", calls)
	}
}

func TestQueryCacheDisabledNeverStores(t *testing.T) {
	c := newQueryCache(time.Minute, false)
	key := cacheKey("u1", "hello", nil, 5)

	var calls int32
	compute := func() ([]SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	c.getOrCompute(key, compute)
	c.getOrCompute(key, compute)

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected compute to run on every call when disabled, ran %d times", calls)
	}
	if c.has(key) {
		t.Error("a disabled cache must never report a hit")
	}
}

func TestQueryCacheExpires(t *testing.T) {
	c := newQueryCache(time.Millisecond, true)
	key := cacheKey("u1", "hello", nil, 5)

	c.getOrCompute(key, func() ([]SearchResult, error) { return []SearchResult{{Memory: Memory{ID: "m1"}}}, nil })
	time.Sleep(5 * time.Millisecond)

	if c.has(key) {
		t.Error("expected the entry to have expired")
	}
}

func TestQueryCacheInvalidateUserScopedByPrefix(t *testing.T) {
	c := newQueryCache(time.Minute, true)
	key1 := cacheKey("u1", "hello", nil, 5)
	key2 := cacheKey("u2", "hello", nil, 5)

	c.getOrCompute(key1, func() ([]SearchResult, error) { return []SearchResult{{Memory: Memory{ID: "m1"}}}, nil })
	c.getOrCompute(key2, func() ([]SearchResult, error) { return []SearchResult{{Memory: Memory{ID: "m2"}}}, nil })

	c.invalidateUser("u1")

	if c.has(key1) {
		t.Error("expected u1's entry to be invalidated")
	}
	if !c.has(key2) {
		t.Error("u2's entry must survive u1's invalidation")
	}
}

// TestQueryCacheCollapsesConcurrentCallers exercises the singleflight
// coalescing: N concurrent getOrCompute calls on the same key should only
// run the underlying compute once.
func TestQueryCacheCollapsesConcurrentCallers(t *testing.T) {
	c := newQueryCache(time.Minute, true)
	key := cacheKey("u1", "hello", nil, 5)

	var calls int32
	release := make(chan struct{})
	compute := func() ([]SearchResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []SearchResult{{Memory: Memory{ID: "m1"}}}, nil
	}

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			c.getOrCompute(key, compute)
		}()
	}

	time.Sleep(20 * time.Millisecond) // let every goroutine reach group.Do
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 underlying compute, got %d", calls)
	}
}

package lru

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCache_SetAndGet(t *testing.T) {
	c := New[string, int](Config{Capacity: 4})
	c.Set("a", 1)

	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("Get(b) should miss")
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}
}

func TestCache_Overwrite(t *testing.T) {
	c := New[string, string](Config{Capacity: 2})
	c.Set("k", "old")
	c.Set("k", "new")

	if v, _ := c.Get("k"); v != "new" {
		t.Errorf("expected overwrite, got %q", v)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](Config{Capacity: 2})

	var evicted []string
	c.OnEvict(func(k string, _ int) { evicted = append(evicted, k) })

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // b is now least recently used
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Errorf("evicted = %v, want [b]", evicted)
	}
}

func TestCache_TTLFromInsertionNotAccess(t *testing.T) {
	clk := newClock()
	c := New[string, int](Config{Capacity: 4, TTL: time.Minute, Now: clk.Now})
	c.Set("a", 1)

	// Touching the entry must not extend its life.
	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Second)
		if _, ok := c.Get("a"); !ok {
			t.Fatalf("entry expired early at step %d", i)
		}
	}

	clk.Advance(10 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("entry should have expired 60s after insertion")
	}
	if c.Len() != 0 {
		t.Error("expired entry should be reclaimed on read")
	}
}

func TestCache_SetRestartsTTL(t *testing.T) {
	clk := newClock()
	c := New[string, int](Config{Capacity: 4, TTL: time.Minute, Now: clk.Now})
	c.Set("a", 1)
	clk.Advance(50 * time.Second)
	c.Set("a", 2)
	clk.Advance(50 * time.Second)

	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v; want 2, true", v, ok)
	}
}

func TestCache_ExpiredTailIsNotReportedAsEviction(t *testing.T) {
	clk := newClock()
	c := New[string, int](Config{Capacity: 1, TTL: time.Second, Now: clk.Now})
	evictions := 0
	c.OnEvict(func(string, int) { evictions++ })

	c.Set("a", 1)
	clk.Advance(2 * time.Second)
	c.Set("b", 2)

	if evictions != 0 {
		t.Errorf("expected no capacity evictions, got %d", evictions)
	}
}

func TestCache_DeleteAndPurge(t *testing.T) {
	c := New[int, int](Config{Capacity: 8})
	for i := 0; i < 5; i++ {
		c.Set(i, i)
	}
	c.Delete(3)
	if _, ok := c.Get(3); ok {
		t.Error("3 should be deleted")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int, int](Config{Capacity: 16})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(i%32, g)
				c.Get((i + g) % 32)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("capacity exceeded: %d", c.Len())
	}
}

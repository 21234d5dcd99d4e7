package vision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenWindowBlocksUntilBudgetAvailable(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	window := newTokenWindow(100, time.Minute, clock.Now)

	first, err := window.reserve(context.Background(), 60)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := window.reserve(ctx, 60); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected reservation over budget to block, got %v", err)
	}

	window.reconcile(first, 10)
	if _, err := window.reserve(context.Background(), 60); err != nil {
		t.Fatalf("expected reservation after reconcile to succeed: %v", err)
	}
	if used := window.used(); used != 70 {
		t.Fatalf("expected 70 tokens in window, got %d", used)
	}

	clock.Advance(61 * time.Second)
	if used := window.used(); used != 0 {
		t.Fatalf("expected window to drain, got %d", used)
	}
}

func TestTokenWindowNeverNegative(t *testing.T) {
	window := newTokenWindow(100, time.Minute, time.Now)
	id, _ := window.reserve(context.Background(), 40)
	window.reconcile(id, -25)
	if used := window.used(); used != 0 {
		t.Fatalf("expected 0 tokens, got %d", used)
	}
	window.reconcile(9999, 50)
	if used := window.used(); used != 0 {
		t.Fatalf("unknown reservation must not change totals, got %d", used)
	}
}

func TestTokenWindowAdmitsOversizedRequestWhenEmpty(t *testing.T) {
	window := newTokenWindow(100, time.Minute, time.Now)
	if _, err := window.reserve(context.Background(), 500); err != nil {
		t.Fatalf("expected oversized request to be admitted into an empty window: %v", err)
	}
}

func TestPacerSpacesRequests(t *testing.T) {
	p := newPacer(40*time.Millisecond, 0)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := p.acquire(context.Background(), 10); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("expected requests to be spaced, elapsed %s", elapsed)
	}
}

func TestResponseCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newResponseCache(time.Hour, 2)
	c.set("a", 1)
	c.set("b", 2)
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a cached")
	}
	c.set("c", 3)

	if _, ok := c.get("b"); ok {
		t.Fatal("expected b evicted as least recently used")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := c.get(key); !ok {
			t.Fatalf("expected %s cached", key)
		}
	}
	if stats := c.stats(); stats.Entries != 2 {
		t.Fatalf("expected 2 entries, got %d", stats.Entries)
	}
}

func TestResponseCacheExpires(t *testing.T) {
	c := newResponseCache(20*time.Millisecond, 10)
	c.set("a", 1)
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.get("a"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCacheKeyDependsOnOperationDetailAndOrder(t *testing.T) {
	a, b := []byte("image-a"), []byte("image-b")
	keys := map[string]bool{
		cacheKey(OpDetect, DetailLow, a):      true,
		cacheKey(OpIdentify, DetailLow, a):    true,
		cacheKey(OpIdentify, DetailHigh, a):   true,
		cacheKey(OpCompare, DetailHigh, a, b): true,
		cacheKey(OpCompare, DetailHigh, b, a): true,
	}
	if len(keys) != 5 {
		t.Fatalf("expected 5 distinct keys, got %d", len(keys))
	}
	if cacheKey(OpDetect, DetailLow, a) != cacheKey(OpDetect, DetailLow, []byte("image-a")) {
		t.Fatal("expected key to depend only on content")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("unexpected parse: %s %v", d, ok)
	}
	if d, ok := parseRetryAfter("600"); !ok || d != maxRetryAfter {
		t.Fatalf("expected cap, got %s", d)
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("expected invalid value to be rejected")
	}
}

func TestHTTPStatusErrorSummarizesBody(t *testing.T) {
	err := &httpStatusError{StatusCode: 429, Body: "  {\"error\":\n\t\"slow down\"}  "}
	if got, want := err.Error(), `vision request: http 429: {"error": "slow down"}`; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	empty := &httpStatusError{StatusCode: 502}
	if got := empty.Error(); got != "vision request: http 502: <empty>" {
		t.Fatalf("unexpected empty body message: %q", got)
	}

	long := &httpStatusError{StatusCode: 500, Body: strings.Repeat("x", snippetLimit+40)}
	msg := long.Error()
	if !strings.HasSuffix(msg, "...") || strings.Count(msg, "x") != snippetLimit {
		t.Fatalf("expected body capped at %d runes, got %q", snippetLimit, msg)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := map[float64]float64{0: 0, 0.85: 85, 1: 1, 72: 72, 140: 100, -3: 0}
	for in, want := range cases {
		if got := normalizeConfidence(in); got != want {
			t.Fatalf("normalizeConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}

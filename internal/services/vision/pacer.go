package vision

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const tokenWindowSpan = time.Minute

// pacer serializes request admission: callers queue on a mutex, wait for the
// minimum inter-request interval, then reserve their token estimate in a
// sliding one-minute window.
type pacer struct {
	queue   sync.Mutex
	limiter *rate.Limiter
	window  *tokenWindow
}

func newPacer(minInterval time.Duration, tokensPerMinute int) *pacer {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &pacer{
		limiter: rate.NewLimiter(limit, 1),
		window:  newTokenWindow(tokensPerMinute, tokenWindowSpan, time.Now),
	}
}

// acquire blocks until the request may be sent and returns its reservation.
func (p *pacer) acquire(ctx context.Context, estimate int) (uint64, error) {
	p.queue.Lock()
	defer p.queue.Unlock()
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return p.window.reserve(ctx, estimate)
}

type tokenEntry struct {
	id     uint64
	at     time.Time
	tokens int
}

// tokenWindow tracks token usage over a trailing window. A reservation that
// would exceed the limit waits until enough old entries age out. A single
// request larger than the limit is admitted once the window is empty.
type tokenWindow struct {
	mu      sync.Mutex
	limit   int
	span    time.Duration
	now     func() time.Time
	entries []tokenEntry
	nextID  uint64
}

func newTokenWindow(limit int, span time.Duration, now func() time.Time) *tokenWindow {
	return &tokenWindow{limit: limit, span: span, now: now}
}

func (w *tokenWindow) reserve(ctx context.Context, tokens int) (uint64, error) {
	if tokens < 0 {
		tokens = 0
	}
	for {
		w.mu.Lock()
		now := w.now()
		w.pruneLocked(now)
		if w.limit <= 0 || len(w.entries) == 0 || w.usedLocked()+tokens <= w.limit {
			w.nextID++
			id := w.nextID
			w.entries = append(w.entries, tokenEntry{id: id, at: now, tokens: tokens})
			w.mu.Unlock()
			return id, nil
		}
		wait := w.entries[0].at.Add(w.span).Sub(now)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

// reconcile replaces a reservation's estimate with actual usage.
func (w *tokenWindow) reconcile(id uint64, actual int) {
	if actual < 0 {
		actual = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.entries {
		if w.entries[i].id == id {
			w.entries[i].tokens = actual
			return
		}
	}
}

func (w *tokenWindow) used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.usedLocked()
}

func (w *tokenWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	keep := 0
	for keep < len(w.entries) && !w.entries[keep].at.After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.entries = append(w.entries[:0], w.entries[keep:]...)
	}
}

func (w *tokenWindow) usedLocked() int {
	total := 0
	for _, e := range w.entries {
		total += e.tokens
	}
	return total
}

package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits or denies a call immediately. Implementations never wait.
type Limiter interface {
	TryAcquire(key string) bool
}

// Unlimited admits every call.
type Unlimited struct{}

// TryAcquire always returns true.
func (Unlimited) TryAcquire(string) bool { return true }

type bucketKey struct {
	key   string
	index int64
}

// Window is an in-process fixed-window counter: at most Requests calls per
// key within each aligned window of length Window.
type Window struct {
	requests int
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	counts  map[bucketKey]int
	current int64
}

// WindowOption customises a Window.
type WindowOption func(*Window)

// WithClock overrides the time source.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWindow builds a limiter allowing requests calls per window. A
// non-positive requests or window yields a limiter that admits everything.
func NewWindow(requests int, window time.Duration, opts ...WindowOption) *Window {
	w := &Window{
		requests: requests,
		window:   window,
		now:      time.Now,
		counts:   make(map[bucketKey]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TryAcquire consumes one unit of budget for key if any is left in the
// current window.
func (w *Window) TryAcquire(key string) bool {
	if w.requests <= 0 || w.window <= 0 {
		return true
	}
	index := w.now().UnixNano() / int64(w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	if index > w.current {
		w.current = index
		w.purgeLocked()
	}
	bk := bucketKey{key: key, index: index}
	if w.counts[bk] >= w.requests {
		return false
	}
	w.counts[bk]++
	return true
}

// Remaining reports the unused budget for key in the current window.
func (w *Window) Remaining(key string) int {
	if w.requests <= 0 || w.window <= 0 {
		return -1
	}
	index := w.now().UnixNano() / int64(w.window)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requests - w.counts[bucketKey{key: key, index: index}]
}

// purgeLocked drops buckets older than the previous window.
func (w *Window) purgeLocked() {
	for bk := range w.counts {
		if bk.index < w.current-1 {
			delete(w.counts, bk)
		}
	}
}

func (w *Window) bucketCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.counts)
}

// Package ratequeue admits outbound requests by priority under a
// concurrency bound and a sliding-window rate limit, retrying retryable
// failures with exponential backoff.
package ratequeue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultConcurrency = 2
	DefaultWindow      = time.Minute
	DefaultMaxRequests = 30
	DefaultMaxRetries  = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// Config tunes a Queue. Zero values fall back to defaults.
type Config struct {
	Concurrency int
	Window      time.Duration
	// MaxRequests is the number of admissions allowed per Window.
	MaxRequests int
	// MaxRetries bounds retries after the first attempt. Negative disables
	// retrying.
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
	// OnReject is called once per request that fails for good.
	OnReject    func(Class)
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending  int `json:"pending"`
	Running  int `json:"running"`
	Admitted int `json:"admitted"`
	Retries  int `json:"retries"`
	Rejected int `json:"rejected"`
}

type waiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
	index    int
}

type waitHeap []*waiter

func (h waitHeap) Len() int { return len(h) }
func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *waitHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}
func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// Queue is safe for concurrent use.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	waiting  waitHeap
	seq      uint64
	running  int
	admitted []time.Time
	timer    *time.Timer
	stats    Stats
}

// New creates a Queue.
func New(cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{cfg: cfg, logger: logger}
}

// Do runs fn once admitted. Lower priority values are admitted first;
// equal priorities are first come, first served. Retryable failures are
// retried up to MaxRetries times, each retry re-entering admission after
// a backoff delay. The returned error is nil, a context error, or *Error.
func (q *Queue) Do(ctx context.Context, priority int, fn func(context.Context) error) error {
	var last error
	attempts := 0
	for attempt := 0; attempt <= q.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := q.Backoff(attempt)
			q.logger.Debug("ratequeue retry", "attempt", attempt, "delay", delay, "error", last)
			q.mu.Lock()
			q.stats.Retries++
			q.mu.Unlock()
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		if err := q.acquire(ctx, priority); err != nil {
			return err
		}
		err := q.call(ctx, fn)
		attempts++
		if err == nil {
			return nil
		}
		last = err

		class := Classify(err)
		if !class.Retryable() {
			return q.reject(class, attempts, err)
		}
	}
	return q.reject(Classify(last), attempts, last)
}

// call runs fn in an acquired slot. The slot is released even if fn panics.
func (q *Queue) call(ctx context.Context, fn func(context.Context) error) error {
	defer q.release()
	return fn(ctx)
}

func (q *Queue) reject(class Class, attempts int, err error) error {
	q.mu.Lock()
	q.stats.Rejected++
	q.mu.Unlock()
	if q.cfg.OnReject != nil {
		q.cfg.OnReject(class)
	}
	return &Error{Class: class, Attempts: attempts, Err: err}
}

// Backoff returns the delay before retry number attempt (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.MaxDelay {
			return q.cfg.MaxDelay
		}
	}
	if d > q.cfg.MaxDelay {
		d = q.cfg.MaxDelay
	}
	return d
}

func (q *Queue) acquire(ctx context.Context, priority int) error {
	q.mu.Lock()
	q.seq++
	w := &waiter{priority: priority, seq: q.seq, ready: make(chan struct{})}
	heap.Push(&q.waiting, w)
	q.dispatchLocked()
	q.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		if w.index >= 0 {
			heap.Remove(&q.waiting, w.index)
			return ctx.Err()
		}
		// Admitted while cancelling; hand the slot back.
		q.running--
		q.dispatchLocked()
		return ctx.Err()
	}
}

func (q *Queue) release() {
	q.mu.Lock()
	q.running--
	q.dispatchLocked()
	q.mu.Unlock()
}

// dispatchLocked admits waiters while a concurrency slot and window
// capacity are both free. When only the window is exhausted it arms a
// timer for the moment the oldest admission leaves the window.
func (q *Queue) dispatchLocked() {
	now := time.Now()
	cutoff := now.Add(-q.cfg.Window)
	i := 0
	for i < len(q.admitted) && !q.admitted[i].After(cutoff) {
		i++
	}
	q.admitted = q.admitted[i:]

	for q.waiting.Len() > 0 && q.running < q.cfg.Concurrency {
		if len(q.admitted) >= q.cfg.MaxRequests {
			if q.timer == nil {
				wait := q.admitted[0].Add(q.cfg.Window).Sub(now)
				q.timer = time.AfterFunc(wait, func() {
					q.mu.Lock()
					q.timer = nil
					q.dispatchLocked()
					q.mu.Unlock()
				})
			}
			return
		}
		w := heap.Pop(&q.waiting).(*waiter)
		q.running++
		q.stats.Admitted++
		q.admitted = append(q.admitted, now)
		close(w.ready)
	}
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = q.waiting.Len()
	s.Running = q.running
	return s
}

// Close stops any pending window timer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

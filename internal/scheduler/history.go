package scheduler

import (
	"sync"
	"time"

	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/goal"
)

// Entry is one finished task: completed, failed or timed out.
type Entry struct {
	Task      goal.Task
	Result    capability.Result
	Timestamp time.Time
	Duration  time.Duration
}

// Outcome is "success" or the failure reason code.
func (e Entry) Outcome() string {
	if e.Result.Success {
		return "success"
	}
	if e.Result.Reason == "" {
		return capability.ReasonFailed
	}
	return e.Result.Reason
}

// History is a fixed-capacity ring; the oldest entry is evicted first.
type History struct {
	mu    sync.RWMutex
	buf   []Entry
	start int
	n     int
}

// NewHistory creates a ring holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{buf: make([]Entry, size)}
}

func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = e
		h.n++
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (h *History) Recent(limit int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > h.n {
		limit = h.n
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, h.buf[(h.start+h.n-1-i)%len(h.buf)])
	}
	return out
}

// Resize changes the capacity, keeping the newest entries.
func (h *History) Resize(size int) {
	if size <= 0 {
		size = 1
	}
	keep := h.Recent(size)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = make([]Entry, size)
	h.start = 0
	h.n = len(keep)
	for i := range keep {
		h.buf[i] = keep[len(keep)-1-i]
	}
}

package pattern

import "github.com/eliteGoblin/focusd/patmon/internal/domain"

// DefaultWindowSize is the number of recent events kept for classification.
const DefaultWindowSize = 100

// Window is a fixed-capacity FIFO ring buffer of events.
// It assumes a single writer; callers that fan in from several goroutines
// must serialize Append themselves.
type Window struct {
	buf   []domain.Event
	head  int // index of the oldest event
	count int
}

// NewWindow creates a window holding at most capacity events.
// Non-positive capacities fall back to DefaultWindowSize.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{buf: make([]domain.Event, capacity)}
}

// Append inserts an event, evicting the oldest one when full.
func (w *Window) Append(ev domain.Event) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = ev
		w.count++
		return
	}
	w.buf[w.head] = ev
	w.head = (w.head + 1) % len(w.buf)
}

// Snapshot returns a copy of the most recent n events in insertion order.
// n <= 0 or n larger than the window returns everything held.
func (w *Window) Snapshot(n int) []domain.Event {
	if n <= 0 || n > w.count {
		n = w.count
	}
	out := make([]domain.Event, n)
	start := w.head + w.count - n
	for i := 0; i < n; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// Len returns the number of events held.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Reset drops all events.
func (w *Window) Reset() {
	w.head = 0
	w.count = 0
}

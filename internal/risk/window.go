package risk

import (
	"sync"
	"time"
)

// rollingWindow counts events over a sliding duration. Used for the
// order/trade rate checks over the 1-hour and 1-day windows.
type rollingWindow struct {
	mu     sync.Mutex
	span   time.Duration
	stamps []time.Time
}

func newRollingWindow(span time.Duration) *rollingWindow {
	return &rollingWindow{span: span}
}

func (w *rollingWindow) Record(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(at)
	w.stamps = append(w.stamps, at)
}

func (w *rollingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.stamps)
}

func (w *rollingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for ; i < len(w.stamps); i++ {
		if w.stamps[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.stamps = w.stamps[i:]
	}
}

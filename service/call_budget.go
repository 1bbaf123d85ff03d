package services

import (
	"sync"
	"time"
)

// callBudget admits at most limit calls in any trailing span of length per.
// Unlike a fixed window it never lets a burst straddle a reset.
type callBudget struct {
	mu    sync.Mutex
	limit int
	per   time.Duration
	calls []time.Time
	now   func() time.Time
}

func newCallBudget(limit int, per time.Duration) *callBudget {
	return &callBudget{limit: limit, per: per, now: time.Now}
}

// take records a call and reports whether it fits the budget. Refused calls are not recorded.
func (b *callBudget) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	cutoff := now.Add(-b.per)
	kept := b.calls[:0]
	for _, at := range b.calls {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.calls = kept

	if len(b.calls) >= b.limit {
		return false
	}
	b.calls = append(b.calls, now)
	return true
}

// Package backoffutil provides the shared exponential back-off and retry
// budget used by both the transport-level and query-level retry loops.
package backoffutil

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// New returns an exponential back-off policy bounded by [floor, ceiling],
// with no maximum elapsed time — callers own the retry count via Budget.
func New(floor, ceiling time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = floor
	b.MaxInterval = ceiling
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Budget tracks a cap shared across multiple retry loops. At most Max
// retries are allowed in total, measured as successful calls to Consume.
// It is safe for concurrent use, though in practice a single statement's
// transport and query retry loops never race — they alternate on one
// goroutine.
type Budget struct {
	mu       sync.Mutex
	max      int
	consumed int
}

// NewBudget creates a Budget allowing up to max total retries.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Remaining returns how many retries are still available.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max - b.consumed
}

// Consume reports whether a retry may proceed and, if so, deducts it from
// the budget. It returns false once the budget is exhausted.
func (b *Budget) Consume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed >= b.max {
		return false
	}
	b.consumed++
	return true
}

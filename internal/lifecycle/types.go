package lifecycle

import (
	"time"
)

// Config tunes the lifecycle manager.
type Config struct {
	// MaxRetries is the submission retry budget per order.
	MaxRetries int
	// RetryDelay is the base delay; the actual delay grows linearly with
	// the retry count.
	RetryDelay time.Duration
	// QueueSize bounds each per-market submission queue.
	QueueSize int
	// ReconcileInterval paces the reconciliation loop.
	ReconcileInterval time.Duration
	// SweepInterval paces the stale-order sweep.
	SweepInterval time.Duration
	// MaxOrderAge is the open-order age after which the sweep cancels.
	MaxOrderAge time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		RetryDelay:        time.Second,
		QueueSize:         100,
		ReconcileInterval: 10 * time.Second,
		SweepInterval:     30 * time.Second,
		MaxOrderAge:       5 * time.Minute,
	}
}

// RateRecorder receives order/trade occurrences for rolling rate windows.
// The risk gate implements it.
type RateRecorder interface {
	RecordOrder()
	RecordTrade()
}

// linearBackOff grows the wait linearly with the attempt count, matching
// the submission retry policy.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.base
}

func (b *linearBackOff) Reset() { b.n = 0 }

package orchestrator

import (
	"context"
	"sync"

	"polyagent/internal/core"
)

// QueueSource is a buffered SignalSource fed by external callers (the HTTP
// API, tests). Next drains everything queued since the previous cycle.
type QueueSource struct {
	mu      sync.Mutex
	pending []core.Signal
}

// NewQueueSource creates an empty source.
func NewQueueSource() *QueueSource {
	return &QueueSource{}
}

// Push queues a signal for the next cycle.
func (q *QueueSource) Push(sig core.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, sig)
}

// Next returns and clears the queued signals.
func (q *QueueSource) Next(ctx context.Context) ([]core.Signal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out, nil
}

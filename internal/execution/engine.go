package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

// Engine dispatches approved intents to the algorithm named on the intent.
// The algorithm set is closed: an unknown value is a validation error, not a
// lookup miss discovered at runtime.
type Engine struct {
	submit Submitter
	quotes Quoter
	gate   Gater
	state  func() core.AccountState
	bus    *events.Bus
	cfg    Config

	// sleep is injectable so interval algorithms are testable without
	// wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewEngine creates the execution engine.
func NewEngine(submit Submitter, quotes Quoter, gate Gater, state func() core.AccountState, bus *events.Bus, cfg Config) *Engine {
	return &Engine{
		submit: submit,
		quotes: quotes,
		gate:   gate,
		state:  state,
		bus:    bus,
		cfg:    cfg,
		sleep:  sleepCtx,
		active: make(map[string]context.CancelFunc),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs one intent to completion under the algorithm it names. The
// task is tracked while running so CancelAll can abort long-running plans.
func (e *Engine) Execute(ctx context.Context, intent core.TradeIntent) (Result, error) {
	if intent.ApprovedQuantity <= 0 {
		return Result{}, &core.ValidationError{Field: "approved_quantity", Reason: "not positive"}
	}

	algo := intent.Algorithm
	if algo == core.AlgoAdaptive {
		algo = e.chooseAlgorithm(ctx, intent)
		log.Printf("execution: adaptive selected %s for %s", algo, intent.Signal.MarketID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	key := intent.Signal.ID
	if key == "" {
		key = fmt.Sprintf("%s-%d", intent.Signal.MarketID, time.Now().UnixNano())
	}
	e.mu.Lock()
	e.active[key] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, key)
		e.mu.Unlock()
	}()

	var (
		res Result
		err error
	)
	switch algo {
	case core.AlgoMarket:
		res, err = e.runMarket(runCtx, intent)
	case core.AlgoIceberg:
		res, err = e.runIceberg(runCtx, intent)
	case core.AlgoTWAP:
		res, err = e.runTWAP(runCtx, intent)
	case core.AlgoSniper:
		res, err = e.runSniper(runCtx, intent)
	case core.AlgoBracket:
		res, err = e.runBracket(runCtx, intent)
	case core.AlgoTrailing:
		res, err = e.runTrailing(runCtx, intent)
	default:
		return Result{}, &core.ValidationError{Field: "algorithm", Reason: "unknown: " + string(algo)}
	}
	res.Algorithm = algo

	// A cancelled plan must not leave its resting children on the book.
	if runCtx.Err() != nil {
		for _, c := range res.Chunks {
			if c.Status == core.StatusOpen && c.OrderID != "" {
				if cerr := e.submit.Cancel(context.Background(), c.OrderID); cerr != nil {
					log.Printf("execution: cancel child %s error: %v", c.OrderID, cerr)
				}
			}
		}
	}
	return res, err
}

// CancelAll aborts every in-flight execution plan. Each plan cancels its own
// unfilled children on the way out.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.active)
	for _, cancel := range e.active {
		cancel()
	}
	return n
}

// ActiveCount returns the number of in-flight plans.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

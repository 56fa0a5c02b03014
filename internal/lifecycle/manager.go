// Package lifecycle owns the authoritative local registry of in-flight
// orders: submission with bounded retry, cancellation, reconciliation
// against the exchange, and stale-order expiry.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"polyagent/internal/core"
	"polyagent/internal/events"
	"polyagent/internal/exchange"
	"polyagent/pkg/db"
)

// Manager submits, cancels, and reconciles orders. Submission is serialized
// per market: one worker goroutine per market drains a dedicated queue, so
// orders within one market go out in the order they were queued while
// different markets proceed concurrently.
type Manager struct {
	ec     *core.EngineContext
	exch   exchange.Client
	wallet exchange.Wallet
	store  *db.Store
	bus    *events.Bus
	rates  RateRecorder
	cfg    Config

	mu     sync.Mutex
	queues map[string]chan submitTask
	wg     sync.WaitGroup
	closed bool

	fillMu sync.Mutex // serializes fill application for idempotence
}

type submitTask struct {
	ctx     context.Context
	orderID string
	done    chan error
}

// NewManager creates a lifecycle manager.
func NewManager(ec *core.EngineContext, exch exchange.Client, wallet exchange.Wallet, store *db.Store, bus *events.Bus, rates RateRecorder, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Manager{
		ec:     ec,
		exch:   exch,
		wallet: wallet,
		store:  store,
		bus:    bus,
		rates:  rates,
		cfg:    cfg,
		queues: make(map[string]chan submitTask),
	}
}

// Start launches the reconciliation and stale-order sweep loops. Both are
// best-effort against an eventually-consistent remote: errors are logged and
// retried on the next tick, never escalated.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.ReconcileInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.cfg.ReconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := m.ReconcileOnce(ctx); err != nil {
						log.Printf("lifecycle: reconcile error: %v", err)
					}
				}
			}
		}()
	}
	if m.cfg.SweepInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.SweepStale(ctx, m.cfg.MaxOrderAge)
				}
			}
		}()
	}
	log.Printf("lifecycle: started (reconcile=%v sweep=%v max_age=%v)",
		m.cfg.ReconcileInterval, m.cfg.SweepInterval, m.cfg.MaxOrderAge)
}

// Wait blocks until the background loops have exited.
func (m *Manager) Wait() { m.wg.Wait() }

// Submit validates and queues an order, then blocks until the submission
// attempt (including retries) reaches Open, Filled, or a terminal failure.
// The returned order is a snapshot of the post-submission state.
func (m *Manager) Submit(ctx context.Context, o core.Order) (core.Order, error) {
	if o.MarketID == "" {
		return core.Order{}, &core.ValidationError{Field: "market_id", Reason: "missing"}
	}
	if o.Quantity <= 0 {
		return core.Order{}, &core.ValidationError{Field: "quantity", Reason: "not positive"}
	}
	if o.Type == core.OrderTypeLimit && o.Price <= 0 {
		return core.Order{}, &core.ValidationError{Field: "price", Reason: "not positive"}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Outcome == "" {
		o.Outcome = core.OutcomeYes
	}
	o.Status = core.StatusPending
	o.CreatedAt = time.Now()

	m.ec.Orders.Put(o)
	m.persist(ctx, o) // pending rows are best-effort

	task := submitTask{ctx: ctx, orderID: o.ID, done: make(chan error, 1)}
	queue, err := m.queueFor(o.MarketID)
	if err != nil {
		return core.Order{}, err
	}
	select {
	case queue <- task:
	case <-ctx.Done():
		return core.Order{}, ctx.Err()
	}

	select {
	case err := <-task.done:
		final, _ := m.ec.Orders.Get(o.ID)
		return final, err
	case <-ctx.Done():
		final, _ := m.ec.Orders.Get(o.ID)
		return final, ctx.Err()
	}
}

func (m *Manager) queueFor(marketID string) (chan submitTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, core.ErrEngineStopped
	}
	q, ok := m.queues[marketID]
	if !ok {
		q = make(chan submitTask, m.cfg.QueueSize)
		m.queues[marketID] = q
		m.wg.Add(1)
		go m.worker(q)
	}
	return q, nil
}

// Close stops accepting submissions and drains the per-market workers.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, q := range m.queues {
		close(q)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) worker(queue chan submitTask) {
	defer m.wg.Done()
	for task := range queue {
		task.done <- m.processSubmit(task.ctx, task.orderID)
	}
}

// errOrderDone marks a submission task whose order reached a terminal state
// before placement, e.g. cancelled while still queued. The task completes as
// a no-op.
var errOrderDone = errors.New("lifecycle: order already terminal")

// processSubmit drives Pending -> Submitted -> {Open,Filled} with a bounded
// linear-backoff retry. A rejected submission re-enters Pending until the
// budget is exhausted; a declined signature is terminal for the order.
func (m *Manager) processSubmit(ctx context.Context, orderID string) error {
	if _, ok := m.ec.Orders.Get(orderID); !ok {
		return fmt.Errorf("lifecycle: unknown order %s", orderID)
	}

	operation := func() (exchange.PlaceResult, error) {
		// The order may have gone terminal while waiting in the queue or
		// between retries; a terminal order must never be placed.
		if cur, ok := m.ec.Orders.Get(orderID); !ok || cur.Status.Terminal() {
			return exchange.PlaceResult{}, backoff.Permanent(errOrderDone)
		}

		cur, _ := m.ec.Orders.Update(orderID, func(ord *core.Order) {
			ord.Status = core.StatusSubmitted
			ord.SubmittedAt = time.Now()
		})

		msg := fmt.Sprintf("order:%s:%s:%s:%s:%.6f:%.6f",
			cur.ID, cur.MarketID, cur.Outcome, cur.Side, cur.Price, cur.Quantity)
		sig, err := m.wallet.SignOrder(ctx, msg)
		if err != nil {
			// Declined signatures are never auto-retried.
			return exchange.PlaceResult{}, backoff.Permanent(core.ErrSigningDeclined)
		}

		res, err := m.exch.PlaceOrder(ctx, exchange.OrderRequest{
			ClientID: cur.ID,
			MarketID: cur.MarketID,
			Outcome:  cur.Outcome,
			Side:     cur.Side,
			Type:     cur.Type,
			Price:    cur.Price,
			Quantity: cur.Quantity,
		}, sig)
		if err != nil {
			m.ec.Orders.Update(orderID, func(ord *core.Order) {
				ord.Status = core.StatusPending
				ord.RetryCount++
				ord.LastError = err.Error()
			})
			return exchange.PlaceResult{}, core.Transient("place order", err)
		}
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{base: m.cfg.RetryDelay}),
		backoff.WithMaxTries(uint(m.cfg.MaxRetries)),
	)
	if err != nil {
		if errors.Is(err, errOrderDone) {
			log.Printf("lifecycle: order %s went terminal before placement, skipping", orderID)
			return nil
		}
		final, _ := m.ec.Orders.Update(orderID, func(ord *core.Order) {
			ord.Status = core.StatusFailed
			ord.FailedAt = time.Now()
			if ord.LastError == "" {
				ord.LastError = err.Error()
			}
		})
		m.persist(ctx, final)
		if m.bus != nil {
			m.bus.Publish(events.EventOrderFailed, final)
		}
		log.Printf("lifecycle: order %s failed after %d retries: %v", orderID, final.RetryCount, err)
		if errors.Is(err, core.ErrSigningDeclined) {
			return core.ErrSigningDeclined
		}
		return err
	}

	if m.rates != nil {
		m.rates.RecordOrder()
	}

	placed, _ := m.ec.Orders.Update(orderID, func(ord *core.Order) {
		ord.Status = core.StatusOpen
	})
	m.persist(ctx, placed)
	if m.bus != nil {
		m.bus.Publish(events.EventOrderPlaced, placed)
	}
	log.Printf("lifecycle: order %s %s %s qty=%.4f placed", placed.ID, placed.MarketID, placed.Side, placed.Quantity)

	if res.Status == core.StatusFilled {
		m.ApplyFill(ctx, orderID, res.AvgPrice, res.FilledQty, res.Fee)
	}
	return nil
}

// ApplyFill transitions an order out of Open atomically with Trade creation.
// Applying the same fill twice produces exactly one Trade record: the
// transition guard makes reconciliation idempotent.
func (m *Manager) ApplyFill(ctx context.Context, orderID string, price, qty, fee float64) (core.Trade, bool) {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()

	cur, ok := m.ec.Orders.Get(orderID)
	if !ok || cur.Status.Terminal() {
		return core.Trade{}, false
	}

	filled, _ := m.ec.Orders.Update(orderID, func(ord *core.Order) {
		ord.Status = core.StatusFilled
		ord.FilledQty = qty
		ord.FilledAt = time.Now()
		if price > 0 {
			ord.Price = price
		}
	})

	trade := core.Trade{
		ID:        uuid.NewString(),
		OrderID:   filled.ID,
		MarketID:  filled.MarketID,
		Asset:     filled.Asset,
		Outcome:   filled.Outcome,
		Side:      filled.Side,
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		CreatedAt: time.Now(),
	}

	m.persist(ctx, filled)
	if m.store != nil {
		if err := m.store.SaveTrade(ctx, trade); err != nil {
			log.Printf("lifecycle: store trade error: %v", err)
		}
	}
	if m.rates != nil {
		m.rates.RecordTrade()
	}
	if m.bus != nil {
		m.bus.Publish(events.EventOrderFilled, trade)
	}
	log.Printf("lifecycle: order %s filled qty=%.4f @ %.4f", orderID, qty, price)
	return trade, true
}

// Cancel requests cancellation with a fresh signature. Idempotent:
// cancelling an already-terminal order is a no-op that still succeeds.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	cur, ok := m.ec.Orders.Get(orderID)
	if !ok {
		return fmt.Errorf("lifecycle: unknown order %s", orderID)
	}
	if cur.Status.Terminal() {
		return nil
	}

	// Cancellation message carries its own nonce, distinct from submission.
	sig, err := m.wallet.SignCancellation(ctx, "cancel:"+orderID)
	if err != nil {
		return core.ErrSigningDeclined
	}
	if err := m.exch.CancelOrder(ctx, orderID, sig); err != nil {
		return core.Transient("cancel order", err)
	}

	cancelled, _ := m.ec.Orders.Update(orderID, func(ord *core.Order) {
		ord.Status = core.StatusCancelled
		ord.CancelledAt = time.Now()
	})
	m.persist(ctx, cancelled)
	if m.bus != nil {
		m.bus.Publish(events.EventOrderCancelled, cancelled)
	}
	log.Printf("lifecycle: order %s cancelled", orderID)
	return nil
}

// CancelAllOpen fans out cancellation of every open order; one failure does
// not block the others. Returns the number successfully cancelled.
func (m *Manager) CancelAllOpen(ctx context.Context) int {
	open := m.ec.Orders.Open()
	if len(open) == 0 {
		return 0
	}

	var mu sync.Mutex
	cancelled := 0
	p := pool.New()
	for _, o := range open {
		p.Go(func() {
			if err := m.Cancel(ctx, o.ID); err != nil {
				log.Printf("lifecycle: cancel %s error: %v", o.ID, err)
				return
			}
			mu.Lock()
			cancelled++
			mu.Unlock()
		})
	}
	p.Wait()
	return cancelled
}

// Sweep runs one stale-order pass with the configured max age. The
// orchestrator calls it at the end of every cycle, in addition to the
// background sweep ticker.
func (m *Manager) Sweep(ctx context.Context) int {
	return m.SweepStale(ctx, m.cfg.MaxOrderAge)
}

// SweepStale cancels open orders older than maxAge. A liveness guard, not
// an error path: no order may sit non-terminal indefinitely.
func (m *Manager) SweepStale(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	swept := 0
	for _, o := range m.ec.Orders.Open() {
		if o.Status != core.StatusOpen || o.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.Cancel(ctx, o.ID); err != nil {
			log.Printf("lifecycle: sweep cancel %s error: %v", o.ID, err)
			continue
		}
		swept++
	}
	if swept > 0 {
		log.Printf("lifecycle: swept %d stale orders", swept)
	}
	return swept
}

func (m *Manager) persist(ctx context.Context, o core.Order) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveOrder(ctx, o); err != nil {
		log.Printf("lifecycle: store order error: %v", err)
	}
}

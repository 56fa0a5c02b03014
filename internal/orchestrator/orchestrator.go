// Package orchestrator drives the trading cycle: account risk evaluation,
// signal intake, trade dispatch, order hygiene, and the emergency stop.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"polyagent/internal/core"
	"polyagent/internal/events"
	"polyagent/internal/exchange"
	"polyagent/internal/execution"
	"polyagent/internal/lifecycle"
	"polyagent/internal/risk"
	"polyagent/pkg/db"
)

// SignalSource supplies candidate signals each cycle. Implementations pull
// from strategy processes, webhooks, or tests.
type SignalSource interface {
	Next(ctx context.Context) ([]core.Signal, error)
}

// RunState is the orchestrator's coarse operating mode.
type RunState string

const (
	StateRunning RunState = "RUNNING"
	StatePaused  RunState = "PAUSED"  // soft pause, hygiene continues, no new trades
	StateStopped RunState = "STOPPED" // requires an explicit Start to resume
)

// Config tunes the orchestrator loop.
type Config struct {
	CycleInterval  time.Duration
	InitialBalance float64
	Account        string
}

// Orchestrator wires the risk gate, execution engine, and lifecycle manager
// into one supervised loop. It is the single writer of the position book and
// the account metrics.
type Orchestrator struct {
	ec      *core.EngineContext
	gate    *risk.Gate
	engine  *execution.Engine
	manager *lifecycle.Manager
	exch    exchange.Client
	store   *db.Store
	bus     *events.Bus
	source  SignalSource
	cfg     Config

	mu    sync.Mutex
	state RunState
	acct  accountMetrics

	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// New creates the orchestrator. It starts stopped; call Start to run.
func New(ec *core.EngineContext, gate *risk.Gate, engine *execution.Engine, manager *lifecycle.Manager, exch exchange.Client, store *db.Store, bus *events.Bus, source SignalSource, cfg Config) *Orchestrator {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 5 * time.Second
	}
	return &Orchestrator{
		ec:      ec,
		gate:    gate,
		engine:  engine,
		manager: manager,
		exch:    exch,
		store:   store,
		bus:     bus,
		source:  source,
		cfg:     cfg,
		state:   StateStopped,
		acct:    newAccountMetrics(cfg.InitialBalance),
	}
}

// SetEngine attaches the execution engine. Wiring is two-phase because the
// engine needs the orchestrator's account snapshot for interval re-checks.
func (o *Orchestrator) SetEngine(e *execution.Engine) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.engine = e
}

// State returns the current operating mode.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s RunState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Start launches the fill consumer and the cycle loop. An emergency-stopped
// engine resumes only through this explicit call.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return nil
	}
	o.state = StateRunning
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	o.wg.Go(func() { o.consumeFills(runCtx) })
	o.wg.Go(func() { o.loop(runCtx) })
	o.persistState(ctx, "running")
	log.Printf("orchestrator: started (cycle=%v)", o.cfg.CycleInterval)
	return nil
}

// Stop halts the loop without cancelling open orders.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = StateStopped
	o.mu.Unlock()
	o.persistState(ctx, "stopped")
	log.Printf("orchestrator: stopped")
}

// Wait blocks until the background goroutines exit.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) loop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.State() != StateRunning && o.State() != StatePaused {
				return
			}
			o.runCycle(ctx)
		}
	}
}

// EmergencyStop cancels everything cancellable, persists the decision, and
// leaves the engine stopped. Cancellations fan out so one unresponsive order
// cannot block the rest; failures are logged and the stop proceeds.
func (o *Orchestrator) EmergencyStop(ctx context.Context, reason string) {
	log.Printf("orchestrator: EMERGENCY STOP: %s", reason)

	plans := 0
	if o.engine != nil {
		plans = o.engine.CancelAll()
	}
	cancelled := o.manager.CancelAllOpen(ctx)
	log.Printf("orchestrator: emergency stop aborted %d plans, cancelled %d orders", plans, cancelled)

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = StateStopped
	o.mu.Unlock()

	o.persistState(ctx, "emergency_stopped:"+reason)
	if o.store != nil {
		if err := o.store.SaveRiskEvent(ctx, "emergency_stop", "critical", map[string]any{
			"reason":           reason,
			"plans_aborted":    plans,
			"orders_cancelled": cancelled,
		}); err != nil {
			log.Printf("orchestrator: save risk event error: %v", err)
		}
	}
	if o.bus != nil {
		o.bus.Publish(events.EventEmergencyStop, reason)
	}
}

func (o *Orchestrator) persistState(ctx context.Context, v string) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveEngineState(ctx, "engine_status", v); err != nil {
		log.Printf("orchestrator: persist state error: %v", err)
	}
}

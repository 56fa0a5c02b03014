package orchestrator

import (
	"context"
	"math"
	"testing"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/events"
	"polyagent/internal/exchange"
	"polyagent/internal/execution"
	"polyagent/internal/lifecycle"
	"polyagent/internal/risk"
)

type fixture struct {
	orch    *Orchestrator
	paper   *exchange.Paper
	manager *lifecycle.Manager
	source  *QueueSource
	ec      *core.EngineContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ec := core.NewEngineContext(core.DefaultRiskLimits())
	bus := events.NewBus()
	paper := exchange.NewPaper(exchange.PaperConfig{})
	wallet := exchange.NewStaticWallet("0xtest")
	gate := risk.NewGate(ec, risk.NewCorrelationTable(nil), bus)

	mcfg := lifecycle.DefaultConfig()
	mcfg.RetryDelay = time.Millisecond
	mcfg.ReconcileInterval = 0
	mcfg.SweepInterval = 0
	manager := lifecycle.NewManager(ec, paper, wallet, nil, bus, gate, mcfg)
	t.Cleanup(manager.Close)

	source := NewQueueSource()
	orch := New(ec, gate, nil, manager, paper, nil, bus, source, Config{
		CycleInterval:  time.Hour, // cycles driven manually
		InitialBalance: 10000,
	})
	engine := execution.NewEngine(manager, paper, gate, orch.Snapshot, bus, execution.DefaultConfig())
	orch.SetEngine(engine)

	return &fixture{orch: orch, paper: paper, manager: manager, source: source, ec: ec}
}

func testSignal(qty float64) core.Signal {
	return core.Signal{
		ID:         "sig-1",
		MarketID:   "mkt-1",
		Asset:      "TEST",
		Outcome:    core.OutcomeYes,
		Direction:  core.DirectionBuy,
		Confidence: 0.70,
		Price:      0.50,
		Quantity:   qty,
		CreatedAt:  time.Now(),
	}
}

func TestCycleExecutesApprovedSignal(t *testing.T) {
	f := newFixture(t)
	f.paper.SetMidpoint("mkt-1", 0.50, 0.50)
	f.orch.setState(StateRunning)
	f.source.Push(testSignal(10))

	f.orch.runCycle(context.Background())
	f.orch.wg.Wait()

	orders := f.ec.Orders.All()
	if len(orders) == 0 {
		t.Fatalf("expected at least one order from an approved signal")
	}
	for _, o := range orders {
		if !o.Status.Terminal() && o.Status != core.StatusOpen {
			t.Fatalf("order %s in unexpected state %s", o.ID, o.Status)
		}
	}
}

// Signals under the confidence floor never reach the risk gate or the
// exchange.
func TestConfidenceFloorSkipsSignal(t *testing.T) {
	f := newFixture(t)
	f.paper.SetMidpoint("mkt-1", 0.50, 0.50)
	f.orch.setState(StateRunning)

	sig := testSignal(10)
	sig.Confidence = 0.50 // floor is 0.55
	f.source.Push(sig)

	f.orch.runCycle(context.Background())
	f.orch.wg.Wait()

	if n := len(f.ec.Orders.All()); n != 0 {
		t.Fatalf("orders=%d, expected 0 below the confidence floor", n)
	}
}

func TestConfidenceFloorBoundaryInclusive(t *testing.T) {
	f := newFixture(t)
	f.paper.SetMidpoint("mkt-1", 0.50, 0.50)
	f.orch.setState(StateRunning)

	sig := testSignal(10)
	sig.Confidence = 0.55 // exactly at the floor passes
	f.source.Push(sig)

	f.orch.runCycle(context.Background())
	f.orch.wg.Wait()

	if n := len(f.ec.Orders.All()); n == 0 {
		t.Fatalf("expected signal at the exact floor to trade")
	}
}

func TestHoldSignalIgnored(t *testing.T) {
	f := newFixture(t)
	f.paper.SetMidpoint("mkt-1", 0.50, 0.50)
	f.orch.setState(StateRunning)

	sig := testSignal(10)
	sig.Direction = core.DirectionHold
	f.source.Push(sig)

	f.orch.runCycle(context.Background())
	f.orch.wg.Wait()

	if n := len(f.ec.Orders.All()); n != 0 {
		t.Fatalf("orders=%d, expected 0 for HOLD", n)
	}
}

// A critical account breach during the cycle escalates to the emergency stop
// before any signal is processed.
func TestCycleEmergencyStopsOnDailyLoss(t *testing.T) {
	f := newFixture(t)
	f.orch.setState(StateRunning)
	f.orch.mu.Lock()
	f.orch.acct.dailyPnL = -600 // 6% of the 10000 base
	f.orch.mu.Unlock()
	f.source.Push(testSignal(10))

	f.orch.runCycle(context.Background())
	f.orch.wg.Wait()

	if got := f.orch.State(); got != StateStopped {
		t.Fatalf("state=%s, expected STOPPED", got)
	}
	if n := len(f.ec.Orders.All()); n != 0 {
		t.Fatalf("orders=%d, no signal may trade after an emergency stop", n)
	}
}

// The cycle ends with order hygiene: a resting order past the max age is
// cancelled without waiting for the background sweep ticker.
func TestCycleSweepsStaleOrders(t *testing.T) {
	f := newFixture(t)
	f.paper.SetMidpoint("mkt-1", 0.50, 0.50)
	f.orch.setState(StateRunning)

	o := core.Order{
		MarketID: "mkt-1",
		Asset:    "TEST",
		Outcome:  core.OutcomeYes,
		Side:     core.DirectionBuy,
		Type:     core.OrderTypeLimit,
		Price:    0.10, // rests
		Quantity: 10,
	}
	placed, err := f.manager.Submit(context.Background(), o)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	f.ec.Orders.Update(placed.ID, func(ord *core.Order) {
		ord.CreatedAt = time.Now().Add(-time.Hour)
	})

	f.orch.runCycle(context.Background())
	f.orch.wg.Wait()

	got, _ := f.ec.Orders.Get(placed.ID)
	if got.Status != core.StatusCancelled {
		t.Fatalf("status=%s, expected CANCELLED by cycle hygiene", got.Status)
	}
}

func TestEmergencyStopCancelsOpenOrders(t *testing.T) {
	f := newFixture(t)
	f.paper.SetMidpoint("mkt-1", 0.50, 0.50)

	o := core.Order{
		MarketID: "mkt-1",
		Asset:    "TEST",
		Outcome:  core.OutcomeYes,
		Side:     core.DirectionBuy,
		Type:     core.OrderTypeLimit,
		Price:    0.10, // rests
		Quantity: 10,
	}
	if _, err := f.manager.Submit(context.Background(), o); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if n := f.ec.Orders.OpenCount(); n != 1 {
		t.Fatalf("open=%d, expected 1 before the stop", n)
	}

	f.orch.EmergencyStop(context.Background(), "test trigger")

	if n := f.ec.Orders.OpenCount(); n != 0 {
		t.Fatalf("open=%d, expected 0 after the stop", n)
	}
	if got := f.orch.State(); got != StateStopped {
		t.Fatalf("state=%s, expected STOPPED", got)
	}
}

// The incrementally maintained position book must agree with a from-scratch
// recomputation over the same trade log.
func TestPositionBookMatchesTradeLog(t *testing.T) {
	f := newFixture(t)

	trades := []core.Trade{
		{ID: "t1", MarketID: "mkt-1", Asset: "TEST", Outcome: core.OutcomeYes, Side: core.DirectionBuy, Price: 0.40, Quantity: 100, CreatedAt: time.Now()},
		{ID: "t2", MarketID: "mkt-1", Asset: "TEST", Outcome: core.OutcomeYes, Side: core.DirectionBuy, Price: 0.50, Quantity: 50, CreatedAt: time.Now()},
		{ID: "t3", MarketID: "mkt-1", Asset: "TEST", Outcome: core.OutcomeYes, Side: core.DirectionSell, Price: 0.60, Quantity: 80, CreatedAt: time.Now()},
		{ID: "t4", MarketID: "mkt-2", Asset: "OTHER", Outcome: core.OutcomeNo, Side: core.DirectionBuy, Price: 0.30, Quantity: 40, CreatedAt: time.Now()},
	}
	for _, tr := range trades {
		f.orch.applyTrade(context.Background(), tr)
	}

	want := core.RecomputeFromTrades(trades)
	for key, qty := range want {
		var got float64
		for _, p := range f.ec.Positions.All() {
			if core.PositionKey(p.MarketID, p.Outcome) == key {
				got = p.Quantity
			}
		}
		if math.Abs(got-qty) > 1e-9 {
			t.Fatalf("position %s=%v, trade log says %v", key, got, qty)
		}
	}
}

func TestApplyTradeRealizedPnL(t *testing.T) {
	f := newFixture(t)

	f.orch.applyTrade(context.Background(), core.Trade{
		ID: "t1", MarketID: "mkt-1", Asset: "TEST", Outcome: core.OutcomeYes,
		Side: core.DirectionBuy, Price: 0.40, Quantity: 100, CreatedAt: time.Now(),
	})
	f.orch.applyTrade(context.Background(), core.Trade{
		ID: "t2", MarketID: "mkt-1", Asset: "TEST", Outcome: core.OutcomeYes,
		Side: core.DirectionSell, Price: 0.60, Quantity: 100, CreatedAt: time.Now(),
	})

	state := f.orch.Snapshot()
	if math.Abs(state.DailyPnL-20) > 1e-9 {
		t.Fatalf("DailyPnL=%v, expected 20 realized", state.DailyPnL)
	}
}

func TestSnapshotTracksPeak(t *testing.T) {
	f := newFixture(t)

	state := f.orch.Snapshot()
	if state.PeakValue != 10000 {
		t.Fatalf("PeakValue=%v, expected the initial balance", state.PeakValue)
	}

	f.orch.applyTrade(context.Background(), core.Trade{
		ID: "t1", MarketID: "mkt-1", Asset: "TEST", Outcome: core.OutcomeYes,
		Side: core.DirectionBuy, Price: 0.40, Quantity: 100, CreatedAt: time.Now(),
	})
	f.orch.applyTrade(context.Background(), core.Trade{
		ID: "t2", MarketID: "mkt-1", Asset: "TEST", Outcome: core.OutcomeYes,
		Side: core.DirectionSell, Price: 0.60, Quantity: 100, CreatedAt: time.Now(),
	})

	state = f.orch.Snapshot()
	if math.Abs(state.PortfolioValue-10020) > 1e-9 {
		t.Fatalf("PortfolioValue=%v, expected 10020", state.PortfolioValue)
	}
	if math.Abs(state.PeakValue-10020) > 1e-9 {
		t.Fatalf("PeakValue=%v, expected to ratchet to 10020", state.PeakValue)
	}
}

func TestQueueSourceDrains(t *testing.T) {
	q := NewQueueSource()
	q.Push(testSignal(1))
	q.Push(testSignal(2))

	got, err := q.Next(context.Background())
	if err != nil {
		t.Fatalf("Next returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("signals=%d, expected 2", len(got))
	}
	got, _ = q.Next(context.Background())
	if len(got) != 0 {
		t.Fatalf("second Next=%d signals, expected drained", len(got))
	}
}

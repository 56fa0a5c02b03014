package execution

import (
	"context"
	"testing"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

func publishTicks(t *testing.T, bus *events.Bus, marketID string, mids []float64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for _, mid := range mids {
		select {
		case <-deadline:
			t.Errorf("timed out publishing ticks")
			return
		case <-time.After(5 * time.Millisecond):
		}
		bus.Publish(events.EventPriceTick, core.PriceTick{
			MarketID: marketID,
			Yes:      mid,
			No:       1 - mid,
			At:       time.Now(),
		})
	}
}

// A filled bracket entry exits at market once the stop level is touched.
func TestBracketExitsOnStopLoss(t *testing.T) {
	bus := events.NewBus()
	sub := &fakeSubmitter{}
	e := NewEngine(sub, &fakeQuoter{}, nil, nil, bus, DefaultConfig())
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	done := make(chan Result, 1)
	go func() {
		res, err := e.Execute(context.Background(), testIntent(core.AlgoBracket, 100))
		if err != nil {
			t.Errorf("Execute returned error: %v", err)
		}
		done <- res
	}()

	// Entry fills at 0.50; default stop is 10% below. Drift down through it.
	publishTicks(t, bus, "mkt-1", []float64{0.49, 0.47, 0.44})

	select {
	case res := <-done:
		if len(res.Chunks) != 2 {
			t.Fatalf("chunks=%d, expected entry and exit", len(res.Chunks))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bracket never exited on stop touch")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.submitted) != 2 {
		t.Fatalf("submitted=%d, expected entry and exit", len(sub.submitted))
	}
	if sub.submitted[1].Side != core.DirectionSell {
		t.Fatalf("exit side=%s, expected SELL for a long entry", sub.submitted[1].Side)
	}
}

// The trailing watermark ratchets up with price and only triggers on the
// pullback from the high, not from the entry.
func TestTrailingStopRatchetsWatermark(t *testing.T) {
	bus := events.NewBus()
	sub := &fakeSubmitter{}
	e := NewEngine(sub, &fakeQuoter{}, nil, nil, bus, DefaultConfig())
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	e.cfg.TrailPct = 0.10

	done := make(chan Result, 1)
	go func() {
		res, err := e.Execute(context.Background(), testIntent(core.AlgoTrailing, 100))
		if err != nil {
			t.Errorf("Execute returned error: %v", err)
		}
		done <- res
	}()

	// Rally to 0.70 then pull back 10% off that high.
	publishTicks(t, bus, "mkt-1", []float64{0.55, 0.62, 0.70, 0.66, 0.62})

	select {
	case res := <-done:
		if len(res.Chunks) != 2 {
			t.Fatalf("chunks=%d, expected entry and exit", len(res.Chunks))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("trailing stop never triggered")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.submitted[1].Side != core.DirectionSell {
		t.Fatalf("exit side=%s, expected SELL", sub.submitted[1].Side)
	}
}

// Ticks for unrelated markets must not trigger an exit.
func TestWatchIgnoresOtherMarkets(t *testing.T) {
	bus := events.NewBus()
	e := NewEngine(&fakeSubmitter{}, &fakeQuoter{}, nil, nil, bus, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go publishTicks(t, bus, "mkt-other", []float64{0.01, 0.01, 0.01})

	err := e.watchTicks(ctx, "mkt-1", core.OutcomeYes, func(mid float64) bool { return true })
	if err == nil {
		t.Fatalf("expected context timeout, trigger fired on a foreign market")
	}
}

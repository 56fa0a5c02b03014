package execution

import (
	"context"
	"math/rand"
	"time"

	"polyagent/internal/core"
)

// childOrder builds one child order from the intent.
func childOrder(intent core.TradeIntent, typ core.OrderType, price, qty float64) core.Order {
	sig := intent.Signal
	return core.Order{
		MarketID:   sig.MarketID,
		Asset:      sig.Asset,
		Outcome:    sig.Outcome,
		Side:       sig.Direction,
		Type:       typ,
		Price:      price,
		Quantity:   qty,
		StrategyID: sig.StrategyID,
	}
}

// submitChild places one child order and folds the outcome into the result.
// A submission error is recorded on the chunk, not returned; the caller
// decides whether the plan continues.
func (e *Engine) submitChild(ctx context.Context, res *Result, o core.Order) (core.Order, bool) {
	placed, err := e.submit.Submit(ctx, o)
	chunk := ChunkResult{
		OrderID:  placed.ID,
		Status:   placed.Status,
		Price:    placed.Price,
		Quantity: o.Quantity,
		Filled:   placed.FilledQty,
	}
	if err != nil {
		chunk.Err = err.Error()
		res.Chunks = append(res.Chunks, chunk)
		return placed, false
	}
	res.Chunks = append(res.Chunks, chunk)
	if placed.Status == core.StatusFilled && placed.FilledQty > 0 {
		prev := res.FilledQuantity
		res.FilledQuantity += placed.FilledQty
		res.AverageFillPrice = (res.AverageFillPrice*prev + placed.Price*placed.FilledQty) / res.FilledQuantity
	}
	return placed, true
}

// jitteredDelay spreads the base delay over [0.5, 1.5) so chunk timing does
// not telegraph the slicing schedule. The top-level rand source is safe for
// the concurrently running plans.
func (e *Engine) jitteredDelay(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(float64(base) * (0.5 + rand.Float64()))
}

// spread returns the YES/NO book spread proxy for a market, or -1 when the
// quote is unavailable.
func (e *Engine) spread(ctx context.Context, marketID string) float64 {
	mid, err := e.quotes.GetMidpoint(ctx, marketID)
	if err != nil {
		return -1
	}
	// Complementary outcome tokens should price to 1; the gap is a direct
	// read on book quality.
	s := 1 - (mid.Yes + mid.No)
	if s < 0 {
		s = -s
	}
	return s
}

package execution

import (
	"context"
	"log"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

// runBracket enters with a market order and, only once the entry has
// confirmed filled, arms stop-loss and take-profit levels computed from the
// actual fill price. An entry that fails or does not fill arms nothing: a
// protective exit without a position would itself be a new naked position.
func (e *Engine) runBracket(ctx context.Context, intent core.TradeIntent) (Result, error) {
	var res Result

	entry := childOrder(intent, core.OrderTypeMarket, intent.Signal.Price, intent.ApprovedQuantity)
	placed, ok := e.submitChild(ctx, &res, entry)
	if !ok || placed.Status != core.StatusFilled {
		res.Aborted = true
		res.AbortReason = "entry did not fill, protective orders not armed"
		log.Printf("execution: bracket entry failed for %s, nothing armed", intent.Signal.MarketID)
		return res, nil
	}

	fillPrice := placed.Price
	stop, target := bracketLevels(intent.Signal.Direction, fillPrice, e.cfg.StopLossPct, e.cfg.TakeProfitPct)
	log.Printf("execution: bracket armed for %s entry=%.4f stop=%.4f target=%.4f",
		intent.Signal.MarketID, fillPrice, stop, target)

	exitQty := placed.FilledQty
	err := e.watchTicks(ctx, intent.Signal.MarketID, intent.Signal.Outcome, func(mid float64) bool {
		hit := false
		if intent.Signal.Direction == core.DirectionBuy {
			hit = mid <= stop || mid >= target
		} else {
			hit = mid >= stop || mid <= target
		}
		return hit
	})
	if err != nil {
		res.AbortReason = "bracket watch cancelled"
		return res, nil
	}

	exit := childOrder(intent, core.OrderTypeMarket, 0, exitQty)
	exit.Side = opposite(intent.Signal.Direction)
	e.submitChild(ctx, &res, exit)
	return res, nil
}

func bracketLevels(side core.Direction, fill, stopPct, targetPct float64) (stop, target float64) {
	if side == core.DirectionBuy {
		return fill * (1 - stopPct), fill * (1 + targetPct)
	}
	return fill * (1 + stopPct), fill * (1 - targetPct)
}

func opposite(d core.Direction) core.Direction {
	if d == core.DirectionBuy {
		return core.DirectionSell
	}
	return core.DirectionBuy
}

// watchTicks blocks consuming price ticks for one market until trigger
// returns true or the context is cancelled.
func (e *Engine) watchTicks(ctx context.Context, marketID string, outcome core.Outcome, trigger func(mid float64) bool) error {
	if e.bus == nil {
		return context.Canceled
	}
	ticks, unsub := e.bus.Subscribe(events.EventPriceTick, 16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ticks:
			tick, ok := msg.(core.PriceTick)
			if !ok || tick.MarketID != marketID {
				continue
			}
			if trigger(tick.Mid(outcome)) {
				return nil
			}
		}
	}
}

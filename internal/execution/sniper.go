package execution

import (
	"context"
	"log"

	"polyagent/internal/core"
)

// runSniper waits for the spread to tighten before committing. High-conviction
// signals skip the wait. On timeout it falls through to a single market order
// so the intent still executes, just without the price improvement.
func (e *Engine) runSniper(ctx context.Context, intent core.TradeIntent) (Result, error) {
	var res Result

	fire := intent.Signal.Confidence >= e.cfg.SniperScore
	if !fire {
		deadline := e.cfg.SniperTimeout
		poll := e.cfg.SniperPoll
		if poll <= 0 {
			poll = e.cfg.SniperTimeout
		}
		var waited float64
		for {
			if s := e.spread(ctx, intent.Signal.MarketID); s >= 0 && s <= e.cfg.SniperSpreadLimit {
				fire = true
				break
			}
			if waited >= deadline.Seconds() {
				log.Printf("execution: sniper timeout for %s, falling back to market", intent.Signal.MarketID)
				break
			}
			if err := e.sleep(ctx, poll); err != nil {
				res.Aborted = true
				res.AbortReason = "cancelled"
				return res, nil
			}
			waited += poll.Seconds()
		}
	}

	typ := core.OrderTypeMarket
	price := intent.Signal.Price
	if fire {
		// Conditions met; take the level with a limit rather than crossing.
		typ = core.OrderTypeLimit
	}
	o := childOrder(intent, typ, price, intent.ApprovedQuantity)
	if _, ok := e.submitChild(ctx, &res, o); !ok {
		res.Aborted = true
		res.AbortReason = res.Chunks[len(res.Chunks)-1].Err
	}
	return res, nil
}

package execution

import (
	"context"
	"log"

	"polyagent/internal/core"
)

// runTrailing enters with a market order, then ratchets a stop level behind
// the best price seen since entry. The watermark only ever moves in the
// position's favor; a pullback of TrailPct from it exits at market.
func (e *Engine) runTrailing(ctx context.Context, intent core.TradeIntent) (Result, error) {
	var res Result

	entry := childOrder(intent, core.OrderTypeMarket, intent.Signal.Price, intent.ApprovedQuantity)
	placed, ok := e.submitChild(ctx, &res, entry)
	if !ok || placed.Status != core.StatusFilled {
		res.Aborted = true
		res.AbortReason = "entry did not fill"
		return res, nil
	}

	long := intent.Signal.Direction == core.DirectionBuy
	watermark := placed.Price
	exitQty := placed.FilledQty

	err := e.watchTicks(ctx, intent.Signal.MarketID, intent.Signal.Outcome, func(mid float64) bool {
		if long {
			if mid > watermark {
				watermark = mid
			}
			return mid <= watermark*(1-e.cfg.TrailPct)
		}
		if mid < watermark {
			watermark = mid
		}
		return mid >= watermark*(1+e.cfg.TrailPct)
	})
	if err != nil {
		res.AbortReason = "trailing watch cancelled"
		return res, nil
	}

	log.Printf("execution: trailing stop hit for %s watermark=%.4f", intent.Signal.MarketID, watermark)
	exit := childOrder(intent, core.OrderTypeMarket, 0, exitQty)
	exit.Side = opposite(intent.Signal.Direction)
	e.submitChild(ctx, &res, exit)
	return res, nil
}

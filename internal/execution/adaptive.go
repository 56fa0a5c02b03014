package execution

import (
	"context"

	"polyagent/internal/core"
)

// chooseAlgorithm maps current market conditions to a concrete algorithm:
// wide spreads get the patient sniper, large notionals get sliced, everything
// else crosses immediately.
func (e *Engine) chooseAlgorithm(ctx context.Context, intent core.TradeIntent) core.Algorithm {
	spread := e.spread(ctx, intent.Signal.MarketID)
	notional := intent.ApprovedQuantity * intent.Signal.Price

	switch {
	case spread < 0:
		// No quote; slicing blind is worse than a single marketable order.
		return core.AlgoMarket
	case spread > e.cfg.WideSpread:
		return core.AlgoSniper
	case notional > e.cfg.LargeNotional && spread > e.cfg.WideSpread/2:
		return core.AlgoTWAP
	case notional > e.cfg.LargeNotional:
		return core.AlgoIceberg
	default:
		return core.AlgoMarket
	}
}

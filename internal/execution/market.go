package execution

import (
	"context"

	"polyagent/internal/core"
)

// runMarket submits the full approved quantity as a single market order.
func (e *Engine) runMarket(ctx context.Context, intent core.TradeIntent) (Result, error) {
	var res Result
	o := childOrder(intent, core.OrderTypeMarket, intent.Signal.Price, intent.ApprovedQuantity)
	if _, ok := e.submitChild(ctx, &res, o); !ok {
		res.Aborted = true
		res.AbortReason = res.Chunks[len(res.Chunks)-1].Err
	}
	return res, nil
}

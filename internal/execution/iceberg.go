package execution

import (
	"context"
	"log"

	"polyagent/internal/core"
)

// runIceberg splits the approved quantity into equal chunks submitted with a
// jittered delay between them. On a chunk failure the default is to stop and
// report what filled so far; ContinueOnError keeps going with the remaining
// chunks instead.
func (e *Engine) runIceberg(ctx context.Context, intent core.TradeIntent) (Result, error) {
	var res Result

	chunks := e.cfg.IcebergChunks
	if chunks <= 0 {
		chunks = 1
	}
	per := intent.ApprovedQuantity / float64(chunks)

	remaining := intent.ApprovedQuantity
	for i := 0; i < chunks; i++ {
		qty := per
		if i == chunks-1 {
			qty = remaining // absorb float residue in the last chunk
		}
		o := childOrder(intent, core.OrderTypeLimit, intent.Signal.Price, qty)
		if _, ok := e.submitChild(ctx, &res, o); !ok {
			log.Printf("execution: iceberg chunk %d/%d failed for %s", i+1, chunks, intent.Signal.MarketID)
			if !e.cfg.ContinueOnError {
				res.Aborted = true
				res.AbortReason = res.Chunks[len(res.Chunks)-1].Err
				return res, nil
			}
		} else {
			remaining -= qty
		}
		if i < chunks-1 {
			if err := e.sleep(ctx, e.jitteredDelay(e.cfg.IcebergDelay)); err != nil {
				res.Aborted = true
				res.AbortReason = "cancelled"
				return res, nil
			}
		}
	}
	return res, nil
}

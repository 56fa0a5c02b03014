package execution

import (
	"context"
	"log"
	"math"

	"polyagent/internal/core"
)

// runTWAP spreads the approved quantity over evenly spaced intervals. Before
// each slice the market is re-quoted and the slice is re-checked against the
// risk gate; a quote drifting past MaxDeviation or a rejected re-check
// abandons the remaining slices rather than executing at a price the
// original approval never saw.
func (e *Engine) runTWAP(ctx context.Context, intent core.TradeIntent) (Result, error) {
	var res Result

	intervals := e.cfg.TWAPIntervals
	if intervals <= 0 {
		intervals = 1
	}
	if intervals > 10 {
		intervals = 10
	}
	per := intent.ApprovedQuantity / float64(intervals)

	for i := 0; i < intervals; i++ {
		price, ok := e.quotableSlice(ctx, intent)
		if !ok {
			res.Aborted = true
			res.AbortReason = "price drifted beyond tolerance"
			log.Printf("execution: twap abandoned %s after %d/%d slices", intent.Signal.MarketID, i, intervals)
			return res, nil
		}

		if e.gate != nil && e.state != nil {
			slice := intent.Signal
			slice.Price = price
			slice.Quantity = per
			dec, err := e.gate.EvaluateTrade(slice, e.state())
			if err != nil || !dec.Approved {
				res.Aborted = true
				res.AbortReason = "slice rejected by risk re-check"
				log.Printf("execution: twap slice %d/%d rejected for %s", i+1, intervals, intent.Signal.MarketID)
				return res, nil
			}
		}

		o := childOrder(intent, core.OrderTypeLimit, price, per)
		if _, ok := e.submitChild(ctx, &res, o); !ok {
			res.Aborted = true
			res.AbortReason = res.Chunks[len(res.Chunks)-1].Err
			return res, nil
		}

		if i < intervals-1 {
			if err := e.sleep(ctx, e.cfg.TWAPInterval); err != nil {
				res.Aborted = true
				res.AbortReason = "cancelled"
				return res, nil
			}
		}
	}
	return res, nil
}

// quotableSlice re-quotes the market and returns the current price for the
// intent's outcome, reporting false when the quote is missing or has drifted
// past the configured deviation from the originally approved price.
func (e *Engine) quotableSlice(ctx context.Context, intent core.TradeIntent) (float64, bool) {
	mid, err := e.quotes.GetMidpoint(ctx, intent.Signal.MarketID)
	if err != nil {
		return 0, false
	}
	price := mid.Yes
	if intent.Signal.Outcome == core.OutcomeNo {
		price = mid.No
	}
	if price <= 0 {
		return 0, false
	}
	base := intent.Signal.Price
	if base > 0 && e.cfg.TWAPMaxDeviation > 0 {
		if math.Abs(price-base)/base > e.cfg.TWAPMaxDeviation {
			return 0, false
		}
	}
	return price, true
}

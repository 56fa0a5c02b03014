package orchestrator

import (
	"context"
	"log"
	"strings"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

// runCycle executes one full pass: mark positions, evaluate account risk,
// pull signals through the gate, dispatch approved intents, run order
// hygiene. A critical account breach escalates to the emergency stop before
// any signal is considered.
func (o *Orchestrator) runCycle(ctx context.Context) {
	o.markPositions(ctx)

	state := o.Snapshot()
	account := o.gate.EvaluateAccount(state)
	if !account.Approved {
		o.EmergencyStop(ctx, strings.Join(account.Critical, "; "))
		return
	}
	if len(account.Warnings) > 0 {
		// Soft pause: keep reconciling and sweeping, take no new trades.
		if o.State() == StateRunning {
			log.Printf("orchestrator: soft pause: %s", strings.Join(account.Warnings, "; "))
			o.setState(StatePaused)
		}
	} else if o.State() == StatePaused {
		log.Printf("orchestrator: soft pause lifted")
		o.setState(StateRunning)
	}

	if o.State() == StateRunning && o.source != nil && o.engine != nil {
		o.processSignals(ctx, state)
	}

	// Order hygiene closes the cycle and keeps running through a soft pause.
	if o.manager != nil {
		o.manager.Sweep(ctx)
	}
}

// markPositions refreshes midpoints for every market with a live position and
// publishes the ticks so watchers (trailing stops, brackets) see them.
func (o *Orchestrator) markPositions(ctx context.Context) {
	seen := make(map[string]bool)
	now := time.Now()
	for _, p := range o.ec.Positions.All() {
		if p.Quantity == 0 || seen[p.MarketID] {
			continue
		}
		seen[p.MarketID] = true

		mid, err := o.exch.GetMidpoint(ctx, p.MarketID)
		if err != nil {
			log.Printf("orchestrator: midpoint %s error: %v", p.MarketID, err)
			continue
		}
		tick := core.PriceTick{MarketID: p.MarketID, Yes: mid.Yes, No: mid.No, At: now}
		o.ec.Positions.Mark(p.MarketID, core.OutcomeYes, mid.Yes, now)
		o.ec.Positions.Mark(p.MarketID, core.OutcomeNo, mid.No, now)
		if o.bus != nil {
			o.bus.Publish(events.EventPriceTick, tick)
		}
	}
}

// processSignals drains the source and routes each signal through the
// confidence floor and the risk gate, dispatching approved intents to the
// execution engine. Each dispatch runs in its own goroutine so a slow
// interval algorithm cannot stall the cycle.
func (o *Orchestrator) processSignals(ctx context.Context, state core.AccountState) {
	signals, err := o.source.Next(ctx)
	if err != nil {
		log.Printf("orchestrator: signal source error: %v", err)
		return
	}

	for _, sig := range signals {
		if sig.Direction == core.DirectionHold {
			continue
		}
		if sig.Confidence < o.ec.Limits.MinConfidence {
			log.Printf("orchestrator: signal %s below confidence floor (%.2f < %.2f)",
				sig.MarketID, sig.Confidence, o.ec.Limits.MinConfidence)
			continue
		}

		dec, err := o.gate.EvaluateTrade(sig, state)
		if err != nil {
			log.Printf("orchestrator: signal %s invalid: %v", sig.MarketID, err)
			continue
		}
		if !dec.Approved {
			log.Printf("orchestrator: signal %s rejected: %s (score=%.2f)", sig.MarketID, dec.Reason, dec.RiskScore)
			if o.store != nil {
				if err := o.store.SaveRiskEvent(ctx, "trade_rejected", "high", map[string]any{
					"market_id": sig.MarketID,
					"reason":    dec.Reason,
					"score":     dec.RiskScore,
				}); err != nil {
					log.Printf("orchestrator: save risk event error: %v", err)
				}
			}
			continue
		}

		intent := *dec.Intent
		o.wg.Go(func() {
			res, err := o.engine.Execute(ctx, intent)
			if err != nil {
				log.Printf("orchestrator: execute %s error: %v", intent.Signal.MarketID, err)
				return
			}
			log.Printf("orchestrator: executed %s via %s filled=%.4f avg=%.4f aborted=%v",
				intent.Signal.MarketID, res.Algorithm, res.FilledQuantity, res.AverageFillPrice, res.Aborted)
		})
	}
}

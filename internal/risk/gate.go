// Package risk implements the account and per-trade risk gate. Failed
// checks are data, not errors; the gate only returns an error for malformed
// input.
package risk

import (
	"log"
	"math"
	"time"

	"golang.org/x/time/rate"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

// Gate evaluates account state and candidate trades against the configured
// limits. Stateless per call except for the rolling rate windows and the
// order throttle.
type Gate struct {
	limits  core.RiskLimits
	corr    *CorrelationTable
	bus     *events.Bus
	limiter *rate.Limiter

	ordersHour *rollingWindow
	ordersDay  *rollingWindow
	tradesHour *rollingWindow
	tradesDay  *rollingWindow

	now func() time.Time
}

// NewGate creates a risk gate.
func NewGate(ec *core.EngineContext, corr *CorrelationTable, bus *events.Bus) *Gate {
	limits := ec.Limits
	throttle := rate.Limit(limits.OrderThrottlePerS)
	if throttle <= 0 {
		throttle = rate.Inf
	}
	return &Gate{
		limits:     limits,
		corr:       corr,
		bus:        bus,
		limiter:    rate.NewLimiter(throttle, 1),
		ordersHour: newRollingWindow(time.Hour),
		ordersDay:  newRollingWindow(24 * time.Hour),
		tradesHour: newRollingWindow(time.Hour),
		tradesDay:  newRollingWindow(24 * time.Hour),
		now:        time.Now,
	}
}

// RecordOrder feeds the order rate windows. Called by the lifecycle manager
// on every submission.
func (g *Gate) RecordOrder() {
	at := g.now()
	g.ordersHour.Record(at)
	g.ordersDay.Record(at)
}

// RecordTrade feeds the trade rate windows. Called on every confirmed fill.
func (g *Gate) RecordTrade() {
	at := g.now()
	g.tradesHour.Record(at)
	g.tradesDay.Record(at)
}

// EvaluateAccount runs the fixed battery of account checks. The decision is
// rejected if any check is critical; high severities populate warnings but
// do not themselves block a cycle.
func (g *Gate) EvaluateAccount(state core.AccountState) AccountDecision {
	checks := []CheckResult{
		g.checkDailyLoss(state),
		g.checkDrawdown(state),
		g.checkOpenOrders(state),
		g.checkAccountConcentration(state),
		g.checkOrderRate(),
		g.checkTradeRate(),
	}

	dec := AccountDecision{Approved: true, Checks: checks}
	for _, c := range checks {
		if c.Passed {
			continue
		}
		switch c.Severity {
		case SeverityCritical:
			dec.Approved = false
			dec.Critical = append(dec.Critical, c.Message)
		case SeverityHigh:
			dec.Warnings = append(dec.Warnings, c.Message)
		}
	}

	if !dec.Approved && g.bus != nil {
		g.bus.Publish(events.EventRiskLimitExceeded, dec)
	}
	return dec
}

// EvaluateTrade runs the five per-trade checks and produces a decision with
// a severity-weighted risk score. The position-size check is the only one
// permitted to clamp quantity rather than reject.
func (g *Gate) EvaluateTrade(sig core.Signal, state core.AccountState) (TradeDecision, error) {
	if err := validateSignal(sig); err != nil {
		return TradeDecision{}, err
	}

	checks := []CheckResult{
		g.checkPositionSize(sig),
		g.checkTradeConcentration(sig, state),
		g.checkCorrelation(sig, state),
		g.checkLiquidity(sig),
		g.checkRiskReward(sig),
		g.checkThrottle(),
	}

	dec := TradeDecision{Checks: checks, ApprovedQuantity: sig.Quantity}
	critical := false
	for _, c := range checks {
		if c.Passed {
			continue
		}
		dec.RiskScore += c.Severity.Weight()
		if c.Severity == SeverityCritical {
			critical = true
			dec.Reason = c.Message
		}
		// Final quantity is the minimum of all proposed clamps and the
		// original quantity, never higher.
		if c.ClampQty != nil && *c.ClampQty < dec.ApprovedQuantity {
			dec.ApprovedQuantity = *c.ClampQty
		}
	}
	if dec.RiskScore > 1.0 {
		dec.RiskScore = 1.0
	}

	dec.Approved = !critical && dec.RiskScore < 0.8
	if !dec.Approved {
		if dec.Reason == "" {
			dec.Reason = "risk score above threshold"
		}
		return dec, nil
	}

	if dec.ApprovedQuantity < sig.Quantity {
		log.Printf("risk: position size adjusted %s %.4f -> %.4f", sig.MarketID, sig.Quantity, dec.ApprovedQuantity)
		if g.bus != nil {
			g.bus.Publish(events.EventPositionSizeAdjusted, map[string]any{
				"market_id": sig.MarketID,
				"original":  sig.Quantity,
				"approved":  dec.ApprovedQuantity,
			})
		}
	}

	dec.Intent = &core.TradeIntent{
		Signal:           sig,
		OriginalQuantity: sig.Quantity,
		ApprovedQuantity: dec.ApprovedQuantity,
		Algorithm:        core.AlgoAdaptive,
		RiskScore:        dec.RiskScore,
	}
	return dec, nil
}

func validateSignal(sig core.Signal) error {
	if sig.MarketID == "" {
		return &core.ValidationError{Field: "market_id", Reason: "missing"}
	}
	if sig.Direction != core.DirectionBuy && sig.Direction != core.DirectionSell {
		return &core.ValidationError{Field: "direction", Reason: "must be BUY or SELL"}
	}
	if math.IsNaN(sig.Price) || math.IsInf(sig.Price, 0) || sig.Price <= 0 {
		return &core.ValidationError{Field: "price", Reason: "not a positive number"}
	}
	if math.IsNaN(sig.Quantity) || math.IsInf(sig.Quantity, 0) || sig.Quantity <= 0 {
		return &core.ValidationError{Field: "quantity", Reason: "not a positive number"}
	}
	return nil
}

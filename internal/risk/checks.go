package risk

import (
	"fmt"

	"polyagent/internal/core"
)

// Account-level checks. Each is independent and composable.

func (g *Gate) checkDailyLoss(state core.AccountState) CheckResult {
	c := CheckResult{Name: "daily_loss", Passed: true, Severity: SeverityCritical}
	base := state.TotalPnL
	if base <= 0 {
		base = state.PortfolioValue
	}
	if g.limits.MaxDailyLossPct <= 0 || base <= 0 {
		return c
	}
	loss := -state.DailyPnL
	if loss <= 0 {
		return c
	}
	if frac := loss / base; frac > g.limits.MaxDailyLossPct {
		c.Passed = false
		c.Message = fmt.Sprintf("daily loss %.1f%% exceeds limit %.1f%%", frac*100, g.limits.MaxDailyLossPct*100)
	}
	return c
}

func (g *Gate) checkDrawdown(state core.AccountState) CheckResult {
	c := CheckResult{Name: "max_drawdown", Passed: true, Severity: SeverityCritical}
	if g.limits.MaxDrawdownPct <= 0 || state.PeakValue <= 0 {
		return c
	}
	dd := (state.PeakValue - state.PortfolioValue) / state.PeakValue
	if dd > g.limits.MaxDrawdownPct {
		c.Passed = false
		c.Message = fmt.Sprintf("drawdown %.1f%% exceeds limit %.1f%%", dd*100, g.limits.MaxDrawdownPct*100)
	}
	return c
}

func (g *Gate) checkOpenOrders(state core.AccountState) CheckResult {
	c := CheckResult{Name: "open_orders", Passed: true, Severity: SeverityHigh}
	if g.limits.MaxOpenOrders > 0 && state.OpenOrders > g.limits.MaxOpenOrders {
		c.Passed = false
		c.Message = fmt.Sprintf("open orders %d exceed limit %d", state.OpenOrders, g.limits.MaxOpenOrders)
	}
	return c
}

func (g *Gate) checkAccountConcentration(state core.AccountState) CheckResult {
	c := CheckResult{Name: "concentration", Passed: true, Severity: SeverityHigh}
	if g.limits.MaxConcentration <= 0 || state.PortfolioValue <= 0 {
		return c
	}
	for asset, notional := range state.Exposure {
		if frac := notional / state.PortfolioValue; frac > g.limits.MaxConcentration {
			c.Passed = false
			c.Message = fmt.Sprintf("%s concentration %.1f%% exceeds limit %.1f%%", asset, frac*100, g.limits.MaxConcentration*100)
			break
		}
	}
	return c
}

func (g *Gate) checkOrderRate() CheckResult {
	c := CheckResult{Name: "order_rate", Passed: true, Severity: SeverityMedium}
	now := g.now()
	if g.limits.OrdersPerHour > 0 && g.ordersHour.Count(now) >= g.limits.OrdersPerHour {
		c.Passed = false
		c.Message = fmt.Sprintf("hourly order limit %d reached", g.limits.OrdersPerHour)
		return c
	}
	if g.limits.OrdersPerDay > 0 && g.ordersDay.Count(now) >= g.limits.OrdersPerDay {
		c.Passed = false
		c.Message = fmt.Sprintf("daily order limit %d reached", g.limits.OrdersPerDay)
	}
	return c
}

func (g *Gate) checkTradeRate() CheckResult {
	c := CheckResult{Name: "trade_rate", Passed: true, Severity: SeverityMedium}
	now := g.now()
	if g.limits.TradesPerHour > 0 && g.tradesHour.Count(now) >= g.limits.TradesPerHour {
		c.Passed = false
		c.Message = fmt.Sprintf("hourly trade limit %d reached", g.limits.TradesPerHour)
		return c
	}
	if g.limits.TradesPerDay > 0 && g.tradesDay.Count(now) >= g.limits.TradesPerDay {
		c.Passed = false
		c.Message = fmt.Sprintf("daily trade limit %d reached", g.limits.TradesPerDay)
	}
	return c
}

// Per-trade checks.

// checkPositionSize is the one check permitted to clamp quantity instead of
// rejecting.
func (g *Gate) checkPositionSize(sig core.Signal) CheckResult {
	c := CheckResult{Name: "position_size", Passed: true, Severity: SeverityLow}
	if g.limits.MaxPositionSize <= 0 {
		return c
	}
	notional := sig.Quantity * sig.Price
	if notional > g.limits.MaxPositionSize {
		clamp := g.limits.MaxPositionSize / sig.Price
		c.Passed = false
		c.ClampQty = &clamp
		c.Message = fmt.Sprintf("notional %.2f above limit %.2f, clamping", notional, g.limits.MaxPositionSize)
	}
	return c
}

func (g *Gate) checkTradeConcentration(sig core.Signal, state core.AccountState) CheckResult {
	c := CheckResult{Name: "concentration_after_trade", Passed: true, Severity: SeverityHigh}
	if g.limits.MaxConcentration <= 0 || state.PortfolioValue <= 0 {
		return c
	}
	after := state.Exposure[sig.Asset] + sig.Quantity*sig.Price
	if frac := after / state.PortfolioValue; frac > g.limits.MaxConcentration {
		c.Passed = false
		c.Message = fmt.Sprintf("post-trade %s concentration %.1f%% exceeds limit %.1f%%", sig.Asset, frac*100, g.limits.MaxConcentration*100)
	}
	return c
}

func (g *Gate) checkCorrelation(sig core.Signal, state core.AccountState) CheckResult {
	c := CheckResult{Name: "correlation_exposure", Passed: true, Severity: SeverityCritical}
	if g.limits.MaxCorrelatedPct <= 0 || state.PortfolioValue <= 0 || g.corr == nil {
		return c
	}
	correlated := g.corr.CorrelatedExposure(sig.Asset, state.Exposure) + sig.Quantity*sig.Price
	if frac := correlated / state.PortfolioValue; frac > g.limits.MaxCorrelatedPct {
		c.Passed = false
		c.Message = fmt.Sprintf("correlated exposure %.1f%% exceeds limit %.1f%%", frac*100, g.limits.MaxCorrelatedPct*100)
	}
	return c
}

// checkLiquidity is a conservative sanity check: outcome tokens priced at
// the extreme edges of the book rarely have usable depth.
func (g *Gate) checkLiquidity(sig core.Signal) CheckResult {
	c := CheckResult{Name: "liquidity", Passed: true, Severity: SeverityMedium}
	if sig.Price < 0.02 || sig.Price > 0.98 {
		c.Passed = false
		c.Message = fmt.Sprintf("price %.3f at book edge, liquidity suspect", sig.Price)
	}
	return c
}

func (g *Gate) checkRiskReward(sig core.Signal) CheckResult {
	c := CheckResult{Name: "risk_reward", Passed: true, Severity: SeverityHigh}
	if g.limits.MinRiskReward <= 0 {
		return c
	}
	// Implied risk/reward from signal confidence: odds of the signal being
	// right against it being wrong.
	if sig.Confidence >= 1 {
		return c
	}
	rr := sig.Confidence / (1 - sig.Confidence)
	if rr < g.limits.MinRiskReward {
		c.Passed = false
		c.Message = fmt.Sprintf("risk/reward %.2f below minimum %.2f", rr, g.limits.MinRiskReward)
	}
	return c
}

func (g *Gate) checkThrottle() CheckResult {
	c := CheckResult{Name: "order_throttle", Passed: true, Severity: SeverityMedium}
	if !g.limiter.Allow() {
		c.Passed = false
		c.Message = "order throttle exceeded"
	}
	return c
}

// Package execution turns approved trade intents into child orders via a
// closed set of execution algorithms: market, iceberg, TWAP, adaptive,
// sniper, bracket, and trailing stop.
package execution

import (
	"context"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/exchange"
	"polyagent/internal/risk"
)

// Submitter places and cancels orders. Implemented by the lifecycle manager.
type Submitter interface {
	Submit(ctx context.Context, o core.Order) (core.Order, error)
	Cancel(ctx context.Context, orderID string) error
}

// Quoter provides market midpoints. Implemented by the exchange client.
type Quoter interface {
	GetMidpoint(ctx context.Context, marketID string) (exchange.Midpoint, error)
}

// Gater re-evaluates a candidate slice against current risk limits. Used by
// the interval algorithms that stretch over time.
type Gater interface {
	EvaluateTrade(sig core.Signal, state core.AccountState) (risk.TradeDecision, error)
}

// ChunkResult records the outcome of one child order.
type ChunkResult struct {
	OrderID  string
	Status   core.OrderStatus
	Price    float64
	Quantity float64
	Filled   float64
	Err      string
}

// Result is the aggregate outcome of executing one intent. FilledQuantity
// reflects what actually filled even when later chunks failed; a partially
// executed intent is reported, never silently rounded to all-or-nothing.
type Result struct {
	Algorithm        core.Algorithm
	FilledQuantity   float64
	AverageFillPrice float64
	TotalFees        float64
	Chunks           []ChunkResult
	Aborted          bool
	AbortReason      string
}

// Filled reports whether any quantity executed.
func (r Result) Filled() bool { return r.FilledQuantity > 0 }

// Config tunes the execution algorithms.
type Config struct {
	// Iceberg
	IcebergChunks   int
	IcebergDelay    time.Duration
	ContinueOnError bool
	// TWAP
	TWAPIntervals    int
	TWAPInterval     time.Duration
	TWAPMaxDeviation float64 // fractional price drift from the signal that abandons remaining slices
	// Adaptive thresholds
	WideSpread    float64
	LargeNotional float64
	// Sniper
	SniperTimeout     time.Duration
	SniperPoll        time.Duration
	SniperSpreadLimit float64
	SniperScore       float64
	// Bracket
	StopLossPct   float64
	TakeProfitPct float64
	// Trailing stop
	TrailPct float64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		IcebergChunks:     4,
		IcebergDelay:      2 * time.Second,
		TWAPIntervals:     5,
		TWAPInterval:      30 * time.Second,
		TWAPMaxDeviation:  0.10,
		WideSpread:        0.04,
		LargeNotional:     250,
		SniperTimeout:     30 * time.Second,
		SniperPoll:        time.Second,
		SniperSpreadLimit: 0.02,
		SniperScore:       0.8,
		StopLossPct:       0.10,
		TakeProfitPct:     0.20,
		TrailPct:          0.08,
	}
}

package core

import "time"

// Direction is the trading direction suggested by a signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Outcome is the prediction-market outcome token an order targets.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the finite lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusFailed    OrderStatus = "FAILED"
	StatusExpired   OrderStatus = "EXPIRED"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Algorithm selects the execution strategy for an approved trade.
type Algorithm string

const (
	AlgoMarket   Algorithm = "MARKET"
	AlgoIceberg  Algorithm = "ICEBERG"
	AlgoTWAP     Algorithm = "TWAP"
	AlgoAdaptive Algorithm = "ADAPTIVE"
	AlgoSniper   Algorithm = "SNIPER"
	AlgoBracket  Algorithm = "BRACKET"
	AlgoTrailing Algorithm = "TRAILING_STOP"
)

// Signal is a directional trading suggestion produced by an external
// strategy. Immutable once created; consumed exactly once.
type Signal struct {
	ID         string
	StrategyID string
	MarketID   string
	Asset      string // asset symbol for concentration/correlation bookkeeping
	Outcome    Outcome
	Direction  Direction
	Confidence float64 // [0,1]
	Price      float64
	Quantity   float64
	CreatedAt  time.Time
}

// TradeIntent is a risk-approved, possibly size-adjusted signal ready for
// execution.
type TradeIntent struct {
	Signal           Signal
	OriginalQuantity float64
	ApprovedQuantity float64
	Algorithm        Algorithm
	RiskScore        float64
}

// Order is a single exchange order tracked through its lifecycle. The order
// ID is locally generated and stable for the order's lifetime.
type Order struct {
	ID          string
	MarketID    string
	Asset       string
	Outcome     Outcome
	Side        Direction
	Type        OrderType
	Price       float64
	Quantity    float64
	FilledQty   float64
	StrategyID  string
	Status      OrderStatus
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	SubmittedAt time.Time
	FilledAt    time.Time
	CancelledAt time.Time
	FailedAt    time.Time
}

// Trade is a confirmed fill record. Created only on confirmed fills,
// append-only, never mutated.
type Trade struct {
	ID          string
	OrderID     string
	MarketID    string
	Asset       string
	Outcome     Outcome
	Side        Direction
	Price       float64
	Quantity    float64
	Fee         float64
	RealizedPnL float64
	CreatedAt   time.Time
}

// Position is the derived net holding per (market, outcome) key. Ground
// truth is the trade log; the position book is incremental bookkeeping.
type Position struct {
	MarketID     string
	Asset        string
	Outcome      Outcome
	Quantity     float64
	AveragePrice float64
	TotalCost    float64
	MarkPrice    float64
	Unrealized   float64
	UpdatedAt    time.Time
}

// PositionKey identifies one logical position.
func PositionKey(marketID string, outcome Outcome) string {
	return marketID + ":" + string(outcome)
}

// PriceTick is a midpoint observation for one market.
type PriceTick struct {
	MarketID string
	Yes      float64
	No       float64
	At       time.Time
}

// Mid returns the midpoint for the requested outcome token.
func (t PriceTick) Mid(o Outcome) float64 {
	if o == OutcomeNo {
		return t.No
	}
	return t.Yes
}

// AccountState is the account snapshot consumed by the risk gate.
type AccountState struct {
	PortfolioValue float64
	CashBalance    float64
	DailyPnL       float64
	TotalPnL       float64
	PeakValue      float64
	OpenOrders     int
	// Exposure maps asset symbol to current notional exposure.
	Exposure map[string]float64
}

// RiskLimits are the account and per-trade risk parameters. Loaded from the
// YAML risk file; zero values disable the corresponding check.
type RiskLimits struct {
	MaxDailyLossPct   float64 `yaml:"maxDailyLossPct"`
	MaxDrawdownPct    float64 `yaml:"maxDrawdownPct"`
	MaxOpenOrders     int     `yaml:"maxOpenOrders"`
	MaxConcentration  float64 `yaml:"maxConcentration"`
	MaxPositionSize   float64 `yaml:"maxPositionSize"` // notional per trade
	MaxCorrelatedPct  float64 `yaml:"maxCorrelatedPct"`
	MinRiskReward     float64 `yaml:"minRiskReward"`
	MinConfidence     float64 `yaml:"minConfidence"`
	OrdersPerHour     int     `yaml:"ordersPerHour"`
	OrdersPerDay      int     `yaml:"ordersPerDay"`
	TradesPerHour     int     `yaml:"tradesPerHour"`
	TradesPerDay      int     `yaml:"tradesPerDay"`
	OrderThrottlePerS float64 `yaml:"orderThrottlePerS"`
}

// DefaultRiskLimits returns conservative defaults used when no risk file is
// configured.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxDailyLossPct:   0.05,
		MaxDrawdownPct:    0.15,
		MaxOpenOrders:     20,
		MaxConcentration:  0.25,
		MaxPositionSize:   1000.0,
		MaxCorrelatedPct:  0.40,
		MinRiskReward:     1.5,
		MinConfidence:     0.55,
		OrdersPerHour:     60,
		OrdersPerDay:      300,
		TradesPerHour:     40,
		TradesPerDay:      200,
		OrderThrottlePerS: 5,
	}
}

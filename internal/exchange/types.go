// Package exchange defines the boundary to the external exchange API client
// and wallet/signing service, plus paper-trading implementations used for
// tests and dry-run mode.
package exchange

import (
	"context"
	"time"

	"polyagent/internal/core"
)

// OrderRequest is the payload sent to the exchange when placing an order.
type OrderRequest struct {
	ClientID string // locally generated order ID, echoed back by the exchange
	MarketID string
	Outcome  core.Outcome
	Side     core.Direction
	Type     core.OrderType
	Price    float64
	Quantity float64
}

// PlaceResult is the exchange acknowledgment for a placed order.
type PlaceResult struct {
	OrderID   string
	Status    core.OrderStatus // OPEN, or FILLED on immediate execution
	FilledQty float64
	AvgPrice  float64
	Fee       float64
}

// OpenOrder is one entry in the exchange's open-order listing.
type OpenOrder struct {
	OrderID   string
	MarketID  string
	Outcome   core.Outcome
	Side      core.Direction
	Status    core.OrderStatus
	Price     float64
	Quantity  float64
	FilledQty float64
}

// Fill is one entry in the exchange's trade history.
type Fill struct {
	TradeID  string
	OrderID  string
	MarketID string
	Outcome  core.Outcome
	Side     core.Direction
	Price    float64
	Quantity float64
	Fee      float64
	At       time.Time
}

// Midpoint carries the current mid prices for both outcome tokens.
type Midpoint struct {
	Yes float64
	No  float64
}

// Client is the exchange API boundary. All calls may fail transiently; the
// lifecycle manager owns the retry policy, not the client.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest, signature string) (PlaceResult, error)
	CancelOrder(ctx context.Context, orderID, signature string) error
	GetOpenOrders(ctx context.Context, account string) ([]OpenOrder, error)
	GetTrades(ctx context.Context, account string) ([]Fill, error)
	GetMidpoint(ctx context.Context, marketID string) (Midpoint, error)
}

// Wallet is the signing boundary. Signing may prompt a user and can be
// declined; a decline is terminal for that submission attempt.
type Wallet interface {
	SignOrder(ctx context.Context, message string) (string, error)
	SignCancellation(ctx context.Context, message string) (string, error)
	IsConnected() bool
	Account() string
}

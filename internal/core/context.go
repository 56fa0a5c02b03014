package core

import (
	"math"
	"sort"
	"sync"
	"time"
)

// EngineContext carries the shared engine state: the order registry, the
// position book, and the risk parameters. It is constructed once in main and
// passed to every component constructor; there is no ambient global state.
type EngineContext struct {
	Limits    RiskLimits
	Orders    *OrderRegistry
	Positions *PositionBook
}

// NewEngineContext builds the context with empty registries.
func NewEngineContext(limits RiskLimits) *EngineContext {
	return &EngineContext{
		Limits:    limits,
		Orders:    NewOrderRegistry(),
		Positions: NewPositionBook(),
	}
}

// OrderRegistry is the authoritative local record of orders. The lifecycle
// manager is the single writer; everyone else reads snapshots.
type OrderRegistry struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewOrderRegistry() *OrderRegistry {
	return &OrderRegistry{orders: make(map[string]*Order)}
}

// Put stores a copy of the order.
func (r *OrderRegistry) Put(o Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := o
	r.orders[o.ID] = &cp
}

// Get returns a copy of the order and whether it exists.
func (r *OrderRegistry) Get(id string) (Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Update applies fn to the stored order under the lock and returns the
// updated copy. Returns false when the order is unknown.
func (r *OrderRegistry) Update(id string, fn func(*Order)) (Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, false
	}
	fn(o)
	return *o, true
}

// Open returns copies of all non-terminal orders, oldest first.
func (r *OrderRegistry) Open() []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Order
	for _, o := range r.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OpenCount returns the number of non-terminal orders.
func (r *OrderRegistry) OpenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.orders {
		if !o.Status.Terminal() {
			n++
		}
	}
	return n
}

// All returns copies of every tracked order.
func (r *OrderRegistry) All() []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o)
	}
	return out
}

// PositionBook tracks one logical position per (market, outcome) key. The
// orchestrator is the single writer; positions are derived from the trade
// stream and never treated as ground truth.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]*Position)}
}

// Apply folds one trade into the book and returns the realized PnL of the
// closed portion (zero for opening trades).
func (b *PositionBook) Apply(t Trade) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := PositionKey(t.MarketID, t.Outcome)
	p, ok := b.positions[key]
	if !ok {
		p = &Position{MarketID: t.MarketID, Asset: t.Asset, Outcome: t.Outcome}
		b.positions[key] = p
	}

	var realized float64
	switch t.Side {
	case DirectionBuy:
		newQty := p.Quantity + t.Quantity
		if newQty > 0 {
			p.AveragePrice = (p.AveragePrice*p.Quantity + t.Price*t.Quantity) / newQty
		}
		p.Quantity = newQty
		p.TotalCost += t.Price * t.Quantity
	case DirectionSell:
		closed := t.Quantity
		if closed > p.Quantity {
			closed = p.Quantity
		}
		if closed > 0 {
			realized = (t.Price - p.AveragePrice) * closed
		}
		p.Quantity -= t.Quantity
		p.TotalCost -= p.AveragePrice * t.Quantity
		// Clear float dust on a flat position only; a sell past the held
		// quantity is a real short and must stay signed.
		if math.Abs(p.Quantity) <= 1e-9 {
			p.Quantity = 0
			p.AveragePrice = 0
			p.TotalCost = 0
		}
	}
	p.UpdatedAt = t.CreatedAt
	return realized - t.Fee
}

// Mark updates the mark price and unrealized PnL for a market.
func (b *PositionBook) Mark(marketID string, outcome Outcome, mid float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[PositionKey(marketID, outcome)]
	if !ok {
		return
	}
	p.MarkPrice = mid
	p.Unrealized = (mid - p.AveragePrice) * p.Quantity
	p.UpdatedAt = at
}

// Get returns a copy of one position.
func (b *PositionBook) Get(marketID string, outcome Outcome) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[PositionKey(marketID, outcome)]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// All returns copies of every position with non-zero quantity or history.
func (b *PositionBook) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return PositionKey(out[i].MarketID, out[i].Outcome) < PositionKey(out[j].MarketID, out[j].Outcome)
	})
	return out
}

// Exposure returns the notional exposure per asset at current marks, falling
// back to average price when no mark is known.
func (b *PositionBook) Exposure() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64)
	for _, p := range b.positions {
		price := p.MarkPrice
		if price == 0 {
			price = p.AveragePrice
		}
		out[p.Asset] += p.Quantity * price
	}
	return out
}

// RecomputeFromTrades rebuilds position quantities from a full trade log.
// Used to verify the incrementally-maintained book against ground truth.
func RecomputeFromTrades(trades []Trade) map[string]float64 {
	qty := make(map[string]float64)
	for _, t := range trades {
		key := PositionKey(t.MarketID, t.Outcome)
		switch t.Side {
		case DirectionBuy:
			qty[key] += t.Quantity
		case DirectionSell:
			qty[key] -= t.Quantity
		}
	}
	return qty
}

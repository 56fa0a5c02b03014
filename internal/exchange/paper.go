package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"polyagent/internal/core"
)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	FeeRate     float64 // decimal, e.g. 0.0004 = 4 bps
	SlippageBps float64 // applied on market fills
}

// Paper is an in-memory exchange used by tests and dry-run mode. Market
// orders fill immediately at the current midpoint plus slippage; limit
// orders fill when marketable, otherwise rest in the open-order book.
type Paper struct {
	cfg PaperConfig
	rng *rand.Rand

	mu    sync.Mutex
	mids  map[string]Midpoint
	open  map[string]OpenOrder
	fills []Fill

	// failure injection for tests
	failPlace  int
	failCancel int
	failList   int
	hideOpen   map[string]bool
}

// NewPaper creates a paper exchange.
func NewPaper(cfg PaperConfig) *Paper {
	return &Paper{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		mids:     make(map[string]Midpoint),
		open:     make(map[string]OpenOrder),
		hideOpen: make(map[string]bool),
	}
}

// SetMidpoint seeds the midpoint for a market.
func (p *Paper) SetMidpoint(marketID string, yes, no float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mids[marketID] = Midpoint{Yes: yes, No: no}
}

// FailNextPlace makes the next n PlaceOrder calls fail transiently.
func (p *Paper) FailNextPlace(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failPlace = n
}

// FailNextCancel makes the next n CancelOrder calls fail transiently.
func (p *Paper) FailNextCancel(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCancel = n
}

// FailNextListings makes the next n GetOpenOrders calls fail transiently.
func (p *Paper) FailNextListings(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failList = n
}

// HideFromListing drops an order from the open-order listing without
// changing its state, simulating a transient listing gap.
func (p *Paper) HideFromListing(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hideOpen[orderID] = true
}

// FillRestingOrder force-fills a resting order, recording the fill in the
// trade history and removing it from the open listing.
func (p *Paper) FillRestingOrder(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.open[orderID]
	if !ok {
		return
	}
	delete(p.open, orderID)
	p.recordFillLocked(o.OrderID, o.MarketID, o.Outcome, o.Side, o.Price, o.Quantity)
}

func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest, signature string) (PlaceResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if signature == "" {
		return PlaceResult{}, fmt.Errorf("missing signature")
	}
	if p.failPlace > 0 {
		p.failPlace--
		return PlaceResult{}, fmt.Errorf("paper: simulated gateway error")
	}

	mid, ok := p.mids[req.MarketID]
	if !ok {
		return PlaceResult{}, fmt.Errorf("paper: unknown market %s", req.MarketID)
	}
	ref := mid.Yes
	if req.Outcome == core.OutcomeNo {
		ref = mid.No
	}

	id := req.ClientID
	if id == "" {
		id = uuid.NewString()
	}

	// Market orders and marketable limits fill immediately.
	marketable := req.Type == core.OrderTypeMarket ||
		(req.Side == core.DirectionBuy && req.Price >= ref) ||
		(req.Side == core.DirectionSell && req.Price <= ref)

	if marketable {
		price := ref
		if req.Type == core.OrderTypeLimit {
			price = req.Price
		}
		slip := p.cfg.SlippageBps / 10000.0
		if slip > 0 {
			noise := p.rng.Float64() * slip
			if req.Side == core.DirectionBuy {
				price *= 1 + noise
			} else {
				price *= 1 - noise
			}
		}
		fee := price * req.Quantity * p.cfg.FeeRate
		p.recordFillLocked(id, req.MarketID, req.Outcome, req.Side, price, req.Quantity)
		return PlaceResult{
			OrderID:   id,
			Status:    core.StatusFilled,
			FilledQty: req.Quantity,
			AvgPrice:  price,
			Fee:       fee,
		}, nil
	}

	p.open[id] = OpenOrder{
		OrderID:  id,
		MarketID: req.MarketID,
		Outcome:  req.Outcome,
		Side:     req.Side,
		Status:   core.StatusOpen,
		Price:    req.Price,
		Quantity: req.Quantity,
	}
	return PlaceResult{OrderID: id, Status: core.StatusOpen}, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID, signature string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if signature == "" {
		return fmt.Errorf("missing signature")
	}
	if p.failCancel > 0 {
		p.failCancel--
		return fmt.Errorf("paper: simulated cancel error")
	}
	delete(p.open, orderID)
	return nil
}

func (p *Paper) GetOpenOrders(_ context.Context, _ string) ([]OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failList > 0 {
		p.failList--
		return nil, fmt.Errorf("paper: simulated listing error")
	}
	out := make([]OpenOrder, 0, len(p.open))
	for id, o := range p.open {
		if p.hideOpen[id] {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (p *Paper) GetTrades(_ context.Context, _ string) ([]Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out, nil
}

func (p *Paper) GetMidpoint(_ context.Context, marketID string) (Midpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mid, ok := p.mids[marketID]
	if !ok {
		return Midpoint{}, fmt.Errorf("paper: unknown market %s", marketID)
	}
	return mid, nil
}

func (p *Paper) recordFillLocked(orderID, marketID string, outcome core.Outcome, side core.Direction, price, qty float64) {
	p.fills = append(p.fills, Fill{
		TradeID:  uuid.NewString(),
		OrderID:  orderID,
		MarketID: marketID,
		Outcome:  outcome,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Fee:      price * qty * p.cfg.FeeRate,
		At:       time.Now(),
	})
}

// StaticWallet is a deterministic signer for tests and dry-run mode.
type StaticWallet struct {
	mu        sync.Mutex
	account   string
	connected bool
	decline   int
	nonce     int
}

// NewStaticWallet creates a connected wallet for the given account.
func NewStaticWallet(account string) *StaticWallet {
	return &StaticWallet{account: account, connected: true}
}

// SetConnected toggles the connection state.
func (w *StaticWallet) SetConnected(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = v
}

// DeclineNext makes the next n signature requests fail as declined.
func (w *StaticWallet) DeclineNext(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.decline = n
}

func (w *StaticWallet) SignOrder(_ context.Context, message string) (string, error) {
	return w.sign("order", message)
}

func (w *StaticWallet) SignCancellation(_ context.Context, message string) (string, error) {
	return w.sign("cancel", message)
}

func (w *StaticWallet) sign(kind, message string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return "", core.ErrSigningDeclined
	}
	if w.decline > 0 {
		w.decline--
		return "", core.ErrSigningDeclined
	}
	w.nonce++
	// Distinct nonce per signature so cancellations never reuse the
	// submission signature.
	return fmt.Sprintf("%s:%s:%d:%s", kind, w.account, w.nonce, strings.ReplaceAll(message, " ", "_")), nil
}

func (w *StaticWallet) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *StaticWallet) Account() string { return w.account }

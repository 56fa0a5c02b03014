package lifecycle

import (
	"context"
	"log"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

// ReconcileOnce compares the local registry against the exchange's view.
// Local open orders missing from the exchange listing are resolved against
// the trade history before any conclusion is drawn: a listing gap alone is
// ambiguous and must not destroy fill information.
func (m *Manager) ReconcileOnce(ctx context.Context) error {
	local := m.ec.Orders.Open()
	if len(local) == 0 {
		return nil
	}

	remote, err := m.exch.GetOpenOrders(ctx, m.wallet.Account())
	if err != nil {
		return core.Transient("list open orders", err)
	}
	listed := make(map[string]bool, len(remote))
	for _, r := range remote {
		listed[r.OrderID] = true
	}

	// Trade history is fetched lazily, only when at least one order needs
	// resolving.
	var fills map[string]fillInfo
	for _, o := range local {
		if o.Status != core.StatusOpen || listed[o.ID] {
			continue
		}
		if fills == nil {
			fills, err = m.fetchFills(ctx)
			if err != nil {
				log.Printf("lifecycle: reconcile trade history error: %v", err)
				return nil // ambiguous, keep Open and retry next tick
			}
		}
		if f, ok := fills[o.ID]; ok {
			if _, applied := m.ApplyFill(ctx, o.ID, f.price, f.qty, f.fee); applied {
				log.Printf("lifecycle: reconciled %s as filled from trade history", o.ID)
			}
			continue
		}
		// Missing from both views. Leave Open within the grace period so a
		// lagging exchange cannot trick us into expiring a live order.
		if m.cfg.MaxOrderAge > 0 && time.Since(o.CreatedAt) > m.cfg.MaxOrderAge {
			expired, _ := m.ec.Orders.Update(o.ID, func(ord *core.Order) {
				ord.Status = core.StatusExpired
				ord.CancelledAt = time.Now()
			})
			m.persist(ctx, expired)
			if m.bus != nil {
				m.bus.Publish(events.EventOrderCancelled, expired)
			}
			log.Printf("lifecycle: order %s expired, absent from listing and trade history", o.ID)
		}
	}
	return nil
}

type fillInfo struct {
	price float64
	qty   float64
	fee   float64
}

// fetchFills aggregates the exchange trade history per order ID. Partial
// fills collapse to total quantity at the volume-weighted price.
func (m *Manager) fetchFills(ctx context.Context) (map[string]fillInfo, error) {
	history, err := m.exch.GetTrades(ctx, m.wallet.Account())
	if err != nil {
		return nil, err
	}
	fills := make(map[string]fillInfo, len(history))
	for _, f := range history {
		cur := fills[f.OrderID]
		notional := cur.price*cur.qty + f.Price*f.Quantity
		cur.qty += f.Quantity
		cur.fee += f.Fee
		if cur.qty > 0 {
			cur.price = notional / cur.qty
		}
		fills[f.OrderID] = cur
	}
	return fills, nil
}

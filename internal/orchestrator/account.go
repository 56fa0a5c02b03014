package orchestrator

import (
	"context"
	"log"
	"time"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

// accountMetrics tracks realized performance and the drawdown peak. Guarded
// by the orchestrator mutex; the fill consumer is its only writer.
type accountMetrics struct {
	initialBalance float64
	cash           float64
	dailyPnL       float64
	totalPnL       float64
	peakValue      float64
	day            time.Time
}

func newAccountMetrics(initial float64) accountMetrics {
	return accountMetrics{
		initialBalance: initial,
		cash:           initial,
		peakValue:      initial,
		day:            startOfDay(time.Now()),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// consumeFills is the single writer of the position book and account
// metrics. Everything downstream of a confirmed fill flows through here.
func (o *Orchestrator) consumeFills(ctx context.Context) {
	trades, unsub := o.bus.Subscribe(events.EventOrderFilled, 64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-trades:
			if !ok {
				return
			}
			trade, ok := msg.(core.Trade)
			if !ok {
				continue
			}
			o.applyTrade(ctx, trade)
		}
	}
}

func (o *Orchestrator) applyTrade(ctx context.Context, trade core.Trade) {
	realized := o.ec.Positions.Apply(trade)

	o.mu.Lock()
	o.rolloverLocked(time.Now())
	switch trade.Side {
	case core.DirectionBuy:
		o.acct.cash -= trade.Price*trade.Quantity + trade.Fee
	case core.DirectionSell:
		o.acct.cash += trade.Price*trade.Quantity - trade.Fee
	}
	o.acct.dailyPnL += realized
	o.acct.totalPnL += realized
	o.mu.Unlock()

	log.Printf("orchestrator: trade %s %s qty=%.4f realized=%.4f", trade.MarketID, trade.Side, trade.Quantity, realized)
}

// rolloverLocked resets the daily PnL window at local midnight.
func (o *Orchestrator) rolloverLocked(now time.Time) {
	if day := startOfDay(now); day.After(o.acct.day) {
		log.Printf("orchestrator: daily rollover, previous day pnl=%.4f", o.acct.dailyPnL)
		o.acct.dailyPnL = 0
		o.acct.day = day
	}
}

// Snapshot assembles the account state consumed by the risk gate. Portfolio
// value is cash plus positions at current marks.
func (o *Orchestrator) Snapshot() core.AccountState {
	exposure := o.ec.Positions.Exposure()
	var positionValue float64
	for _, v := range exposure {
		positionValue += v
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.rolloverLocked(time.Now())

	value := o.acct.cash + positionValue
	if value > o.acct.peakValue {
		o.acct.peakValue = value
	}
	return core.AccountState{
		PortfolioValue: value,
		CashBalance:    o.acct.cash,
		DailyPnL:       o.acct.dailyPnL,
		TotalPnL:       o.acct.initialBalance + o.acct.totalPnL,
		PeakValue:      o.acct.peakValue,
		OpenOrders:     o.ec.Orders.OpenCount(),
		Exposure:       exposure,
	}
}

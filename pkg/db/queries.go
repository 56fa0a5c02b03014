package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	json "github.com/goccy/go-json"

	"polyagent/internal/core"
)

// ErrEmptyID guards inserts against rows without a primary key.
var ErrEmptyID = errors.New("db: empty id")

// SaveOrder upserts an order row. Called on every lifecycle transition so
// the stored row always reflects the latest state.
func (s *Store) SaveOrder(ctx context.Context, o core.Order) error {
	if o.ID == "" {
		return ErrEmptyID
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, market_id, asset, outcome, side, type, price, qty, filled_qty,
			strategy_id, status, retry_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			price = excluded.price,
			filled_qty = excluded.filled_qty,
			status = excluded.status,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error,
			updated_at = CURRENT_TIMESTAMP
	`,
		o.ID, o.MarketID, o.Asset, string(o.Outcome), string(o.Side), string(o.Type),
		o.Price, o.Quantity, o.FilledQty, o.StrategyID, string(o.Status),
		o.RetryCount, o.LastError, o.CreatedAt,
	)
	return err
}

// SaveTrade inserts a fill record. Trades are append-only.
func (s *Store) SaveTrade(ctx context.Context, t core.Trade) error {
	if t.ID == "" {
		return ErrEmptyID
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, order_id, market_id, asset, outcome, side, price, qty, fee, realized_pnl, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.OrderID, t.MarketID, t.Asset, string(t.Outcome), string(t.Side),
		t.Price, t.Quantity, t.Fee, t.RealizedPnL, t.CreatedAt,
	)
	return err
}

// SaveRiskEvent appends an audit row for a risk decision or engine event.
// Details are stored as JSON.
func (s *Store) SaveRiskEvent(ctx context.Context, kind, severity string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO risk_events (kind, severity, details) VALUES (?, ?, ?)
	`, kind, severity, string(raw))
	return err
}

// SaveEngineState upserts a named state blob (JSON-encoded).
func (s *Store) SaveEngineState(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO engine_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, string(raw))
	return err
}

// GetOpenOrders returns stored orders in non-terminal states, oldest first.
func (s *Store) GetOpenOrders(ctx context.Context) ([]core.Order, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, market_id, asset, outcome, side, type, price, qty, filled_qty,
		       strategy_id, status, retry_count, last_error, created_at
		FROM orders
		WHERE status IN ('PENDING','SUBMITTED','OPEN')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// GetRecentTrades returns the latest fills, newest first.
func (s *Store) GetRecentTrades(ctx context.Context, limit int) ([]core.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, order_id, market_id, asset, outcome, side, price, qty, fee, realized_pnl, created_at
		FROM trades
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Trade
	for rows.Next() {
		var t core.Trade
		var outcome, side string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.MarketID, &t.Asset, &outcome, &side,
			&t.Price, &t.Quantity, &t.Fee, &t.RealizedPnL, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Outcome = core.Outcome(outcome)
		t.Side = core.Direction(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// PerformanceStats summarizes the stored trade history.
type PerformanceStats struct {
	TotalTrades int       `json:"total_trades"`
	TotalVolume float64   `json:"total_volume"`
	TotalFees   float64   `json:"total_fees"`
	RealizedPnL float64   `json:"realized_pnl"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	FirstTrade  time.Time `json:"first_trade"`
	LastTrade   time.Time `json:"last_trade"`
}

// GetPerformanceStats aggregates the trade log for post-hoc review.
func (s *Store) GetPerformanceStats(ctx context.Context) (*PerformanceStats, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(price * qty), 0),
		       COALESCE(SUM(fee), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(MIN(created_at), ''),
		       COALESCE(MAX(created_at), '')
		FROM trades
	`)

	var st PerformanceStats
	var first, last string
	if err := row.Scan(&st.TotalTrades, &st.TotalVolume, &st.TotalFees, &st.RealizedPnL,
		&st.Wins, &st.Losses, &first, &last); err != nil {
		return nil, err
	}
	if first != "" {
		st.FirstTrade, _ = time.Parse(time.RFC3339, first)
	}
	if last != "" {
		st.LastTrade, _ = time.Parse(time.RFC3339, last)
	}
	return &st, nil
}

func scanOrders(rows *sql.Rows) ([]core.Order, error) {
	var out []core.Order
	for rows.Next() {
		var o core.Order
		var outcome, side, typ, status string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Asset, &outcome, &side, &typ,
			&o.Price, &o.Quantity, &o.FilledQty, &o.StrategyID, &status,
			&o.RetryCount, &o.LastError, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Outcome = core.Outcome(outcome)
		o.Side = core.Direction(side)
		o.Type = core.OrderType(typ)
		o.Status = core.OrderStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

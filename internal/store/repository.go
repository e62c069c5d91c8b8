package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solbot/internal/position"
)

// Repository provides data access methods on top of DB.
type Repository struct {
	db *DB
}

// NewRepository creates a repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// SaveTrade inserts a closed trade.
func (r *Repository) SaveTrade(ctx context.Context, trade position.Trade) error {
	query := `
		INSERT INTO trades (id, symbol, side, entry_price, exit_price, amount, leverage,
			profit, profit_percent, exit_reason, sizing_reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		trade.PositionID, trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice,
		trade.Amount, trade.Leverage, trade.Profit, trade.ProfitPercent,
		trade.ExitReason, trade.SizingReason, trade.OpenedAt, trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save trade: %v", ErrPersistence, err)
	}
	return nil
}

// GetTradeHistory returns closed trades, most recent first.
func (r *Repository) GetTradeHistory(ctx context.Context, limit, offset int) ([]position.Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, amount, leverage,
		       profit, profit_percent, exit_reason, sizing_reason, opened_at, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryTrades(ctx, query, limit, offset)
}

// GetTradesSince returns trades closed at or after the cutoff, oldest
// first. The hour optimizer and recent-stats window feed from this.
func (r *Repository) GetTradesSince(ctx context.Context, since time.Time) ([]position.Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, amount, leverage,
		       profit, profit_percent, exit_reason, sizing_reason, opened_at, closed_at
		FROM trades
		WHERE closed_at >= $1
		ORDER BY closed_at ASC
	`
	return r.queryTrades(ctx, query, since)
}

// GetRecentTrades returns the n most recently closed trades, oldest first.
func (r *Repository) GetRecentTrades(ctx context.Context, n int) ([]position.Trade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, amount, leverage,
		       profit, profit_percent, exit_reason, sizing_reason, opened_at, closed_at
		FROM (
			SELECT id, symbol, side, entry_price, exit_price, amount, leverage,
			       profit, profit_percent, exit_reason, sizing_reason, opened_at, closed_at
			FROM trades ORDER BY closed_at DESC LIMIT $1
		) recent
		ORDER BY closed_at ASC
	`
	return r.queryTrades(ctx, query, n)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]position.Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query trades: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var trades []position.Trade
	for rows.Next() {
		var t position.Trade
		var side string
		if err := rows.Scan(
			&t.PositionID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
			&t.Amount, &t.Leverage, &t.Profit, &t.ProfitPercent,
			&t.ExitReason, &t.SizingReason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan trade: %v", ErrPersistence, err)
		}
		t.Side = position.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveSignal records a generated signal.
func (r *Repository) SaveSignal(ctx context.Context, rec SignalRecord) error {
	query := `
		INSERT INTO signals (symbol, direction, confidence, reason, price, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.Symbol, rec.Direction, rec.Confidence, rec.Reason, rec.Price, rec.GeneratedAt)
	if err != nil {
		return fmt.Errorf("%w: save signal: %v", ErrPersistence, err)
	}
	return nil
}

// GetRecentSignals returns the n most recent signals, newest first.
func (r *Repository) GetRecentSignals(ctx context.Context, n int) ([]SignalRecord, error) {
	query := `
		SELECT id, symbol, direction, confidence, reason, price, generated_at
		FROM signals ORDER BY generated_at DESC LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("%w: query signals: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var s SignalRecord
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Direction, &s.Confidence, &s.Reason, &s.Price, &s.GeneratedAt); err != nil {
			return nil, fmt.Errorf("%w: scan signal: %v", ErrPersistence, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveBalanceSnapshot records an equity observation.
func (r *Repository) SaveBalanceSnapshot(ctx context.Context, equity, peak float64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO balance_history (equity, peak, recorded_at) VALUES ($1, $2, $3)`,
		equity, peak, at)
	if err != nil {
		return fmt.Errorf("%w: save balance: %v", ErrPersistence, err)
	}
	return nil
}

// GetBalanceHistory returns snapshots recorded at or after the cutoff,
// oldest first.
func (r *Repository) GetBalanceHistory(ctx context.Context, since time.Time) ([]BalanceSnapshot, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, equity, peak, recorded_at FROM balance_history
		 WHERE recorded_at >= $1 ORDER BY recorded_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("%w: query balance history: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []BalanceSnapshot
	for rows.Next() {
		var s BalanceSnapshot
		if err := rows.Scan(&s.ID, &s.Equity, &s.Peak, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("%w: scan balance: %v", ErrPersistence, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveEngineState upserts a named state document.
func (r *Repository) SaveEngineState(ctx context.Context, name string, state interface{}) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: marshal %s state: %v", ErrPersistence, name, err)
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO engine_state (name, state, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		name, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: save %s state: %v", ErrPersistence, name, err)
	}
	return nil
}

// LoadEngineState unmarshals a named state document into out. Returns
// false when no state was saved yet.
func (r *Repository) LoadEngineState(ctx context.Context, name string, out interface{}) (bool, error) {
	var doc []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT state FROM engine_state WHERE name = $1`, name).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: load %s state: %v", ErrPersistence, name, err)
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("%w: unmarshal %s state: %v", ErrPersistence, name, err)
	}
	return true, nil
}

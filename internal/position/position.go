// Package position owns the open-position set and its lifecycle: opening
// with cooldown and limit gating, intrabar exit evaluation with trailing
// stops, and closed-trade bookkeeping.
package position

import (
	"time"
)

// Side of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position status values. A position is opened once and closed once.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Exit reasons recorded on a Trade.
const (
	ExitStopLoss     = "stop-loss"
	ExitTakeProfit   = "take-profit"
	ExitTrailingStop = "trailing-stop"
	ExitManual       = "manual"
)

// Position is an open trade owned exclusively by the Manager. Only the
// Manager mutates it (trailing-stop ratchets); once closed it never reopens.
type Position struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	EntryPrice   float64   `json:"entry_price"`
	Amount       float64   `json:"amount"`
	Leverage     float64   `json:"leverage"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	OpenedAt     time.Time `json:"opened_at"`
	SizingReason string    `json:"sizing_reason"`
	Status       string    `json:"status"`

	// Trailing state.
	TrailingActive bool    `json:"trailing_active"`
	HighWaterMark  float64 `json:"high_water_mark"`
	LowWaterMark   float64 `json:"low_water_mark"`
}

// Trade is the immutable record created when a position closes.
type Trade struct {
	PositionID    string    `json:"position_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Amount        float64   `json:"amount"`
	Leverage      float64   `json:"leverage"`
	Profit        float64   `json:"profit"`
	ProfitPercent float64   `json:"profit_percent"`
	ExitReason    string    `json:"exit_reason"`
	OpenedAt      time.Time `json:"opened_at"`
	ClosedAt      time.Time `json:"closed_at"`
	SizingReason  string    `json:"sizing_reason"`
}

// profitAt computes the PnL of closing the position at the given price.
func (p *Position) profitAt(exitPrice float64) (profit, profitPercent float64) {
	var movePercent float64
	if p.Side == SideLong {
		movePercent = (exitPrice - p.EntryPrice) / p.EntryPrice * 100
	} else {
		movePercent = (p.EntryPrice - exitPrice) / p.EntryPrice * 100
	}
	leverage := p.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	profitPercent = movePercent * leverage
	profit = p.Amount * profitPercent / 100
	return profit, profitPercent
}

package store

import "time"

// SignalRecord is a persisted signal row.
type SignalRecord struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	Confidence  float64   `json:"confidence"`
	Reason      string    `json:"reason"`
	Price       float64   `json:"price"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Setting is one settings row. Value is stored as text and interpreted
// according to ValueType.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ValueType ValueType `json:"value_type"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// BalanceSnapshot is one equity observation.
type BalanceSnapshot struct {
	ID         int64     `json:"id"`
	Equity     float64   `json:"equity"`
	Peak       float64   `json:"peak"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Engine state row names. Each holds a JSON document restored on startup.
const (
	StateSizing    = "sizing"
	StateDrawdown  = "drawdown"
	StateCooldowns = "cooldowns"
	StatePositions = "positions"
)

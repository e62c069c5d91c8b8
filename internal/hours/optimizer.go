// Package hours analyzes closed trades by UTC hour of day so the signal
// generator can skip hours that historically lose. Stats are recomputed from
// the trade history on demand rather than cached incrementally.
package hours

import (
	"math"
	"sort"

	"solbot/internal/position"
)

// Config holds hour-of-day filter configuration.
type Config struct {
	Enabled        bool    `json:"enabled"`
	MinTrades      int     `json:"min_trades"`    // floor before an hour's stats count
	BadWinRate     float64 `json:"bad_win_rate"`  // at or below this win rate % the hour is blocked
	GoodWinRate    float64 `json:"good_win_rate"` // at or above this win rate % the hour is favored
	StaticBadHours []int   `json:"static_bad_hours"`
}

// DefaultConfig returns the standard hour filter setup.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MinTrades:   5,
		BadWinRate:  35,
		GoodWinRate: 65,
	}
}

// Stat summarizes performance for one UTC hour.
type Stat struct {
	Hour       int     `json:"hour"`
	TradeCount int     `json:"trade_count"`
	WinCount   int     `json:"win_count"`
	WinRate    float64 `json:"win_rate"` // percent, rounded to 2 decimals
}

// AnalyzeTradesByHour buckets closed trades by the UTC hour of ClosedAt.
// Hours with no trades report a zero win rate.
func AnalyzeTradesByHour(trades []position.Trade) [24]Stat {
	var stats [24]Stat
	for h := range stats {
		stats[h].Hour = h
	}

	for _, trade := range trades {
		h := trade.ClosedAt.UTC().Hour()
		stats[h].TradeCount++
		if trade.Profit > 0 {
			stats[h].WinCount++
		}
	}

	for h := range stats {
		if stats[h].TradeCount > 0 {
			rate := float64(stats[h].WinCount) / float64(stats[h].TradeCount) * 100
			stats[h].WinRate = math.Round(rate*100) / 100
		}
	}
	return stats
}

// BadHours returns the hours with at least minTrades trades and a win rate
// at or below the threshold, ascending.
func BadHours(trades []position.Trade, minTrades int, thresholdWinRate float64) []int {
	return filterHours(trades, minTrades, func(s Stat) bool {
		return s.WinRate <= thresholdWinRate
	})
}

// GoodHours returns the hours with at least minTrades trades and a win rate
// at or above the threshold, ascending.
func GoodHours(trades []position.Trade, minTrades int, thresholdWinRate float64) []int {
	return filterHours(trades, minTrades, func(s Stat) bool {
		return s.WinRate >= thresholdWinRate
	})
}

func filterHours(trades []position.Trade, minTrades int, keep func(Stat) bool) []int {
	stats := AnalyzeTradesByHour(trades)
	var out []int
	for _, s := range stats {
		if s.TradeCount >= minTrades && keep(s) {
			out = append(out, s.Hour)
		}
	}
	sort.Ints(out)
	return out
}

// Optimizer combines a static blocked-hour list with hours learned from the
// trade history.
type Optimizer struct {
	config Config
}

// NewOptimizer creates an hour filter from config.
func NewOptimizer(cfg Config) *Optimizer {
	return &Optimizer{config: cfg}
}

// BadHours merges the configured static list with the learned bad hours.
func (o *Optimizer) BadHours(trades []position.Trade) []int {
	if !o.config.Enabled {
		return nil
	}

	blocked := make(map[int]bool)
	for _, h := range o.config.StaticBadHours {
		if h >= 0 && h < 24 {
			blocked[h] = true
		}
	}
	for _, h := range BadHours(trades, o.config.MinTrades, o.config.BadWinRate) {
		blocked[h] = true
	}

	out := make([]int, 0, len(blocked))
	for h := range blocked {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

// IsBlocked reports whether the UTC hour should be skipped for new entries.
func (o *Optimizer) IsBlocked(hour int, trades []position.Trade) bool {
	if !o.config.Enabled {
		return false
	}
	for _, h := range o.BadHours(trades) {
		if h == hour {
			return true
		}
	}
	return false
}

// GoodHours returns the learned favorable hours.
func (o *Optimizer) GoodHours(trades []position.Trade) []int {
	if !o.config.Enabled {
		return nil
	}
	return GoodHours(trades, o.config.MinTrades, o.config.GoodWinRate)
}

// Package sizing turns a base trade amount into a risk-adjusted position
// size using recent performance and current volatility.
package sizing

import (
	"fmt"
)

// SizerConfig holds dynamic position sizing configuration.
type SizerConfig struct {
	ConfidentWinRate float64 `json:"confident_win_rate"` // win rate % above which size grows
	CautiousWinRate  float64 `json:"cautious_win_rate"`  // win rate % below which size shrinks
	StepPerPoint     float64 `json:"step_per_point"`     // multiplier change per % point outside the band
	MaxMultiplier    float64 `json:"max_multiplier"`
	MinFraction      float64 `json:"min_fraction"` // floor as a fraction of the base amount

	VolatilityCeiling float64 `json:"volatility_ceiling"` // ATR % of price above which risk is scaled back
	MaxLeverage       float64 `json:"max_leverage"`
}

// DefaultSizerConfig returns the standard sizing band.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		ConfidentWinRate:  60,
		CautiousWinRate:   40,
		StepPerPoint:      0.02,
		MaxMultiplier:     2.0,
		MinFraction:       0.25,
		VolatilityCeiling: 3.0,
		MaxLeverage:       5,
	}
}

// RecentStats summarizes recent closed trades for the sizer.
type RecentStats struct {
	WinRate    float64 // percent, 0-100
	TradeCount int
}

// Volatility carries the ATR-derived volatility for the traded symbol.
type Volatility struct {
	ATR   float64
	Price float64
}

// Percent returns ATR as a percentage of price, or 0 when price is unknown.
func (v Volatility) Percent() float64 {
	if v.Price <= 0 {
		return 0
	}
	return v.ATR / v.Price * 100
}

// SizeResult is the outcome of a sizing request. StopLossPercent and
// TakeProfitPercent are the volatility-adjusted exit distances the position
// should be opened with.
type SizeResult struct {
	Amount            float64 `json:"amount"`
	Multiplier        float64 `json:"multiplier"`
	Leverage          float64 `json:"leverage"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	Reason            string  `json:"reason"`
}

// ComputePositionSize derives the position size from the base amount, recent
// win rate and current volatility. Pure function, no side effects.
//
// The multiplier starts at 1 and moves by StepPerPoint for each win-rate
// percentage point above the confident threshold (capped) or below the
// cautious threshold (floored at MinFraction). When ATR volatility exceeds
// the ceiling, size and leverage scale down and the exit distances widen by
// the same factor so expected risk stays roughly constant.
func ComputePositionSize(baseAmount float64, stats RecentStats, vol Volatility, stopLossPercent, takeProfitPercent, leverage float64, cfg SizerConfig) SizeResult {
	multiplier := 1.0
	reason := "neutral win rate"

	if stats.TradeCount > 0 {
		switch {
		case stats.WinRate > cfg.ConfidentWinRate:
			multiplier = 1 + (stats.WinRate-cfg.ConfidentWinRate)*cfg.StepPerPoint
			if multiplier > cfg.MaxMultiplier {
				multiplier = cfg.MaxMultiplier
			}
			reason = fmt.Sprintf("win rate %.1f%% above confident threshold %.1f%%", stats.WinRate, cfg.ConfidentWinRate)
		case stats.WinRate < cfg.CautiousWinRate:
			multiplier = 1 - (cfg.CautiousWinRate-stats.WinRate)*cfg.StepPerPoint
			if multiplier < cfg.MinFraction {
				multiplier = cfg.MinFraction
			}
			reason = fmt.Sprintf("win rate %.1f%% below cautious threshold %.1f%%", stats.WinRate, cfg.CautiousWinRate)
		}
	}

	if leverage <= 0 {
		leverage = 1
	}
	if cfg.MaxLeverage > 0 && leverage > cfg.MaxLeverage {
		leverage = cfg.MaxLeverage
	}

	volPercent := vol.Percent()
	if cfg.VolatilityCeiling > 0 && volPercent > cfg.VolatilityCeiling {
		// Scale risk down and exit distances up by the same factor.
		scale := cfg.VolatilityCeiling / volPercent
		multiplier *= scale
		if multiplier < cfg.MinFraction {
			multiplier = cfg.MinFraction
		}
		leverage *= scale
		if leverage < 1 {
			leverage = 1
		}
		stopLossPercent /= scale
		takeProfitPercent /= scale
		reason = fmt.Sprintf("%s; volatility %.2f%% above ceiling %.2f%%", reason, volPercent, cfg.VolatilityCeiling)
	}

	return SizeResult{
		Amount:            baseAmount * multiplier,
		Multiplier:        multiplier,
		Leverage:          leverage,
		StopLossPercent:   stopLossPercent,
		TakeProfitPercent: takeProfitPercent,
		Reason:            reason,
	}
}

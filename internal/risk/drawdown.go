// Package risk holds the protective gates that can halt or veto trading:
// the drawdown guard and the cross-asset correlation filter.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DrawdownConfig holds drawdown guard configuration.
type DrawdownConfig struct {
	Enabled          bool    `json:"enabled"`
	ThresholdPercent float64 `json:"threshold_percent"` // drawdown % from peak that trips the pause
	PauseMinutes     int     `json:"pause_minutes"`
	RequireNewPeak   bool    `json:"require_new_peak"` // resumption also waits for a fresh equity peak
}

// DefaultDrawdownConfig returns safe drawdown guard defaults.
func DefaultDrawdownConfig() DrawdownConfig {
	return DrawdownConfig{
		Enabled:          true,
		ThresholdPercent: 5.0,
		PauseMinutes:     60,
		RequireNewPeak:   false,
	}
}

// PauseEvent describes a drawdown pause being tripped.
type PauseEvent struct {
	Reason          string        `json:"reason"`
	DrawdownPercent float64       `json:"drawdown_percent"`
	PausedUntil     time.Time     `json:"paused_until"`
	Duration        time.Duration `json:"duration"`
}

// DrawdownState is the exportable guard state.
type DrawdownState struct {
	EquityPeak      float64    `json:"equity_peak"`
	DrawdownPercent float64    `json:"drawdown_percent"`
	PausedUntil     *time.Time `json:"paused_until,omitempty"`
	AwaitingPeak    bool       `json:"awaiting_peak"`
}

// DrawdownGuard tracks the equity peak and pauses trading when equity falls
// too far below it. Resumption is time-based; with RequireNewPeak it also
// waits for equity to make a new high.
type DrawdownGuard struct {
	mu           sync.Mutex
	config       DrawdownConfig
	equityPeak   float64
	lastEquity   float64
	pausedUntil  time.Time
	awaitingPeak bool
	now          func() time.Time
	onPause      func(PauseEvent)
	logger       zerolog.Logger
}

// NewDrawdownGuard creates a guard seeded with the starting equity.
func NewDrawdownGuard(cfg DrawdownConfig, startingEquity float64, logger zerolog.Logger) *DrawdownGuard {
	return &DrawdownGuard{
		config:     cfg,
		equityPeak: startingEquity,
		lastEquity: startingEquity,
		now:        time.Now,
		logger:     logger.With().Str("component", "DrawdownGuard").Logger(),
	}
}

// OnPause sets the callback invoked when the guard trips.
func (g *DrawdownGuard) OnPause(handler func(PauseEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onPause = handler
}

// SetThreshold changes the pause threshold at runtime. Values outside
// (0, 100) are ignored.
func (g *DrawdownGuard) SetThreshold(pct float64) {
	if pct <= 0 || pct >= 100 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.ThresholdPercent = pct
}

// SetClock overrides the wall clock, used by tests.
func (g *DrawdownGuard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// OnEquityChange records an equity observation. A new high raises the peak;
// a drawdown at or beyond the threshold trips the pause.
func (g *DrawdownGuard) OnEquityChange(equity float64) {
	if !g.config.Enabled {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastEquity = equity

	if equity > g.equityPeak {
		g.equityPeak = equity
		g.awaitingPeak = false
		return
	}
	if g.equityPeak <= 0 {
		return
	}

	drawdown := (g.equityPeak - equity) / g.equityPeak * 100
	if drawdown < g.config.ThresholdPercent {
		return
	}
	if g.pausedLocked() {
		return
	}

	duration := time.Duration(g.config.PauseMinutes) * time.Minute
	g.pausedUntil = g.now().Add(duration)
	if g.config.RequireNewPeak {
		g.awaitingPeak = true
	}

	event := PauseEvent{
		Reason:          fmt.Sprintf("drawdown %.2f%% from peak %.2f breached %.2f%% threshold", drawdown, g.equityPeak, g.config.ThresholdPercent),
		DrawdownPercent: drawdown,
		PausedUntil:     g.pausedUntil,
		Duration:        duration,
	}
	g.logger.Warn().
		Float64("drawdown_percent", drawdown).
		Float64("equity_peak", g.equityPeak).
		Time("paused_until", g.pausedUntil).
		Msg("drawdown pause tripped")

	if g.onPause != nil {
		handler := g.onPause
		go handler(event)
	}
}

// IsPaused reports whether trading is currently halted by the guard.
func (g *DrawdownGuard) IsPaused() bool {
	if !g.config.Enabled {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pausedLocked()
}

func (g *DrawdownGuard) pausedLocked() bool {
	if g.now().Before(g.pausedUntil) {
		return true
	}
	return g.config.RequireNewPeak && g.awaitingPeak
}

// State returns a snapshot of the guard for status display and persistence.
func (g *DrawdownGuard) State() DrawdownState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := DrawdownState{
		EquityPeak:   g.equityPeak,
		AwaitingPeak: g.awaitingPeak,
	}
	if g.equityPeak > 0 {
		state.DrawdownPercent = (g.equityPeak - g.lastEquity) / g.equityPeak * 100
	}
	if g.now().Before(g.pausedUntil) {
		until := g.pausedUntil
		state.PausedUntil = &until
	}
	return state
}

// Restore reinstates a persisted guard state.
func (g *DrawdownGuard) Restore(state DrawdownState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state.EquityPeak > g.equityPeak {
		g.equityPeak = state.EquityPeak
	}
	if state.PausedUntil != nil {
		g.pausedUntil = *state.PausedUntil
	}
	g.awaitingPeak = state.AwaitingPeak
}

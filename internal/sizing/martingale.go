package sizing

import (
	"sync"
)

// Martingale sizing modes. Anti-martingale raises size on winning streaks;
// martingale flips the sign of the step. In both modes a loss resets the
// streak and the multiplier returns to 1.
const (
	ModeAntiMartingale = "anti-martingale"
	ModeMartingale     = "martingale"
)

// MartingaleConfig holds streak sizing configuration.
type MartingaleConfig struct {
	Mode          string  `json:"mode"`
	StepFactor    float64 `json:"step_factor"`    // multiplier increase per streak step
	MaxMultiplier float64 `json:"max_multiplier"` // cap, always >= 1
}

// DefaultMartingaleConfig returns conservative streak sizing defaults.
func DefaultMartingaleConfig() MartingaleConfig {
	return MartingaleConfig{
		Mode:          ModeAntiMartingale,
		StepFactor:    0.5,
		MaxMultiplier: 3.0,
	}
}

// MartingaleState is the exportable streak state, persisted across restarts.
type MartingaleState struct {
	Streak            int     `json:"streak"`
	CurrentMultiplier float64 `json:"current_multiplier"`
}

// StreakResult is the outcome of a streak-based sizing request.
type StreakResult struct {
	Size       float64 `json:"size"`
	Multiplier float64 `json:"multiplier"`
	Streak     int     `json:"streak"`
}

// MartingaleSizer tracks the win streak and scales position size with it.
// It is shared across symbols, so all mutation goes through the mutex.
type MartingaleSizer struct {
	mu     sync.Mutex
	config MartingaleConfig
	streak int
}

// NewMartingaleSizer creates a streak sizer from config.
func NewMartingaleSizer(cfg MartingaleConfig) *MartingaleSizer {
	if cfg.MaxMultiplier < 1 {
		cfg.MaxMultiplier = 1
	}
	return &MartingaleSizer{config: cfg}
}

// RecordResult feeds a closed trade outcome into the streak. A win extends
// the streak, a loss resets it to zero.
func (m *MartingaleSizer) RecordResult(win bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if win {
		m.streak++
	} else {
		m.streak = 0
	}
}

// PositionSize returns the streak-scaled size for a base amount.
func (m *MartingaleSizer) PositionSize(baseAmount float64) StreakResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	multiplier := m.multiplierLocked()
	return StreakResult{
		Size:       baseAmount * multiplier,
		Multiplier: multiplier,
		Streak:     m.streak,
	}
}

func (m *MartingaleSizer) multiplierLocked() float64 {
	step := m.config.StepFactor
	if m.config.Mode == ModeMartingale {
		step = -step
	}

	multiplier := 1 + float64(m.streak)*step
	if multiplier > m.config.MaxMultiplier {
		multiplier = m.config.MaxMultiplier
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return multiplier
}

// State exports the current streak state for persistence.
func (m *MartingaleSizer) State() MartingaleState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MartingaleState{
		Streak:            m.streak,
		CurrentMultiplier: m.multiplierLocked(),
	}
}

// Restore replaces the streak with a previously exported state.
func (m *MartingaleSizer) Restore(state MartingaleState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state.Streak < 0 {
		state.Streak = 0
	}
	m.streak = state.Streak
}

package sizing

import (
	"math"
	"testing"
)

func TestMartingaleLossResets(t *testing.T) {
	m := NewMartingaleSizer(DefaultMartingaleConfig())

	for i := 0; i < 7; i++ {
		m.RecordResult(true)
	}
	if r := m.PositionSize(100); r.Multiplier <= 1 {
		t.Fatalf("multiplier should grow on a win streak, got %v", r.Multiplier)
	}

	m.RecordResult(false)
	r := m.PositionSize(100)
	if r.Streak != 0 {
		t.Errorf("streak after loss = %d, want 0", r.Streak)
	}
	if r.Multiplier != 1 {
		t.Errorf("multiplier after loss = %v, want 1", r.Multiplier)
	}
	if r.Size != 100 {
		t.Errorf("size after loss = %v, want base amount", r.Size)
	}
}

func TestMartingaleCap(t *testing.T) {
	cfg := MartingaleConfig{Mode: ModeAntiMartingale, StepFactor: 0.5, MaxMultiplier: 2.0}
	m := NewMartingaleSizer(cfg)

	for i := 0; i < 20; i++ {
		m.RecordResult(true)
		r := m.PositionSize(50)
		if r.Multiplier > cfg.MaxMultiplier {
			t.Fatalf("multiplier %v exceeds cap %v after %d wins", r.Multiplier, cfg.MaxMultiplier, i+1)
		}
		if r.Multiplier < 1 {
			t.Fatalf("multiplier %v below 1 after %d wins", r.Multiplier, i+1)
		}
	}
}

func TestMartingaleModeNeverBelowOne(t *testing.T) {
	cfg := MartingaleConfig{Mode: ModeMartingale, StepFactor: 0.5, MaxMultiplier: 3.0}
	m := NewMartingaleSizer(cfg)

	for i := 0; i < 5; i++ {
		m.RecordResult(true)
		if r := m.PositionSize(100); r.Multiplier < 1 {
			t.Fatalf("multiplier %v below 1 in martingale mode", r.Multiplier)
		}
	}
}

func TestMartingaleStateRoundTrip(t *testing.T) {
	const wins = 4
	m := NewMartingaleSizer(DefaultMartingaleConfig())
	for i := 0; i < wins; i++ {
		m.RecordResult(true)
	}
	exported := m.State()

	replayed := NewMartingaleSizer(DefaultMartingaleConfig())
	for i := 0; i < wins; i++ {
		replayed.RecordResult(true)
	}
	if got := replayed.State(); got != exported {
		t.Errorf("replayed state %+v differs from exported %+v", got, exported)
	}

	restored := NewMartingaleSizer(DefaultMartingaleConfig())
	restored.Restore(exported)
	if got := restored.State(); got.CurrentMultiplier != exported.CurrentMultiplier {
		t.Errorf("restored multiplier %v, want %v", got.CurrentMultiplier, exported.CurrentMultiplier)
	}
}

func TestComputePositionSizeWinRateBand(t *testing.T) {
	cfg := DefaultSizerConfig()
	vol := Volatility{ATR: 1, Price: 100} // 1%, below ceiling

	tests := []struct {
		name       string
		stats      RecentStats
		wantAbove1 bool
		wantBelow1 bool
	}{
		{"neutral band", RecentStats{WinRate: 50, TradeCount: 10}, false, false},
		{"confident", RecentStats{WinRate: 75, TradeCount: 10}, true, false},
		{"cautious", RecentStats{WinRate: 20, TradeCount: 10}, false, true},
		{"no history", RecentStats{WinRate: 0, TradeCount: 0}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ComputePositionSize(100, tt.stats, vol, 2, 3, 3, cfg)
			if tt.wantAbove1 && r.Multiplier <= 1 {
				t.Errorf("multiplier = %v, want > 1", r.Multiplier)
			}
			if tt.wantBelow1 && r.Multiplier >= 1 {
				t.Errorf("multiplier = %v, want < 1", r.Multiplier)
			}
			if !tt.wantAbove1 && !tt.wantBelow1 && r.Multiplier != 1 {
				t.Errorf("multiplier = %v, want 1", r.Multiplier)
			}
			if r.Multiplier > cfg.MaxMultiplier {
				t.Errorf("multiplier %v exceeds cap", r.Multiplier)
			}
			if r.Amount < 100*cfg.MinFraction {
				t.Errorf("amount %v below floor", r.Amount)
			}
			if r.Reason == "" {
				t.Error("reason must not be empty")
			}
		})
	}
}

func TestComputePositionSizeVolatilityAdjustment(t *testing.T) {
	cfg := DefaultSizerConfig()
	stats := RecentStats{WinRate: 50, TradeCount: 10}

	calm := ComputePositionSize(100, stats, Volatility{ATR: 1, Price: 100}, 2, 3, 4, cfg)
	stormy := ComputePositionSize(100, stats, Volatility{ATR: 6, Price: 100}, 2, 3, 4, cfg)

	if stormy.Amount >= calm.Amount {
		t.Errorf("high volatility amount %v should be below calm amount %v", stormy.Amount, calm.Amount)
	}
	if stormy.Leverage >= calm.Leverage {
		t.Errorf("high volatility leverage %v should be below calm leverage %v", stormy.Leverage, calm.Leverage)
	}
	if stormy.StopLossPercent <= calm.StopLossPercent {
		t.Errorf("high volatility stop distance %v should widen beyond %v", stormy.StopLossPercent, calm.StopLossPercent)
	}

	// Risk product stays roughly constant: smaller size, wider stop.
	calmRisk := calm.Amount * calm.StopLossPercent
	stormyRisk := stormy.Amount * stormy.StopLossPercent
	if math.Abs(calmRisk-stormyRisk) > calmRisk*0.01 {
		t.Errorf("expected risk to stay roughly constant: calm %v vs stormy %v", calmRisk, stormyRisk)
	}
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solbot/internal/events"
	"solbot/internal/hours"
	"solbot/internal/indicator"
	"solbot/internal/market"
	"solbot/internal/position"
	"solbot/internal/risk"
	"solbot/internal/sentiment"
	"solbot/internal/signal"
	"solbot/internal/sizing"
	"solbot/internal/store"
)

// fakeStore is an in-memory Store with error injection.
type fakeStore struct {
	mu           sync.Mutex
	trades       []position.Trade
	signals      []store.SignalRecord
	state        map[string][]byte
	settings     []store.Setting
	balances     int
	failTrade    bool
	failSignal   bool
	failSettings bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: make(map[string][]byte)}
}

func (f *fakeStore) SaveTrade(_ context.Context, trade position.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTrade {
		return fmt.Errorf("%w: injected", store.ErrPersistence)
	}
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeStore) SaveSignal(_ context.Context, rec store.SignalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSignal {
		return fmt.Errorf("%w: injected", store.ErrPersistence)
	}
	f.signals = append(f.signals, rec)
	return nil
}

func (f *fakeStore) GetTradesSince(_ context.Context, since time.Time) ([]position.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []position.Trade
	for _, t := range f.trades {
		if !t.ClosedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRecentTrades(_ context.Context, n int) ([]position.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.trades) <= n {
		return append([]position.Trade(nil), f.trades...), nil
	}
	return append([]position.Trade(nil), f.trades[len(f.trades)-n:]...), nil
}

func (f *fakeStore) SaveBalanceSnapshot(context.Context, float64, float64, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances++
	return nil
}

func (f *fakeStore) SaveEngineState(_ context.Context, name string, state interface{}) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[name] = doc
	return nil
}

func (f *fakeStore) LoadEngineState(_ context.Context, name string, out interface{}) (bool, error) {
	f.mu.Lock()
	doc, ok := f.state[name]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(doc, out)
}

func (f *fakeStore) ListSettings(context.Context) ([]store.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSettings {
		return nil, fmt.Errorf("%w: injected", store.ErrPersistence)
	}
	return append([]store.Setting(nil), f.settings...), nil
}

func (f *fakeStore) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func (f *fakeStore) tradeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades)
}

// trendCandles builds a monotonic series ending at the current time.
func trendCandles(symbol string, n int, start, step float64) []market.Candle {
	candles := make([]market.Candle, n)
	base := time.Now().Add(-time.Duration(n) * 5 * time.Minute)
	for i := range candles {
		price := start + float64(i)*step
		candles[i] = market.Candle{
			Symbol:    symbol,
			Interval:  market.Timeframe5m,
			OpenTime:  base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price - step/2,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			CloseTime: base.Add(time.Duration(i+1) * 5 * time.Minute),
		}
	}
	return candles
}

func testOptions(provider market.Provider, repo Store) Options {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"SOLUSDT"}
	cfg.PollInterval = time.Hour // ticks are driven manually in tests

	hoursCfg := hours.DefaultConfig()
	hoursCfg.Enabled = false
	corrCfg := risk.DefaultCorrelationConfig()
	corrCfg.Enabled = false
	guardCfg := risk.DefaultDrawdownConfig()

	return Options{
		Config:        cfg,
		IndicatorCfg:  indicator.DefaultConfig(),
		SignalCfg:     signal.DefaultConfig(),
		SizerCfg:      sizing.DefaultSizerConfig(),
		MartingaleCfg: sizing.DefaultMartingaleConfig(),
		PositionCfg:   position.DefaultManagerConfig(),
		DrawdownCfg:   guardCfg,
		CorrCfg:       corrCfg,
		HoursCfg:      hoursCfg,
		Provider:      provider,
		Repo:          repo,
		Bus:           events.NewBus(),
		Logger:        zerolog.Nop(),
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero candles", func(c *Config) { c.CandleCount = 0 }},
		{"zero base amount", func(c *Config) { c.BaseAmount = 0 }},
		{"leverage below one", func(c *Config) { c.Leverage = 0.5 }},
		{"missing timeframe", func(c *Config) { c.Timeframes.Slow = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestEntryOpensPosition(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")

	if got := e.Manager().OpenCount(); got != 1 {
		status := e.Status()
		t.Fatalf("open positions = %d, want 1 (last signal: %+v)", got, status.LastSignals["SOLUSDT"])
	}
	if repo.signalCount() != 1 {
		t.Errorf("persisted signals = %d, want 1", repo.signalCount())
	}
	pos := e.Manager().OpenPositions()[0]
	if pos.Side != position.SideLong {
		t.Errorf("side = %s, want long on a rising series", pos.Side)
	}
	if pos.StopLoss >= pos.EntryPrice {
		t.Errorf("stop loss %v not below entry %v", pos.StopLoss, pos.EntryPrice)
	}
}

func TestSecondTickRespectsPositionCap(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")
	e.tick(context.Background(), "SOLUSDT")

	if got := e.Manager().OpenCount(); got != 1 {
		t.Errorf("open positions = %d, want 1 under the per-symbol cap", got)
	}
}

func TestDataUnavailableSkipsTick(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetFailing(true)
	repo := newFakeStore()

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")

	if repo.signalCount() != 0 {
		t.Errorf("signals persisted on failed tick: %d", repo.signalCount())
	}
	if e.Manager().OpenCount() != 0 {
		t.Error("position opened without data")
	}
}

func TestExitSettledBeforeEntry(t *testing.T) {
	provider := market.NewMockProvider()
	rising := trendCandles("SOLUSDT", 120, 100, 0.5)
	provider.SetCandles("SOLUSDT", rising)
	repo := newFakeStore()

	opts := testOptions(provider, repo)
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")
	if e.Manager().OpenCount() != 1 {
		t.Fatalf("setup: no position opened")
	}
	entry := e.Manager().OpenPositions()[0].EntryPrice

	// A crash below the stop level closes the position on the next tick.
	crash := trendCandles("SOLUSDT", 120, entry*0.9, 0)
	provider.SetCandles("SOLUSDT", crash)

	startEquity := e.Equity()
	e.tick(context.Background(), "SOLUSDT")

	if repo.tradeCount() != 1 {
		t.Fatalf("trades persisted = %d, want 1", repo.tradeCount())
	}
	trade := repo.trades[0]
	if trade.ExitReason != position.ExitStopLoss {
		t.Errorf("exit reason = %s, want %s", trade.ExitReason, position.ExitStopLoss)
	}
	if e.Equity() >= startEquity {
		t.Errorf("equity %v did not decrease from %v after a losing trade", e.Equity(), startEquity)
	}
}

func TestUnpersistedExitLeavesStateUntouched(t *testing.T) {
	// When SaveTrade fails, the closed trade must not reach the streak
	// sizer or start a cooldown: the ledger and the in-memory state would
	// otherwise disagree after a restart.
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")
	if e.Manager().OpenCount() != 1 {
		t.Fatalf("setup: no position opened")
	}
	entry := e.Manager().OpenPositions()[0].EntryPrice
	startEquity := e.Equity()

	repo.failTrade = true
	crash := trendCandles("SOLUSDT", 120, entry*0.9, 0)
	provider.SetCandles("SOLUSDT", crash)

	e.tick(context.Background(), "SOLUSDT")

	if repo.tradeCount() != 0 {
		t.Fatalf("trades persisted = %d, want 0 on injected failure", repo.tradeCount())
	}
	if got := e.martin.State().Streak; got != 0 {
		t.Errorf("streak = %d, want 0 for an unpersisted trade", got)
	}
	if e.Manager().CoolingDown("SOLUSDT") {
		t.Error("cooldown started for an unpersisted stop-loss")
	}
	if e.Equity() != startEquity {
		t.Errorf("equity moved from %v to %v without a persisted trade", startEquity, e.Equity())
	}
}

func TestClosePositionPersistsAndSettles(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")
	if e.Manager().OpenCount() != 1 {
		t.Fatalf("setup: no position opened")
	}
	pos := e.Manager().OpenPositions()[0]
	startEquity := e.Equity()

	trade, err := e.ClosePosition(context.Background(), pos.ID, pos.EntryPrice*1.01)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if trade.ExitReason != position.ExitManual {
		t.Errorf("exit reason = %s, want %s", trade.ExitReason, position.ExitManual)
	}
	if repo.tradeCount() != 1 {
		t.Errorf("trades persisted = %d, want 1", repo.tradeCount())
	}
	if e.Equity() <= startEquity {
		t.Errorf("equity %v did not rise from %v on a winning manual close", e.Equity(), startEquity)
	}
	if e.Manager().OpenCount() != 0 {
		t.Error("position still open after manual close")
	}

	if _, err := e.ClosePosition(context.Background(), pos.ID, 100); err == nil {
		t.Error("closing a closed position must fail")
	}
}

func TestPersistenceFailureAbortsEntry(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()
	repo.failSignal = true

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")

	if e.Manager().OpenCount() != 0 {
		t.Error("position opened despite signal persistence failure")
	}
}

func TestDrawdownPauseBlocksEntries(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()

	opts := testOptions(provider, repo)
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	// Trip the guard directly with a deep equity drop.
	e.guard.OnEquityChange(opts.Config.InitialBalance * 0.5)
	if !e.guard.IsPaused() {
		t.Fatal("guard did not pause on 50% drawdown")
	}

	// The pause callback runs on its own goroutine.
	deadline := time.Now().Add(time.Second)
	for e.State() != StatePausing && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := e.State(); got != StatePausing {
		t.Fatalf("state = %s, want %s before the tick boundary", got, StatePausing)
	}

	e.tick(context.Background(), "SOLUSDT")

	if e.Manager().OpenCount() != 0 {
		t.Error("position opened while paused")
	}
	if got := e.State(); got != StatePaused {
		t.Errorf("state = %s, want %s after tick boundary", got, StatePaused)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("second Start succeeded, want error")
	}
	if got := e.State(); got != StateRunning {
		t.Errorf("state = %s, want running", got)
	}

	e.Stop()
	if got := e.State(); got != StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}
	// Stop again is a no-op.
	e.Stop()
}

func TestRestoreSizingState(t *testing.T) {
	provider := market.NewMockProvider()
	repo := newFakeStore()
	if err := repo.SaveEngineState(context.Background(), store.StateSizing,
		sizing.MartingaleState{Streak: 2, CurrentMultiplier: 2.0}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.restoreState(context.Background()); err != nil {
		t.Fatalf("restoreState: %v", err)
	}

	state := e.martin.State()
	if state.Streak != 2 {
		t.Errorf("restored streak = %d, want 2", state.Streak)
	}
}

func TestSentimentFlowsIntoSignal(t *testing.T) {
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()

	opts := testOptions(provider, repo)
	opts.Sentiment = sentiment.StaticProvider{Value: 90}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")

	status := e.Status()
	sig, ok := status.LastSignals["SOLUSDT"]
	if !ok {
		t.Fatal("no signal recorded")
	}
	if sig.Direction != signal.DirectionBuy {
		t.Fatalf("direction = %s, want buy", sig.Direction)
	}
}

func TestApplySettingsOverlay(t *testing.T) {
	provider := market.NewMockProvider()
	repo := newFakeStore()
	repo.settings = []store.Setting{
		{Key: "signal.rsi_oversold", Value: "25", ValueType: store.TypeNumber},
		{Key: "signal.min_confluence", Value: "3", ValueType: store.TypeNumber},
		{Key: "engine.base_amount", Value: "250", ValueType: store.TypeNumber},
		{Key: "position.stop_loss_percent", Value: "-1", ValueType: store.TypeNumber}, // out of range, skipped
		{Key: "position.take_profit_percent", Value: "junk", ValueType: store.TypeNumber},
		{Key: "signal.sentiment_weight", Value: "0.1", ValueType: store.TypeString}, // wrong type, skipped
		{Key: "ui.theme", Value: "7", ValueType: store.TypeNumber},                  // unrecognized, skipped
	}

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defaults := e.snapshot()

	snap := e.snapshot()
	e.applySettings(context.Background(), &snap)

	if snap.signalCfg.RSIOversold != 25 {
		t.Errorf("rsi oversold = %v, want 25", snap.signalCfg.RSIOversold)
	}
	if snap.signalCfg.MinConfluence != 3 {
		t.Errorf("min confluence = %d, want 3", snap.signalCfg.MinConfluence)
	}
	if snap.cfg.BaseAmount != 250 {
		t.Errorf("base amount = %v, want 250", snap.cfg.BaseAmount)
	}
	if snap.positionCfg.StopLossPercent != defaults.positionCfg.StopLossPercent {
		t.Errorf("negative stop-loss applied: %v", snap.positionCfg.StopLossPercent)
	}
	if snap.positionCfg.TakeProfitPercent != defaults.positionCfg.TakeProfitPercent {
		t.Errorf("unparseable take-profit applied: %v", snap.positionCfg.TakeProfitPercent)
	}
	if snap.signalCfg.SentimentWeight != defaults.signalCfg.SentimentWeight {
		t.Errorf("string-typed setting applied: %v", snap.signalCfg.SentimentWeight)
	}

	// A read failure leaves the snapshot on the startup configuration.
	repo.failSettings = true
	snap = e.snapshot()
	e.applySettings(context.Background(), &snap)
	if snap.signalCfg.RSIOversold != defaults.signalCfg.RSIOversold {
		t.Errorf("overlay applied despite read failure: %v", snap.signalCfg.RSIOversold)
	}
}

func TestSettingsGovernTick(t *testing.T) {
	// A persisted min_confluence no series can satisfy must keep the
	// engine out of the market.
	provider := market.NewMockProvider()
	provider.SetCandles("SOLUSDT", trendCandles("SOLUSDT", 120, 100, 0.5))
	repo := newFakeStore()
	repo.settings = []store.Setting{
		{Key: "signal.min_confluence", Value: "99", ValueType: store.TypeNumber},
	}

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.tick(context.Background(), "SOLUSDT")

	if e.Manager().OpenCount() != 0 {
		t.Error("position opened despite persisted confluence floor")
	}
	sig, ok := e.Status().LastSignals["SOLUSDT"]
	if !ok {
		t.Fatal("no signal recorded")
	}
	if sig.Direction != signal.DirectionHold {
		t.Errorf("direction = %s, want hold under a 99-timeframe floor", sig.Direction)
	}
}

func TestSettingsRaiseDrawdownThreshold(t *testing.T) {
	provider := market.NewMockProvider()
	repo := newFakeStore()
	repo.settings = []store.Setting{
		{Key: "drawdown.threshold_percent", Value: "40", ValueType: store.TypeNumber},
	}

	e, err := New(testOptions(provider, repo))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := e.snapshot()
	e.applySettings(context.Background(), &snap)

	// A 30% drawdown trips the 5% default but not the persisted 40%.
	e.guard.OnEquityChange(e.Equity() * 0.7)
	if e.guard.IsPaused() {
		t.Error("guard paused below the persisted threshold")
	}
}

func TestRecentStatsWindow(t *testing.T) {
	var history []position.Trade
	for i := 0; i < 10; i++ {
		profit := 1.0
		if i < 5 {
			profit = -1.0
		}
		history = append(history, position.Trade{Profit: profit})
	}

	stats := recentStats(history, 5)
	if stats.TradeCount != 5 {
		t.Errorf("trade count = %d, want 5", stats.TradeCount)
	}
	if stats.WinRate != 100 {
		t.Errorf("win rate = %v, want 100 for the last five wins", stats.WinRate)
	}

	if got := recentStats(nil, 5); got.TradeCount != 0 {
		t.Errorf("empty history stats = %+v", got)
	}
}

// Package engine drives the trading cycle: one tick per symbol per polling
// interval, each tick fetching candles, evaluating exits, then considering
// one new entry.
package engine

import (
	"context"
	"fmt"
	"sync"
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

// State of the orchestrator.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePausing State = "pausing"
	StatePaused  State = "paused"
)

// Timeframes names the three resolutions one symbol is analyzed at.
type Timeframes struct {
	Fast   string `json:"fast"`
	Medium string `json:"medium"`
	Slow   string `json:"slow"`
}

// Config holds orchestrator settings. Component thresholds live on the
// component configs; this covers the cycle itself.
type Config struct {
	Symbols        []string      `json:"symbols"`
	PollInterval   time.Duration `json:"poll_interval"`
	Timeframes     Timeframes    `json:"timeframes"`
	CandleCount    int           `json:"candle_count"`
	BaseAmount     float64       `json:"base_amount"`
	Leverage       float64       `json:"leverage"`
	InitialBalance float64       `json:"initial_balance"`
	StatsWindow    int           `json:"stats_window"`    // trades in the recent win-rate window
	HistoryDays    int           `json:"history_days"`    // trade history fed to the hour optimizer
	DryRun         bool          `json:"dry_run"`
}

// DefaultConfig returns standard cycle settings.
func DefaultConfig() Config {
	return Config{
		Symbols:        []string{"SOLUSDT"},
		PollInterval:   time.Minute,
		Timeframes:     Timeframes{Fast: market.Timeframe5m, Medium: market.Timeframe15m, Slow: market.Timeframe1h},
		CandleCount:    100,
		BaseAmount:     100,
		Leverage:       3,
		InitialBalance: 1000,
		StatsWindow:    20,
		HistoryDays:    30,
		DryRun:         true,
	}
}

// Validate fails fast on settings the cycle cannot run with.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	}
	if c.CandleCount <= 0 {
		return fmt.Errorf("candle count must be positive, got %d", c.CandleCount)
	}
	if c.BaseAmount <= 0 {
		return fmt.Errorf("base amount must be positive, got %v", c.BaseAmount)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("leverage must be at least 1, got %v", c.Leverage)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial balance must be positive, got %v", c.InitialBalance)
	}
	for _, tf := range []string{c.Timeframes.Fast, c.Timeframes.Medium, c.Timeframes.Slow} {
		if tf == "" {
			return fmt.Errorf("all three timeframes must be set")
		}
	}
	return nil
}

// Store is the persistence surface the cycle writes through.
type Store interface {
	SaveTrade(ctx context.Context, trade position.Trade) error
	SaveSignal(ctx context.Context, rec store.SignalRecord) error
	GetTradesSince(ctx context.Context, since time.Time) ([]position.Trade, error)
	GetRecentTrades(ctx context.Context, n int) ([]position.Trade, error)
	SaveBalanceSnapshot(ctx context.Context, equity, peak float64, at time.Time) error
	SaveEngineState(ctx context.Context, name string, state interface{}) error
	LoadEngineState(ctx context.Context, name string, out interface{}) (bool, error)
	ListSettings(ctx context.Context) ([]store.Setting, error)
}

// Engine owns the trading cycle and all decision components.
type Engine struct {
	cfg          Config
	indicatorCfg indicator.Config
	signalCfg    signal.Config
	sizerCfg     sizing.SizerConfig
	positionCfg  position.ManagerConfig
	corrCfg      risk.CorrelationConfig

	provider  market.Provider
	repo      Store
	bus       *events.Bus
	sentiment sentiment.Provider
	hourOpt   *hours.Optimizer
	guard     *risk.DrawdownGuard
	martin    *sizing.MartingaleSizer
	manager   *position.Manager
	logger    zerolog.Logger

	mu          sync.RWMutex
	state       State
	equity      float64
	lastSignals map[string]signal.Signal
	startedAt   *time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	now         func() time.Time
}

// Options bundles the collaborators for New.
type Options struct {
	Config        Config
	IndicatorCfg  indicator.Config
	SignalCfg     signal.Config
	SizerCfg      sizing.SizerConfig
	MartingaleCfg sizing.MartingaleConfig
	PositionCfg   position.ManagerConfig
	DrawdownCfg   risk.DrawdownConfig
	CorrCfg       risk.CorrelationConfig
	HoursCfg      hours.Config

	Provider  market.Provider
	Repo      Store
	Bus       *events.Bus
	Sentiment sentiment.Provider
	Logger    zerolog.Logger
}

// New wires the engine. Configuration problems surface here, before any
// tick runs.
func New(opts Options) (*Engine, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("market provider is required")
	}
	if opts.Repo == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}

	e := &Engine{
		cfg:          opts.Config,
		indicatorCfg: opts.IndicatorCfg,
		signalCfg:    opts.SignalCfg,
		sizerCfg:     opts.SizerCfg,
		positionCfg:  opts.PositionCfg,
		corrCfg:      opts.CorrCfg,
		provider:     opts.Provider,
		repo:         opts.Repo,
		bus:          opts.Bus,
		sentiment:    opts.Sentiment,
		logger:       opts.Logger.With().Str("component", "engine").Logger(),
		state:        StateStopped,
		equity:       opts.Config.InitialBalance,
		lastSignals:  make(map[string]signal.Signal),
		now:          time.Now,
	}

	e.hourOpt = hours.NewOptimizer(opts.HoursCfg)
	e.martin = sizing.NewMartingaleSizer(opts.MartingaleCfg)
	e.guard = risk.NewDrawdownGuard(opts.DrawdownCfg, opts.Config.InitialBalance, opts.Logger)
	e.guard.OnPause(e.onDrawdownPause)
	e.manager = position.NewManager(opts.PositionCfg, e.martin, opts.Logger)
	e.manager.OnTrade(e.onTradeClosed)

	return e, nil
}

// Start restores persisted state and launches one tick loop per symbol.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}

	if err := e.restoreState(ctx); err != nil {
		e.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	now := e.now()
	e.startedAt = &now
	e.state = StateRunning
	e.mu.Unlock()

	for _, symbol := range e.cfg.Symbols {
		e.wg.Add(1)
		go e.runSymbol(runCtx, symbol)
	}

	e.logger.Info().Strs("symbols", e.cfg.Symbols).Dur("interval", e.cfg.PollInterval).
		Bool("dry_run", e.cfg.DryRun).Msg("engine started")
	e.bus.Publish(events.Event{Type: events.EventEngineStarted, Data: map[string]interface{}{
		"symbols": e.cfg.Symbols,
	}})
	return nil
}

// Stop requests a cooperative stop and waits for in-flight ticks to drain.
// In-flight I/O finishes; the flag is observed at the next tick boundary.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.state = StateStopped
	e.startedAt = nil
	e.mu.Unlock()

	e.logger.Info().Msg("engine stopped")
	e.bus.Publish(events.Event{Type: events.EventEngineStopped})
}

// runSymbol is one symbol's tick loop. The first tick fires immediately.
func (e *Engine) runSymbol(ctx context.Context, symbol string) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.tick(ctx, symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, symbol)
		}
	}
}

// Status is the synchronous status snapshot for the control surface.
type Status struct {
	State         State                    `json:"state"`
	DryRun        bool                     `json:"dry_run"`
	Symbols       []string                 `json:"symbols"`
	Equity        float64                  `json:"equity"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	OpenPositions []position.Position      `json:"open_positions"`
	LastSignals   map[string]signal.Signal `json:"last_signals"`
	Drawdown      risk.DrawdownState       `json:"drawdown"`
	Sizing        sizing.MartingaleState   `json:"sizing"`
	Cooldowns     map[string]time.Time     `json:"cooldowns"`
}

// Status reports the current engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	signals := make(map[string]signal.Signal, len(e.lastSignals))
	for k, v := range e.lastSignals {
		signals[k] = v
	}
	return Status{
		State:         e.currentStateLocked(),
		DryRun:        e.cfg.DryRun,
		Symbols:       append([]string(nil), e.cfg.Symbols...),
		Equity:        e.equity,
		StartedAt:     e.startedAt,
		OpenPositions: e.manager.OpenPositions(),
		LastSignals:   signals,
		Drawdown:      e.guard.State(),
		Sizing:        e.martin.State(),
		Cooldowns:     e.manager.Cooldowns(),
	}
}

// State returns the orchestrator state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentStateLocked()
}

// currentStateLocked folds the drawdown guard into the run state: a tripped
// guard shows Pausing until the next tick boundary observes it, then Paused.
func (e *Engine) currentStateLocked() State {
	if e.state == StateStopped {
		return StateStopped
	}
	if e.guard.IsPaused() {
		return e.state
	}
	if e.state == StatePaused || e.state == StatePausing {
		return StateRunning
	}
	return e.state
}

// Manager exposes the position manager for the control surface.
func (e *Engine) Manager() *position.Manager {
	return e.manager
}

// ClosePosition closes an open position at the given price on behalf of the
// control surface. The trade is persisted and settled through the same path
// tick exits take, so streak and cooldown state only move once the trade is
// on record.
func (e *Engine) ClosePosition(ctx context.Context, id string, price float64) (position.Trade, error) {
	trade, err := e.manager.CloseManual(id, price)
	if err != nil {
		return position.Trade{}, err
	}
	log := e.logger.With().Str("symbol", trade.Symbol).Str("position_id", id).Logger()
	if err := e.settleTrades(ctx, log, []position.Trade{trade}); err != nil {
		return position.Trade{}, err
	}
	return trade, nil
}

// Equity returns the tracked account equity.
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equity
}

// SetClock overrides the engine's time source for tests. Component clocks
// are overridden separately.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) onDrawdownPause(ev risk.PauseEvent) {
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StatePausing
	}
	e.mu.Unlock()

	e.logger.Warn().Float64("drawdown_percent", ev.DrawdownPercent).
		Time("paused_until", ev.PausedUntil).Msg("trading paused on drawdown")
	e.bus.PublishTradingPaused(ev.Reason, ev.DrawdownPercent, ev.PausedUntil)
}

func (e *Engine) onTradeClosed(trade position.Trade) {
	e.bus.PublishTradeClosed(trade.Symbol, string(trade.Side), trade.ExitReason,
		trade.EntryPrice, trade.ExitPrice, trade.Profit, trade.ProfitPercent)
}

// restoreState reloads sizing, drawdown and cooldown state from the store
// so a restart continues where the previous run stopped.
func (e *Engine) restoreState(ctx context.Context) error {
	var sizingState sizing.MartingaleState
	if ok, err := e.repo.LoadEngineState(ctx, store.StateSizing, &sizingState); err != nil {
		return fmt.Errorf("restore sizing state: %w", err)
	} else if ok {
		e.martin.Restore(sizingState)
	}

	var ddState risk.DrawdownState
	if ok, err := e.repo.LoadEngineState(ctx, store.StateDrawdown, &ddState); err != nil {
		return fmt.Errorf("restore drawdown state: %w", err)
	} else if ok {
		e.guard.Restore(ddState)
		if ddState.EquityPeak > 0 {
			e.equity = ddState.EquityPeak - ddState.EquityPeak*ddState.DrawdownPercent/100
		}
	}

	var cooldowns map[string]time.Time
	if ok, err := e.repo.LoadEngineState(ctx, store.StateCooldowns, &cooldowns); err != nil {
		return fmt.Errorf("restore cooldowns: %w", err)
	} else if ok {
		e.manager.RestoreCooldowns(cooldowns)
	}

	var positions []position.Position
	if ok, err := e.repo.LoadEngineState(ctx, store.StatePositions, &positions); err != nil {
		return fmt.Errorf("restore positions: %w", err)
	} else if ok {
		e.manager.Restore(positions)
	}

	return nil
}

// persistState writes the shared mutable state after a tick changed it.
func (e *Engine) persistState(ctx context.Context) error {
	if err := e.repo.SaveEngineState(ctx, store.StateSizing, e.martin.State()); err != nil {
		return err
	}
	if err := e.repo.SaveEngineState(ctx, store.StateDrawdown, e.guard.State()); err != nil {
		return err
	}
	if err := e.repo.SaveEngineState(ctx, store.StateCooldowns, e.manager.Cooldowns()); err != nil {
		return err
	}
	return e.repo.SaveEngineState(ctx, store.StatePositions, e.manager.OpenPositions())
}

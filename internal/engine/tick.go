package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"solbot/internal/indicator"
	"solbot/internal/market"
	"solbot/internal/position"
	"solbot/internal/risk"
	"solbot/internal/signal"
	"solbot/internal/sizing"
	"solbot/internal/store"
)

// tickSnapshot is the immutable configuration view one tick works from.
// Resolved once at the tick boundary, with persisted settings overlaid on
// top, so a concurrent settings change never tears a half-applied threshold
// mid-tick.
type tickSnapshot struct {
	cfg          Config
	indicatorCfg indicator.Config
	signalCfg    signal.Config
	sizerCfg     sizing.SizerConfig
	positionCfg  position.ManagerConfig
	corrCfg      risk.CorrelationConfig
}

func (e *Engine) snapshot() tickSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return tickSnapshot{
		cfg:          e.cfg,
		indicatorCfg: e.indicatorCfg,
		signalCfg:    e.signalCfg,
		sizerCfg:     e.sizerCfg,
		positionCfg:  e.positionCfg,
		corrCfg:      e.corrCfg,
	}
}

// tick runs one trading cycle for one symbol. Exits are evaluated and
// persisted before any entry is considered.
func (e *Engine) tick(ctx context.Context, symbol string) {
	if ctx.Err() != nil {
		return
	}
	snap := e.snapshot()
	e.applySettings(ctx, &snap)
	now := e.now()
	log := e.logger.With().Str("symbol", symbol).Time("cycle", now).Logger()

	fast, err := e.provider.GetCandles(ctx, symbol, snap.cfg.Timeframes.Fast, snap.cfg.CandleCount)
	if err != nil {
		e.skipTick(log, symbol, err)
		return
	}
	if len(fast) == 0 {
		e.skipTick(log, symbol, market.ErrDataUnavailable)
		return
	}
	last := fast[len(fast)-1]

	closed := e.manager.CheckExits(symbol, last.Close, last.High, last.Low)
	if len(closed) > 0 {
		if err := e.settleTrades(ctx, log, closed); err != nil {
			return
		}
	}

	// The pause transition is observed here, at the tick boundary.
	e.observePauseBoundary()
	if e.guard.IsPaused() {
		log.Debug().Msg("drawdown pause active, no entries")
		return
	}

	medium, err := e.provider.GetCandles(ctx, symbol, snap.cfg.Timeframes.Medium, snap.cfg.CandleCount)
	if err != nil {
		e.skipTick(log, symbol, err)
		return
	}
	slow, err := e.provider.GetCandles(ctx, symbol, snap.cfg.Timeframes.Slow, snap.cfg.CandleCount)
	if err != nil {
		e.skipTick(log, symbol, err)
		return
	}

	sets, err := e.computeSets(snap, fast, medium, slow)
	if err != nil {
		log.Error().Err(err).Msg("indicator computation failed")
		e.bus.PublishError("engine", "indicator computation failed", err)
		return
	}

	history, err := e.repo.GetTradesSince(ctx, now.AddDate(0, 0, -snap.cfg.HistoryDays))
	if err != nil {
		log.Error().Err(err).Msg("trade history unavailable, skipping tick")
		return
	}

	verdict := e.correlationVerdict(ctx, log, snap)

	in := signal.Inputs{
		Symbol:      symbol,
		Sets:        sets,
		Hour:        now.UTC().Hour(),
		HourBlocked: e.hourOpt.IsBlocked(now.UTC().Hour(), history),
		Correlation: verdict,
	}
	if e.sentiment != nil {
		if score, ok := e.sentiment.Score(ctx); ok {
			in.Sentiment = &score
		}
	}

	sig := signal.Generate(in, snap.signalCfg)

	e.mu.Lock()
	e.lastSignals[symbol] = sig
	e.mu.Unlock()

	if err := e.repo.SaveSignal(ctx, store.SignalRecord{
		Symbol:      sig.Symbol,
		Direction:   string(sig.Direction),
		Confidence:  sig.Confidence,
		Reason:      sig.Reason,
		Price:       last.Close,
		GeneratedAt: sig.GeneratedAt,
	}); err != nil {
		log.Error().Err(err).Msg("signal persist failed, entry skipped")
		return
	}
	e.bus.PublishSignal(sig.Symbol, string(sig.Direction), sig.Reason, sig.Confidence, last.Close)

	if sig.Direction == signal.DirectionHold {
		log.Debug().Str("reason", sig.Reason).Msg("hold")
		return
	}

	e.openFromSignal(ctx, log, snap, sig, fast, history)
}

// settleTrades persists closed trades and applies their PnL. A persistence
// failure aborts the tick before any entry is considered, and before the
// trade touches the streak or cooldown state.
func (e *Engine) settleTrades(ctx context.Context, log zerolog.Logger, closed []position.Trade) error {
	for _, trade := range closed {
		if err := e.repo.SaveTrade(ctx, trade); err != nil {
			log.Error().Err(err).Str("position_id", trade.PositionID).Msg("trade persist failed, tick aborted")
			e.bus.PublishError("engine", "trade persist failed", err)
			return err
		}
		e.manager.ProcessTradeResult(trade)

		e.mu.Lock()
		e.equity += trade.Profit
		equity := e.equity
		e.mu.Unlock()

		e.guard.OnEquityChange(equity)
		peak := e.guard.State().EquityPeak
		if err := e.repo.SaveBalanceSnapshot(ctx, equity, peak, trade.ClosedAt); err != nil {
			log.Warn().Err(err).Msg("balance snapshot failed")
		}
		e.bus.PublishBalanceUpdate(equity, peak)

		log.Info().Str("exit_reason", trade.ExitReason).Float64("profit", trade.Profit).
			Float64("equity", equity).Msg("trade settled")
	}
	if err := e.persistState(ctx); err != nil {
		log.Error().Err(err).Msg("state persist failed")
		return err
	}
	return nil
}

// openFromSignal sizes and opens a position for an actionable signal.
func (e *Engine) openFromSignal(ctx context.Context, log zerolog.Logger, snap tickSnapshot, sig signal.Signal, fast []market.Candle, history []position.Trade) {
	last := fast[len(fast)-1]

	stats := recentStats(history, snap.cfg.StatsWindow)
	atr, err := indicator.ATR(market.Highs(fast), market.Lows(fast), market.Closes(fast), 14)
	if err != nil {
		log.Warn().Err(err).Msg("atr unavailable, sizing without volatility adjustment")
		atr = 0
	}

	size := sizing.ComputePositionSize(
		snap.cfg.BaseAmount, stats,
		sizing.Volatility{ATR: atr, Price: last.Close},
		snap.positionCfg.StopLossPercent, snap.positionCfg.TakeProfitPercent,
		snap.cfg.Leverage, snap.sizerCfg,
	)
	streak := e.martin.PositionSize(size.Amount)

	side := position.SideLong
	if sig.Direction == signal.DirectionSell {
		side = position.SideShort
	}

	result := e.manager.Open(position.OpenRequest{
		Symbol:            sig.Symbol,
		Side:              side,
		EntryPrice:        last.Close,
		Amount:            streak.Size,
		Leverage:          size.Leverage,
		StopLossPercent:   size.StopLossPercent,
		TakeProfitPercent: size.TakeProfitPercent,
		SizingReason:      sizingReason(size, streak),
	})
	if result.Rejected() {
		log.Info().Str("reject", result.RejectReason).Str("detail", result.Detail).Msg("entry rejected")
		return
	}

	pos := result.Position
	log.Info().Str("side", string(pos.Side)).Float64("entry", pos.EntryPrice).
		Float64("amount", pos.Amount).Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).Msg("position opened")
	e.bus.PublishTradeOpened(pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Amount)

	if err := e.persistState(ctx); err != nil {
		log.Error().Err(err).Msg("state persist failed after open")
	}
}

func (e *Engine) computeSets(snap tickSnapshot, fast, medium, slow []market.Candle) (map[string]*indicator.Set, error) {
	sets := make(map[string]*indicator.Set, 3)
	for name, candles := range map[string][]market.Candle{
		"fast": fast, "medium": medium, "slow": slow,
	} {
		set, err := indicator.ComputeSet(market.Closes(candles), snap.indicatorCfg)
		if err != nil {
			return nil, err
		}
		sets[name] = set
	}
	return sets, nil
}

// correlationVerdict evaluates the reference asset's momentum. A data
// failure on the reference disables the filter for this tick only.
func (e *Engine) correlationVerdict(ctx context.Context, log zerolog.Logger, snap tickSnapshot) risk.CorrelationVerdict {
	if !snap.corrCfg.Enabled {
		return risk.CorrelationVerdict{Momentum: risk.MomentumFlat}
	}
	count := snap.corrCfg.EMAPeriod * 3
	if count < 30 {
		count = 30
	}
	refCandles, err := e.provider.GetCandles(ctx, snap.corrCfg.ReferenceSymbol, snap.cfg.Timeframes.Fast, count)
	if err != nil {
		log.Warn().Err(err).Str("reference", snap.corrCfg.ReferenceSymbol).Msg("reference data unavailable, filter skipped")
		return risk.CorrelationVerdict{Momentum: risk.MomentumFlat}
	}
	verdict, err := risk.EvaluateCorrelation(market.Closes(refCandles), snap.corrCfg)
	if err != nil {
		log.Warn().Err(err).Msg("correlation evaluation failed, filter skipped")
		return risk.CorrelationVerdict{Momentum: risk.MomentumFlat}
	}
	return verdict
}

// observePauseBoundary completes the Pausing -> Paused transition.
func (e *Engine) observePauseBoundary() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePausing {
		e.state = StatePaused
	}
	if e.state == StatePaused && !e.guard.IsPaused() {
		e.state = StateRunning
	}
}

func (e *Engine) skipTick(log zerolog.Logger, symbol string, err error) {
	if errors.Is(err, market.ErrDataUnavailable) {
		log.Warn().Err(err).Msg("data unavailable, tick skipped")
		return
	}
	log.Error().Err(err).Msg("tick failed")
	e.bus.PublishError("engine", "tick failed for "+symbol, err)
}

// recentStats derives the win rate over the trailing window.
func recentStats(history []position.Trade, window int) sizing.RecentStats {
	if window <= 0 || len(history) == 0 {
		return sizing.RecentStats{}
	}
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	recent := history[start:]
	wins := 0
	for _, t := range recent {
		if t.Profit > 0 {
			wins++
		}
	}
	return sizing.RecentStats{
		WinRate:    float64(wins) / float64(len(recent)) * 100,
		TradeCount: len(recent),
	}
}

func sizingReason(size sizing.SizeResult, streak sizing.StreakResult) string {
	reason := size.Reason
	if streak.Multiplier != 1 {
		reason += "; streak multiplier applied"
	}
	return reason
}

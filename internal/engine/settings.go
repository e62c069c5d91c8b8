package engine

import (
	"context"
	"strconv"

	"solbot/internal/store"
)

// applySettings overlays persisted settings rows onto the tick's snapshot.
// Only recognized keys are applied; a value that fails to parse or falls
// outside its valid range is skipped, and a read failure leaves the snapshot
// on the startup configuration.
func (e *Engine) applySettings(ctx context.Context, snap *tickSnapshot) {
	settings, err := e.repo.ListSettings(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("settings unavailable, using startup config")
		return
	}
	for _, s := range settings {
		e.applySetting(snap, s)
	}
}

func (e *Engine) applySetting(snap *tickSnapshot, s store.Setting) {
	if s.ValueType != store.TypeNumber {
		return
	}
	v, err := strconv.ParseFloat(s.Value, 64)
	if err != nil {
		e.logger.Warn().Str("key", s.Key).Str("value", s.Value).Msg("unparseable setting skipped")
		return
	}

	switch s.Key {
	case "signal.rsi_oversold":
		if v > 0 && v < 100 {
			snap.signalCfg.RSIOversold = v
		}
	case "signal.rsi_overbought":
		if v > 0 && v < 100 {
			snap.signalCfg.RSIOverbought = v
		}
	case "signal.min_confluence":
		if n := int(v); n >= 1 && float64(n) == v {
			snap.signalCfg.MinConfluence = n
		}
	case "signal.sentiment_weight":
		if v >= 0 && v <= 1 {
			snap.signalCfg.SentimentWeight = v
		}
	case "position.stop_loss_percent":
		if v > 0 {
			snap.positionCfg.StopLossPercent = v
		}
	case "position.take_profit_percent":
		if v > 0 {
			snap.positionCfg.TakeProfitPercent = v
		}
	case "engine.base_amount":
		if v > 0 {
			snap.cfg.BaseAmount = v
		}
	case "engine.leverage":
		if v >= 1 {
			snap.cfg.Leverage = v
		}
	case "drawdown.threshold_percent":
		e.guard.SetThreshold(v)
	}
}

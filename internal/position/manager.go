package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ManagerConfig holds position lifecycle configuration.
type ManagerConfig struct {
	MaxPerSymbol              int     `json:"max_per_symbol"`
	StopLossPercent           float64 `json:"stop_loss_percent"`
	TakeProfitPercent         float64 `json:"take_profit_percent"`
	TrailingEnabled           bool    `json:"trailing_enabled"`
	TrailingActivationPercent float64 `json:"trailing_activation_percent"` // favorable move that arms the trail
	TrailingLockFraction      float64 `json:"trailing_lock_fraction"`      // fraction of the gain locked by the ratchet
	CooldownMinutes           int     `json:"cooldown_minutes"`            // cooldown after a stop-loss exit
}

// DefaultManagerConfig returns the standard lifecycle settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxPerSymbol:              1,
		StopLossPercent:           2.0,
		TakeProfitPercent:         3.0,
		TrailingEnabled:           true,
		TrailingActivationPercent: 1.5,
		TrailingLockFraction:      0.5,
		CooldownMinutes:           30,
	}
}

// Reject reasons for Open. These are expected control-flow outcomes, not
// errors.
const (
	RejectPositionLimit = "position-limit-exceeded"
	RejectCoolingDown   = "symbol-cooling-down"
)

// OpenRequest describes a position to open. Zero StopLossPercent or
// TakeProfitPercent fall back to the manager config.
type OpenRequest struct {
	Symbol            string
	Side              Side
	EntryPrice        float64
	Amount            float64
	Leverage          float64
	StopLossPercent   float64
	TakeProfitPercent float64
	SizingReason      string
}

// OpenResult is the outcome of an Open call. Exactly one of Position or
// RejectReason is set.
type OpenResult struct {
	Position     *Position
	RejectReason string
	Detail       string
}

// Rejected reports whether the open request was refused.
func (r OpenResult) Rejected() bool { return r.RejectReason != "" }

// ResultSink receives every closed trade after streak and cooldown
// bookkeeping. The engine uses it to update equity and persist the trade.
type ResultSink interface {
	RecordResult(win bool)
}

// Manager is the sole owner of the open-position set.
type Manager struct {
	mu        sync.Mutex
	config    ManagerConfig
	open      map[string]*Position // by position ID
	cooldowns map[string]time.Time // symbol -> expiry, swept lazily
	streak    ResultSink
	onTrade   func(Trade)
	now       func() time.Time
	logger    zerolog.Logger
}

// NewManager creates a position manager. The streak sink may be nil.
func NewManager(cfg ManagerConfig, streak ResultSink, logger zerolog.Logger) *Manager {
	if cfg.MaxPerSymbol <= 0 {
		cfg.MaxPerSymbol = 1
	}
	return &Manager{
		config:    cfg,
		open:      make(map[string]*Position),
		cooldowns: make(map[string]time.Time),
		streak:    streak,
		now:       time.Now,
		logger:    logger.With().Str("component", "PositionManager").Logger(),
	}
}

// OnTrade sets the callback invoked for every closed trade, after streak and
// cooldown bookkeeping.
func (m *Manager) OnTrade(handler func(Trade)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrade = handler
}

// SetClock overrides the wall clock, used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Open creates a new position unless the symbol is cooling down or at its
// position cap. Stop-loss and take-profit are derived from the entry price
// and always land on the correct side of it.
func (m *Manager) Open(req OpenRequest) OpenResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, ok := m.cooldownLocked(req.Symbol); ok {
		return OpenResult{
			RejectReason: RejectCoolingDown,
			Detail:       fmt.Sprintf("%s cooling down until %s", req.Symbol, expiry.UTC().Format(time.RFC3339)),
		}
	}
	if count := m.countLocked(req.Symbol); count >= m.config.MaxPerSymbol {
		return OpenResult{
			RejectReason: RejectPositionLimit,
			Detail:       fmt.Sprintf("%s at position cap (%d/%d)", req.Symbol, count, m.config.MaxPerSymbol),
		}
	}

	slPct := req.StopLossPercent
	if slPct <= 0 {
		slPct = m.config.StopLossPercent
	}
	tpPct := req.TakeProfitPercent
	if tpPct <= 0 {
		tpPct = m.config.TakeProfitPercent
	}

	pos := &Position{
		ID:            uuid.New().String(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		EntryPrice:    req.EntryPrice,
		Amount:        req.Amount,
		Leverage:      req.Leverage,
		OpenedAt:      m.now(),
		SizingReason:  req.SizingReason,
		Status:        StatusOpen,
		HighWaterMark: req.EntryPrice,
		LowWaterMark:  req.EntryPrice,
	}
	if req.Side == SideLong {
		pos.StopLoss = req.EntryPrice * (1 - slPct/100)
		pos.TakeProfit = req.EntryPrice * (1 + tpPct/100)
	} else {
		pos.StopLoss = req.EntryPrice * (1 + slPct/100)
		pos.TakeProfit = req.EntryPrice * (1 - tpPct/100)
	}

	m.open[pos.ID] = pos
	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.EntryPrice).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Float64("amount", pos.Amount).
		Msg("position opened")

	return OpenResult{Position: pos}
}

// CheckExits evaluates every open position on the symbol against the current
// cycle's candle. Per position the order is: trailing ratchet, stop-loss,
// take-profit. Breaches use the candle's high/low extremes so intrabar
// touches close the position even when the close recovered.
//
// Closed trades are returned unprocessed: the caller settles each one with
// ProcessTradeResult once it has been persisted, so a store failure never
// leaves the streak or cooldown state ahead of the trade ledger.
func (m *Manager) CheckExits(symbol string, currentPrice, highPrice, lowPrice float64) []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []Trade
	for _, pos := range m.open {
		if pos.Symbol != symbol || pos.Status != StatusOpen {
			continue
		}

		m.ratchetLocked(pos, highPrice, lowPrice)

		if trade, ok := m.exitLocked(pos, currentPrice, highPrice, lowPrice); ok {
			closed = append(closed, trade)
		}
	}
	for _, trade := range closed {
		delete(m.open, trade.PositionID)
	}
	return closed
}

// ratchetLocked moves the trailing stop toward the price extreme once the
// favorable move passes the activation threshold. The stop never moves
// adversely.
func (m *Manager) ratchetLocked(pos *Position, highPrice, lowPrice float64) {
	if !m.config.TrailingEnabled {
		return
	}

	if pos.Side == SideLong {
		if highPrice > pos.HighWaterMark {
			pos.HighWaterMark = highPrice
		}
		gainPercent := (pos.HighWaterMark - pos.EntryPrice) / pos.EntryPrice * 100
		if !pos.TrailingActive && gainPercent >= m.config.TrailingActivationPercent {
			pos.TrailingActive = true
			m.logger.Debug().Str("symbol", pos.Symbol).Float64("gain_percent", gainPercent).Msg("trailing stop armed")
		}
		if pos.TrailingActive {
			locked := pos.EntryPrice + (pos.HighWaterMark-pos.EntryPrice)*m.config.TrailingLockFraction
			if locked > pos.StopLoss {
				pos.StopLoss = locked
			}
		}
		return
	}

	if lowPrice < pos.LowWaterMark {
		pos.LowWaterMark = lowPrice
	}
	gainPercent := (pos.EntryPrice - pos.LowWaterMark) / pos.EntryPrice * 100
	if !pos.TrailingActive && gainPercent >= m.config.TrailingActivationPercent {
		pos.TrailingActive = true
		m.logger.Debug().Str("symbol", pos.Symbol).Float64("gain_percent", gainPercent).Msg("trailing stop armed")
	}
	if pos.TrailingActive {
		locked := pos.EntryPrice - (pos.EntryPrice-pos.LowWaterMark)*m.config.TrailingLockFraction
		if locked < pos.StopLoss {
			pos.StopLoss = locked
		}
	}
}

// exitLocked checks stop-loss then take-profit against the candle extremes.
func (m *Manager) exitLocked(pos *Position, currentPrice, highPrice, lowPrice float64) (Trade, bool) {
	stopBreached := false
	targetBreached := false
	if pos.Side == SideLong {
		stopBreached = lowPrice <= pos.StopLoss
		targetBreached = highPrice >= pos.TakeProfit
	} else {
		stopBreached = highPrice >= pos.StopLoss
		targetBreached = lowPrice <= pos.TakeProfit
	}

	switch {
	case stopBreached:
		reason := ExitStopLoss
		if pos.TrailingActive {
			reason = ExitTrailingStop
		}
		return m.closeLocked(pos, pos.StopLoss, reason), true
	case targetBreached:
		return m.closeLocked(pos, pos.TakeProfit, ExitTakeProfit), true
	default:
		return Trade{}, false
	}
}

// closeLocked transitions a position to its terminal state and builds the
// trade record.
func (m *Manager) closeLocked(pos *Position, exitPrice float64, reason string) Trade {
	pos.Status = StatusClosed

	profit, profitPercent := pos.profitAt(exitPrice)
	trade := Trade{
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     exitPrice,
		Amount:        pos.Amount,
		Leverage:      pos.Leverage,
		Profit:        profit,
		ProfitPercent: profitPercent,
		ExitReason:    reason,
		OpenedAt:      pos.OpenedAt,
		ClosedAt:      m.now(),
		SizingReason:  pos.SizingReason,
	}

	m.logger.Info().
		Str("symbol", trade.Symbol).
		Str("reason", reason).
		Float64("exit", exitPrice).
		Float64("profit", profit).
		Float64("profit_percent", profitPercent).
		Msg("position closed")
	return trade
}

// CloseManual closes a position by ID at the given price. Like CheckExits it
// returns the trade unprocessed; the caller settles it after persistence.
func (m *Manager) CloseManual(id string, price float64) (Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.open[id]
	if !ok || pos.Status != StatusOpen {
		return Trade{}, fmt.Errorf("position %s is not open", id)
	}
	trade := m.closeLocked(pos, price, ExitManual)
	delete(m.open, id)
	return trade, nil
}

// ProcessTradeResult feeds a closed trade into the streak sizer, starts a
// cooldown when the exit was a stop-loss, and reports the trade upstream.
// It is called after the trade has been persisted.
func (m *Manager) ProcessTradeResult(trade Trade) {
	if m.streak != nil {
		m.streak.RecordResult(trade.Profit > 0)
	}
	if trade.ExitReason == ExitStopLoss {
		m.StartCooldown(trade.Symbol)
	}

	m.mu.Lock()
	handler := m.onTrade
	m.mu.Unlock()
	if handler != nil {
		handler(trade)
	}
}

// StartCooldown blocks new opens for the symbol for the configured duration.
// A symbol has at most one active entry; a restart replaces the expiry.
func (m *Manager) StartCooldown(symbol string) {
	if m.config.CooldownMinutes <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	expiry := m.now().Add(time.Duration(m.config.CooldownMinutes) * time.Minute)
	m.cooldowns[symbol] = expiry
	m.logger.Info().Str("symbol", symbol).Time("until", expiry).Msg("cooldown started")
}

// CoolingDown reports whether the symbol is under an active cooldown.
func (m *Manager) CoolingDown(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, active := m.cooldownLocked(symbol)
	return active
}

// cooldownLocked checks the cooldown table, removing the entry if expired.
func (m *Manager) cooldownLocked(symbol string) (time.Time, bool) {
	expiry, ok := m.cooldowns[symbol]
	if !ok {
		return time.Time{}, false
	}
	if !m.now().Before(expiry) {
		delete(m.cooldowns, symbol)
		return time.Time{}, false
	}
	return expiry, true
}

func (m *Manager) countLocked(symbol string) int {
	count := 0
	for _, pos := range m.open {
		if pos.Symbol == symbol && pos.Status == StatusOpen {
			count++
		}
	}
	return count
}

// OpenPositions returns copies of every open position.
func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Position, 0, len(m.open))
	for _, pos := range m.open {
		out = append(out, *pos)
	}
	return out
}

// OpenCount returns the number of open positions across all symbols.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Cooldowns returns a snapshot of the active cooldown table.
func (m *Manager) Cooldowns() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]time.Time, len(m.cooldowns))
	now := m.now()
	for symbol, expiry := range m.cooldowns {
		if now.Before(expiry) {
			out[symbol] = expiry
		}
	}
	return out
}

// Restore reinstates persisted open positions after a restart.
func (m *Manager) Restore(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range positions {
		pos := positions[i]
		if pos.Status != StatusOpen {
			continue
		}
		m.open[pos.ID] = &pos
	}
}

// RestoreCooldowns reinstates persisted cooldown expiries after a restart.
// Already-expired entries are dropped.
func (m *Manager) RestoreCooldowns(cooldowns map[string]time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for symbol, expiry := range cooldowns {
		if now.Before(expiry) {
			m.cooldowns[symbol] = expiry
		}
	}
}

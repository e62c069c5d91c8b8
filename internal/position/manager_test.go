package position

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type streakRecorder struct {
	results []bool
}

func (s *streakRecorder) RecordResult(win bool) { s.results = append(s.results, win) }

func testManager(cfg ManagerConfig) (*Manager, *streakRecorder) {
	rec := &streakRecorder{}
	return NewManager(cfg, rec, zerolog.Nop()), rec
}

func mustOpen(t *testing.T, m *Manager, req OpenRequest) *Position {
	t.Helper()
	res := m.Open(req)
	if res.Rejected() {
		t.Fatalf("open rejected: %s (%s)", res.RejectReason, res.Detail)
	}
	return res.Position
}

func TestOpenSetsExitsOnCorrectSide(t *testing.T) {
	m, _ := testManager(DefaultManagerConfig())

	long := mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})
	if long.StopLoss >= long.EntryPrice || long.TakeProfit <= long.EntryPrice {
		t.Errorf("long exits on wrong side: SL=%v TP=%v entry=%v", long.StopLoss, long.TakeProfit, long.EntryPrice)
	}
	if long.StopLoss != 98 || long.TakeProfit != 103 {
		t.Errorf("long SL/TP = %v/%v, want 98/103", long.StopLoss, long.TakeProfit)
	}

	short := mustOpen(t, m, OpenRequest{
		Symbol: "ETHUSDT", Side: SideShort, EntryPrice: 200, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})
	if short.StopLoss <= short.EntryPrice || short.TakeProfit >= short.EntryPrice {
		t.Errorf("short exits on wrong side: SL=%v TP=%v entry=%v", short.StopLoss, short.TakeProfit, short.EntryPrice)
	}
}

func TestOpenRejectsAtPositionCap(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.MaxPerSymbol = 1
	m, _ := testManager(cfg)

	mustOpen(t, m, OpenRequest{Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50})
	res := m.Open(OpenRequest{Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 101, Amount: 50})
	if !res.Rejected() || res.RejectReason != RejectPositionLimit {
		t.Fatalf("expected position-limit rejection, got %+v", res)
	}

	// Other symbols are unaffected.
	if res := m.Open(OpenRequest{Symbol: "ETHUSDT", Side: SideLong, EntryPrice: 100, Amount: 50}); res.Rejected() {
		t.Errorf("unrelated symbol rejected: %s", res.RejectReason)
	}
}

func TestIntrabarStopLoss(t *testing.T) {
	// Long at 100 with SL 2%: a cycle low of 98 closes the position
	// regardless of the close price.
	m, _ := testManager(DefaultManagerConfig())
	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})

	trades := m.CheckExits("SOLUSDT", 99.5, 100.2, 98)
	if len(trades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(trades))
	}
	trade := trades[0]
	if trade.ExitReason != ExitStopLoss {
		t.Errorf("exit reason = %s, want %s", trade.ExitReason, ExitStopLoss)
	}
	if trade.ExitPrice != 98 {
		t.Errorf("exit price = %v, want 98", trade.ExitPrice)
	}
	if trade.Profit >= 0 {
		t.Errorf("stop-loss trade profit = %v, want negative", trade.Profit)
	}
	if m.OpenCount() != 0 {
		t.Error("closed position still in the open set")
	}
}

func TestIntrabarTakeProfit(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.TrailingEnabled = false
	m, _ := testManager(cfg)
	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})

	// High touches TP intrabar even though the close fell back.
	trades := m.CheckExits("SOLUSDT", 101, 103.5, 100.5)
	if len(trades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(trades))
	}
	if trades[0].ExitReason != ExitTakeProfit {
		t.Errorf("exit reason = %s, want %s", trades[0].ExitReason, ExitTakeProfit)
	}
	if trades[0].Profit <= 0 {
		t.Errorf("take-profit trade profit = %v, want positive", trades[0].Profit)
	}
}

func TestShortStopLossUsesHigh(t *testing.T) {
	m, _ := testManager(DefaultManagerConfig())
	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideShort, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})

	trades := m.CheckExits("SOLUSDT", 101, 102.5, 100.5)
	if len(trades) != 1 || trades[0].ExitReason != ExitStopLoss {
		t.Fatalf("expected short stop-loss on intrabar high, got %+v", trades)
	}
}

func TestTrailingStopRatchet(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.TrailingActivationPercent = 1.0
	cfg.TrailingLockFraction = 0.5
	m, _ := testManager(cfg)
	pos := mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 10,
	})

	// Price moves up 4%: trail arms and locks half the gain (SL -> 102).
	if trades := m.CheckExits("SOLUSDT", 104, 104, 103); len(trades) != 0 {
		t.Fatalf("position should stay open, closed %d", len(trades))
	}
	open := m.OpenPositions()
	if len(open) != 1 {
		t.Fatal("expected one open position")
	}
	if !open[0].TrailingActive {
		t.Error("trailing stop should be active after a 4% move")
	}
	if open[0].StopLoss != 102 {
		t.Errorf("ratcheted stop = %v, want 102", open[0].StopLoss)
	}

	// Price falls back below the ratcheted stop.
	trades := m.CheckExits("SOLUSDT", 101.5, 102.2, 101.5)
	if len(trades) != 1 {
		t.Fatalf("expected trailing exit, got %d trades", len(trades))
	}
	if trades[0].ExitReason != ExitTrailingStop {
		t.Errorf("exit reason = %s, want %s", trades[0].ExitReason, ExitTrailingStop)
	}
	if trades[0].Profit <= 0 {
		t.Errorf("trailing exit locked a gain, profit = %v", trades[0].Profit)
	}
	_ = pos
}

func TestTrailingStopNeverMovesAdversely(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.TrailingActivationPercent = 1.0
	cfg.TrailingLockFraction = 0.5
	m, _ := testManager(cfg)
	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 5, TakeProfitPercent: 20,
	})

	m.CheckExits("SOLUSDT", 106, 106, 105) // SL ratchets to 103
	m.CheckExits("SOLUSDT", 104, 104.5, 103.5)

	open := m.OpenPositions()
	if len(open) != 1 {
		t.Fatal("expected one open position")
	}
	if open[0].StopLoss != 103 {
		t.Errorf("stop moved adversely: %v, want 103", open[0].StopLoss)
	}
}

func TestStopLossStartsCooldownAndBlocksReentry(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.CooldownMinutes = 30
	m, rec := testManager(cfg)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})
	trades := m.CheckExits("SOLUSDT", 97.5, 100, 97)
	if len(trades) != 1 || trades[0].ExitReason != ExitStopLoss {
		t.Fatalf("expected stop-loss trade, got %+v", trades)
	}
	m.ProcessTradeResult(trades[0])
	if len(rec.results) != 1 || rec.results[0] {
		t.Errorf("streak should record a loss, got %v", rec.results)
	}

	res := m.Open(OpenRequest{Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 97, Amount: 50})
	if !res.Rejected() || res.RejectReason != RejectCoolingDown {
		t.Fatalf("expected cooling-down rejection, got %+v", res)
	}

	// Just before expiry still blocked; at expiry it clears.
	now = now.Add(29 * time.Minute)
	if res := m.Open(OpenRequest{Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 97, Amount: 50}); !res.Rejected() {
		t.Error("cooldown should still be active before expiry")
	}
	now = now.Add(time.Minute)
	if res := m.Open(OpenRequest{Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 97, Amount: 50}); res.Rejected() {
		t.Errorf("cooldown expired, open should succeed, got %s", res.RejectReason)
	}
}

func TestTakeProfitDoesNotStartCooldown(t *testing.T) {
	m, rec := testManager(DefaultManagerConfig())
	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})
	trades := m.CheckExits("SOLUSDT", 103.5, 104, 102)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	m.ProcessTradeResult(trades[0])

	if m.CoolingDown("SOLUSDT") {
		t.Error("take-profit exit must not start a cooldown")
	}
	if len(rec.results) != 1 || !rec.results[0] {
		t.Errorf("streak should record a win, got %v", rec.results)
	}
}

func TestNoDoubleClose(t *testing.T) {
	m, _ := testManager(DefaultManagerConfig())
	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})

	first := m.CheckExits("SOLUSDT", 97, 100, 97)
	second := m.CheckExits("SOLUSDT", 97, 100, 97)
	if len(first) != 1 || len(second) != 0 {
		t.Errorf("position closed twice: first=%d second=%d", len(first), len(second))
	}
}

func TestClosedTradesSettleOnlyViaProcessTradeResult(t *testing.T) {
	// CheckExits and CloseManual return trades without touching the streak
	// or cooldown state; that happens in ProcessTradeResult, which the
	// caller invokes once the trade is persisted.
	cfg := DefaultManagerConfig()
	cfg.CooldownMinutes = 30
	m, rec := testManager(cfg)
	mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})

	trades := m.CheckExits("SOLUSDT", 97.5, 100, 97)
	if len(trades) != 1 || trades[0].ExitReason != ExitStopLoss {
		t.Fatalf("expected stop-loss trade, got %+v", trades)
	}
	if len(rec.results) != 0 {
		t.Errorf("streak recorded before settlement: %v", rec.results)
	}
	if m.CoolingDown("SOLUSDT") {
		t.Error("cooldown started before settlement")
	}

	m.ProcessTradeResult(trades[0])
	if len(rec.results) != 1 || rec.results[0] {
		t.Errorf("streak should record a loss after settlement, got %v", rec.results)
	}
	if !m.CoolingDown("SOLUSDT") {
		t.Error("cooldown should start after settlement")
	}
}

func TestCloseManual(t *testing.T) {
	m, _ := testManager(DefaultManagerConfig())
	pos := mustOpen(t, m, OpenRequest{
		Symbol: "SOLUSDT", Side: SideLong, EntryPrice: 100, Amount: 50,
	})

	trade, err := m.CloseManual(pos.ID, 101)
	if err != nil {
		t.Fatalf("CloseManual returned error: %v", err)
	}
	if trade.ExitReason != ExitManual {
		t.Errorf("exit reason = %s, want %s", trade.ExitReason, ExitManual)
	}
	if _, err := m.CloseManual(pos.ID, 101); err == nil {
		t.Error("closing a closed position must fail")
	}
}

func TestScenarioSolStopLossRoundTrip(t *testing.T) {
	// Entry 100, SL 2%, TP 3%, cycle low 97: stop-loss trade with negative
	// profit, then a cooldown that expires exactly CooldownMinutes later.
	cfg := DefaultManagerConfig()
	cfg.CooldownMinutes = 45
	m, _ := testManager(cfg)

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	mustOpen(t, m, OpenRequest{
		Symbol: "SOL", Side: SideLong, EntryPrice: 100, Amount: 100,
		StopLossPercent: 2, TakeProfitPercent: 3,
	})
	trades := m.CheckExits("SOL", 97.8, 100.5, 97)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].ExitReason != ExitStopLoss || trades[0].Profit >= 0 {
		t.Fatalf("want losing stop-loss trade, got %+v", trades[0])
	}
	m.ProcessTradeResult(trades[0])

	cooldowns := m.Cooldowns()
	expiry, ok := cooldowns["SOL"]
	if !ok {
		t.Fatal("expected an active cooldown for SOL")
	}
	if want := now.Add(45 * time.Minute); !expiry.Equal(want) {
		t.Errorf("cooldown expiry = %v, want %v", expiry, want)
	}

	now = now.Add(45 * time.Minute)
	if res := m.Open(OpenRequest{Symbol: "SOL", Side: SideLong, EntryPrice: 97, Amount: 100}); res.Rejected() {
		t.Errorf("open after cooldown expiry rejected: %s", res.RejectReason)
	}
}

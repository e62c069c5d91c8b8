package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockProvider generates simulated candles for dry-run mode and tests.
// Prices follow a sine drift with small random noise around a per-symbol
// base, so indicator series look plausible without an exchange connection.
type MockProvider struct {
	mu    sync.RWMutex
	base  map[string]float64
	rng   *rand.Rand
	now   func() time.Time
	fail  bool
	fixed map[string][]Candle
}

// NewMockProvider seeds base prices for common symbols.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		base: map[string]float64{
			"BTCUSDT": 104500.00,
			"ETHUSDT": 3900.00,
			"SOLUSDT": 220.00,
			"BNBUSDT": 710.00,
		},
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
		fixed: make(map[string][]Candle),
	}
}

// SetBasePrice sets or overrides the base price for a symbol.
func (m *MockProvider) SetBasePrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base[symbol] = price
}

// SetCandles pins an exact candle series for a symbol, bypassing
// generation. Used by tests that need deterministic indicator input.
func (m *MockProvider) SetCandles(symbol string, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed[symbol] = candles
}

// SetFailing makes every call return ErrDataUnavailable.
func (m *MockProvider) SetFailing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// SetClock overrides the time source.
func (m *MockProvider) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// GetCandles returns limit simulated candles, oldest first.
func (m *MockProvider) GetCandles(_ context.Context, symbol, interval string, limit int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, ErrDataUnavailable
	}
	if fixed, ok := m.fixed[symbol]; ok {
		if len(fixed) > limit {
			fixed = fixed[len(fixed)-limit:]
		}
		out := make([]Candle, len(fixed))
		copy(out, fixed)
		return out, nil
	}

	base, ok := m.base[symbol]
	if !ok {
		base = 100.0
	}
	step := intervalDuration(interval)
	end := m.now().Truncate(step)
	candles := make([]Candle, limit)
	for i := 0; i < limit; i++ {
		offset := limit - 1 - i
		openTime := end.Add(-time.Duration(offset+1) * step)
		drift := math.Sin(float64(openTime.Unix())/7200.0) * base * 0.01
		noise := (m.rng.Float64() - 0.5) * base * 0.002
		closePrice := base + drift + noise
		openPrice := closePrice - noise
		high := math.Max(openPrice, closePrice) * 1.001
		low := math.Min(openPrice, closePrice) * 0.999
		candles[i] = Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  openTime,
			Open:      openPrice,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    base * 10,
			CloseTime: openTime.Add(step),
		}
	}
	return candles, nil
}

// GetPrice returns the close of the most recent simulated candle.
func (m *MockProvider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	candles, err := m.GetCandles(ctx, symbol, Timeframe5m, 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, ErrDataUnavailable
	}
	return candles[len(candles)-1].Close, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		return 5 * time.Minute
	}
}

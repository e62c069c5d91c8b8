package market

import (
	"context"
	"errors"
)

// ErrDataUnavailable marks a transient data failure. The cycle skips the
// tick instead of treating it as a signal.
var ErrDataUnavailable = errors.New("market data unavailable")

// Provider supplies candle history and current prices.
type Provider interface {
	// GetCandles returns up to limit most recent candles for the symbol
	// and interval, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// GetPrice returns the latest traded price for the symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

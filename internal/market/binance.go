package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BinanceConfig configures the Binance provider.
type BinanceConfig struct {
	APIKey            string `json:"api_key"`
	APISecret         string `json:"api_secret"`
	Testnet           bool   `json:"testnet"`
	RequestsPerSecond int    `json:"requests_per_second"`
}

// DefaultBinanceConfig returns provider defaults. The request rate stays
// well under Binance's published weight limits.
func DefaultBinanceConfig() BinanceConfig {
	return BinanceConfig{RequestsPerSecond: 10}
}

// BinanceProvider fetches candles and prices from Binance spot.
type BinanceProvider struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewBinanceProvider builds the provider. Testnet mode points the client at
// the Binance spot testnet.
func NewBinanceProvider(cfg BinanceConfig, logger zerolog.Logger) *BinanceProvider {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.Testnet {
		client.BaseURL = "https://testnet.binance.vision"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &BinanceProvider{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		logger:  logger.With().Str("component", "binance_provider").Logger(),
	}
}

// GetCandles returns up to limit most recent candles, oldest first.
func (p *BinanceProvider) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	klines, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Str("interval", interval).Msg("kline fetch failed")
		return nil, fmt.Errorf("%w: klines %s %s: %v", ErrDataUnavailable, symbol, interval, err)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(symbol, interval, k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetPrice returns the latest traded price for the symbol.
func (p *BinanceProvider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	prices, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("price fetch failed")
		return 0, fmt.Errorf("%w: price %s: %v", ErrDataUnavailable, symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: no price returned for %s", ErrDataUnavailable, symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse price %q: %v", ErrDataUnavailable, prices[0].Price, err)
	}
	return price, nil
}

func parseKline(symbol, interval string, k *binance.Kline) (Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse open %q: %v", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse high %q: %v", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse low %q: %v", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse close %q: %v", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse volume %q: %v", k.Volume, err)
	}
	return Candle{
		Symbol:    symbol,
		Interval:  interval,
		OpenTime:  time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: time.UnixMilli(k.CloseTime),
	}, nil
}

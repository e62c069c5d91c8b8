// Package market provides candle data access for the trading cycle,
// backed by Binance or by a simulated provider in dry-run mode.
package market

import "time"

// Timeframe intervals in Binance notation.
const (
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
	Timeframe1h  = "1h"
	Timeframe4h  = "4h"
)

// Candle is one OHLCV bar.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Closes extracts the close series in candle order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high series in candle order.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low series in candle order.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

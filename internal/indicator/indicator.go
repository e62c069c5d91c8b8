// Package indicator computes technical indicators over full close-price
// series. Warm-up indices carry NaN rather than zero so downstream code can
// tell "no value yet" apart from a real zero.
package indicator

import (
	"fmt"
	"math"
)

// Defined reports whether an indicator value is past its warm-up window.
func Defined(v float64) bool {
	return !math.IsNaN(v)
}

func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func checkPeriod(name string, period, n int) error {
	if period <= 0 {
		return fmt.Errorf("%s: period must be positive, got %d", name, period)
	}
	if period > n {
		return fmt.Errorf("%s: period %d exceeds series length %d", name, period, n)
	}
	return nil
}

// SMA calculates the Simple Moving Average for every index. Indices before
// period-1 are NaN. Uses a rolling sum, O(N).
func SMA(closes []float64, period int) ([]float64, error) {
	if err := checkPeriod("sma", period, len(closes)); err != nil {
		return nil, err
	}

	out := undefinedSeries(len(closes))
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// EMA calculates the Exponential Moving Average for every index. The value at
// period-1 is seeded with the simple mean of the first period closes; earlier
// indices are NaN.
func EMA(closes []float64, period int) ([]float64, error) {
	if err := checkPeriod("ema", period, len(closes)); err != nil {
		return nil, err
	}

	out := undefinedSeries(len(closes))

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += closes[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	multiplier := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < len(closes); i++ {
		prev = (closes[i]-prev)*multiplier + prev
		out[i] = prev
	}
	return out, nil
}

// RSI calculates the Relative Strength Index using simple (non-Wilder)
// averaging of per-step gains and losses over the trailing period. Values are
// defined from index period onward; if the mean loss is zero, RSI is 100.
func RSI(closes []float64, period int) ([]float64, error) {
	if err := checkPeriod("rsi", period, len(closes)); err != nil {
		return nil, err
	}

	n := len(closes)
	out := undefinedSeries(n)
	if n < 2 {
		return out, nil
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	for i := period; i < n; i++ {
		gainSum := 0.0
		lossSum := 0.0
		for j := i - period + 1; j <= i; j++ {
			gainSum += gains[j]
			lossSum += losses[j]
		}
		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)

		if avgLoss == 0 {
			out[i] = 100.0
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out, nil
}

// MACDResult holds the MACD line, signal line and histogram series.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACDSeries calculates MACD over the whole series. The MACD line is the
// pointwise difference of the fast and slow EMAs (NaN where either operand is
// NaN). The signal line is an EMA over the defined portion of the MACD line,
// aligned back onto the original index space. The histogram is line minus
// signal where both are defined.
func MACDSeries(closes []float64, fastPeriod, slowPeriod, signalPeriod int) (*MACDResult, error) {
	if fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("macd: fast period %d must be below slow period %d", fastPeriod, slowPeriod)
	}
	fastEMA, err := EMA(closes, fastPeriod)
	if err != nil {
		return nil, fmt.Errorf("macd: %w", err)
	}
	slowEMA, err := EMA(closes, slowPeriod)
	if err != nil {
		return nil, fmt.Errorf("macd: %w", err)
	}
	if signalPeriod <= 0 {
		return nil, fmt.Errorf("macd: signal period must be positive, got %d", signalPeriod)
	}

	n := len(closes)
	line := undefinedSeries(n)
	for i := 0; i < n; i++ {
		if Defined(fastEMA[i]) && Defined(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}

	// The MACD line is contiguous once defined, so the defined portion is a
	// suffix starting at slowPeriod-1.
	firstDefined := slowPeriod - 1
	stripped := line[firstDefined:]

	signal := undefinedSeries(n)
	if signalPeriod <= len(stripped) {
		strippedSignal, err := EMA(stripped, signalPeriod)
		if err != nil {
			return nil, fmt.Errorf("macd: %w", err)
		}
		copy(signal[firstDefined:], strippedSignal)
	}

	histogram := undefinedSeries(n)
	for i := 0; i < n; i++ {
		if Defined(line[i]) && Defined(signal[i]) {
			histogram[i] = line[i] - signal[i]
		}
	}

	return &MACDResult{Line: line, Signal: signal, Histogram: histogram}, nil
}

// BollingerResult holds the three Bollinger band series.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BollingerBands calculates Bollinger bands: middle is the SMA, the band
// width is stdDevMultiplier times the population standard deviation of the
// trailing window.
func BollingerBands(closes []float64, period int, stdDevMultiplier float64) (*BollingerResult, error) {
	middle, err := SMA(closes, period)
	if err != nil {
		return nil, fmt.Errorf("bollinger: %w", err)
	}

	n := len(closes)
	upper := undefinedSeries(n)
	lower := undefinedSeries(n)
	for i := period - 1; i < n; i++ {
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := closes[j] - middle[i]
			variance += diff * diff
		}
		band := stdDevMultiplier * math.Sqrt(variance/float64(period))
		upper[i] = middle[i] + band
		lower[i] = middle[i] - band
	}

	return &BollingerResult{Upper: upper, Middle: middle, Lower: lower}, nil
}

// ATR calculates the Average True Range over the trailing period, returning
// the latest value. Used for volatility-aware position sizing.
func ATR(highs, lows, closes []float64, period int) (float64, error) {
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return 0, fmt.Errorf("atr: series lengths differ (high=%d low=%d close=%d)", len(highs), len(lows), n)
	}
	if err := checkPeriod("atr", period, n); err != nil {
		return 0, err
	}
	if n < period+1 {
		return 0, fmt.Errorf("atr: need %d candles, got %d", period+1, n)
	}

	trSum := 0.0
	for i := n - period; i < n; i++ {
		tr := math.Max(
			highs[i]-lows[i],
			math.Max(
				math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1]),
			),
		)
		trSum += tr
	}
	return trSum / float64(period), nil
}

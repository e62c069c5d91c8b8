package indicator

import "math"

// Config holds indicator periods for one timeframe.
type Config struct {
	SMAPeriod        int     `json:"sma_period"`
	EMAFastPeriod    int     `json:"ema_fast_period"`
	EMASlowPeriod    int     `json:"ema_slow_period"`
	RSIPeriod        int     `json:"rsi_period"`
	MACDFast         int     `json:"macd_fast"`
	MACDSlow         int     `json:"macd_slow"`
	MACDSignal       int     `json:"macd_signal"`
	BollingerPeriod  int     `json:"bollinger_period"`
	BollingerStdDevs float64 `json:"bollinger_std_devs"`
}

// DefaultConfig returns the standard indicator periods.
func DefaultConfig() Config {
	return Config{
		SMAPeriod:        20,
		EMAFastPeriod:    9,
		EMASlowPeriod:    21,
		RSIPeriod:        14,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		BollingerPeriod:  20,
		BollingerStdDevs: 2.0,
	}
}

// Set holds every indicator series computed over one close series. Undefined
// warm-up entries are NaN.
type Set struct {
	SMA       []float64
	EMAFast   []float64
	EMASlow   []float64
	RSI       []float64
	MACD      *MACDResult
	Bollinger *BollingerResult
}

// ComputeSet calculates the full indicator set for one timeframe's closes.
func ComputeSet(closes []float64, cfg Config) (*Set, error) {
	sma, err := SMA(closes, cfg.SMAPeriod)
	if err != nil {
		return nil, err
	}
	emaFast, err := EMA(closes, cfg.EMAFastPeriod)
	if err != nil {
		return nil, err
	}
	emaSlow, err := EMA(closes, cfg.EMASlowPeriod)
	if err != nil {
		return nil, err
	}
	rsi, err := RSI(closes, cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := MACDSeries(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	if err != nil {
		return nil, err
	}
	bb, err := BollingerBands(closes, cfg.BollingerPeriod, cfg.BollingerStdDevs)
	if err != nil {
		return nil, err
	}

	return &Set{
		SMA:       sma,
		EMAFast:   emaFast,
		EMASlow:   emaSlow,
		RSI:       rsi,
		MACD:      macd,
		Bollinger: bb,
	}, nil
}

// Latest returns the last value of a series, or NaN for an empty series.
func Latest(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

package risk

import (
	"fmt"

	"solbot/internal/indicator"
)

// Momentum is the reference asset's short-term direction.
type Momentum string

const (
	MomentumUp   Momentum = "up"
	MomentumDown Momentum = "down"
	MomentumFlat Momentum = "flat"
)

// CorrelationConfig holds cross-asset correlation filter configuration.
type CorrelationConfig struct {
	Enabled           bool    `json:"enabled"`
	ReferenceSymbol   string  `json:"reference_symbol"` // e.g. BTCUSDT as the market bellwether
	Strict            bool    `json:"strict"`           // disagreement forces hold instead of a penalty
	EMAPeriod         int     `json:"ema_period"`
	FlatBandPercent   float64 `json:"flat_band_percent"`  // slope below this % of price counts as flat
	ConfidencePenalty float64 `json:"confidence_penalty"` // subtracted from confidence in loose mode
}

// DefaultCorrelationConfig returns the standard correlation filter setup.
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{
		Enabled:           true,
		ReferenceSymbol:   "BTCUSDT",
		Strict:            false,
		EMAPeriod:         9,
		FlatBandPercent:   0.05,
		ConfidencePenalty: 0.2,
	}
}

// CorrelationVerdict is the filter's view of the reference asset for one tick.
type CorrelationVerdict struct {
	Momentum Momentum `json:"momentum"`
	Slope    float64  `json:"slope"`
	Strict   bool     `json:"strict"`
	Penalty  float64  `json:"penalty"`
}

// EvaluateCorrelation derives the reference asset's momentum from the slope
// of a short EMA over its closes. Stateless; the caller supplies fresh closes
// each tick.
func EvaluateCorrelation(referenceCloses []float64, cfg CorrelationConfig) (CorrelationVerdict, error) {
	verdict := CorrelationVerdict{
		Momentum: MomentumFlat,
		Strict:   cfg.Strict,
		Penalty:  cfg.ConfidencePenalty,
	}
	if !cfg.Enabled {
		return verdict, nil
	}

	if len(referenceCloses) < cfg.EMAPeriod+1 {
		return verdict, fmt.Errorf("correlation: need %d closes for %s, got %d",
			cfg.EMAPeriod+1, cfg.ReferenceSymbol, len(referenceCloses))
	}

	ema, err := indicator.EMA(referenceCloses, cfg.EMAPeriod)
	if err != nil {
		return verdict, fmt.Errorf("correlation: %w", err)
	}

	last := ema[len(ema)-1]
	prev := ema[len(ema)-2]
	if !indicator.Defined(last) || !indicator.Defined(prev) {
		return verdict, nil
	}

	verdict.Slope = last - prev
	flatBand := last * cfg.FlatBandPercent / 100
	if flatBand < 0 {
		flatBand = -flatBand
	}
	switch {
	case verdict.Slope > flatBand:
		verdict.Momentum = MomentumUp
	case verdict.Slope < -flatBand:
		verdict.Momentum = MomentumDown
	}
	return verdict, nil
}

// AgreesWithLong reports whether the reference momentum allows a long entry.
// Flat momentum never blocks.
func (v CorrelationVerdict) AgreesWithLong() bool {
	return v.Momentum != MomentumDown
}

// AgreesWithShort reports whether the reference momentum allows a short entry.
func (v CorrelationVerdict) AgreesWithShort() bool {
	return v.Momentum != MomentumUp
}

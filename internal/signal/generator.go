// Package signal combines indicator sets across timeframes into one
// directional signal, applying the protective gates before anything is
// allowed through.
package signal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"solbot/internal/indicator"
	"solbot/internal/risk"
)

// Direction of a signal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Signal is the engine's trade decision for one tick. Reason always names
// the deciding factor; downstream components and the dashboard rely on it.
type Signal struct {
	Symbol         string               `json:"symbol"`
	Direction      Direction            `json:"direction"`
	Confidence     float64              `json:"confidence"` // 0-1
	Reason         string               `json:"reason"`
	TimeframeVotes map[string]Direction `json:"timeframe_votes"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// Config holds signal generation thresholds.
type Config struct {
	RSIOversold     float64 `json:"rsi_oversold"`
	RSIOverbought   float64 `json:"rsi_overbought"`
	MinConfluence   int     `json:"min_confluence"` // timeframes that must agree
	SentimentWeight float64 `json:"sentiment_weight"`
}

// DefaultConfig returns the standard signal thresholds.
func DefaultConfig() Config {
	return Config{
		RSIOversold:     30,
		RSIOverbought:   70,
		MinConfluence:   2,
		SentimentWeight: 0.1,
	}
}

// Inputs carries everything the generator consumes for one tick. Sets is
// keyed by timeframe name (fast, medium, slow).
type Inputs struct {
	Symbol      string
	Sets        map[string]*indicator.Set
	HourBlocked bool
	Hour        int
	Correlation risk.CorrelationVerdict
	Sentiment   *float64 // 0-100 when the sentiment collaborator responded
}

// Generate produces the signal for one tick. Warm-up (undefined) indicator
// values vote hold; they never crash the cycle.
func Generate(in Inputs, cfg Config) Signal {
	sig := Signal{
		Symbol:         in.Symbol,
		Direction:      DirectionHold,
		TimeframeVotes: make(map[string]Direction, len(in.Sets)),
		GeneratedAt:    time.Now().UTC(),
	}

	timeframes := make([]string, 0, len(in.Sets))
	for tf := range in.Sets {
		timeframes = append(timeframes, tf)
	}
	sort.Strings(timeframes)

	buyVotes, sellVotes := 0, 0
	var voteNotes []string
	for _, tf := range timeframes {
		vote, note := timeframeVote(in.Sets[tf], cfg)
		sig.TimeframeVotes[tf] = vote
		voteNotes = append(voteNotes, fmt.Sprintf("%s=%s(%s)", tf, vote, note))
		switch vote {
		case DirectionBuy:
			buyVotes++
		case DirectionSell:
			sellVotes++
		}
	}

	candidate := DirectionHold
	agreeing := 0
	switch {
	case buyVotes >= cfg.MinConfluence && buyVotes > sellVotes:
		candidate = DirectionBuy
		agreeing = buyVotes
	case sellVotes >= cfg.MinConfluence && sellVotes > buyVotes:
		candidate = DirectionSell
		agreeing = sellVotes
	}

	if candidate == DirectionHold {
		sig.Reason = fmt.Sprintf("confluence not met (need %d, buy=%d sell=%d): %s",
			cfg.MinConfluence, buyVotes, sellVotes, strings.Join(voteNotes, " "))
		return sig
	}

	// Gates run after confluence so the reason can name what vetoed an
	// otherwise actionable signal.
	if in.HourBlocked {
		sig.Reason = fmt.Sprintf("%s signal blocked: hour %02d UTC is on the bad-hours list", candidate, in.Hour)
		return sig
	}

	confidence := float64(agreeing) / float64(len(in.Sets))
	reason := fmt.Sprintf("%d/%d timeframes agree on %s: %s", agreeing, len(in.Sets), candidate, strings.Join(voteNotes, " "))

	if disagrees(candidate, in.Correlation) {
		if in.Correlation.Strict {
			sig.Reason = fmt.Sprintf("%s signal blocked: reference momentum is %s (strict correlation filter)", candidate, in.Correlation.Momentum)
			return sig
		}
		confidence -= in.Correlation.Penalty
		reason += fmt.Sprintf("; confidence reduced, reference momentum %s disagrees", in.Correlation.Momentum)
	}

	if in.Sentiment != nil {
		// Sentiment only nudges confidence; it never sets direction.
		bias := (*in.Sentiment - 50) / 50 * cfg.SentimentWeight
		if candidate == DirectionSell {
			bias = -bias
		}
		confidence += bias
		reason += fmt.Sprintf("; sentiment %.0f", *in.Sentiment)
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	sig.Direction = candidate
	sig.Confidence = confidence
	sig.Reason = reason
	return sig
}

// timeframeVote derives one timeframe's directional vote from RSI threshold
// crossing, the fast/slow EMA relation, and the MACD histogram sign.
func timeframeVote(set *indicator.Set, cfg Config) (Direction, string) {
	if set == nil {
		return DirectionHold, "no data"
	}

	bull, bear := 0, 0
	var parts []string

	// An RSI pinned at exactly 100 or 0 comes from a one-sided (or empty)
	// change window and carries no mean-reversion information, so it
	// abstains instead of calling a reversal against the move itself.
	rsi := indicator.Latest(set.RSI)
	if indicator.Defined(rsi) && rsi > 0 && rsi < 100 {
		switch {
		case rsi <= cfg.RSIOversold:
			bull++
			parts = append(parts, fmt.Sprintf("rsi %.1f oversold", rsi))
		case rsi >= cfg.RSIOverbought:
			bear++
			parts = append(parts, fmt.Sprintf("rsi %.1f overbought", rsi))
		}
	} else if indicator.Defined(rsi) {
		parts = append(parts, fmt.Sprintf("rsi pinned at %.0f", rsi))
	}

	emaFast := indicator.Latest(set.EMAFast)
	emaSlow := indicator.Latest(set.EMASlow)
	if indicator.Defined(emaFast) && indicator.Defined(emaSlow) {
		if emaFast > emaSlow {
			bull++
			parts = append(parts, "ema fast above slow")
		} else if emaFast < emaSlow {
			bear++
			parts = append(parts, "ema fast below slow")
		}
	}

	histogram := indicator.Latest(set.MACD.Histogram)
	if indicator.Defined(histogram) {
		if histogram > 0 {
			bull++
			parts = append(parts, "macd histogram positive")
		} else if histogram < 0 {
			bear++
			parts = append(parts, "macd histogram negative")
		}
	}

	note := "neutral"
	if len(parts) > 0 {
		note = strings.Join(parts, ", ")
	}
	switch {
	case bull > bear:
		return DirectionBuy, note
	case bear > bull:
		return DirectionSell, note
	default:
		return DirectionHold, note
	}
}

func disagrees(candidate Direction, verdict risk.CorrelationVerdict) bool {
	switch candidate {
	case DirectionBuy:
		return !verdict.AgreesWithLong()
	case DirectionSell:
		return !verdict.AgreesWithShort()
	default:
		return false
	}
}

package regime

import (
	"math"
	"time"

	"sr-zone-engine/internal/market"
)

// Condition is the market regime driving risk adjustments.
type Condition string

const (
	Normal          Condition = "NORMAL"
	ExtremeBullish  Condition = "EXTREME_BULLISH"
	ExtremeBearish  Condition = "EXTREME_BEARISH"
	ExtremeVolatile Condition = "EXTREME_VOLATILE"
)

// Thresholds are the extreme-market cutoffs.
type Thresholds struct {
	ExtremeMove float64
	ExtremeVol  float64
}

// Inputs are the short-horizon observations the classifier operates on.
// PriceChange1h is the fractional change over the last hour; Volatility5m is
// realized volatility over the last five minutes.
type Inputs struct {
	PriceChange1h float64
	Volatility5m  float64
	Trend         market.TrendDirection
}

// Classify maps observations to a regime. It is a pure function: identical
// inputs always produce the identical condition, and no state is kept
// between calls.
func Classify(in Inputs, th Thresholds) Condition {
	isExtreme := math.Abs(in.PriceChange1h) > th.ExtremeMove || in.Volatility5m > th.ExtremeVol
	if !isExtreme {
		return Normal
	}

	switch {
	case in.PriceChange1h > th.ExtremeMove && in.Trend == market.TrendBullish:
		return ExtremeBullish
	case in.PriceChange1h < -th.ExtremeMove && in.Trend == market.TrendBearish:
		return ExtremeBearish
	default:
		return ExtremeVolatile
	}
}

// Status is a classified regime together with the observations that
// produced it, as reported on the API and in events.
type Status struct {
	Symbol        string                `json:"symbol"`
	Condition     Condition             `json:"condition"`
	PriceChange1h float64               `json:"price_change_1h"`
	Volatility5m  float64               `json:"volatility_5m"`
	Trend         market.TrendDirection `json:"trend"`
	Extreme       bool                  `json:"extreme"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Direction is the side of a trade signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Aligned reports whether a signal direction rides the extreme trend.
// EXTREME_VOLATILE and NORMAL are never aligned.
func Aligned(c Condition, dir Direction) bool {
	switch c {
	case ExtremeBullish:
		return dir == Long
	case ExtremeBearish:
		return dir == Short
	}
	return false
}

// CounterTrend reports whether a signal direction fights the extreme trend.
func CounterTrend(c Condition, dir Direction) bool {
	switch c {
	case ExtremeBullish:
		return dir == Short
	case ExtremeBearish:
		return dir == Long
	}
	return false
}

package market

import (
	"math"
	"sync"
	"time"
)

// TrendDirection represents the prevailing market trend for a symbol.
type TrendDirection string

const (
	TrendBullish  TrendDirection = "bullish"
	TrendBearish  TrendDirection = "bearish"
	TrendSideways TrendDirection = "sideways"
)

// PriceChange returns the fractional close-to-close change over the last
// lookback candles, e.g. 0.03 for +3%.
func PriceChange(klines []Kline, lookback int) float64 {
	if len(klines) < lookback+1 || lookback <= 0 {
		return 0
	}

	last := klines[len(klines)-1].Close
	base := klines[len(klines)-1-lookback].Close
	if base == 0 {
		return 0
	}

	return (last - base) / base
}

// ReturnVolatility returns the standard deviation of close-to-close returns
// over the last lookback candles.
func ReturnVolatility(klines []Kline, lookback int) float64 {
	if len(klines) < lookback+1 || lookback < 2 {
		return 0
	}

	returns := make([]float64, 0, lookback)
	start := len(klines) - lookback
	for i := start; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev == 0 {
			continue
		}
		returns = append(returns, (klines[i].Close-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}

	return math.Sqrt(variance / float64(len(returns)))
}

// DetermineTrend classifies the trend from short vs long SMA separation.
// Used as the fallback when no upstream trend feed is attached.
func DetermineTrend(klines []Kline, shortPeriod, longPeriod int) TrendDirection {
	if len(klines) < longPeriod || shortPeriod >= longPeriod {
		return TrendSideways
	}

	short := CalculateSMA(klines, shortPeriod)
	long := CalculateSMA(klines, longPeriod)
	if long == 0 {
		return TrendSideways
	}

	separation := (short - long) / long
	switch {
	case separation > 0.005:
		return TrendBullish
	case separation < -0.005:
		return TrendBearish
	default:
		return TrendSideways
	}
}

// TickWindow keeps recent ticks for one symbol inside a rolling time window
// and reports short-horizon realized volatility from them. Safe for
// concurrent use.
type TickWindow struct {
	mu     sync.Mutex
	window time.Duration
	ticks  []PriceTick
}

// NewTickWindow creates a tick window covering the given duration.
func NewTickWindow(window time.Duration) *TickWindow {
	return &TickWindow{window: window}
}

// Add records a tick and evicts anything older than the window.
func (w *TickWindow) Add(tick PriceTick) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ticks = append(w.ticks, tick)
	cutoff := tick.Time.Add(-w.window)
	drop := 0
	for drop < len(w.ticks) && w.ticks[drop].Time.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		w.ticks = append(w.ticks[:0], w.ticks[drop:]...)
	}
}

// Volatility returns stddev(price)/mean(price) over the window, 0 when there
// are fewer than two ticks.
func (w *TickWindow) Volatility() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.ticks) < 2 {
		return 0
	}

	mean := 0.0
	for _, t := range w.ticks {
		mean += t.Price
	}
	mean /= float64(len(w.ticks))
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, t := range w.ticks {
		diff := t.Price - mean
		variance += diff * diff
	}

	return math.Sqrt(variance/float64(len(w.ticks))) / mean
}

// Last returns the most recent tick and whether one exists.
func (w *TickWindow) Last() (PriceTick, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.ticks) == 0 {
		return PriceTick{}, false
	}
	return w.ticks[len(w.ticks)-1], true
}

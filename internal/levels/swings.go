package levels

import "sr-zone-engine/internal/market"

// SwingPoint is a local price extreme found in a candle series.
type SwingPoint struct {
	Price       float64
	CandleIndex int
	Confirmed   bool
}

// FindSwingHighs identifies candles whose high exceeds every high within
// lookback candles on both sides. Candidates near the series end whose
// right-side window has not fully printed yet are returned unconfirmed.
func FindSwingHighs(candles []market.Kline, lookback int) []SwingPoint {
	var swings []SwingPoint

	for i := lookback; i < len(candles); i++ {
		isSwing := true
		current := candles[i].High

		end := i + lookback
		if end > len(candles)-1 {
			end = len(candles) - 1
		}
		for j := i - lookback; j <= end; j++ {
			if j != i && candles[j].High >= current {
				isSwing = false
				break
			}
		}

		if isSwing {
			swings = append(swings, SwingPoint{
				Price:       current,
				CandleIndex: i,
				Confirmed:   i+lookback < len(candles),
			})
		}
	}

	return swings
}

// FindSwingLows identifies candles whose low undercuts every low within
// lookback candles on both sides.
func FindSwingLows(candles []market.Kline, lookback int) []SwingPoint {
	var swings []SwingPoint

	for i := lookback; i < len(candles); i++ {
		isSwing := true
		current := candles[i].Low

		end := i + lookback
		if end > len(candles)-1 {
			end = len(candles) - 1
		}
		for j := i - lookback; j <= end; j++ {
			if j != i && candles[j].Low <= current {
				isSwing = false
				break
			}
		}

		if isSwing {
			swings = append(swings, SwingPoint{
				Price:       current,
				CandleIndex: i,
				Confirmed:   i+lookback < len(candles),
			})
		}
	}

	return swings
}

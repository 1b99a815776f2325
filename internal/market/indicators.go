package market

import "math"

// CalculateSMA calculates the Simple Moving Average of the closing prices.
func CalculateSMA(klines []Kline, period int) float64 {
	if len(klines) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	startIdx := len(klines) - period

	for i := startIdx; i < len(klines); i++ {
		sum += klines[i].Close
	}

	return sum / float64(period)
}

// CalculateEMA calculates the Exponential Moving Average of the closing
// prices, seeded with an SMA over the first period.
func CalculateEMA(klines []Kline, period int) float64 {
	if len(klines) < period || period <= 0 {
		return 0
	}

	sma := CalculateSMA(klines[:period], period)
	multiplier := 2.0 / float64(period+1)

	ema := sma
	for i := period; i < len(klines); i++ {
		ema = (klines[i].Close * multiplier) + (ema * (1 - multiplier))
	}

	return ema
}

// CalculateATR calculates the Average True Range over the last period
// candles. Returns 0 when there is not enough history.
func CalculateATR(klines []Kline, period int) float64 {
	if len(klines) < period+1 || period <= 0 {
		return 0
	}

	trSum := 0.0
	startIdx := len(klines) - period

	for i := startIdx; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)

		trSum += tr
	}

	return trSum / float64(period)
}

// BollingerBands holds the three band values.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands calculates Bollinger Bands from an SMA middle band
// and a standard deviation envelope.
func CalculateBollingerBands(klines []Kline, period int, stdDevMultiplier float64) *BollingerBands {
	if len(klines) < period || period <= 0 {
		return &BollingerBands{}
	}

	middle := CalculateSMA(klines, period)

	variance := 0.0
	startIdx := len(klines) - period

	for i := startIdx; i < len(klines); i++ {
		diff := klines[i].Close - middle
		variance += diff * diff
	}

	stdDev := math.Sqrt(variance / float64(period))

	return &BollingerBands{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

// PivotPoints holds a pivot point with three resistance and support levels.
type PivotPoints struct {
	PP float64
	R1 float64
	R2 float64
	R3 float64
	S1 float64
	S2 float64
	S3 float64
}

// CalculateStandardPivotPoints calculates classic floor-trader pivots from
// the last completed candle.
func CalculateStandardPivotPoints(klines []Kline) *PivotPoints {
	if len(klines) == 0 {
		return &PivotPoints{}
	}

	last := klines[len(klines)-1]
	high := last.High
	low := last.Low
	close := last.Close

	pp := (high + low + close) / 3

	return &PivotPoints{
		PP: pp,
		R1: (2 * pp) - low,
		S1: (2 * pp) - high,
		R2: pp + (high - low),
		S2: pp - (high - low),
		R3: high + 2*(pp-low),
		S3: low - 2*(high-pp),
	}
}

// CalculateFibonacciPivotPoints calculates Fibonacci pivots from the last
// completed candle.
func CalculateFibonacciPivotPoints(klines []Kline) *PivotPoints {
	if len(klines) == 0 {
		return &PivotPoints{}
	}

	last := klines[len(klines)-1]
	pp := (last.High + last.Low + last.Close) / 3
	rng := last.High - last.Low

	return &PivotPoints{
		PP: pp,
		R1: pp + (rng * 0.382),
		R2: pp + (rng * 0.618),
		R3: pp + (rng * 1.000),
		S1: pp - (rng * 0.382),
		S2: pp - (rng * 0.618),
		S3: pp - (rng * 1.000),
	}
}

package levels

import (
	"context"
	"fmt"

	"sr-zone-engine/internal/market"
)

const (
	SourceMovingAverage = "moving_average"
	SourceBand          = "volatility_band"
	SourcePivot         = "pivot"
	SourceSwing         = "swing"
	SourceWall          = "orderbook_wall"
)

// MovingAverageSource emits SMA and EMA values per timeframe as levels.
// Moving averages act as dynamic support/resistance on the timeframes where
// they are widely watched.
type MovingAverageSource struct {
	SMAPeriods []int
	EMAPeriods []int
	Weight     float64
}

func (s *MovingAverageSource) Name() string { return SourceMovingAverage }

func (s *MovingAverageSource) Collect(_ context.Context, view View) ([]RawLevel, error) {
	var out []RawLevel

	for tf, candles := range view.Candles {
		for _, period := range s.SMAPeriods {
			if v := market.CalculateSMA(candles, period); v > 0 {
				out = append(out, RawLevel{Price: v, Source: s.Name(), Weight: s.Weight, Timeframe: tf})
			}
		}
		for _, period := range s.EMAPeriods {
			if v := market.CalculateEMA(candles, period); v > 0 {
				out = append(out, RawLevel{Price: v, Source: s.Name(), Weight: s.Weight, Timeframe: tf})
			}
		}
	}

	return out, nil
}

// BandSource emits Bollinger band edges per timeframe as volatility levels.
type BandSource struct {
	Period int
	StdDev float64
	Weight float64
}

func (s *BandSource) Name() string { return SourceBand }

func (s *BandSource) Collect(_ context.Context, view View) ([]RawLevel, error) {
	var out []RawLevel

	for tf, candles := range view.Candles {
		bands := market.CalculateBollingerBands(candles, s.Period, s.StdDev)
		if bands.Middle == 0 {
			continue
		}
		for _, price := range []float64{bands.Upper, bands.Middle, bands.Lower} {
			out = append(out, RawLevel{Price: price, Source: s.Name(), Weight: s.Weight, Timeframe: tf})
		}
	}

	return out, nil
}

// PivotSource emits standard and Fibonacci pivot levels from the last
// completed candle of each timeframe.
type PivotSource struct {
	Weight float64
}

func (s *PivotSource) Name() string { return SourcePivot }

func (s *PivotSource) Collect(_ context.Context, view View) ([]RawLevel, error) {
	var out []RawLevel

	for tf, candles := range view.Candles {
		if len(candles) == 0 {
			continue
		}
		for _, pivots := range []*market.PivotPoints{
			market.CalculateStandardPivotPoints(candles),
			market.CalculateFibonacciPivotPoints(candles),
		} {
			for _, price := range []float64{pivots.PP, pivots.R1, pivots.R2, pivots.R3, pivots.S1, pivots.S2, pivots.S3} {
				if price > 0 {
					out = append(out, RawLevel{Price: price, Source: s.Name(), Weight: s.Weight, Timeframe: tf})
				}
			}
		}
	}

	return out, nil
}

// SwingSource emits confirmed swing highs and lows per timeframe.
type SwingSource struct {
	Lookback int
	Weight   float64
}

func (s *SwingSource) Name() string { return SourceSwing }

func (s *SwingSource) Collect(_ context.Context, view View) ([]RawLevel, error) {
	var out []RawLevel

	for tf, candles := range view.Candles {
		if len(candles) < s.Lookback*2+1 {
			continue
		}
		for _, swing := range FindSwingHighs(candles, s.Lookback) {
			if swing.Confirmed {
				out = append(out, RawLevel{Price: swing.Price, Source: s.Name(), Weight: s.Weight, Timeframe: tf})
			}
		}
		for _, swing := range FindSwingLows(candles, s.Lookback) {
			if swing.Confirmed {
				out = append(out, RawLevel{Price: swing.Price, Source: s.Name(), Weight: s.Weight, Timeframe: tf})
			}
		}
	}

	return out, nil
}

// WallSource adapts order-book liquidity walls from the external depth
// analyzer into levels. Walls are tactical, so they carry the shortest
// timeframe.
type WallSource struct {
	Provider WallProvider
	Weight   float64
}

func (s *WallSource) Name() string { return SourceWall }

func (s *WallSource) Collect(ctx context.Context, view View) ([]RawLevel, error) {
	walls := view.Walls
	if s.Provider != nil {
		fetched, err := s.Provider.Walls(ctx, view.Symbol)
		if err != nil {
			return nil, fmt.Errorf("fetch walls for %s: %w", view.Symbol, err)
		}
		walls = fetched
	}

	out := make([]RawLevel, 0, len(walls))
	for _, wall := range walls {
		if wall.Price <= 0 {
			continue
		}
		out = append(out, RawLevel{Price: wall.Price, Source: s.Name(), Weight: s.Weight, Timeframe: market.TF5m})
	}

	return out, nil
}

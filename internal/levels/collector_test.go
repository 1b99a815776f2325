package levels

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"sr-zone-engine/internal/logging"
	"sr-zone-engine/internal/market"
)

type stubSource struct {
	name   string
	levels []RawLevel
	err    error
	delay  time.Duration
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Collect(ctx context.Context, _ View) ([]RawLevel, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.levels, s.err
}

// TestCollectorMergesSources tests that all source outputs land in one pass
func TestCollectorMergesSources(t *testing.T) {
	collector := NewCollector([]Source{
		&stubSource{name: "a", levels: []RawLevel{{Price: 100, Source: "a"}}},
		&stubSource{name: "b", levels: []RawLevel{{Price: 101, Source: "b"}, {Price: 102, Source: "b"}}},
	}, time.Second, logging.NewTest())

	levels, failures := collector.Collect(context.Background(), View{Symbol: "BTCUSDT"})
	if len(failures) != 0 {
		t.Fatalf("got %d failures, want 0", len(failures))
	}
	if len(levels) != 3 {
		t.Errorf("got %d levels, want 3", len(levels))
	}
}

// TestCollectorIsolatesFailures tests that one broken source cannot sink the pass
func TestCollectorIsolatesFailures(t *testing.T) {
	boom := errors.New("no data")
	collector := NewCollector([]Source{
		&stubSource{name: "good", levels: []RawLevel{{Price: 100}}},
		&stubSource{name: "bad", err: boom},
	}, time.Second, logging.NewTest())

	levels, failures := collector.Collect(context.Background(), View{Symbol: "BTCUSDT"})
	if len(levels) != 1 {
		t.Errorf("got %d levels, want 1 from the healthy source", len(levels))
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if failures[0].Source != "bad" || failures[0].Reason != "error" {
		t.Errorf("failure = %s/%s, want bad/error", failures[0].Source, failures[0].Reason)
	}
	if !errors.Is(failures[0], boom) {
		t.Error("failure should wrap the source error")
	}
}

// TestCollectorTimeout tests the per-source time budget
func TestCollectorTimeout(t *testing.T) {
	collector := NewCollector([]Source{
		&stubSource{name: "slow", delay: 200 * time.Millisecond, levels: []RawLevel{{Price: 100}}},
	}, 10*time.Millisecond, logging.NewTest())

	levels, failures := collector.Collect(context.Background(), View{Symbol: "BTCUSDT"})
	if len(levels) != 0 {
		t.Errorf("got %d levels from a timed-out source, want 0", len(levels))
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if failures[0].Reason != "timeout" {
		t.Errorf("failure reason = %s, want timeout", failures[0].Reason)
	}
	if !errors.Is(failures[0], context.DeadlineExceeded) {
		t.Error("timeout failure should wrap context.DeadlineExceeded")
	}
}

// TestMovingAverageSource tests SMA and EMA level emission per timeframe
func TestMovingAverageSource(t *testing.T) {
	source := &MovingAverageSource{SMAPeriods: []int{3}, Weight: 0.5}
	view := View{
		Symbol: "BTCUSDT",
		Candles: map[market.Timeframe][]market.Kline{
			market.TF5m: klinesFromCloses(1, 2, 3, 4, 5),
		},
	}

	levels, err := source.Collect(context.Background(), view)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("got %d levels, want 1", len(levels))
	}
	if levels[0].Price != 4 {
		t.Errorf("SMA level price = %v, want 4", levels[0].Price)
	}
	if levels[0].Timeframe != market.TF5m || levels[0].Weight != 0.5 || levels[0].Source != SourceMovingAverage {
		t.Errorf("level metadata = %+v, want 5m/0.5/%s", levels[0], SourceMovingAverage)
	}
}

// TestBandSource tests Bollinger edge emission
func TestBandSource(t *testing.T) {
	source := &BandSource{Period: 5, StdDev: 2, Weight: 0.5}
	view := View{
		Candles: map[market.Timeframe][]market.Kline{
			market.TF1h: klinesFromCloses(98, 99, 100, 101, 102),
		},
	}

	levels, err := source.Collect(context.Background(), view)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("got %d levels, want upper/middle/lower", len(levels))
	}

	foundMiddle := false
	for _, lvl := range levels {
		if math.Abs(lvl.Price-100) < 1e-9 {
			foundMiddle = true
		}
	}
	if !foundMiddle {
		t.Error("middle band level at 100 missing")
	}
}

// TestPivotSource tests standard plus Fibonacci pivot emission
func TestPivotSource(t *testing.T) {
	source := &PivotSource{Weight: 0.75}
	view := View{
		Candles: map[market.Timeframe][]market.Kline{
			market.TF1d: {{High: 110, Low: 90, Close: 100}},
		},
	}

	levels, err := source.Collect(context.Background(), view)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	// Two pivot families, seven levels each.
	if len(levels) != 14 {
		t.Errorf("got %d levels, want 14", len(levels))
	}
	for _, lvl := range levels {
		if lvl.Price <= 0 {
			t.Errorf("pivot level price = %v, want positive", lvl.Price)
		}
		if lvl.Timeframe != market.TF1d {
			t.Errorf("pivot level timeframe = %s, want 1d", lvl.Timeframe)
		}
	}
}

// TestSwingSource tests confirmed swing emission with the lookback floor
func TestSwingSource(t *testing.T) {
	source := &SwingSource{Lookback: 2, Weight: 1.0}

	highs := []float64{10, 11, 15, 11, 10, 9, 10}
	candles := make([]market.Kline, len(highs))
	for i, h := range highs {
		candles[i] = market.Kline{High: h, Low: 1, Close: h - 1}
	}
	view := View{
		Candles: map[market.Timeframe][]market.Kline{market.TF4h: candles},
	}

	levels, err := source.Collect(context.Background(), view)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("got %d levels, want the single swing high", len(levels))
	}
	if levels[0].Price != 15 {
		t.Errorf("swing level price = %v, want 15", levels[0].Price)
	}

	short := View{Candles: map[market.Timeframe][]market.Kline{market.TF4h: candles[:4]}}
	levels, _ = source.Collect(context.Background(), short)
	if len(levels) != 0 {
		t.Errorf("series below the lookback floor produced %d levels, want 0", len(levels))
	}
}

// TestWallSourceFromView tests wall adaptation with no provider attached
func TestWallSourceFromView(t *testing.T) {
	source := &WallSource{Weight: 1.25}
	view := View{
		Symbol: "BTCUSDT",
		Walls: []market.Wall{
			{Price: 75900, Size: 120, Side: "bid"},
			{Price: 0, Size: 10, Side: "ask"},
		},
	}

	levels, err := source.Collect(context.Background(), view)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("got %d levels, want 1 (zero-price wall skipped)", len(levels))
	}
	if levels[0].Price != 75900 || levels[0].Timeframe != market.TF5m {
		t.Errorf("wall level = %+v, want price 75900 on 5m", levels[0])
	}
}

type stubWallProvider struct {
	walls []market.Wall
	err   error
}

func (p *stubWallProvider) Walls(_ context.Context, _ string) ([]market.Wall, error) {
	return p.walls, p.err
}

// TestWallSourceProvider tests that an attached provider overrides view walls
func TestWallSourceProvider(t *testing.T) {
	provider := &stubWallProvider{walls: []market.Wall{{Price: 80000, Size: 50, Side: "ask"}}}
	source := &WallSource{Provider: provider, Weight: 1.25}

	levels, err := source.Collect(context.Background(), View{Symbol: "BTCUSDT", Walls: []market.Wall{{Price: 1}}})
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if len(levels) != 1 || levels[0].Price != 80000 {
		t.Errorf("levels = %+v, want the provider wall at 80000", levels)
	}

	source.Provider = &stubWallProvider{err: errors.New("depth feed down")}
	if _, err := source.Collect(context.Background(), View{Symbol: "BTCUSDT"}); err == nil {
		t.Error("provider failure should surface as an error")
	}
}

func klinesFromCloses(closes ...float64) []market.Kline {
	klines := make([]market.Kline, len(closes))
	for i, c := range closes {
		klines[i] = market.Kline{Open: c, High: c, Low: c, Close: c}
	}
	return klines
}

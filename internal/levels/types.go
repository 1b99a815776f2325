package levels

import (
	"context"
	"fmt"

	"sr-zone-engine/internal/market"
)

// RawLevel is one candidate price level emitted by a detector source before
// clustering.
type RawLevel struct {
	Price     float64          `json:"price"`
	Source    string           `json:"source"`
	Weight    float64          `json:"weight"`
	Timeframe market.Timeframe `json:"timeframe"`
}

// View is the market context handed to every source for one collection pass.
// Sources must treat it as read-only.
type View struct {
	Symbol    string
	LastPrice float64
	Candles   map[market.Timeframe][]market.Kline
	ATR       map[market.Timeframe]float64
	Walls     []market.Wall
}

// Source produces raw levels from one detection family. Implementations must
// respect ctx and return promptly on cancellation.
type Source interface {
	Name() string
	Collect(ctx context.Context, view View) ([]RawLevel, error)
}

// WallProvider supplies order-book liquidity walls for a symbol. The depth
// analysis itself runs outside this engine.
type WallProvider interface {
	Walls(ctx context.Context, symbol string) ([]market.Wall, error)
}

// MissingDataError reports a source that failed or timed out during a
// collection pass. The pass proceeds with the remaining sources.
type MissingDataError struct {
	Source string
	Reason string
	Err    error
}

func (e *MissingDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("level source %s unavailable (%s): %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("level source %s unavailable (%s)", e.Source, e.Reason)
}

func (e *MissingDataError) Unwrap() error {
	return e.Err
}

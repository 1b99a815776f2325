package market

import "time"

// Timeframe identifies a candle aggregation interval.
type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// AllTimeframes lists the supported timeframes from shortest to longest.
var AllTimeframes = []Timeframe{TF5m, TF15m, TF1h, TF4h, TF1d}

// Valid reports whether the timeframe is one the engine understands.
func (tf Timeframe) Valid() bool {
	switch tf {
	case TF5m, TF15m, TF1h, TF4h, TF1d:
		return true
	}
	return false
}

// Minutes returns the interval length in minutes.
func (tf Timeframe) Minutes() int {
	switch tf {
	case TF5m:
		return 5
	case TF15m:
		return 15
	case TF1h:
		return 60
	case TF4h:
		return 240
	case TF1d:
		return 1440
	}
	return 0
}

// Duration returns the interval length.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes()) * time.Minute
}

// Kline is one OHLCV candle. Times are exchange-style millisecond epochs.
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	CloseTime int64   `json:"closeTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// PriceTick is a single trade print from the live feed.
type PriceTick struct {
	Symbol   string
	Price    float64
	Quantity float64
	Time     time.Time
}

// Wall is a resting order-book liquidity cluster reported by the external
// depth analyzer. Side is "bid" or "ask".
type Wall struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Side  string  `json:"side"`
}

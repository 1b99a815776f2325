package market

import "sync"

// CandleCache holds bounded per-symbol, per-timeframe candle series fed by
// the live stream. Safe for concurrent use.
type CandleCache struct {
	mu    sync.RWMutex
	limit int
	data  map[string]map[Timeframe][]Kline
}

// NewCandleCache creates a cache keeping at most limit candles per series.
func NewCandleCache(limit int) *CandleCache {
	if limit <= 0 {
		limit = 300
	}
	return &CandleCache{
		limit: limit,
		data:  make(map[string]map[Timeframe][]Kline),
	}
}

// Append adds a closed candle to a series, evicting the oldest when the
// series is full. A candle with the same open time as the last one replaces
// it (stream refreshes of the closing candle).
func (c *CandleCache) Append(symbol string, tf Timeframe, k Kline) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byTF, ok := c.data[symbol]
	if !ok {
		byTF = make(map[Timeframe][]Kline)
		c.data[symbol] = byTF
	}

	series := byTF[tf]
	if n := len(series); n > 0 && series[n-1].OpenTime == k.OpenTime {
		series[n-1] = k
		byTF[tf] = series
		return
	}

	series = append(series, k)
	if len(series) > c.limit {
		series = series[len(series)-c.limit:]
	}
	byTF[tf] = series
}

// Seed replaces a series wholesale, keeping only the newest limit candles.
// Used for historical backfill at startup.
func (c *CandleCache) Seed(symbol string, tf Timeframe, klines []Kline) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(klines) > c.limit {
		klines = klines[len(klines)-c.limit:]
	}

	byTF, ok := c.data[symbol]
	if !ok {
		byTF = make(map[Timeframe][]Kline)
		c.data[symbol] = byTF
	}
	byTF[tf] = append([]Kline(nil), klines...)
}

// Series returns a copy of the series for the symbol and timeframe. The
// returned slice is the caller's to keep.
func (c *CandleCache) Series(symbol string, tf Timeframe) []Kline {
	c.mu.RLock()
	defer c.mu.RUnlock()

	series := c.data[symbol][tf]
	if len(series) == 0 {
		return nil
	}
	return append([]Kline(nil), series...)
}

// LastClose returns the most recent close on the shortest populated
// timeframe for the symbol, 0 when the cache is empty.
func (c *CandleCache) LastClose(symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, tf := range AllTimeframes {
		if series := c.data[symbol][tf]; len(series) > 0 {
			return series[len(series)-1].Close
		}
	}
	return 0
}

package levels

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Collector runs every registered source concurrently under a per-source
// timeout and merges their levels. A source that errors or runs out of time
// contributes nothing for that pass; the pass itself always completes.
type Collector struct {
	sources []Source
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCollector creates a collector over the given sources.
func NewCollector(sources []Source, timeout time.Duration, logger zerolog.Logger) *Collector {
	return &Collector{
		sources: sources,
		timeout: timeout,
		logger:  logger.With().Str("component", "LevelCollector").Logger(),
	}
}

// Collect gathers levels from all sources for one pass. The returned
// failures carry one MissingDataError per unavailable source.
func (c *Collector) Collect(ctx context.Context, view View) ([]RawLevel, []*MissingDataError) {
	var (
		levels   []RawLevel
		failures []*MissingDataError
		wg       sync.WaitGroup
		mu       sync.Mutex
	)

	for _, source := range c.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()

			collected, err := c.collectOne(ctx, src, view)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			levels = append(levels, collected...)
		}(source)
	}

	wg.Wait()

	for _, failure := range failures {
		c.logger.Warn().
			Str("symbol", view.Symbol).
			Str("source", failure.Source).
			Str("reason", failure.Reason).
			Msg("Level source unavailable, proceeding without it")
	}

	return levels, failures
}

// collectOne runs a single source under the collector's timeout. The source
// goroutine is abandoned if it outlives its budget; its result is discarded.
func (c *Collector) collectOne(ctx context.Context, src Source, view View) ([]RawLevel, *MissingDataError) {
	srcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		levels []RawLevel
		err    error
	}
	done := make(chan result, 1)

	go func() {
		levels, err := src.Collect(srcCtx, view)
		done <- result{levels: levels, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &MissingDataError{Source: src.Name(), Reason: "error", Err: res.err}
		}
		return res.levels, nil
	case <-srcCtx.Done():
		return nil, &MissingDataError{Source: src.Name(), Reason: "timeout", Err: srcCtx.Err()}
	}
}

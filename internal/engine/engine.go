package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sr-zone-engine/internal/events"
	"sr-zone-engine/internal/levels"
	"sr-zone-engine/internal/market"
	"sr-zone-engine/internal/metrics"
	"sr-zone-engine/internal/regime"
	"sr-zone-engine/internal/risk"
	"sr-zone-engine/internal/store"
	"sr-zone-engine/internal/zones"
)

// ErrStaleEvaluation reports that the zone state changed while a signal was
// being evaluated. The partial result is discarded; the caller may retry
// against the fresh state.
var ErrStaleEvaluation = errors.New("evaluation superseded by concurrent zone state change")

// Settings configures the evaluation loop and regime computation.
type Settings struct {
	Symbols            []string
	EvaluationInterval time.Duration
	TacticalTimeframe  market.Timeframe
	ATRPeriod          int
	TrendSMAShort      int
	TrendSMALong       int
	Thresholds         regime.Thresholds
}

// Deps are the engine's collaborators. Writer, Bus and Recorder are
// optional.
type Deps struct {
	Collector  *levels.Collector
	Tracker    *zones.Tracker
	Scorer     *zones.Scorer
	Calculator *risk.Calculator
	Writer     *store.Writer
	Cache      *market.CandleCache
	Cluster    zones.ClusterSettings
	Bus        *events.EventBus
	Recorder   *metrics.Recorder
	Logger     zerolog.Logger
}

// Engine drives the periodic evaluation cycle for every configured symbol
// and answers signal evaluations against the current zone state.
type Engine struct {
	settings Settings
	logger   zerolog.Logger

	collector  *levels.Collector
	tracker    *zones.Tracker
	scorer     *zones.Scorer
	calculator *risk.Calculator
	writer     *store.Writer
	cache      *market.CandleCache
	cluster    zones.ClusterSettings
	bus        *events.EventBus
	recorder   *metrics.Recorder

	// Built once in New and read-only afterwards.
	windows map[string]*market.TickWindow

	mu            sync.RWMutex
	lastRegime    map[string]regime.Status
	trendOverride map[string]market.TrendDirection
	lastCycle     time.Time

	cycles atomic.Uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. The tracker should already carry any reloaded
// state; Start launches its run loop.
func New(settings Settings, deps Deps) (*Engine, error) {
	if len(settings.Symbols) == 0 {
		return nil, fmt.Errorf("engine needs at least one symbol")
	}
	if deps.Collector == nil || deps.Tracker == nil || deps.Scorer == nil || deps.Calculator == nil || deps.Cache == nil {
		return nil, fmt.Errorf("engine is missing a required dependency")
	}
	if settings.EvaluationInterval <= 0 {
		settings.EvaluationInterval = 30 * time.Second
	}
	if settings.TacticalTimeframe == "" {
		settings.TacticalTimeframe = market.TF5m
	}
	if settings.ATRPeriod <= 0 {
		settings.ATRPeriod = 14
	}

	windows := make(map[string]*market.TickWindow, len(settings.Symbols))
	for _, symbol := range settings.Symbols {
		windows[symbol] = market.NewTickWindow(5 * time.Minute)
	}

	return &Engine{
		settings:      settings,
		logger:        deps.Logger.With().Str("component", "engine").Logger(),
		collector:     deps.Collector,
		tracker:       deps.Tracker,
		scorer:        deps.Scorer,
		calculator:    deps.Calculator,
		writer:        deps.Writer,
		cache:         deps.Cache,
		cluster:       deps.Cluster,
		bus:           deps.Bus,
		recorder:      deps.Recorder,
		windows:       windows,
		lastRegime:    make(map[string]regime.Status, len(settings.Symbols)),
		trendOverride: make(map[string]market.TrendDirection),
	}, nil
}

// Start launches the tracker run loop and the evaluation loop.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tracker.Run(runCtx)
	}()

	e.wg.Add(1)
	go e.runCycleLoop(runCtx)

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:      events.EventEngineStarted,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"symbols": e.settings.Symbols},
		})
	}
	e.logger.Info().
		Strs("symbols", e.settings.Symbols).
		Dur("interval", e.settings.EvaluationInterval).
		Msg("engine started")
}

// Stop halts the loops and waits for them to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:      events.EventEngineStopped,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"cycles": e.cycles.Load()},
		})
	}
	e.logger.Info().Msg("engine stopped")
}

// OnTick feeds a live trade print into the tracker and the volatility
// window. Never blocks.
func (e *Engine) OnTick(tick market.PriceTick) {
	w, ok := e.windows[tick.Symbol]
	if !ok {
		return
	}
	w.Add(tick)
	e.tracker.OnTick(tick)
}

// OnKline feeds a closed candle into the cache and the tracker.
func (e *Engine) OnKline(symbol string, tf market.Timeframe, k market.Kline) {
	if _, ok := e.windows[symbol]; !ok {
		return
	}
	e.cache.Append(symbol, tf, k)
	e.tracker.OnCandle(symbol, tf, k)
}

// SetTrend installs an externally supplied trend direction for a symbol,
// overriding the internal moving-average estimate.
func (e *Engine) SetTrend(symbol string, trend market.TrendDirection) {
	e.mu.Lock()
	e.trendOverride[symbol] = trend
	e.mu.Unlock()
}

// Symbols returns the configured symbols.
func (e *Engine) Symbols() []string {
	out := make([]string, len(e.settings.Symbols))
	copy(out, e.settings.Symbols)
	return out
}

// ScoredSnapshot returns a deep copy of the symbol's zones with strength
// scores applied.
func (e *Engine) ScoredSnapshot(symbol string) (zones.Snapshot, bool) {
	if _, ok := e.windows[symbol]; !ok {
		return zones.Snapshot{}, false
	}

	snap := e.tracker.Snapshot(symbol)
	for _, z := range snap.Zones {
		e.scorer.Apply(z)
	}
	return *snap, true
}

// RegimeStatus classifies the symbol's market regime from the freshest
// observations.
func (e *Engine) RegimeStatus(symbol string) (regime.Status, bool) {
	if _, ok := e.windows[symbol]; !ok {
		return regime.Status{}, false
	}
	return e.computeRegime(symbol), true
}

// EvaluateSignal turns an entry signal into risk parameters against the
// current zone state, publishing the decision or its rejection. A stale
// result is discarded without events.
func (e *Engine) EvaluateSignal(ctx context.Context, sig risk.Signal) (*risk.Parameters, error) {
	params, err := e.evaluate(ctx, sig, 0)
	if err != nil {
		if errors.Is(err, ErrStaleEvaluation) {
			return nil, err
		}
		var boundsErr *risk.InvalidRiskBoundsError
		if errors.As(err, &boundsErr) {
			if e.bus != nil {
				e.bus.PublishDecisionRejected(sig.Symbol, string(sig.Direction), boundsErr.Reason)
			}
			e.recorder.RecordDecision(sig.Symbol, "rejected")
			e.recorder.RecordRejection(boundsErr.Reason)
		}
		return nil, err
	}

	if e.bus != nil {
		e.bus.PublishDecisionMade(sig.Symbol, params.DecisionID, string(sig.Direction),
			params.StopLossPrice, params.TakeProfitPrice, params.PositionSizeMult, params.RiskReward)
	}
	e.recorder.RecordDecision(sig.Symbol, "accepted")
	return params, nil
}

// PreviewSignal evaluates a signal without publishing anything. entry of 0
// means the symbol's last traded price. A stale evaluation is retried once.
func (e *Engine) PreviewSignal(ctx context.Context, sig risk.Signal, entry float64) (*risk.Parameters, error) {
	params, err := e.evaluate(ctx, sig, entry)
	if errors.Is(err, ErrStaleEvaluation) {
		params, err = e.evaluate(ctx, sig, entry)
	}
	return params, err
}

// Status reports engine-wide counters for the status API.
func (e *Engine) Status() map[string]interface{} {
	e.mu.RLock()
	lastCycle := e.lastCycle
	e.mu.RUnlock()

	perSymbol := make(map[string]interface{}, len(e.settings.Symbols))
	for _, symbol := range e.settings.Symbols {
		snap := e.tracker.Snapshot(symbol)
		perSymbol[symbol] = map[string]interface{}{
			"zones":      len(snap.Zones),
			"version":    snap.Version,
			"last_price": snap.LastPrice,
		}
	}

	status := map[string]interface{}{
		"symbols":       e.settings.Symbols,
		"cycles":        e.cycles.Load(),
		"dropped_ticks": e.tracker.DroppedTicks(),
		"zones":         perSymbol,
	}
	if !lastCycle.IsZero() {
		status["last_cycle"] = lastCycle.Format(time.RFC3339)
	}
	if e.writer != nil {
		status["persist_drops"] = e.writer.Dropped()
		status["persist_failures"] = e.writer.Failed()
	}
	return status
}

func (e *Engine) runCycleLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.settings.EvaluationInterval)
	defer ticker.Stop()

	e.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			e.runCycle(ctx)
		case <-ctx.Done():
			e.logger.Info().Msg("evaluation loop stopped")
			return
		}
	}
}

// runCycle evaluates every symbol concurrently. A cycle has the evaluation
// interval as its deadline so a stuck source cannot stack cycles up.
func (e *Engine) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, e.settings.EvaluationInterval)
	defer cancel()

	var wg sync.WaitGroup
	for _, symbol := range e.settings.Symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			e.evaluateSymbol(cycleCtx, sym)
		}(symbol)
	}
	wg.Wait()

	count := e.cycles.Add(1)
	e.mu.Lock()
	e.lastCycle = time.Now()
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:      events.EventCycleCompleted,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"cycle": count},
		})
	}
}

// evaluateSymbol runs one collection, clustering and reconciliation pass
// for a symbol, then refreshes scores, persistence and the regime.
func (e *Engine) evaluateSymbol(ctx context.Context, symbol string) {
	start := time.Now()

	view := e.buildView(symbol)
	if len(view.Candles[e.settings.TacticalTimeframe]) == 0 {
		e.logger.Debug().Str("symbol", symbol).Msg("no candle history yet, skipping cycle")
		return
	}

	raw, failures := e.collector.Collect(ctx, view)
	for _, f := range failures {
		e.recorder.RecordSourceFailure(f.Source)
	}
	perSource := make(map[string]int)
	for _, lvl := range raw {
		perSource[lvl.Source]++
	}
	for src, n := range perSource {
		e.recorder.RecordLevels(src, n)
	}

	atr := view.ATR[e.settings.TacticalTimeframe]
	clustered := zones.Cluster(symbol, raw, atr, time.Now(), e.cluster)

	result, err := e.tracker.ApplyClusters(ctx, symbol, clustered, atr)
	if err != nil {
		e.logger.Warn().Err(err).Str("symbol", symbol).Msg("cluster apply aborted")
		return
	}

	if e.bus != nil {
		for _, z := range result.Created {
			e.bus.PublishZoneCreated(symbol, z.ID, z.PriceCenter, string(z.Tier))
		}
		for _, z := range result.Expired {
			e.bus.PublishZoneExpired(symbol, z.ID, z.PriceCenter, z.MissedCycles)
		}
	}

	snap := e.tracker.Snapshot(symbol)
	for _, z := range snap.Zones {
		e.scorer.Apply(z)
	}
	e.recorder.SetActiveZones(symbol, len(snap.Zones))
	if e.writer != nil {
		e.writer.Enqueue(symbol, snap.Zones)
	}

	e.refreshRegime(symbol)

	e.recorder.RecordCycle(symbol, time.Since(start).Seconds())
	e.logger.Debug().
		Str("symbol", symbol).
		Int("raw_levels", len(raw)).
		Int("zones", len(snap.Zones)).
		Int("created", len(result.Created)).
		Int("expired", len(result.Expired)).
		Dur("took", time.Since(start)).
		Msg("evaluation cycle complete")
}

// evaluate is the shared signal evaluation core. It snapshots, scores,
// classifies and calculates, then discards the result if the zone state
// moved underneath it.
func (e *Engine) evaluate(ctx context.Context, sig risk.Signal, entry float64) (*risk.Parameters, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := e.windows[sig.Symbol]; !ok {
		return nil, fmt.Errorf("unknown symbol: %s", sig.Symbol)
	}
	if sig.Direction != regime.Long && sig.Direction != regime.Short {
		return nil, fmt.Errorf("invalid direction: %s", sig.Direction)
	}

	snap := e.tracker.Snapshot(sig.Symbol)
	version := snap.Version

	if entry <= 0 {
		entry = snap.LastPrice
	}
	if entry <= 0 {
		entry = e.cache.LastClose(sig.Symbol)
	}
	if entry <= 0 {
		return nil, fmt.Errorf("no market data for %s", sig.Symbol)
	}

	var resistances, supports []*zones.Zone
	for _, z := range snap.Zones {
		e.scorer.Apply(z)
		switch {
		case z.PriceCenter > entry:
			resistances = append(resistances, z)
		case z.PriceCenter < entry:
			supports = append(supports, z)
		}
	}
	sort.Slice(resistances, func(i, j int) bool {
		return resistances[i].DistanceFrom(entry) < resistances[j].DistanceFrom(entry)
	})
	sort.Slice(supports, func(i, j int) bool {
		return supports[i].DistanceFrom(entry) < supports[j].DistanceFrom(entry)
	})

	status := e.computeRegime(sig.Symbol)

	params, err := e.calculator.Calculate(risk.Input{
		Signal:      sig,
		Entry:       entry,
		Condition:   status.Condition,
		Resistances: resistances,
		Supports:    supports,
	})

	if e.tracker.Version(sig.Symbol) != version {
		return nil, ErrStaleEvaluation
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

// buildView assembles the per-timeframe market context for one collection
// pass.
func (e *Engine) buildView(symbol string) levels.View {
	candles := make(map[market.Timeframe][]market.Kline, len(market.AllTimeframes))
	atr := make(map[market.Timeframe]float64, len(market.AllTimeframes))
	for _, tf := range market.AllTimeframes {
		series := e.cache.Series(symbol, tf)
		if len(series) == 0 {
			continue
		}
		candles[tf] = series
		atr[tf] = market.CalculateATR(series, e.settings.ATRPeriod)
	}

	last := 0.0
	if w, ok := e.windows[symbol]; ok {
		if tick, found := w.Last(); found {
			last = tick.Price
		}
	}
	if last == 0 {
		last = e.cache.LastClose(symbol)
	}

	return levels.View{
		Symbol:    symbol,
		LastPrice: last,
		Candles:   candles,
		ATR:       atr,
	}
}

// computeRegime classifies the symbol from the tactical candle series and
// the live tick window.
func (e *Engine) computeRegime(symbol string) regime.Status {
	series := e.cache.Series(symbol, e.settings.TacticalTimeframe)
	hourLookback := 60 / e.settings.TacticalTimeframe.Minutes()

	change := market.PriceChange(series, hourLookback)

	vol := 0.0
	if w, ok := e.windows[symbol]; ok {
		vol = w.Volatility()
	}
	if vol == 0 {
		vol = market.ReturnVolatility(series, hourLookback)
	}

	trend := e.trendFor(symbol)
	cond := regime.Classify(regime.Inputs{
		PriceChange1h: change,
		Volatility5m:  vol,
		Trend:         trend,
	}, e.settings.Thresholds)

	return regime.Status{
		Symbol:        symbol,
		Condition:     cond,
		PriceChange1h: change,
		Volatility5m:  vol,
		Trend:         trend,
		Extreme:       cond != regime.Normal,
		UpdatedAt:     time.Now(),
	}
}

func (e *Engine) trendFor(symbol string) market.TrendDirection {
	e.mu.RLock()
	trend, ok := e.trendOverride[symbol]
	e.mu.RUnlock()
	if ok {
		return trend
	}
	return market.DetermineTrend(e.cache.Series(symbol, market.TF1h),
		e.settings.TrendSMAShort, e.settings.TrendSMALong)
}

// refreshRegime re-classifies after a cycle and publishes a transition if
// the condition moved.
func (e *Engine) refreshRegime(symbol string) {
	status := e.computeRegime(symbol)

	e.mu.Lock()
	prev, had := e.lastRegime[symbol]
	e.lastRegime[symbol] = status
	e.mu.Unlock()

	if had && prev.Condition != status.Condition {
		e.logger.Info().
			Str("symbol", symbol).
			Str("from", string(prev.Condition)).
			Str("to", string(status.Condition)).
			Float64("price_change_1h", status.PriceChange1h).
			Float64("volatility_5m", status.Volatility5m).
			Msg("market regime changed")
		if e.bus != nil {
			e.bus.PublishRegimeChanged(symbol, string(prev.Condition), string(status.Condition))
		}
		e.recorder.RecordRegimeChange(symbol, string(status.Condition))
	}
}

package zones

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sr-zone-engine/internal/events"
	"sr-zone-engine/internal/market"
)

// TrackerSettings tune touch detection and history bookkeeping.
type TrackerSettings struct {
	TacticalTimeframe    market.Timeframe
	TouchATRFactor       float64
	TouchHistoryLimit    int
	FollowThroughCandles int
	VolumeLookback       int
	GraceCycles          int
}

// Snapshot is a consistent, immutable copy of one symbol's zone state.
// Version changes whenever the underlying state mutates; consumers compare
// it afterwards to detect staleness.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Zones     []*Zone   `json:"zones"`
	ATR       float64   `json:"atr"`
	LastPrice float64   `json:"last_price"`
	Version   uint64    `json:"version"`
	TakenAt   time.Time `json:"taken_at"`
}

// Tracker owns all zone state. A single Run goroutine consumes ticks,
// closed candles and cluster results and is the sole mutator; everyone else
// reads deep-copied snapshots taken under a short-held lock.
type Tracker struct {
	settings TrackerSettings
	logger   zerolog.Logger
	bus      *events.EventBus

	tickCh    chan market.PriceTick
	candleCh  chan candleMsg
	clusterCh chan clustersMsg

	mu      sync.RWMutex
	symbols map[string]*symbolState

	droppedTicks atomic.Uint64
}

type candleMsg struct {
	symbol string
	tf     market.Timeframe
	kline  market.Kline
}

type clustersMsg struct {
	symbol string
	zones  []*Zone
	atr    float64
	done   chan ReconcileResult
}

type symbolState struct {
	zones     []*Zone
	atr       float64
	lastPrice float64
	version   uint64
	open      map[string]*openTouch
	awaiting  []awaitingTouch
	pending   []pendingTouch
	volumes   []float64
}

// openTouch tracks price while it sits inside a zone's touch band.
type openTouch struct {
	started time.Time
	side    float64 // +1 entered from above the center, -1 from below
	extreme float64 // deepest penetration toward or past the center
}

// awaitingTouch is a completed band visit waiting for its candle to close so
// the candle-shaped sub-scores can be computed.
type awaitingTouch struct {
	zoneID     string
	center     float64
	touchTime  time.Time
	touchPrice float64
	exitSide   float64 // +1 price left upward, -1 downward
}

// pendingTouch is a recorded touch waiting for follow-through confirmation.
type pendingTouch struct {
	zoneID      string
	touchID     string
	center      float64
	exitSide    float64
	candlesLeft int
}

// NewTracker creates a tracker. The bus may be nil (no events published).
func NewTracker(settings TrackerSettings, bus *events.EventBus, logger zerolog.Logger) *Tracker {
	if settings.TacticalTimeframe == "" {
		settings.TacticalTimeframe = market.TF5m
	}
	return &Tracker{
		settings:  settings,
		logger:    logger.With().Str("component", "ZoneTracker").Logger(),
		bus:       bus,
		tickCh:    make(chan market.PriceTick, 1024),
		candleCh:  make(chan candleMsg, 64),
		clusterCh: make(chan clustersMsg),
		symbols:   make(map[string]*symbolState),
	}
}

// Run is the single-writer loop. It returns when ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	t.logger.Info().Msg("Zone tracker started")
	for {
		select {
		case tick := <-t.tickCh:
			t.handleTick(tick)
		case msg := <-t.candleCh:
			t.handleCandle(msg)
		case msg := <-t.clusterCh:
			msg.done <- t.handleClusters(msg)
		case <-ctx.Done():
			t.logger.Info().Msg("Zone tracker stopped")
			return
		}
	}
}

// OnTick enqueues a live tick. Ticks are dropped, never blocked on, when the
// queue is full.
func (t *Tracker) OnTick(tick market.PriceTick) {
	select {
	case t.tickCh <- tick:
	default:
		t.droppedTicks.Add(1)
	}
}

// OnCandle enqueues a closed candle.
func (t *Tracker) OnCandle(symbol string, tf market.Timeframe, k market.Kline) {
	t.candleCh <- candleMsg{symbol: symbol, tf: tf, kline: k}
}

// ApplyClusters hands a freshly clustered zone set to the run loop, which
// reconciles it against current state. Ownership of the zones transfers to
// the tracker. Blocks until the loop has applied them or ctx is cancelled.
func (t *Tracker) ApplyClusters(ctx context.Context, symbol string, zones []*Zone, atr float64) (ReconcileResult, error) {
	msg := clustersMsg{symbol: symbol, zones: zones, atr: atr, done: make(chan ReconcileResult, 1)}

	select {
	case t.clusterCh <- msg:
	case <-ctx.Done():
		return ReconcileResult{}, ctx.Err()
	}

	select {
	case result := <-msg.done:
		return result, nil
	case <-ctx.Done():
		return ReconcileResult{}, ctx.Err()
	}
}

// Snapshot returns a deep copy of the symbol's zone state.
func (t *Tracker) Snapshot(symbol string) *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := &Snapshot{Symbol: symbol, TakenAt: time.Now()}
	st, ok := t.symbols[symbol]
	if !ok {
		return snap
	}

	snap.ATR = st.atr
	snap.LastPrice = st.lastPrice
	snap.Version = st.version
	snap.Zones = make([]*Zone, len(st.zones))
	for i, z := range st.zones {
		snap.Zones[i] = z.Clone()
	}
	return snap
}

// Version returns the current state version for the symbol.
func (t *Tracker) Version(symbol string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st, ok := t.symbols[symbol]; ok {
		return st.version
	}
	return 0
}

// SeedState installs reloaded zone state. Call before Run starts.
func (t *Tracker) SeedState(state map[string][]*Zone) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for symbol, zs := range state {
		st := t.ensureStateLocked(symbol)
		st.zones = zs
		sortZones(st.zones)
		st.version++
	}
}

// DroppedTicks reports how many ticks were shed under load.
func (t *Tracker) DroppedTicks() uint64 {
	return t.droppedTicks.Load()
}

func (t *Tracker) handleTick(tick market.PriceTick) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.ensureStateLocked(tick.Symbol)
	st.lastPrice = tick.Price

	band := st.atr * t.settings.TouchATRFactor
	if band <= 0 {
		return
	}

	for _, zone := range st.zones {
		dist := math.Abs(tick.Price - zone.PriceCenter)
		open, isOpen := st.open[zone.ID]

		switch {
		case dist < band && !isOpen:
			side := 1.0
			if tick.Price < zone.PriceCenter {
				side = -1.0
			}
			st.open[zone.ID] = &openTouch{started: tick.Time, side: side, extreme: tick.Price}

		case dist < band && isOpen:
			// Track the deepest penetration toward or past the center.
			if open.side > 0 && tick.Price < open.extreme {
				open.extreme = tick.Price
			} else if open.side < 0 && tick.Price > open.extreme {
				open.extreme = tick.Price
			}

		case dist >= band && isOpen:
			exitSide := 1.0
			if tick.Price < zone.PriceCenter {
				exitSide = -1.0
			}
			st.awaiting = append(st.awaiting, awaitingTouch{
				zoneID:     zone.ID,
				center:     zone.PriceCenter,
				touchTime:  open.started,
				touchPrice: open.extreme,
				exitSide:   exitSide,
			})
			delete(st.open, zone.ID)
		}
	}
}

func (t *Tracker) handleCandle(msg candleMsg) {
	if msg.tf != t.settings.TacticalTimeframe {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.ensureStateLocked(msg.symbol)
	k := msg.kline

	avgVolume := 0.0
	if len(st.volumes) > 0 {
		sum := 0.0
		for _, v := range st.volumes {
			sum += v
		}
		avgVolume = sum / float64(len(st.volumes))
	}

	mutated := false

	// Score band visits completed during this candle.
	for _, visit := range st.awaiting {
		zone := findZone(st.zones, visit.zoneID)
		if zone == nil || st.atr <= 0 {
			continue
		}

		record := t.scoreTouch(visit, k, st.atr, avgVolume)
		zone.TouchHistory = append(zone.TouchHistory, record)
		if len(zone.TouchHistory) > t.settings.TouchHistoryLimit {
			zone.TouchHistory = zone.TouchHistory[len(zone.TouchHistory)-t.settings.TouchHistoryLimit:]
		}
		zone.UpdatedAt = closeTimeOf(k)

		st.pending = append(st.pending, pendingTouch{
			zoneID:      visit.zoneID,
			touchID:     record.ID,
			center:      visit.center,
			exitSide:    visit.exitSide,
			candlesLeft: t.settings.FollowThroughCandles,
		})
		mutated = true

		if t.bus != nil {
			t.bus.PublishZoneTouch(msg.symbol, visit.zoneID, visit.touchPrice, record.RejectionStrength)
		}
	}
	st.awaiting = st.awaiting[:0]

	// Confirm follow-through for touches whose window just elapsed.
	remaining := st.pending[:0]
	for _, p := range st.pending {
		p.candlesLeft--
		if p.candlesLeft > 0 {
			remaining = append(remaining, p)
			continue
		}
		if t.confirmFollowThrough(st, p, k.Close) {
			mutated = true
		}
	}
	st.pending = remaining

	st.volumes = append(st.volumes, k.Volume)
	if len(st.volumes) > t.settings.VolumeLookback {
		st.volumes = st.volumes[len(st.volumes)-t.settings.VolumeLookback:]
	}

	if mutated {
		st.version++
	}
}

// scoreTouch computes the candle-shaped sub-scores for a completed band
// visit. Each sub-score is capped at 2.5; follow-through starts at zero and
// is confirmed later.
func (t *Tracker) scoreTouch(visit awaitingTouch, k market.Kline, atr, avgVolume float64) TouchRecord {
	body := math.Abs(k.Close - k.Open)
	if floor := atr * 0.01; body < floor {
		body = floor
	}

	var wick float64
	if visit.exitSide < 0 {
		wick = k.High - math.Max(k.Open, k.Close)
	} else {
		wick = math.Min(k.Open, k.Close) - k.Low
	}
	wickScore := subScore(wick / body * 1.25)

	volumeScore := 0.0
	if avgVolume > 0 {
		volumeScore = subScore((k.Volume/avgVolume - 1.0) * 1.25)
	}

	bounceScore := subScore(math.Abs(k.Close-visit.touchPrice) / atr * 1.25)

	record := TouchRecord{
		ID:          uuid.New().String(),
		Time:        visit.touchTime,
		Price:       visit.touchPrice,
		WickScore:   wickScore,
		VolumeScore: volumeScore,
		BounceScore: bounceScore,
	}
	record.RejectionStrength = math.Min(10, wickScore+volumeScore+bounceScore)
	return record
}

// confirmFollowThrough finalizes a touch record once its confirmation window
// has elapsed. Reports whether state changed.
func (t *Tracker) confirmFollowThrough(st *symbolState, p pendingTouch, close float64) bool {
	zone := findZone(st.zones, p.zoneID)
	if zone == nil || st.atr <= 0 {
		return false
	}

	for i := range zone.TouchHistory {
		if zone.TouchHistory[i].ID != p.touchID {
			continue
		}
		ft := p.exitSide * (close - p.center) / st.atr
		record := &zone.TouchHistory[i]
		record.FollowThroughScore = subScore(ft * 1.25)
		record.RejectionStrength = math.Min(10,
			record.WickScore+record.VolumeScore+record.BounceScore+record.FollowThroughScore)
		record.Confirmed = true
		return true
	}
	return false
}

func (t *Tracker) handleClusters(msg clustersMsg) ReconcileResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.ensureStateLocked(msg.symbol)
	if msg.atr > 0 {
		st.atr = msg.atr
	}

	result := Reconcile(st.zones, msg.zones, t.settings.GraceCycles)
	st.zones = result.Zones
	st.version++

	// Drop in-flight touch state attached to zones that no longer exist.
	alive := make(map[string]bool, len(st.zones))
	for _, z := range st.zones {
		alive[z.ID] = true
	}
	for id := range st.open {
		if !alive[id] {
			delete(st.open, id)
		}
	}
	keptAwaiting := st.awaiting[:0]
	for _, a := range st.awaiting {
		if alive[a.zoneID] {
			keptAwaiting = append(keptAwaiting, a)
		}
	}
	st.awaiting = keptAwaiting
	keptPending := st.pending[:0]
	for _, p := range st.pending {
		if alive[p.zoneID] {
			keptPending = append(keptPending, p)
		}
	}
	st.pending = keptPending

	return result
}

func (t *Tracker) ensureStateLocked(symbol string) *symbolState {
	st, ok := t.symbols[symbol]
	if !ok {
		st = &symbolState{open: make(map[string]*openTouch)}
		t.symbols[symbol] = st
	}
	return st
}

func subScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2.5 {
		return 2.5
	}
	return v
}

func findZone(zones []*Zone, id string) *Zone {
	for _, z := range zones {
		if z.ID == id {
			return z
		}
	}
	return nil
}

func sortZones(zones []*Zone) {
	sort.Slice(zones, func(i, j int) bool { return zones[i].PriceCenter < zones[j].PriceCenter })
}

func closeTimeOf(k market.Kline) time.Time {
	if k.CloseTime > 0 {
		return time.UnixMilli(k.CloseTime)
	}
	return time.Now()
}

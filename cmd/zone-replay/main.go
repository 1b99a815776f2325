package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"sr-zone-engine/config"
	"sr-zone-engine/internal/levels"
	"sr-zone-engine/internal/logging"
	"sr-zone-engine/internal/market"
	"sr-zone-engine/internal/regime"
	"sr-zone-engine/internal/risk"
	"sr-zone-engine/internal/zones"
)

// replayFile is a recorded candle set for one symbol, produced by any
// exporter that writes the exchange kline fields as JSON.
type replayFile struct {
	Symbol  string                              `json:"symbol"`
	Candles map[market.Timeframe][]market.Kline `json:"candles"`
	Walls   []market.Wall                       `json:"walls,omitempty"`
}

func main() {
	filePath := flag.String("file", "", "recorded candle JSON file")
	configPath := flag.String("config", "config.json", "config file path")
	cycleEvery := flag.Int("cycle-every", 12, "tactical candles between evaluation cycles")
	preview := flag.String("preview", "", "risk preview direction after replay (LONG or SHORT)")
	entry := flag.Float64("entry", 0, "preview entry price (default: last close)")
	flag.Parse()

	if *filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	godotenv.Load()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := logging.New(cfg.LoggingConfig)
	if err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	rec, err := readReplayFile(*filePath)
	if err != nil {
		log.Fatalf("read replay file: %v", err)
	}

	tactical := rec.Candles[market.TF5m]
	if len(tactical) == 0 {
		log.Fatalf("replay file has no %s candles", market.TF5m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := zones.NewTracker(zones.TrackerSettings{
		TacticalTimeframe:    market.TF5m,
		TouchATRFactor:       cfg.ZonesConfig.TouchATRFactor,
		TouchHistoryLimit:    cfg.ZonesConfig.TouchHistoryLimit,
		FollowThroughCandles: cfg.ZonesConfig.FollowThroughCandles,
		VolumeLookback:       cfg.ZonesConfig.VolumeLookback,
		GraceCycles:          cfg.ZonesConfig.GraceCycles,
	}, nil, logger)
	go tracker.Run(ctx)

	collector := levels.NewCollector(buildSources(cfg, rec.Walls), cfg.LevelsConfig.SourceTimeout, logger)
	scorer := zones.NewScorer(zones.ScoreSettings{
		StrongThreshold:  cfg.ScoringConfig.StrongThreshold,
		MediumThreshold:  cfg.ScoringConfig.MediumThreshold,
		MinTouchesScored: cfg.ScoringConfig.MinTouchesScored,
	})
	clusterSettings := zones.ClusterSettings{
		MergeATRFactor:    cfg.ZonesConfig.MergeATRFactor,
		MinMergeRadiusPct: cfg.ZonesConfig.MinMergeRadiusPct,
		GraceCycles:       cfg.ZonesConfig.GraceCycles,
		Tiers:             zones.NewTierMap(cfg.ZonesConfig.MajorTimeframes, cfg.ZonesConfig.IntermediateTfs),
	}

	fmt.Println("============================================================")
	fmt.Printf(" Zone replay: %s (%d tactical candles)\n", rec.Symbol, len(tactical))
	fmt.Println("============================================================")

	cycles := 0
	for i, k := range tactical {
		// Ticks walk open to extremes to close so band entries and
		// exits arrive in a plausible order.
		for _, price := range tickWalk(k) {
			tracker.OnTick(market.PriceTick{
				Symbol:   rec.Symbol,
				Price:    price,
				Quantity: k.Volume / 4,
				Time:     time.UnixMilli(k.CloseTime),
			})
		}
		// Give the run loop a moment to drain the ticks before the
		// candle closes the visit.
		time.Sleep(time.Millisecond)
		tracker.OnCandle(rec.Symbol, market.TF5m, k)

		if (i+1)%*cycleEvery != 0 && i != len(tactical)-1 {
			continue
		}

		view := viewAt(rec, k.CloseTime, cfg.EngineConfig.ATRPeriod)
		raw, failures := collector.Collect(ctx, view)
		for _, f := range failures {
			logger.Warn().Str("source", f.Source).Str("reason", f.Reason).Msg("source unavailable during replay")
		}

		clustered := zones.Cluster(rec.Symbol, raw, view.ATR[market.TF5m], time.UnixMilli(k.CloseTime), clusterSettings)
		if _, err := tracker.ApplyClusters(ctx, rec.Symbol, clustered, view.ATR[market.TF5m]); err != nil {
			log.Fatalf("apply clusters: %v", err)
		}
		cycles++
	}

	// The final candle may still be queued behind the last cluster pass.
	time.Sleep(10 * time.Millisecond)

	snap := tracker.Snapshot(rec.Symbol)
	for _, z := range snap.Zones {
		scorer.Apply(z)
	}
	sort.Slice(snap.Zones, func(i, j int) bool {
		return snap.Zones[i].PriceCenter > snap.Zones[j].PriceCenter
	})

	fmt.Printf("\nCycles run: %d   Final price: %.2f   ATR(%s): %.2f\n\n",
		cycles, snap.LastPrice, market.TF5m, snap.ATR)
	if len(snap.Zones) == 0 {
		fmt.Println("No zones survived the replay.")
		return
	}
	fmt.Printf("%-13s %12s %7s %8s %8s %7s  %s\n",
		"TIER", "CENTER", "SCORE", "CLASS", "TOUCHES", "CONFL", "ID")
	for _, z := range snap.Zones {
		fmt.Printf("%-13s %12.2f %7.2f %8s %8d %7d  %s\n",
			z.Tier, z.PriceCenter, z.StrengthScore, scorer.StrengthTierFor(z.StrengthScore),
			len(z.TouchHistory), z.ConfluenceCount, z.ID)
	}

	cond, trend := classifyEnd(cfg, rec)
	fmt.Printf("\nRegime: %s   Trend(1h): %s\n", cond, trend)

	if *preview != "" {
		runPreview(cfg, snap, cond, strings.ToUpper(*preview), *entry, logger)
	}
}

func readReplayFile(path string) (*replayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec := &replayFile{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if rec.Symbol == "" {
		return nil, fmt.Errorf("%s: missing symbol", path)
	}
	for tf := range rec.Candles {
		if !tf.Valid() {
			return nil, fmt.Errorf("%s: unsupported timeframe %q", path, tf)
		}
	}
	return rec, nil
}

func buildSources(cfg *config.Config, walls []market.Wall) []levels.Source {
	weights := cfg.LevelsConfig.SourceWeights
	sources := []levels.Source{
		&levels.MovingAverageSource{
			SMAPeriods: cfg.LevelsConfig.SMAPeriods,
			EMAPeriods: cfg.LevelsConfig.EMAPeriods,
			Weight:     weights.MovingAverage,
		},
		&levels.BandSource{
			Period: cfg.LevelsConfig.BandPeriod,
			StdDev: cfg.LevelsConfig.BandStdDev,
			Weight: weights.Band,
		},
		&levels.PivotSource{Weight: weights.Pivot},
		&levels.SwingSource{
			Lookback: cfg.LevelsConfig.SwingLookback,
			Weight:   weights.Swing,
		},
	}
	// Walls ride along in the view when the recording includes them.
	if len(walls) > 0 {
		sources = append(sources, &levels.WallSource{Weight: weights.Wall})
	}
	return sources
}

// tickWalk orders a candle's prices the way the move most plausibly
// unfolded: toward the adverse extreme first on the way to the close.
func tickWalk(k market.Kline) []float64 {
	if k.Close >= k.Open {
		return []float64{k.Open, k.Low, k.High, k.Close}
	}
	return []float64{k.Open, k.High, k.Low, k.Close}
}

// viewAt builds the collector view as of one tactical candle close,
// truncating every series to candles already closed by then.
func viewAt(rec *replayFile, cutoff int64, atrPeriod int) levels.View {
	view := levels.View{
		Symbol:  rec.Symbol,
		Candles: make(map[market.Timeframe][]market.Kline),
		ATR:     make(map[market.Timeframe]float64),
		Walls:   rec.Walls,
	}
	for tf, series := range rec.Candles {
		n := 0
		for _, k := range series {
			if k.CloseTime > cutoff {
				break
			}
			n++
		}
		if n == 0 {
			continue
		}
		prefix := series[:n]
		view.Candles[tf] = prefix
		view.ATR[tf] = market.CalculateATR(prefix, atrPeriod)
		if tf == market.TF5m {
			view.LastPrice = prefix[n-1].Close
		}
	}
	return view
}

func classifyEnd(cfg *config.Config, rec *replayFile) (regime.Condition, market.TrendDirection) {
	tactical := rec.Candles[market.TF5m]
	hourLookback := 60 / market.TF5m.Minutes()

	trend := market.DetermineTrend(rec.Candles[market.TF1h],
		cfg.RegimeConfig.TrendSMAShort, cfg.RegimeConfig.TrendSMALong)
	cond := regime.Classify(regime.Inputs{
		PriceChange1h: market.PriceChange(tactical, hourLookback),
		Volatility5m:  market.ReturnVolatility(tactical, hourLookback),
		Trend:         trend,
	}, regime.Thresholds{
		ExtremeMove: cfg.RegimeConfig.ExtremeMoveThreshold,
		ExtremeVol:  cfg.RegimeConfig.ExtremeVolThreshold,
	})
	return cond, trend
}

func runPreview(cfg *config.Config, snap *zones.Snapshot,
	cond regime.Condition, direction string, entry float64, logger zerolog.Logger) {

	dir := regime.Direction(direction)
	if dir != regime.Long && dir != regime.Short {
		log.Fatalf("preview direction must be LONG or SHORT, got %q", direction)
	}
	if entry <= 0 {
		entry = snap.LastPrice
	}
	if entry <= 0 {
		log.Fatalf("no entry price available for preview")
	}

	var resistances, supports []*zones.Zone
	for _, z := range snap.Zones {
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

	calculator := risk.NewCalculator(risk.Settings{
		TPBufferPct:       cfg.RiskConfig.TPBufferPct,
		SLBufferPct:       cfg.RiskConfig.SLBufferPct,
		FallbackTPPct:     cfg.RiskConfig.FallbackTPPct,
		FallbackSLPct:     cfg.RiskConfig.FallbackSLPct,
		MinSLPct:          cfg.RiskConfig.MinSLPct,
		MaxSLPct:          cfg.RiskConfig.MaxSLPct,
		MinTPPct:          cfg.RiskConfig.MinTPPct,
		MaxTPPct:          cfg.RiskConfig.MaxTPPct,
		MinPositionMult:   cfg.RiskConfig.MinPositionMult,
		MaxPositionMult:   cfg.RiskConfig.MaxPositionMult,
		CounterTrendCap:   cfg.RiskConfig.CounterTrendCap,
		AlignedTPMult:     cfg.RiskConfig.AlignedTPMult,
		CounterTPMult:     cfg.RiskConfig.CounterTPMult,
		CounterSLMult:     cfg.RiskConfig.CounterSLMult,
		CounterPosMult:    cfg.RiskConfig.CounterPosMult,
		VolatilePosMult:   cfg.RiskConfig.VolatilePosMult,
		MinRRNormal:       cfg.RiskConfig.MinRRNormal,
		MinRRTrendAligned: cfg.RiskConfig.MinRRTrendAligned,
		StrongThreshold:   cfg.ScoringConfig.StrongThreshold,
		MediumThreshold:   cfg.ScoringConfig.MediumThreshold,
	}, logger)

	params, err := calculator.Calculate(risk.Input{
		Signal:      risk.Signal{Symbol: snap.Symbol, Direction: dir, Confidence: 0.75},
		Entry:       entry,
		Condition:   cond,
		Resistances: resistances,
		Supports:    supports,
	})
	if err != nil {
		fmt.Printf("\nPreview %s @ %.2f rejected: %v\n", dir, entry, err)
		return
	}

	fmt.Printf("\nPreview %s @ %.2f\n", dir, entry)
	fmt.Printf("  Stop loss:   %.2f (%.2f%%, %s)\n", params.StopLossPrice, params.StopLossPct*100, params.StopLossType)
	fmt.Printf("  Take profit: %.2f (%.2f%%, %s)\n", params.TakeProfitPrice, params.TakeProfitPct*100, params.TakeProfitType)
	fmt.Printf("  Position:    x%.2f   R:R %.2f\n", params.PositionSizeMult, params.RiskReward)
}

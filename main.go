package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sr-zone-engine/config"
	"sr-zone-engine/internal/api"
	"sr-zone-engine/internal/engine"
	"sr-zone-engine/internal/events"
	"sr-zone-engine/internal/levels"
	"sr-zone-engine/internal/logging"
	"sr-zone-engine/internal/market"
	"sr-zone-engine/internal/metrics"
	"sr-zone-engine/internal/regime"
	"sr-zone-engine/internal/risk"
	"sr-zone-engine/internal/secrets"
	"sr-zone-engine/internal/store"
	"sr-zone-engine/internal/stream"
	"sr-zone-engine/internal/zones"
)

func main() {
	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "generate-config" {
		if err := config.GenerateSampleConfig("config.sample.json"); err != nil {
			log.Fatalf("Failed to write sample config: %v", err)
		}
		log.Println("Wrote config.sample.json")
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.New(cfg.LoggingConfig)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger.Info().Strs("symbols", cfg.EngineConfig.Symbols).Msg("Configuration loaded")

	// Initialize event bus
	eventBus := events.NewEventBus()

	// Initialize Prometheus metrics
	var recorder *metrics.Recorder
	if cfg.MetricsConfig.Enabled {
		recorder = metrics.New()
	}

	// Root context governs every background loop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the zone-state store and restore whatever survived the last run.
	st, err := store.Open(ctx, store.Config{
		Backend:   cfg.StoreConfig.Backend,
		FilePath:  cfg.StoreConfig.FilePath,
		BucketPct: cfg.StoreConfig.BucketPct,
		Redis: store.RedisOptions{
			Addr:     cfg.StoreConfig.Redis.Addr,
			Password: cfg.StoreConfig.Redis.Password,
			DB:       cfg.StoreConfig.Redis.DB,
			TTL:      cfg.StoreConfig.Redis.TTL,
		},
		Postgres: store.PostgresOptions{
			Host:     cfg.StoreConfig.Postgres.Host,
			Port:     cfg.StoreConfig.Postgres.Port,
			User:     cfg.StoreConfig.Postgres.User,
			Password: cfg.StoreConfig.Postgres.Password,
			Database: cfg.StoreConfig.Postgres.Database,
			SSLMode:  cfg.StoreConfig.Postgres.SSLMode,
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open zone state store")
	}

	state, err := st.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not restore persisted zone state, starting fresh")
		state = nil
	}

	// Zone tracker owns all zone state.
	tracker := zones.NewTracker(zones.TrackerSettings{
		TacticalTimeframe:    market.TF5m,
		TouchATRFactor:       cfg.ZonesConfig.TouchATRFactor,
		TouchHistoryLimit:    cfg.ZonesConfig.TouchHistoryLimit,
		FollowThroughCandles: cfg.ZonesConfig.FollowThroughCandles,
		VolumeLookback:       cfg.ZonesConfig.VolumeLookback,
		GraceCycles:          cfg.ZonesConfig.GraceCycles,
	}, eventBus, logger)
	if len(state) > 0 {
		tracker.SeedState(state)
		logger.Info().Int("symbols", len(state)).Msg("Restored persisted zone state")
	}

	// Async persistence writer between the evaluation loop and the store.
	writer := store.NewWriter(st, cfg.StoreConfig.QueueSize, cfg.StoreConfig.MaxRetries, eventBus, logger)
	if recorder != nil {
		writer.SetHooks(recorder.RecordPersistDrop, recorder.RecordPersistFailure)
	}
	writer.Start()

	// Level sources feed the collector. Order-book walls need an external
	// depth provider, so the live loop runs without that source.
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
	collector := levels.NewCollector(sources, cfg.LevelsConfig.SourceTimeout, logger)

	scorer := zones.NewScorer(zones.ScoreSettings{
		StrongThreshold:  cfg.ScoringConfig.StrongThreshold,
		MediumThreshold:  cfg.ScoringConfig.MediumThreshold,
		MinTouchesScored: cfg.ScoringConfig.MinTouchesScored,
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

	cache := market.NewCandleCache(cfg.EngineConfig.CandleHistory)

	// Evaluation engine ties collection, clustering, tracking, scoring,
	// regime classification and persistence together.
	eng, err := engine.New(engine.Settings{
		Symbols:            cfg.EngineConfig.Symbols,
		EvaluationInterval: cfg.EngineConfig.EvaluationInterval,
		TacticalTimeframe:  market.TF5m,
		ATRPeriod:          cfg.EngineConfig.ATRPeriod,
		TrendSMAShort:      cfg.RegimeConfig.TrendSMAShort,
		TrendSMALong:       cfg.RegimeConfig.TrendSMALong,
		Thresholds: regime.Thresholds{
			ExtremeMove: cfg.RegimeConfig.ExtremeMoveThreshold,
			ExtremeVol:  cfg.RegimeConfig.ExtremeVolThreshold,
		},
	}, engine.Deps{
		Collector:  collector,
		Tracker:    tracker,
		Scorer:     scorer,
		Calculator: calculator,
		Writer:     writer,
		Cache:      cache,
		Cluster: zones.ClusterSettings{
			MergeATRFactor:    cfg.ZonesConfig.MergeATRFactor,
			MinMergeRadiusPct: cfg.ZonesConfig.MinMergeRadiusPct,
			GraceCycles:       cfg.ZonesConfig.GraceCycles,
			Tiers:             zones.NewTierMap(cfg.ZonesConfig.MajorTimeframes, cfg.ZonesConfig.IntermediateTfs),
		},
		Bus:      eventBus,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build evaluation engine")
	}

	// Feed credentials come from Vault when enabled. Public combined
	// streams work unauthenticated, so a fetch failure only warns.
	feedKey := ""
	if cfg.FeedConfig.UseVault {
		vault, err := secrets.NewClient(cfg.VaultConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize vault client")
		}
		creds, err := vault.FeedCredentials(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Feed credentials unavailable, connecting unauthenticated")
		} else {
			feedKey = creds.APIKey
			logger.Info().Msg("Feed credentials loaded")
		}
	}

	// Market data stream.
	intervals := make([]market.Timeframe, 0, len(cfg.FeedConfig.KlineIntervals))
	for _, raw := range cfg.FeedConfig.KlineIntervals {
		tf := market.Timeframe(raw)
		if !tf.Valid() {
			logger.Fatal().Str("interval", raw).Msg("Unsupported kline interval in feed config")
		}
		intervals = append(intervals, tf)
	}
	client := stream.NewClient(stream.Settings{
		BaseURL:      cfg.FeedConfig.WSBaseURL,
		Symbols:      cfg.EngineConfig.Symbols,
		Intervals:    intervals,
		PingInterval: cfg.FeedConfig.PingInterval,
		ReconnectMax: cfg.FeedConfig.ReconnectMax,
		APIKey:       feedKey,
	}, logger)
	client.SetTickCallback(eng.OnTick)
	client.SetKlineCallback(eng.OnKline)
	if recorder != nil {
		client.SetReconnectCallback(recorder.RecordStreamReconnect)
	}

	// HTTP API for zone, regime and risk-preview queries.
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(api.ServerConfig{
			Host:           cfg.ServerConfig.Host,
			Port:           cfg.ServerConfig.Port,
			AllowedOrigins: strings.Split(cfg.ServerConfig.AllowedOrigins, ","),
			ProductionMode: cfg.ServerConfig.ProductionMode,
			MetricsEnabled: cfg.MetricsConfig.Enabled,
			MetricsPath:    cfg.MetricsConfig.Path,
		}, eng, logger)

		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal().Err(err).Msg("API server failed")
			}
		}()
		logger.Info().Str("host", cfg.ServerConfig.Host).Int("port", cfg.ServerConfig.Port).Msg("API server listening")
	}

	// Start the evaluation loops before the stream so the first candles
	// land on a running tracker.
	eng.Start(ctx)
	if err := client.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start market data stream")
	}

	logger.Info().
		Strs("symbols", cfg.EngineConfig.Symbols).
		Dur("interval", cfg.EngineConfig.EvaluationInterval).
		Str("store", cfg.StoreConfig.Backend).
		Msg("Zone engine running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the stream first so no new data races the drain, then the
	// engine, then flush persistence.
	client.Stop()
	cancel()
	eng.Stop()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown error")
		}
	}

	if err := writer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Persistence writer shutdown error")
	}
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("Store close error")
	}

	logger.Info().Msg("Shutdown complete")
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadDefaults tests that a missing config file yields the documented
// defaults
func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if len(cfg.EngineConfig.Symbols) != 1 || cfg.EngineConfig.Symbols[0] != "BTCUSDT" {
		t.Errorf("Symbols = %v, want [BTCUSDT]", cfg.EngineConfig.Symbols)
	}
	if cfg.EngineConfig.EvaluationInterval != 30*time.Second {
		t.Errorf("EvaluationInterval = %v, want 30s", cfg.EngineConfig.EvaluationInterval)
	}
	if cfg.EngineConfig.ATRPeriod != 14 {
		t.Errorf("ATRPeriod = %d, want 14", cfg.EngineConfig.ATRPeriod)
	}
	if cfg.ZonesConfig.MergeATRFactor != 0.5 {
		t.Errorf("MergeATRFactor = %v, want 0.5", cfg.ZonesConfig.MergeATRFactor)
	}
	if cfg.ZonesConfig.TouchHistoryLimit != 20 {
		t.Errorf("TouchHistoryLimit = %d, want 20", cfg.ZonesConfig.TouchHistoryLimit)
	}
	if got := cfg.ZonesConfig.MajorTimeframes; len(got) != 2 || got[0] != "4h" || got[1] != "1d" {
		t.Errorf("MajorTimeframes = %v, want [4h 1d]", got)
	}
	if cfg.ScoringConfig.StrongThreshold != 7.5 || cfg.ScoringConfig.MediumThreshold != 5.0 {
		t.Errorf("score thresholds = %v/%v, want 7.5/5.0",
			cfg.ScoringConfig.StrongThreshold, cfg.ScoringConfig.MediumThreshold)
	}
	if cfg.RegimeConfig.ExtremeMoveThreshold != 0.03 {
		t.Errorf("ExtremeMoveThreshold = %v, want 0.03", cfg.RegimeConfig.ExtremeMoveThreshold)
	}
	if cfg.RiskConfig.FallbackTPPct != 0.03 || cfg.RiskConfig.FallbackSLPct != 0.02 {
		t.Errorf("fallback pcts = %v/%v, want 0.03/0.02",
			cfg.RiskConfig.FallbackTPPct, cfg.RiskConfig.FallbackSLPct)
	}
	if cfg.RiskConfig.AlignedTPMult != 2.5 {
		t.Errorf("AlignedTPMult = %v, want 2.5", cfg.RiskConfig.AlignedTPMult)
	}
	if cfg.RiskConfig.MinRRTrendAligned != 1.5 {
		t.Errorf("MinRRTrendAligned = %v, want 1.5", cfg.RiskConfig.MinRRTrendAligned)
	}
	if cfg.StoreConfig.Backend != "file" || cfg.StoreConfig.QueueSize != 256 {
		t.Errorf("store = %s/%d, want file/256", cfg.StoreConfig.Backend, cfg.StoreConfig.QueueSize)
	}
	if cfg.LevelsConfig.SourceWeights.Wall != 1.25 {
		t.Errorf("wall weight = %v, want 1.25", cfg.LevelsConfig.SourceWeights.Wall)
	}
}

// TestLoadFromFileOverrides tests config file values overlaying the defaults
func TestLoadFromFileOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"engine": {"symbols": ["ADAUSDT"], "candle_history": 500},
		"risk": {"fallback_tp_pct": 0.05},
		"server": {"port": 9000}
	}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if len(cfg.EngineConfig.Symbols) != 1 || cfg.EngineConfig.Symbols[0] != "ADAUSDT" {
		t.Errorf("Symbols = %v, want [ADAUSDT]", cfg.EngineConfig.Symbols)
	}
	if cfg.EngineConfig.CandleHistory != 500 {
		t.Errorf("CandleHistory = %d, want 500", cfg.EngineConfig.CandleHistory)
	}
	if cfg.RiskConfig.FallbackTPPct != 0.05 {
		t.Errorf("FallbackTPPct = %v, want 0.05", cfg.RiskConfig.FallbackTPPct)
	}
	if cfg.ServerConfig.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.ServerConfig.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.ZonesConfig.MergeATRFactor != 0.5 {
		t.Errorf("MergeATRFactor = %v, want default 0.5", cfg.ZonesConfig.MergeATRFactor)
	}
	if cfg.RiskConfig.FallbackSLPct != 0.02 {
		t.Errorf("FallbackSLPct = %v, want default 0.02", cfg.RiskConfig.FallbackSLPct)
	}
}

// TestLoadEnvOverrides tests environment variables winning over the file
func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"engine": {"symbols": ["ADAUSDT"]}, "store": {"backend": "file"}}`)

	t.Setenv("ENGINE_SYMBOLS", "ETHUSDT, SOLUSDT")
	t.Setenv("ENGINE_EVAL_INTERVAL", "1m")
	t.Setenv("ZONES_TOUCH_ATR_FACTOR", "0.45")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	want := []string{"ETHUSDT", "SOLUSDT"}
	if len(cfg.EngineConfig.Symbols) != 2 || cfg.EngineConfig.Symbols[0] != want[0] || cfg.EngineConfig.Symbols[1] != want[1] {
		t.Errorf("Symbols = %v, want %v", cfg.EngineConfig.Symbols, want)
	}
	if cfg.EngineConfig.EvaluationInterval != time.Minute {
		t.Errorf("EvaluationInterval = %v, want 1m", cfg.EngineConfig.EvaluationInterval)
	}
	if cfg.ZonesConfig.TouchATRFactor != 0.45 {
		t.Errorf("TouchATRFactor = %v, want 0.45", cfg.ZonesConfig.TouchATRFactor)
	}
	if cfg.StoreConfig.Backend != "redis" {
		t.Errorf("Backend = %s, want redis", cfg.StoreConfig.Backend)
	}
	if cfg.ServerConfig.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.ServerConfig.Port)
	}
}

// TestLoadRejectsMalformedFile tests the parse error path
func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `{not json`)

	if _, err := LoadFrom(path); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("err = %v, want parse failure", err)
	}
}

// TestLoadValidation tests rejected configurations
func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "stop bounds inverted",
			body: `{"risk": {"max_sl_pct": 0.004}}`,
			want: "max_sl_pct",
		},
		{
			name: "target bounds inverted",
			body: `{"risk": {"max_tp_pct": 0.004}}`,
			want: "max_tp_pct",
		},
		{
			name: "unknown store backend",
			body: `{"store": {"backend": "dynamo"}}`,
			want: "validate config",
		},
		{
			name: "no symbols",
			body: `{"engine": {"symbols": []}}`,
			want: "validate config",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			_, err := LoadFrom(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

// TestGenerateSampleConfig tests that the generated sample loads cleanly
func TestGenerateSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig failed: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("generated sample does not load: %v", err)
	}
	if len(cfg.EngineConfig.Symbols) != 1 || cfg.EngineConfig.Symbols[0] != "BTCUSDT" {
		t.Errorf("Symbols = %v, want [BTCUSDT]", cfg.EngineConfig.Symbols)
	}
}

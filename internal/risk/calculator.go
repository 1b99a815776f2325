package risk

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sr-zone-engine/internal/regime"
	"sr-zone-engine/internal/zones"
)

// Settings hold every tunable of the calculator. Buffers, fallbacks and
// bounds are fractions of the entry price (0.001 = 0.1%).
type Settings struct {
	TPBufferPct   float64
	SLBufferPct   float64
	FallbackTPPct float64
	FallbackSLPct float64

	MinSLPct float64
	MaxSLPct float64
	MinTPPct float64
	MaxTPPct float64

	MinPositionMult float64
	MaxPositionMult float64
	CounterTrendCap float64

	AlignedTPMult   float64
	CounterTPMult   float64
	CounterSLMult   float64
	CounterPosMult  float64
	VolatilePosMult float64

	MinRRNormal       float64
	MinRRTrendAligned float64

	StrongThreshold float64
	MediumThreshold float64
}

// Calculator derives stop-loss, take-profit and position sizing for a signal
// from scored zones and the market regime. Calculate is side-effect free.
type Calculator struct {
	settings Settings
	logger   zerolog.Logger
}

// NewCalculator creates a calculator.
func NewCalculator(settings Settings, logger zerolog.Logger) *Calculator {
	return &Calculator{
		settings: settings,
		logger:   logger.With().Str("component", "RiskCalculator").Logger(),
	}
}

// Input is everything one decision needs. Resistances sit above the entry
// and supports below it, both sorted nearest-first by distance from entry,
// with strength scores already applied.
type Input struct {
	Signal      Signal
	Entry       float64
	Condition   regime.Condition
	Resistances []*zones.Zone
	Supports    []*zones.Zone
}

// target is an intermediate stop or take-profit pick before bounding.
type target struct {
	distance float64
	kind     TargetType
	zoneID   string
	note     string
}

// Calculate produces risk parameters for the signal, or an
// InvalidRiskBoundsError when the achievable risk:reward is below the regime
// minimum. The hard bounds are applied last and always win.
func (c *Calculator) Calculate(in Input) (*Parameters, error) {
	if in.Entry <= 0 {
		return nil, fmt.Errorf("invalid entry price %.8f for %s", in.Entry, in.Signal.Symbol)
	}
	if in.Signal.Direction != regime.Long && in.Signal.Direction != regime.Short {
		return nil, fmt.Errorf("invalid signal direction %q for %s", in.Signal.Direction, in.Signal.Symbol)
	}

	aligned := regime.Aligned(in.Condition, in.Signal.Direction)
	counter := regime.CounterTrend(in.Condition, in.Signal.Direction)

	profitZones := in.Resistances
	stopZones := in.Supports
	if in.Signal.Direction == regime.Short {
		profitZones = in.Supports
		stopZones = in.Resistances
	}

	reasoning := "Risk parameters (" + string(in.Condition) + " " + string(in.Signal.Direction) + "): "

	tp := c.selectTakeProfit(in.Entry, profitZones, aligned)
	sl := c.selectStopLoss(in.Entry, stopZones)
	reasoning += tp.note + "; " + sl.note + "; "

	// Regime multipliers on the raw distances. The aligned boost applies to
	// the percentage fallback only: an SR-derived target already is the
	// selected stronger zone, and pushing past it would defeat zone
	// anchoring. The counter-trend reductions tighten both paths.
	if aligned && tp.kind == TargetFallbackPct {
		tp.distance *= c.settings.AlignedTPMult
		reasoning += "trend-aligned -> TP x" + formatFloat(c.settings.AlignedTPMult) + "; "
	}
	if counter {
		tp.distance *= c.settings.CounterTPMult
		sl.distance *= c.settings.CounterSLMult
		reasoning += "counter-trend -> TP x" + formatFloat(c.settings.CounterTPMult) +
			", SL x" + formatFloat(c.settings.CounterSLMult) + "; "
	}

	// Hard bounds, always last.
	tp.distance = clamp(tp.distance, in.Entry*c.settings.MinTPPct, in.Entry*c.settings.MaxTPPct)
	sl.distance = clamp(sl.distance, in.Entry*c.settings.MinSLPct, in.Entry*c.settings.MaxSLPct)

	positionMult := c.positionMultiplier(in.Condition, counter, &reasoning)

	riskReward := tp.distance / sl.distance
	minRR := c.settings.MinRRNormal
	if aligned {
		minRR = c.settings.MinRRTrendAligned
	}
	if riskReward < minRR {
		reason := "sr_structure_unfavorable"
		if tp.kind == TargetFallbackPct && sl.kind == TargetFallbackPct {
			reason = "fallback_rr_below_minimum"
		}
		c.logger.Debug().
			Str("symbol", in.Signal.Symbol).
			Float64("risk_reward", riskReward).
			Float64("required", minRR).
			Msg("Decision rejected on risk:reward")
		return nil, &InvalidRiskBoundsError{RiskReward: riskReward, Required: minRR, Reason: reason}
	}

	var slPrice, tpPrice float64
	if in.Signal.Direction == regime.Long {
		slPrice = in.Entry - sl.distance
		tpPrice = in.Entry + tp.distance
	} else {
		slPrice = in.Entry + sl.distance
		tpPrice = in.Entry - tp.distance
	}

	slPct := sl.distance / in.Entry
	tpPct := tp.distance / in.Entry
	reasoning += "final SL " + formatPercent(slPct*100) + ", TP " + formatPercent(tpPct*100) +
		", R:R " + formatFloat(riskReward)

	return &Parameters{
		DecisionID:       uuid.New().String(),
		Symbol:           in.Signal.Symbol,
		Direction:        in.Signal.Direction,
		Condition:        in.Condition,
		Entry:            in.Entry,
		StopLossPrice:    slPrice,
		TakeProfitPrice:  tpPrice,
		StopLossType:     sl.kind,
		TakeProfitType:   tp.kind,
		StopLossZoneID:   sl.zoneID,
		TakeProfitZoneID: tp.zoneID,
		StopLossPct:      slPct,
		TakeProfitPct:    tpPct,
		PositionSizeMult: positionMult,
		RiskReward:       riskReward,
		Reasoning:        reasoning,
	}, nil
}

// selectTakeProfit picks the target zone in the profit direction. Normally
// the nearest zone wins; when the signal rides an extreme trend, the nearest
// STRONG or MEDIUM zone beyond the very nearest is preferred, then the
// second-nearest, so winners are allowed to run to real structure.
func (c *Calculator) selectTakeProfit(entry float64, profitZones []*zones.Zone, aligned bool) target {
	if len(profitZones) == 0 {
		return target{
			distance: entry * c.settings.FallbackTPPct,
			kind:     TargetFallbackPct,
			note:     "no target zones, TP fallback " + formatPercent(c.settings.FallbackTPPct*100),
		}
	}

	chosen := profitZones[0]
	if aligned && len(profitZones) > 1 {
		chosen = profitZones[1]
		for _, z := range profitZones[1:] {
			tier := c.strengthTier(z.StrengthScore)
			if tier == zones.StrengthStrong || tier == zones.StrengthMedium {
				chosen = z
				break
			}
		}
	}

	buffered := c.bufferedTowardEntry(entry, chosen.PriceCenter, c.settings.TPBufferPct)
	distance := buffered - entry
	if entry > chosen.PriceCenter {
		distance = entry - buffered
	}

	return target{
		distance: distance,
		kind:     TargetSRLevel,
		zoneID:   chosen.ID,
		note: "TP from " + string(c.strengthTier(chosen.StrengthScore)) + " zone " +
			formatFloat(chosen.PriceCenter),
	}
}

// selectStopLoss mirrors the target pick on the opposing side: the nearest
// opposing zone, buffered beyond it away from the entry.
func (c *Calculator) selectStopLoss(entry float64, stopZones []*zones.Zone) target {
	if len(stopZones) == 0 {
		return target{
			distance: entry * c.settings.FallbackSLPct,
			kind:     TargetFallbackPct,
			note:     "no stop zones, SL fallback " + formatPercent(c.settings.FallbackSLPct*100),
		}
	}

	chosen := stopZones[0]
	buffered := c.bufferedAwayFromEntry(entry, chosen.PriceCenter, c.settings.SLBufferPct)
	distance := entry - buffered
	if chosen.PriceCenter > entry {
		distance = buffered - entry
	}

	return target{
		distance: distance,
		kind:     TargetSRLevel,
		zoneID:   chosen.ID,
		note: "SL beyond " + string(c.strengthTier(chosen.StrengthScore)) + " zone " +
			formatFloat(chosen.PriceCenter),
	}
}

// bufferedTowardEntry shifts a zone price a small fraction toward the entry
// so targets sit just in front of the zone.
func (c *Calculator) bufferedTowardEntry(entry, zonePrice, buffer float64) float64 {
	if zonePrice > entry {
		return zonePrice * (1 - buffer)
	}
	return zonePrice * (1 + buffer)
}

// bufferedAwayFromEntry shifts a zone price a small fraction away from the
// entry so stops sit just behind the zone.
func (c *Calculator) bufferedAwayFromEntry(entry, zonePrice, buffer float64) float64 {
	if zonePrice < entry {
		return zonePrice * (1 - buffer)
	}
	return zonePrice * (1 + buffer)
}

func (c *Calculator) positionMultiplier(condition regime.Condition, counter bool, reasoning *string) float64 {
	mult := 1.0

	if counter {
		mult *= c.settings.CounterPosMult
		*reasoning += "counter-trend -> position x" + formatFloat(c.settings.CounterPosMult) + "; "
	}
	if condition == regime.ExtremeVolatile {
		mult *= c.settings.VolatilePosMult
		*reasoning += "volatile -> position x" + formatFloat(c.settings.VolatilePosMult) + "; "
	}

	mult = clamp(mult, c.settings.MinPositionMult, c.settings.MaxPositionMult)
	if counter && mult > c.settings.CounterTrendCap {
		mult = c.settings.CounterTrendCap
	}
	return mult
}

func (c *Calculator) strengthTier(score float64) zones.StrengthTier {
	switch {
	case score >= c.settings.StrongThreshold:
		return zones.StrengthStrong
	case score >= c.settings.MediumThreshold:
		return zones.StrengthMedium
	default:
		return zones.StrengthWeak
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64) + "%"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

package risk

import (
	"fmt"

	"sr-zone-engine/internal/regime"
)

// TargetType records where a stop or target price came from.
type TargetType string

const (
	TargetSRLevel     TargetType = "SR_LEVEL"
	TargetFallbackPct TargetType = "FALLBACK_PCT"
)

// Signal is an upstream trade intent the engine prices risk for.
type Signal struct {
	Symbol     string           `json:"symbol"`
	Direction  regime.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
}

// Parameters is a complete per-decision risk output.
type Parameters struct {
	DecisionID       string           `json:"decision_id"`
	Symbol           string           `json:"symbol"`
	Direction        regime.Direction `json:"direction"`
	Condition        regime.Condition `json:"condition"`
	Entry            float64          `json:"entry"`
	StopLossPrice    float64          `json:"stop_loss_price"`
	TakeProfitPrice  float64          `json:"take_profit_price"`
	StopLossType     TargetType       `json:"stop_loss_type"`
	TakeProfitType   TargetType       `json:"take_profit_type"`
	StopLossZoneID   string           `json:"stop_loss_zone_id,omitempty"`
	TakeProfitZoneID string           `json:"take_profit_zone_id,omitempty"`
	StopLossPct      float64          `json:"stop_loss_pct"`
	TakeProfitPct    float64          `json:"take_profit_pct"`
	PositionSizeMult float64          `json:"position_size_mult"`
	RiskReward       float64          `json:"risk_reward"`
	Reasoning        string           `json:"reasoning"`
}

// InvalidRiskBoundsError rejects a decision whose risk:reward falls below
// the regime minimum. The decision is discarded; the engine keeps running.
type InvalidRiskBoundsError struct {
	RiskReward float64
	Required   float64
	Reason     string
}

func (e *InvalidRiskBoundsError) Error() string {
	return fmt.Sprintf("risk bounds rejected: R:R %.2f below required %.2f (%s)",
		e.RiskReward, e.Required, e.Reason)
}

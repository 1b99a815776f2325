package zones

import (
	"math"
	"time"

	"sr-zone-engine/internal/levels"
	"sr-zone-engine/internal/market"
)

// Tier ranks a zone by the heaviest timeframe among its members.
type Tier string

const (
	TierMajor        Tier = "MAJOR"
	TierIntermediate Tier = "INTERMEDIATE"
	TierMinor        Tier = "MINOR"
)

// StrengthTier buckets a strength score for risk decisions.
type StrengthTier string

const (
	StrengthStrong StrengthTier = "STRONG"
	StrengthMedium StrengthTier = "MEDIUM"
	StrengthWeak   StrengthTier = "WEAK"
)

// TouchRecord captures one completed interaction between price and a zone.
// RejectionStrength is the capped sum of the four sub-scores.
type TouchRecord struct {
	ID                 string    `json:"id"`
	Time               time.Time `json:"time"`
	Price              float64   `json:"price"`
	WickScore          float64   `json:"wick_score"`
	VolumeScore        float64   `json:"volume_score"`
	BounceScore        float64   `json:"bounce_score"`
	FollowThroughScore float64   `json:"follow_through_score"`
	RejectionStrength  float64   `json:"rejection_strength"`
	Confirmed          bool      `json:"confirmed"`
}

// Zone is a cluster of raw levels with a stable identity and an interaction
// history. Instances handed out by the tracker are copies; the tracker's own
// zones are only mutated on its run loop.
type Zone struct {
	ID              string            `json:"id"`
	Symbol          string            `json:"symbol"`
	PriceCenter     float64           `json:"price_center"`
	MergeRadius     float64           `json:"merge_radius"`
	Members         []levels.RawLevel `json:"members"`
	Tier            Tier              `json:"tier"`
	ConfluenceCount int               `json:"confluence_count"`
	StrengthScore   float64           `json:"strength_score"`
	LowConfidence   bool              `json:"low_confidence"`
	TouchHistory    []TouchRecord     `json:"touch_history"`
	MissedCycles    int               `json:"missed_cycles"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// DistanceFrom returns the absolute distance between the zone center and a
// price.
func (z *Zone) DistanceFrom(price float64) float64 {
	return math.Abs(z.PriceCenter - price)
}

// Clone returns a deep copy safe to hand outside the tracker.
func (z *Zone) Clone() *Zone {
	cp := *z
	cp.Members = append([]levels.RawLevel(nil), z.Members...)
	cp.TouchHistory = append([]TouchRecord(nil), z.TouchHistory...)
	return &cp
}

// TierMap resolves a timeframe to the zone tier it contributes.
type TierMap map[market.Timeframe]Tier

// NewTierMap builds the timeframe-to-tier mapping; timeframes named in
// neither list rank as MINOR.
func NewTierMap(major, intermediate []string) TierMap {
	m := make(TierMap, len(major)+len(intermediate))
	for _, tf := range major {
		m[market.Timeframe(tf)] = TierMajor
	}
	for _, tf := range intermediate {
		m[market.Timeframe(tf)] = TierIntermediate
	}
	return m
}

// TierFor returns the tier a single timeframe maps to.
func (m TierMap) TierFor(tf market.Timeframe) Tier {
	if tier, ok := m[tf]; ok {
		return tier
	}
	return TierMinor
}

// DominantTier returns the highest tier among the member timeframes.
func (m TierMap) DominantTier(members []levels.RawLevel) Tier {
	best := TierMinor
	for _, member := range members {
		switch m.TierFor(member.Timeframe) {
		case TierMajor:
			return TierMajor
		case TierIntermediate:
			best = TierIntermediate
		}
	}
	return best
}

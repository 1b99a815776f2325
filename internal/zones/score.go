package zones

import (
	"errors"
	"fmt"
)

// InsufficientHistoryError reports a zone whose touch history is too thin for
// a confident quality estimate. Scoring recovers by marking the zone
// low-confidence; the error never fails a cycle.
type InsufficientHistoryError struct {
	ZoneID  string
	Touches int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("zone %s has %d touches, not enough for confident scoring", e.ZoneID, e.Touches)
}

// ScoreSettings tune strength scoring and tier thresholds.
type ScoreSettings struct {
	StrongThreshold  float64
	MediumThreshold  float64
	MinTouchesScored int
}

// Breakdown is the component view of one zone's strength score.
type Breakdown struct {
	Base            float64 `json:"base"`
	TouchQuality    float64 `json:"touch_quality"`
	TierWeight      float64 `json:"tier_weight"`
	ConfluenceBonus float64 `json:"confluence_bonus"`
	Total           float64 `json:"total"`
	LowConfidence   bool    `json:"low_confidence"`
}

// Scorer computes zone strength on the 0-10 scale.
type Scorer struct {
	settings ScoreSettings
}

// NewScorer creates a scorer.
func NewScorer(settings ScoreSettings) *Scorer {
	return &Scorer{settings: settings}
}

// Score computes the strength breakdown for a zone without mutating it.
func (s *Scorer) Score(z *Zone) Breakdown {
	b := Breakdown{
		Base:            s.baseWeight(z),
		TierWeight:      tierWeight(z.Tier),
		ConfluenceBonus: confluenceBonus(z.ConfluenceCount),
	}

	quality, err := s.TouchQuality(z)
	b.TouchQuality = quality
	if err != nil {
		var insufficient *InsufficientHistoryError
		if errors.As(err, &insufficient) {
			b.LowConfidence = true
		}
	}

	b.Total = clamp(b.Base+b.TouchQuality+b.TierWeight+b.ConfluenceBonus, 0, 10)
	return b
}

// Apply scores the zone and stores the result on it. Intended for snapshot
// copies, never for tracker-owned zones.
func (s *Scorer) Apply(z *Zone) Breakdown {
	b := s.Score(z)
	z.StrengthScore = b.Total
	z.LowConfidence = b.LowConfidence
	return b
}

// StrengthTierFor buckets a score into STRONG, MEDIUM or WEAK.
func (s *Scorer) StrengthTierFor(score float64) StrengthTier {
	switch {
	case score >= s.settings.StrongThreshold:
		return StrengthStrong
	case score >= s.settings.MediumThreshold:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

// baseWeight sums the member source weights, capped at 3.
func (s *Scorer) baseWeight(z *Zone) float64 {
	sum := 0.0
	for _, member := range z.Members {
		sum += member.Weight
	}
	return clamp(sum, 0, 3)
}

// TouchQuality maps the touch history onto the 0-3 quality component. The
// average rejection strength is scaled to the component range and shaped by
// a touch-count factor: very few touches are unproven, very many mean the
// zone is being ground down rather than defended. An empty history scores
// the neutral mid value. Histories below the configured minimum also return
// an InsufficientHistoryError alongside the value.
func (s *Scorer) TouchQuality(z *Zone) (float64, error) {
	touches := len(z.TouchHistory)
	if touches == 0 {
		return 1.5, &InsufficientHistoryError{ZoneID: z.ID, Touches: 0}
	}

	sum := 0.0
	for _, touch := range z.TouchHistory {
		sum += touch.RejectionStrength
	}
	avg := sum / float64(touches)

	quality := clamp(avg/10*3*touchCountFactor(touches), 0, 3)

	if touches < s.settings.MinTouchesScored {
		return quality, &InsufficientHistoryError{ZoneID: z.ID, Touches: touches}
	}
	return quality, nil
}

func touchCountFactor(touches int) float64 {
	switch {
	case touches <= 1:
		return 0.8
	case touches <= 3:
		return 1.0
	case touches <= 5:
		return 0.9
	default:
		return 0.7
	}
}

func tierWeight(tier Tier) float64 {
	switch tier {
	case TierMajor:
		return 2.0
	case TierIntermediate:
		return 1.5
	default:
		return 1.0
	}
}

func confluenceBonus(count int) float64 {
	switch {
	case count <= 1:
		return 0
	case count == 2:
		return 0.5
	case count == 3:
		return 1.0
	default:
		return 1.5
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

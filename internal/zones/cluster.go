package zones

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"sr-zone-engine/internal/levels"
)

// ClusterSettings tune clustering and identity matching.
type ClusterSettings struct {
	MergeATRFactor    float64
	MinMergeRadiusPct float64
	GraceCycles       int
	Tiers             TierMap
}

// MergeRadius returns the volatility-scaled merge radius, falling back to a
// fraction of the reference price when ATR is unusable.
func (s ClusterSettings) MergeRadius(atr, refPrice float64) float64 {
	radius := atr * s.MergeATRFactor
	if radius <= 0 || math.IsNaN(radius) {
		radius = refPrice * s.MinMergeRadiusPct
	}
	return radius
}

// Cluster groups raw levels into zones. Levels are sorted by price and merged
// into the open cluster while they sit within the merge radius of its running
// weighted center; the centers of the resulting zones are strictly ascending
// and separated by more than the radius.
func Cluster(symbol string, raw []levels.RawLevel, atr float64, now time.Time, settings ClusterSettings) []*Zone {
	if len(raw) == 0 {
		return nil
	}

	sorted := append([]levels.RawLevel(nil), raw...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	var (
		out       []*Zone
		members   []levels.RawLevel
		weightSum float64
		priceSum  float64
		center    float64
	)

	flush := func() {
		if len(members) == 0 {
			return
		}
		out = append(out, newZone(symbol, members, center, settings.MergeRadius(atr, center), settings.Tiers, now))
		members = nil
		weightSum = 0
		priceSum = 0
	}

	for _, lvl := range sorted {
		if len(members) > 0 && math.Abs(lvl.Price-center) <= settings.MergeRadius(atr, center) {
			members = append(members, lvl)
			weightSum += lvl.Weight
			priceSum += lvl.Price * lvl.Weight
			center = weightedCenter(members, priceSum, weightSum)
			continue
		}

		flush()
		members = []levels.RawLevel{lvl}
		weightSum = lvl.Weight
		priceSum = lvl.Price * lvl.Weight
		center = weightedCenter(members, priceSum, weightSum)
	}
	flush()

	return out
}

func weightedCenter(members []levels.RawLevel, priceSum, weightSum float64) float64 {
	if weightSum > 0 {
		return priceSum / weightSum
	}

	sum := 0.0
	for _, m := range members {
		sum += m.Price
	}
	return sum / float64(len(members))
}

func newZone(symbol string, members []levels.RawLevel, center, radius float64, tiers TierMap, now time.Time) *Zone {
	return &Zone{
		ID:              uuid.New().String(),
		Symbol:          symbol,
		PriceCenter:     center,
		MergeRadius:     radius,
		Members:         append([]levels.RawLevel(nil), members...),
		Tier:            tiers.DominantTier(members),
		ConfluenceCount: countTimeframes(members),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func countTimeframes(members []levels.RawLevel) int {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		seen[string(m.Timeframe)] = struct{}{}
	}
	return len(seen)
}

// ReconcileResult reports what a reconcile pass did.
type ReconcileResult struct {
	Zones   []*Zone // surviving set, sorted by center
	Created []*Zone
	Expired []*Zone
}

// Reconcile matches freshly clustered zones against the previous cycle's
// zones so identity survives re-clustering. A new cluster adopts the ID,
// creation time and touch history of the nearest previous zone within its
// merge radius; each previous zone is claimed at most once. Unmatched
// previous zones persist with an incremented miss count until the grace
// limit, then expire. Unmatched new clusters keep their fresh identity.
func Reconcile(prev, next []*Zone, graceCycles int) ReconcileResult {
	var result ReconcileResult
	claimed := make(map[int]bool, len(prev))

	for _, candidate := range next {
		bestIdx := -1
		bestDist := math.MaxFloat64

		for i, old := range prev {
			if claimed[i] {
				continue
			}
			dist := math.Abs(old.PriceCenter - candidate.PriceCenter)
			if dist <= candidate.MergeRadius && dist < bestDist {
				bestIdx = i
				bestDist = dist
			}
		}

		if bestIdx >= 0 {
			old := prev[bestIdx]
			claimed[bestIdx] = true
			candidate.ID = old.ID
			candidate.CreatedAt = old.CreatedAt
			candidate.TouchHistory = old.TouchHistory
			candidate.MissedCycles = 0
		} else {
			result.Created = append(result.Created, candidate)
		}
		result.Zones = append(result.Zones, candidate)
	}

	for i, old := range prev {
		if claimed[i] {
			continue
		}
		old.MissedCycles++
		if old.MissedCycles > graceCycles {
			result.Expired = append(result.Expired, old)
			continue
		}
		result.Zones = append(result.Zones, old)
	}

	sort.Slice(result.Zones, func(i, j int) bool {
		return result.Zones[i].PriceCenter < result.Zones[j].PriceCenter
	})

	return result
}

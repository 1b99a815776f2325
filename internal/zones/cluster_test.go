package zones

import (
	"math"
	"testing"
	"time"

	"sr-zone-engine/internal/levels"
	"sr-zone-engine/internal/market"
)

func testClusterSettings() ClusterSettings {
	return ClusterSettings{
		MergeATRFactor:    0.5,
		MinMergeRadiusPct: 0.001,
		GraceCycles:       3,
		Tiers:             NewTierMap([]string{"4h", "1d"}, []string{"15m", "1h"}),
	}
}

// TestMergeRadius tests the ATR scaling and the price-fraction floor
func TestMergeRadius(t *testing.T) {
	s := testClusterSettings()

	if got := s.MergeRadius(2.0, 100); got != 1.0 {
		t.Errorf("MergeRadius(atr=2) = %v, want 1.0", got)
	}
	if got := s.MergeRadius(0, 100); got != 0.1 {
		t.Errorf("MergeRadius(atr=0) = %v, want fallback 0.1", got)
	}
	if got := s.MergeRadius(math.NaN(), 100); got != 0.1 {
		t.Errorf("MergeRadius(atr=NaN) = %v, want fallback 0.1", got)
	}
}

// TestClusterMergesNearbyLevels tests grouping within the merge radius
func TestClusterMergesNearbyLevels(t *testing.T) {
	raw := []levels.RawLevel{
		{Price: 105, Weight: 1.0, Timeframe: market.TF4h, Source: "swing"},
		{Price: 100.0, Weight: 1.0, Timeframe: market.TF5m, Source: "pivot"},
		{Price: 100.2, Weight: 1.0, Timeframe: market.TF1h, Source: "swing"},
	}

	// ATR 1.0 with factor 0.5 gives a 0.5 merge radius.
	out := Cluster("BTCUSDT", raw, 1.0, time.Now(), testClusterSettings())
	if len(out) != 2 {
		t.Fatalf("got %d zones, want 2", len(out))
	}

	low := out[0]
	if math.Abs(low.PriceCenter-100.1) > 1e-9 {
		t.Errorf("merged center = %v, want 100.1", low.PriceCenter)
	}
	if len(low.Members) != 2 {
		t.Errorf("merged members = %d, want 2", len(low.Members))
	}
	if low.ConfluenceCount != 2 {
		t.Errorf("confluence = %d, want 2 distinct timeframes", low.ConfluenceCount)
	}
	if low.Tier != TierIntermediate {
		t.Errorf("tier = %s, want INTERMEDIATE from the 1h member", low.Tier)
	}

	high := out[1]
	if high.PriceCenter != 105 {
		t.Errorf("second center = %v, want 105", high.PriceCenter)
	}
	if high.Tier != TierMajor {
		t.Errorf("second tier = %s, want MAJOR from the 4h member", high.Tier)
	}
	if out[0].PriceCenter >= out[1].PriceCenter {
		t.Error("zone centers should be ascending")
	}
}

// TestClusterWeightedCenter tests that heavier sources pull the center
func TestClusterWeightedCenter(t *testing.T) {
	raw := []levels.RawLevel{
		{Price: 100.0, Weight: 1.0, Timeframe: market.TF5m},
		{Price: 100.4, Weight: 3.0, Timeframe: market.TF5m},
	}

	out := Cluster("BTCUSDT", raw, 1.0, time.Now(), testClusterSettings())
	if len(out) != 1 {
		t.Fatalf("got %d zones, want 1", len(out))
	}
	if math.Abs(out[0].PriceCenter-100.3) > 1e-9 {
		t.Errorf("weighted center = %v, want 100.3", out[0].PriceCenter)
	}
}

// TestClusterFallbackRadius tests clustering when ATR is unusable
func TestClusterFallbackRadius(t *testing.T) {
	raw := []levels.RawLevel{
		{Price: 100.0, Weight: 1.0, Timeframe: market.TF5m},
		{Price: 100.05, Weight: 1.0, Timeframe: market.TF5m},
		{Price: 100.5, Weight: 1.0, Timeframe: market.TF5m},
	}

	// Radius falls back to 0.1% of the running center.
	out := Cluster("BTCUSDT", raw, 0, time.Now(), testClusterSettings())
	if len(out) != 2 {
		t.Fatalf("got %d zones, want 2", len(out))
	}
	if len(out[0].Members) != 2 {
		t.Errorf("first zone members = %d, want 2", len(out[0].Members))
	}
}

// TestClusterEmptyInput tests the nil result for no levels
func TestClusterEmptyInput(t *testing.T) {
	if out := Cluster("BTCUSDT", nil, 1.0, time.Now(), testClusterSettings()); out != nil {
		t.Errorf("got %d zones from empty input, want none", len(out))
	}
}

// TestReconcileAdoptsIdentity tests ID and history continuity across cycles
func TestReconcileAdoptsIdentity(t *testing.T) {
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	prev := []*Zone{{
		ID:           "zone-a",
		PriceCenter:  100,
		MergeRadius:  0.5,
		CreatedAt:    created,
		TouchHistory: []TouchRecord{{ID: "t1", RejectionStrength: 7}},
	}}
	next := []*Zone{
		{ID: "fresh-1", PriceCenter: 100.3, MergeRadius: 0.5},
		{ID: "fresh-2", PriceCenter: 107, MergeRadius: 0.5},
	}

	result := Reconcile(prev, next, 3)

	if len(result.Zones) != 2 {
		t.Fatalf("got %d surviving zones, want 2", len(result.Zones))
	}
	matched := result.Zones[0]
	if matched.ID != "zone-a" {
		t.Errorf("matched zone ID = %s, want zone-a", matched.ID)
	}
	if !matched.CreatedAt.Equal(created) {
		t.Errorf("matched CreatedAt = %v, want original %v", matched.CreatedAt, created)
	}
	if len(matched.TouchHistory) != 1 || matched.TouchHistory[0].ID != "t1" {
		t.Error("matched zone should carry the previous touch history")
	}
	if matched.PriceCenter != 100.3 {
		t.Errorf("matched center = %v, want refreshed 100.3", matched.PriceCenter)
	}
	if matched.MissedCycles != 0 {
		t.Errorf("matched MissedCycles = %d, want 0", matched.MissedCycles)
	}

	if len(result.Created) != 1 || result.Created[0].ID != "fresh-2" {
		t.Errorf("Created = %+v, want only fresh-2", result.Created)
	}
}

// TestReconcileClaimsEachPreviousOnce tests that two candidates cannot share one identity
func TestReconcileClaimsEachPreviousOnce(t *testing.T) {
	prev := []*Zone{{ID: "zone-a", PriceCenter: 100, MergeRadius: 1.0}}
	next := []*Zone{
		{ID: "fresh-1", PriceCenter: 99.9, MergeRadius: 1.0},
		{ID: "fresh-2", PriceCenter: 100.2, MergeRadius: 1.0},
	}

	result := Reconcile(prev, next, 3)

	adopted := 0
	for _, z := range result.Zones {
		if z.ID == "zone-a" {
			adopted++
		}
	}
	if adopted != 1 {
		t.Errorf("identity zone-a adopted %d times, want exactly once", adopted)
	}
	// The closer candidate wins the identity.
	if len(result.Created) != 1 || result.Created[0].ID != "fresh-2" {
		t.Errorf("Created = %+v, want fresh-2 (farther candidate)", idsOf(result.Created))
	}
}

// TestReconcileGraceAndExpiry tests missed-cycle counting up to expiry
func TestReconcileGraceAndExpiry(t *testing.T) {
	zones := []*Zone{{ID: "zone-a", PriceCenter: 100, MergeRadius: 0.5}}

	for cycle := 1; cycle <= 3; cycle++ {
		result := Reconcile(zones, nil, 3)
		if len(result.Zones) != 1 {
			t.Fatalf("cycle %d: zone expired early", cycle)
		}
		if result.Zones[0].MissedCycles != cycle {
			t.Errorf("cycle %d: MissedCycles = %d", cycle, result.Zones[0].MissedCycles)
		}
		if len(result.Expired) != 0 {
			t.Errorf("cycle %d: unexpected expiry", cycle)
		}
		zones = result.Zones
	}

	result := Reconcile(zones, nil, 3)
	if len(result.Zones) != 0 {
		t.Error("zone should expire after exceeding the grace limit")
	}
	if len(result.Expired) != 1 || result.Expired[0].ID != "zone-a" {
		t.Errorf("Expired = %v, want zone-a", idsOf(result.Expired))
	}
	if result.Expired[0].MissedCycles != 4 {
		t.Errorf("expired MissedCycles = %d, want 4", result.Expired[0].MissedCycles)
	}
}

// TestReconcileReturnsSorted tests ascending center order of the survivor set
func TestReconcileReturnsSorted(t *testing.T) {
	prev := []*Zone{{ID: "high", PriceCenter: 110, MergeRadius: 0.5}}
	next := []*Zone{
		{ID: "mid", PriceCenter: 105, MergeRadius: 0.5},
		{ID: "low", PriceCenter: 95, MergeRadius: 0.5},
	}

	result := Reconcile(prev, next, 3)
	for i := 1; i < len(result.Zones); i++ {
		if result.Zones[i-1].PriceCenter > result.Zones[i].PriceCenter {
			t.Fatalf("zones out of order: %v", idsOf(result.Zones))
		}
	}
}

func idsOf(zones []*Zone) []string {
	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	return ids
}

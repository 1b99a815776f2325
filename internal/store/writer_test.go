package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sr-zone-engine/internal/logging"
	"sr-zone-engine/internal/zones"
)

// fakeStore records saves and can fail the first few of them.
type fakeStore struct {
	mu       sync.Mutex
	saves    []string
	centers  map[string]float64
	failLeft int
	flushes  int
}

func (s *fakeStore) Load(ctx context.Context) (map[string][]*zones.Zone, error) {
	return make(map[string][]*zones.Zone), nil
}

func (s *fakeStore) Save(ctx context.Context, symbol string, zs []*zones.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLeft > 0 {
		s.failLeft--
		return errors.New("backend unavailable")
	}
	s.saves = append(s.saves, symbol)
	if s.centers == nil {
		s.centers = make(map[string]float64)
	}
	if len(zs) > 0 {
		s.centers[symbol] = zs[0].PriceCenter
	}
	return nil
}

func (s *fakeStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) savedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saves...)
}

// TestWriterPersistsQueuedSaves tests the queue-drain-flush lifecycle
func TestWriterPersistsQueuedSaves(t *testing.T) {
	fake := &fakeStore{}
	w := NewWriter(fake, 8, 0, nil, logging.NewTest())
	w.Start()

	w.Enqueue("BTCUSDT", []*zones.Zone{{ID: "z1", PriceCenter: 75000}})
	w.Enqueue("ETHUSDT", []*zones.Zone{{ID: "z2", PriceCenter: 2600}})

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	saved := fake.savedSymbols()
	if len(saved) != 2 || saved[0] != "BTCUSDT" || saved[1] != "ETHUSDT" {
		t.Errorf("saved symbols = %v, want [BTCUSDT ETHUSDT]", saved)
	}
	if fake.centers["BTCUSDT"] != 75000 {
		t.Errorf("persisted center = %v, want 75000", fake.centers["BTCUSDT"])
	}
	if fake.flushes != 1 {
		t.Errorf("flushes = %d, want 1 on stop", fake.flushes)
	}
	if w.Dropped() != 0 || w.Failed() != 0 {
		t.Errorf("dropped = %d failed = %d, want 0/0", w.Dropped(), w.Failed())
	}
}

// TestWriterEnqueueIsolation tests that queued zones are copies
func TestWriterEnqueueIsolation(t *testing.T) {
	fake := &fakeStore{}
	w := NewWriter(fake, 8, 0, nil, logging.NewTest())

	zs := []*zones.Zone{{ID: "z1", PriceCenter: 75000}}
	w.Enqueue("BTCUSDT", zs)
	zs[0].PriceCenter = 1

	w.Start()
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if fake.centers["BTCUSDT"] != 75000 {
		t.Errorf("persisted center = %v, want the value at enqueue time", fake.centers["BTCUSDT"])
	}
}

// TestWriterRetriesTransientFailure tests recovery within the retry budget
func TestWriterRetriesTransientFailure(t *testing.T) {
	fake := &fakeStore{failLeft: 1}
	w := NewWriter(fake, 8, 2, nil, logging.NewTest())
	w.Start()

	w.Enqueue("BTCUSDT", []*zones.Zone{{ID: "z1", PriceCenter: 75000}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := fake.savedSymbols(); len(got) != 1 {
		t.Fatalf("saves = %v, want exactly one successful save", got)
	}
	if w.Failed() != 0 {
		t.Errorf("Failed() = %d, want 0 after a recovered save", w.Failed())
	}
}

// TestWriterExhaustedRetries tests the failure path and its hook
func TestWriterExhaustedRetries(t *testing.T) {
	fake := &fakeStore{failLeft: 100}
	w := NewWriter(fake, 8, 1, nil, logging.NewTest())

	var failures atomic.Int64
	w.SetHooks(nil, func() { failures.Add(1) })
	w.Start()

	w.Enqueue("BTCUSDT", []*zones.Zone{{ID: "z1", PriceCenter: 75000}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(fake.savedSymbols()) != 0 {
		t.Error("no save should have succeeded")
	}
	if w.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", w.Failed())
	}
	if failures.Load() != 1 {
		t.Errorf("failure hook fired %d times, want 1", failures.Load())
	}
}

// TestWriterOverflowDropsOldest tests queue overflow behavior
func TestWriterOverflowDropsOldest(t *testing.T) {
	fake := &fakeStore{}
	w := NewWriter(fake, 2, 0, nil, logging.NewTest())

	var drops atomic.Int64
	w.SetHooks(func() { drops.Add(1) }, nil)

	// Worker not started yet, so the queue fills deterministically.
	w.Enqueue("AAAUSDT", []*zones.Zone{{ID: "a"}})
	w.Enqueue("BBBUSDT", []*zones.Zone{{ID: "b"}})
	w.Enqueue("CCCUSDT", []*zones.Zone{{ID: "c"}})

	if w.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", w.Dropped())
	}
	if drops.Load() != 1 {
		t.Errorf("drop hook fired %d times, want 1", drops.Load())
	}

	w.Start()
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	saved := fake.savedSymbols()
	if len(saved) != 2 || saved[0] != "BBBUSDT" || saved[1] != "CCCUSDT" {
		t.Errorf("saved symbols = %v, want oldest dropped [BBBUSDT CCCUSDT]", saved)
	}
}

package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"sr-zone-engine/internal/events"
	"sr-zone-engine/internal/zones"
)

const persistTimeout = 10 * time.Second

type saveRequest struct {
	symbol string
	zones  []*zones.Zone
}

// Writer decouples the evaluation loop from store latency. Saves are
// queued and drained by a single worker that retries transient failures
// with exponential backoff. When the queue is full the oldest pending
// save is dropped; the newer snapshot for that symbol supersedes it.
type Writer struct {
	store      Store
	bus        *events.EventBus
	logger     zerolog.Logger
	queue      chan saveRequest
	stopChan   chan struct{}
	doneChan   chan struct{}
	maxRetries int

	onDrop    func()
	onFailure func()

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewWriter creates a writer over st. bus may be nil.
func NewWriter(st Store, queueSize, maxRetries int, bus *events.EventBus, logger zerolog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Writer{
		store:      st,
		bus:        bus,
		logger:     logger.With().Str("component", "store_writer").Logger(),
		queue:      make(chan saveRequest, queueSize),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		maxRetries: maxRetries,
	}
}

// SetHooks registers optional callbacks fired on queue drops and
// exhausted saves. Must be called before Start.
func (w *Writer) SetHooks(onDrop, onFailure func()) {
	w.onDrop = onDrop
	w.onFailure = onFailure
}

// Start launches the persist worker.
func (w *Writer) Start() {
	go w.run()
}

// Enqueue queues a save without blocking the caller. On overflow the
// oldest pending request is discarded to make room.
func (w *Writer) Enqueue(symbol string, zs []*zones.Zone) {
	req := saveRequest{symbol: symbol, zones: cloneZones(zs)}

	select {
	case w.queue <- req:
		return
	default:
	}

	select {
	case old := <-w.queue:
		w.noteDrop()
		w.logger.Warn().Str("symbol", old.symbol).Msg("persist queue full, dropped oldest pending save")
	default:
	}

	select {
	case w.queue <- req:
	default:
		w.noteDrop()
	}
}

func (w *Writer) noteDrop() {
	w.dropped.Add(1)
	if w.onDrop != nil {
		w.onDrop()
	}
}

// Stop drains the queue, stops the worker and flushes the store.
func (w *Writer) Stop(ctx context.Context) error {
	close(w.stopChan)
	select {
	case <-w.doneChan:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.store.Flush(ctx)
}

// Dropped returns the number of save requests discarded on overflow.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Failed returns the number of saves that exhausted their retries.
func (w *Writer) Failed() uint64 {
	return w.failed.Load()
}

func (w *Writer) run() {
	defer close(w.doneChan)

	for {
		select {
		case <-w.stopChan:
			for {
				select {
				case req := <-w.queue:
					w.persist(req)
				default:
					return
				}
			}
		case req := <-w.queue:
			w.persist(req)
		}
	}
}

func (w *Writer) persist(req saveRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	operation := func() error {
		return w.store.Save(ctx, req.symbol, req.zones)
	}
	strategy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(w.maxRetries))

	if err := backoff.Retry(operation, strategy); err != nil {
		w.failed.Add(1)
		w.logger.Error().Err(err).Str("symbol", req.symbol).Msg("zone state save failed after retries")
		if w.onFailure != nil {
			w.onFailure()
		}
		if w.bus != nil {
			w.bus.PublishStoreError("save", req.symbol, err)
		}
		return
	}

	w.logger.Debug().Str("symbol", req.symbol).Int("zones", len(req.zones)).Msg("zone state persisted")
}

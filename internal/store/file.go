package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sr-zone-engine/internal/zones"
)

// fileDocument is the on-disk JSON layout of the file backend.
type fileDocument struct {
	SavedAt time.Time                `json:"saved_at"`
	Symbols map[string][]*zones.Zone `json:"symbols"`
}

// FileStore keeps zone state in a single JSON file. Saves are staged in
// memory and written out on Flush, atomically via a temp file rename, so
// a crash mid-write never leaves a truncated document behind.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu    sync.Mutex
	state map[string][]*zones.Zone
	dirty bool
}

// OpenFile opens (or creates the directory for) a file-backed store.
func OpenFile(path string, logger zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &PersistenceError{Op: "mkdir", Key: dir, Err: err}
		}
	}
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "file_store").Logger(),
		state:  make(map[string][]*zones.Zone),
	}, nil
}

// Load reads the snapshot file. A missing file is an empty state, not an
// error, so first boot works without setup.
func (f *FileStore) Load(ctx context.Context) (map[string][]*zones.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.Info().Str("path", f.path).Msg("no zone state file, starting empty")
			return make(map[string][]*zones.Zone), nil
		}
		return nil, &PersistenceError{Op: "load", Key: f.path, Err: err}
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &PersistenceError{Op: "load", Key: f.path, Err: err}
	}
	if doc.Symbols == nil {
		doc.Symbols = make(map[string][]*zones.Zone)
	}

	f.state = make(map[string][]*zones.Zone, len(doc.Symbols))
	for symbol, zs := range doc.Symbols {
		f.state[symbol] = cloneZones(zs)
	}

	total := 0
	for _, zs := range doc.Symbols {
		total += len(zs)
	}
	f.logger.Info().Int("symbols", len(doc.Symbols)).Int("zones", total).
		Msg("loaded zone state from file")
	return doc.Symbols, nil
}

// Save stages the symbol's zones. The data reaches disk on the next Flush.
func (f *FileStore) Save(ctx context.Context, symbol string, zs []*zones.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state[symbol] = cloneZones(zs)
	f.dirty = true
	return nil
}

// Flush writes the staged state to disk if anything changed.
func (f *FileStore) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty {
		return nil
	}

	doc := fileDocument{
		SavedAt: time.Now(),
		Symbols: f.state,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "flush", Key: f.path, Err: err}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &PersistenceError{Op: "flush", Key: tmp, Err: err}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return &PersistenceError{Op: "flush", Key: f.path, Err: err}
	}

	f.dirty = false
	f.logger.Debug().Str("path", f.path).Msg("flushed zone state to disk")
	return nil
}

// Close flushes any pending state.
func (f *FileStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Flush(ctx)
}

func cloneZones(zs []*zones.Zone) []*zones.Zone {
	out := make([]*zones.Zone, len(zs))
	for i, z := range zs {
		out[i] = z.Clone()
	}
	return out
}

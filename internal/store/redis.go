package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sr-zone-engine/internal/zones"
)

const (
	// Format: srzone:state:{symbol}
	stateKeyPrefix = "srzone:state"
	// Set of all symbols with persisted state.
	symbolSetKey = "srzone:symbols"

	defaultStateTTL = 7 * 24 * time.Hour
)

// RedisStore persists zone state in Redis with an in-memory mirror. When
// Redis is unreachable it keeps serving from the mirror and re-probes on
// the next read, so a Redis outage degrades durability but never blocks
// the engine.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	cacheMu sync.RWMutex
	cache   map[string][]*zones.Zone

	redisAvailable atomic.Bool
}

// NewRedisStore connects to Redis and probes availability. A failed probe
// is not fatal; the store starts in memory-only mode.
func NewRedisStore(opts RedisOptions, logger zerolog.Logger) *RedisStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}

	s := &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_store").Logger(),
		cache:  make(map[string][]*zones.Zone),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory mirror")
		s.redisAvailable.Store(false)
	} else {
		s.logger.Info().Str("addr", opts.Addr).Msg("redis connected")
		s.redisAvailable.Store(true)
	}

	return s
}

// stateKey generates the Redis key for a symbol's zone state.
func (s *RedisStore) stateKey(symbol string) string {
	return fmt.Sprintf("%s:%s", stateKeyPrefix, symbol)
}

// Load reads every persisted symbol. Falls back to the in-memory mirror
// when Redis is down.
func (s *RedisStore) Load(ctx context.Context) (map[string][]*zones.Zone, error) {
	if s.redisAvailable.Load() {
		symbols, err := s.client.SMembers(ctx, symbolSetKey).Result()
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis read error, using in-memory mirror")
			s.redisAvailable.Store(false)
			return s.mirrorSnapshot(), nil
		}

		state := make(map[string][]*zones.Zone, len(symbols))
		for _, symbol := range symbols {
			data, err := s.client.Get(ctx, s.stateKey(symbol)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("redis read error, using in-memory mirror")
				s.redisAvailable.Store(false)
				return s.mirrorSnapshot(), nil
			}

			var zs []*zones.Zone
			if err := json.Unmarshal([]byte(data), &zs); err != nil {
				return nil, &PersistenceError{Op: "load", Key: s.stateKey(symbol), Err: err}
			}
			state[symbol] = zs
		}

		s.cacheMu.Lock()
		for symbol, zs := range state {
			s.cache[symbol] = cloneZones(zs)
		}
		s.cacheMu.Unlock()

		return state, nil
	}

	return s.mirrorSnapshot(), nil
}

// Save writes the symbol's zones to Redis and always updates the mirror.
// A Redis write failure flips the store into memory-only mode instead of
// surfacing an error; the mirror already holds the data.
func (s *RedisStore) Save(ctx context.Context, symbol string, zs []*zones.Zone) error {
	data, err := json.Marshal(zs)
	if err != nil {
		return &PersistenceError{Op: "save", Key: s.stateKey(symbol), Err: err}
	}

	s.cacheMu.Lock()
	s.cache[symbol] = cloneZones(zs)
	s.cacheMu.Unlock()

	if !s.redisAvailable.Load() {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stateKey(symbol), data, s.ttl)
	pipe.SAdd(ctx, symbolSetKey, symbol)
	pipe.Expire(ctx, symbolSetKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("redis write failed, falling back to in-memory mirror")
		s.redisAvailable.Store(false)
		return nil
	}

	return nil
}

// Flush pushes the whole mirror to Redis if it has recovered since the
// last failed write.
func (s *RedisStore) Flush(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.redisAvailable.Store(false)
		return nil
	}
	s.redisAvailable.Store(true)

	s.cacheMu.RLock()
	snapshot := make(map[string][]*zones.Zone, len(s.cache))
	for symbol, zs := range s.cache {
		snapshot[symbol] = zs
	}
	s.cacheMu.RUnlock()

	for symbol, zs := range snapshot {
		data, err := json.Marshal(zs)
		if err != nil {
			return &PersistenceError{Op: "flush", Key: s.stateKey(symbol), Err: err}
		}
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, s.stateKey(symbol), data, s.ttl)
		pipe.SAdd(ctx, symbolSetKey, symbol)
		pipe.Expire(ctx, symbolSetKey, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			s.redisAvailable.Store(false)
			return &PersistenceError{Op: "flush", Key: s.stateKey(symbol), Err: err}
		}
	}

	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Available reports whether the last Redis operation succeeded.
func (s *RedisStore) Available() bool {
	return s.redisAvailable.Load()
}

func (s *RedisStore) mirrorSnapshot() map[string][]*zones.Zone {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	out := make(map[string][]*zones.Zone, len(s.cache))
	for symbol, zs := range s.cache {
		out[symbol] = cloneZones(zs)
	}
	return out
}

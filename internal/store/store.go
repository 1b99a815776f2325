package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"sr-zone-engine/internal/zones"
)

// Store persists zone state across process restarts. Save replaces the
// persisted zone set for a symbol; Load returns everything previously
// saved so the tracker can re-attach touch history after a restart.
type Store interface {
	Load(ctx context.Context) (map[string][]*zones.Zone, error)
	Save(ctx context.Context, symbol string, zs []*zones.Zone) error
	Flush(ctx context.Context) error
	Close() error
}

// PersistenceError wraps a failed store operation with enough context to
// log and retry it.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PostgresOptions configures the Postgres backend.
type PostgresOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Config selects and configures a persistence backend.
type Config struct {
	Backend   string
	FilePath  string
	BucketPct float64
	Redis     RedisOptions
	Postgres  PostgresOptions
}

// Open creates the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return OpenFile(cfg.FilePath, logger)
	case "redis":
		return NewRedisStore(cfg.Redis, logger), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres, cfg.BucketPct, logger)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// PriceBucket quantizes a price onto a logarithmic bucket index. Zones
// re-detected near the same center after a restart land on the same
// bucket, which keeps their persisted keys stable. bucketPct is the
// relative bucket width (0.001 = 0.1%).
func PriceBucket(price, bucketPct float64) int64 {
	if price <= 0 || bucketPct <= 0 {
		return 0
	}
	return int64(math.Round(math.Log(price) / math.Log1p(bucketPct)))
}

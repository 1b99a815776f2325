package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"sr-zone-engine/internal/zones"
)

// PostgresStore persists zone state in a zone_state table, one row per
// zone keyed by (symbol, tier, price_bucket). The bucket quantizes the
// zone center so a re-clustered zone updates its old row instead of
// accumulating duplicates.
type PostgresStore struct {
	pool      *pgxpool.Pool
	bucketPct float64
	logger    zerolog.Logger
}

// NewPostgresStore connects, tunes the pool and ensures the schema.
func NewPostgresStore(ctx context.Context, opts PostgresOptions, bucketPct float64, logger zerolog.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		opts.Host, opts.Port, opts.User, opts.Password, opts.Database, opts.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:      pool,
		bucketPct: bucketPct,
		logger:    logger.With().Str("component", "postgres_store").Logger(),
	}
	if err := s.ensureSchema(connCtx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info().Str("database", opts.Database).Msg("postgres connected")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS zone_state (
			symbol VARCHAR(20) NOT NULL,
			tier VARCHAR(16) NOT NULL,
			price_bucket BIGINT NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (symbol, tier, price_bucket)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_state_symbol ON zone_state(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_state_updated_at ON zone_state(updated_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return &PersistenceError{Op: "migrate", Key: "zone_state", Err: err}
		}
	}
	return nil
}

// Load reads every persisted zone grouped by symbol.
func (s *PostgresStore) Load(ctx context.Context) (map[string][]*zones.Zone, error) {
	rows, err := s.pool.Query(ctx, `SELECT symbol, payload FROM zone_state ORDER BY symbol, price_bucket`)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Key: "zone_state", Err: err}
	}
	defer rows.Close()

	state := make(map[string][]*zones.Zone)
	for rows.Next() {
		var symbol string
		var payload []byte
		if err := rows.Scan(&symbol, &payload); err != nil {
			return nil, &PersistenceError{Op: "load", Key: "zone_state", Err: err}
		}

		var z zones.Zone
		if err := json.Unmarshal(payload, &z); err != nil {
			return nil, &PersistenceError{Op: "load", Key: symbol, Err: err}
		}
		state[symbol] = append(state[symbol], &z)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", Key: "zone_state", Err: err}
	}

	total := 0
	for _, zs := range state {
		total += len(zs)
	}
	s.logger.Info().Int("symbols", len(state)).Int("zones", total).Msg("loaded zone state from postgres")
	return state, nil
}

// Save replaces the symbol's rows in one transaction. Upsert handles two
// zones quantizing onto the same bucket within a cycle (last one wins).
func (s *PostgresStore) Save(ctx context.Context, symbol string, zs []*zones.Zone) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "save", Key: symbol, Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM zone_state WHERE symbol = $1`, symbol); err != nil {
		return &PersistenceError{Op: "save", Key: symbol, Err: err}
	}

	for _, z := range zs {
		payload, err := json.Marshal(z)
		if err != nil {
			return &PersistenceError{Op: "save", Key: symbol, Err: err}
		}
		bucket := PriceBucket(z.PriceCenter, s.bucketPct)
		_, err = tx.Exec(ctx,
			`INSERT INTO zone_state (symbol, tier, price_bucket, payload, updated_at)
			 VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			 ON CONFLICT (symbol, tier, price_bucket)
			 DO UPDATE SET payload = EXCLUDED.payload, updated_at = CURRENT_TIMESTAMP`,
			symbol, string(z.Tier), bucket, payload,
		)
		if err != nil {
			return &PersistenceError{Op: "save", Key: symbol, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "save", Key: symbol, Err: err}
	}
	return nil
}

// Flush is a no-op; Save commits synchronously.
func (s *PostgresStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

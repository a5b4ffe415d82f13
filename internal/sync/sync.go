// Package sync synchronizes the Redis balance cache from PostgreSQL, the
// durable ledger (internal/ledger) source of truth. Adapted from the
// teacher's internal/sync package, which did the same job for the original
// AI-token credit system's customer balances; here it aggregates
// ledger_entries per user instead of reading a denormalized customers
// table, since Reel's ledger keeps no mutable balance column (spec.md §3 —
// balance is strictly the sum of entries).
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Syncer keeps the Redis balance cache from drifting out of step with
// PostgreSQL (Redis eviction, restarts, or a cache write lost to a crash
// between Ledger.refreshCacheFor and its caller returning).
type Syncer struct {
	redis  *redis.Client
	db     *sql.DB
	log    zerolog.Logger
	stopCh chan struct{}
}

func NewSyncer(rdb *redis.Client, db *sql.DB, logger zerolog.Logger) *Syncer {
	return &Syncer{
		redis:  rdb,
		db:     db,
		log:    logger.With().Str("component", "balance_syncer").Logger(),
		stopCh: make(chan struct{}),
	}
}

// InitializeCache performs a full sync of every user's balance from
// PostgreSQL into Redis. Call this once at startup before serving traffic;
// without it the cache starts cold and every GetBalance call falls
// through to PostgreSQL until primed (correct, just slower).
func (s *Syncer) InitializeCache(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("starting full balance cache initialization from postgresql")

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, SUM(amount) AS balance
		FROM ledger_entries
		GROUP BY user_id
	`)
	if err != nil {
		return fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	pipe := s.redis.Pipeline()
	count := 0

	for rows.Next() {
		var userID string
		var balance int64
		if err := rows.Scan(&userID, &balance); err != nil {
			s.log.Error().Err(err).Msg("failed to scan balance row")
			continue
		}

		pipe.Set(ctx, fmt.Sprintf("ledger:balance:%s", userID), balance, 0)
		pipe.Set(ctx, fmt.Sprintf("ledger:balance_version:%s", userID), time.Now().UnixNano(), 0)
		count++

		if count%1000 == 0 {
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("pipeline exec failed at count %d: %w", count, err)
			}
			pipe = s.redis.Pipeline()
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("final pipeline exec failed: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}

	s.log.Info().
		Int("user_count", count).
		Dur("duration", time.Since(start)).
		Msg("balance cache initialization complete")

	return nil
}

// StartPeriodicSync starts a background goroutine that resyncs users whose
// ledger entries changed recently, correcting any drift.
func (s *Syncer) StartPeriodicSync(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s.log.Info().Dur("interval", interval).Msg("starting periodic balance sync")
	ticker := time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if err := s.syncRecentlyUpdated(ctx); err != nil {
					s.log.Error().Err(err).Msg("periodic balance sync failed")
				}
				cancel()
			case <-s.stopCh:
				ticker.Stop()
				s.log.Info().Msg("periodic balance sync stopped")
				return
			}
		}
	}()
}

func (s *Syncer) syncRecentlyUpdated(ctx context.Context) error {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, SUM(amount) AS balance
		FROM ledger_entries
		WHERE created_at > NOW() - INTERVAL '1 hour'
		GROUP BY user_id
	`)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	pipe := s.redis.Pipeline()
	count := 0

	for rows.Next() {
		var userID string
		var recentDelta int64
		if err := rows.Scan(&userID, &recentDelta); err != nil {
			continue
		}
		if err := s.SyncUser(ctx, userID); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to sync user during periodic sweep")
			continue
		}
		count++
	}
	_ = pipe // pipeline reserved for a future batched variant; SyncUser below does the per-user round trip today

	s.log.Debug().
		Int("synced_users", count).
		Dur("duration", time.Since(start)).
		Msg("incremental balance sync complete")

	return nil
}

// SyncUser resyncs a single user's balance from PostgreSQL into Redis, used
// on-demand by the Reservation Janitor after it settles an orphaned
// reservation, and by the admin CLI's "admin sync-cache" command.
func (s *Syncer) SyncUser(ctx context.Context, userID string) error {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1
	`, userID).Scan(&balance)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, fmt.Sprintf("ledger:balance:%s", userID), balance, 0)
	pipe.Set(ctx, fmt.Sprintf("ledger:balance_version:%s", userID), time.Now().UnixNano(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	s.log.Debug().Str("user_id", userID).Int64("balance", balance).Msg("user balance synced")
	return nil
}

// VerifyIntegrity samples users and compares their PostgreSQL balance
// against the cached Redis value, auto-correcting discrepancies. Used by
// the admin CLI's "admin verify-integrity" command.
func (s *Syncer) VerifyIntegrity(ctx context.Context, sampleSize int) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, SUM(amount) AS balance
		FROM ledger_entries
		GROUP BY user_id
		ORDER BY RANDOM()
		LIMIT $1
	`, sampleSize)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	discrepancies := 0
	for rows.Next() {
		var userID string
		var pgBalance int64
		if err := rows.Scan(&userID, &pgBalance); err != nil {
			continue
		}

		redisBalance, err := s.redis.Get(ctx, fmt.Sprintf("ledger:balance:%s", userID)).Int64()
		if err == redis.Nil {
			s.log.Warn().Str("user_id", userID).Msg("user missing in cache")
			discrepancies++
			_ = s.SyncUser(ctx, userID)
			continue
		} else if err != nil {
			continue
		}

		if redisBalance != pgBalance {
			s.log.Warn().
				Str("user_id", userID).
				Int64("redis_balance", redisBalance).
				Int64("postgres_balance", pgBalance).
				Msg("balance mismatch detected")
			discrepancies++
			_ = s.SyncUser(ctx, userID)
		}
	}

	return discrepancies, nil
}

// Stop stops the periodic sync goroutine.
func (s *Syncer) Stop() {
	close(s.stopCh)
}

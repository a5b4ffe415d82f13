package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// balanceCache mirrors the teacher's Redis hot-path: PostgreSQL is always
// the source of truth (PostgresStore above), Redis only accelerates
// GetBalance reads and can go stale in the safe direction (the syncer in
// internal/sync corrects it periodically). Unlike the teacher, the cache
// never gates a reservation decision — Reserve always goes through
// PostgresStore's advisory-locked transaction, so a stale cache can never
// cause an over-reservation.
type balanceCache struct {
	redis *redis.Client
	log   zerolog.Logger

	setScript *redis.Script
}

func newBalanceCache(rdb *redis.Client, logger zerolog.Logger) *balanceCache {
	return &balanceCache{
		redis: rdb,
		log:   logger.With().Str("component", "ledger_cache").Logger(),
		// Only overwrite the cached balance if our value is newer than
		// whatever is already cached, tracked via a monotonically
		// increasing version counter stored alongside the balance. This
		// keeps a slow-to-commit writer from clobbering a newer value.
		setScript: redis.NewScript(`
local key = KEYS[1]
local verKey = KEYS[2]
local newBalance = tonumber(ARGV[1])
local newVersion = tonumber(ARGV[2])
local curVersion = tonumber(redis.call('GET', verKey) or '0')
if newVersion > curVersion then
    redis.call('SET', key, newBalance)
    redis.call('SET', verKey, newVersion)
    return 1
end
return 0
`),
	}
}

func balanceKey(userID string) string { return fmt.Sprintf("ledger:balance:%s", userID) }
func versionKey(userID string) string { return fmt.Sprintf("ledger:balance_version:%s", userID) }

// set best-effort refreshes the cached balance. Failures are logged, never
// returned — the cache is an accelerator, not a dependency.
func (c *balanceCache) set(ctx context.Context, userID string, balance int64) {
	if c == nil {
		return
	}
	version := time.Now().UnixNano()
	if err := c.setScript.Run(ctx, c.redis, []string{balanceKey(userID), versionKey(userID)}, balance, version).Err(); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("failed to refresh balance cache")
	}
}

// get returns the cached balance and whether it was present.
func (c *balanceCache) get(ctx context.Context, userID string) (int64, bool) {
	if c == nil {
		return 0, false
	}
	v, err := c.redis.Get(ctx, balanceKey(userID)).Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

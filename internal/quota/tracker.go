// Package quota enforces per-account activity ceilings with sliding
// hourly and daily windows.
//
// Counters live in Redis sorted sets keyed by account, scored by the
// consumption timestamp, so the window slides continuously instead of
// resetting on wall-clock boundaries. A single Lua script prunes, checks,
// and records both windows atomically; it is the one enforcement point
// that keeps a burst of concurrent jobs from exceeding platform limits.
// Because the state is in Redis it survives process restarts.
package quota

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

// Window identifies one of the two sliding windows tracked per account.
type Window string

const (
	Hourly Window = "hourly"
	Daily  Window = "daily"
)

// Duration returns the trailing interval the window counts over.
func (w Window) Duration() time.Duration {
	if w == Hourly {
		return time.Hour
	}
	return 24 * time.Hour
}

const (
	keyHourly = "quota:%s:hourly" // account id
	keyDaily  = "quota:%s:daily"  // account id
)

// consumeScript prunes expired entries from both windows, refuses if either
// window is at capacity, and otherwise records the consumption in both.
// Refusal returns which window was full so callers can log it.
const consumeScript = `
local hourlyKey = KEYS[1]
local dailyKey = KEYS[2]
local now = tonumber(ARGV[1])
local hourlyWindow = tonumber(ARGV[2])
local dailyWindow = tonumber(ARGV[3])
local hourlyCap = tonumber(ARGV[4])
local dailyCap = tonumber(ARGV[5])
local member = ARGV[6]

redis.call("ZREMRANGEBYSCORE", hourlyKey, 0, now - hourlyWindow)
redis.call("ZREMRANGEBYSCORE", dailyKey, 0, now - dailyWindow)

local hourlyCount = redis.call("ZCARD", hourlyKey)
local dailyCount = redis.call("ZCARD", dailyKey)

if hourlyCount >= hourlyCap then
    return {0, 1, hourlyCount, hourlyCap}
end
if dailyCount >= dailyCap then
    return {0, 2, dailyCount, dailyCap}
end

redis.call("ZADD", hourlyKey, now, member)
redis.call("ZADD", dailyKey, now, member)
redis.call("PEXPIRE", hourlyKey, hourlyWindow)
redis.call("PEXPIRE", dailyKey, dailyWindow)

return {1, 0, hourlyCount + 1, dailyCount + 1}
`

// Tracker tracks sliding quota windows for all accounts.
// Safe for concurrent use.
type Tracker struct {
	redis   *redis.Client
	cfg     config.QuotaConfig
	consume *redis.Script
	// now is injectable for tests
	now func() time.Time
}

// NewTracker creates a quota tracker with the given capacity table.
func NewTracker(client *redis.Client, cfg config.QuotaConfig) *Tracker {
	return &Tracker{
		redis:   client,
		cfg:     cfg,
		consume: redis.NewScript(consumeScript),
		now:     time.Now,
	}
}

// Capacity returns the ceiling for one window given the account's class and
// age. Accounts younger than the configured threshold get a reduced ceiling
// regardless of class; the result never drops below 1.
func (t *Tracker) Capacity(class domain.AccountClass, ageDays int, w Window) int {
	var limit int
	switch {
	case class == domain.ClassBusiness && w == Hourly:
		limit = t.cfg.BusinessHourly
	case class == domain.ClassBusiness && w == Daily:
		limit = t.cfg.BusinessDaily
	case w == Hourly:
		limit = t.cfg.PersonalHourly
	default:
		limit = t.cfg.PersonalDaily
	}
	if ageDays < t.cfg.YoungAgeDays {
		limit = int(math.Floor(float64(limit) * t.cfg.YoungFactor))
		if limit < 1 {
			limit = 1
		}
	}
	return limit
}

// TryConsume atomically checks both windows for the account and, if neither
// is at capacity, records one consumption in each. Returns false when either
// window is exhausted; quota frees up on its own as the windows slide.
func (t *Tracker) TryConsume(ctx context.Context, accountID string, class domain.AccountClass, ageDays int) (bool, error) {
	nowMs := t.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.New().String()[:8])

	result, err := t.consume.Run(ctx, t.redis,
		[]string{fmt.Sprintf(keyHourly, accountID), fmt.Sprintf(keyDaily, accountID)},
		nowMs,
		Hourly.Duration().Milliseconds(),
		Daily.Duration().Milliseconds(),
		t.Capacity(class, ageDays, Hourly),
		t.Capacity(class, ageDays, Daily),
		member,
	).Slice()
	if err != nil {
		return false, fmt.Errorf("quota consume for %s: %w", accountID, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("quota consume for %s: unexpected script reply %v", accountID, result)
	}

	allowed, _ := result[0].(int64)
	return allowed == 1, nil
}

// Remaining returns how many consumptions the account has left in the given
// window. Never negative.
func (t *Tracker) Remaining(ctx context.Context, accountID string, class domain.AccountClass, ageDays int, w Window) (int, error) {
	key := fmt.Sprintf(keyHourly, accountID)
	if w == Daily {
		key = fmt.Sprintf(keyDaily, accountID)
	}
	nowMs := t.now().UnixMilli()

	pipe := t.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", nowMs-w.Duration().Milliseconds()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("quota remaining for %s: %w", accountID, err)
	}

	remaining := t.Capacity(class, ageDays, w) - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// HasCapacity reports whether the account has room in both windows without
// consuming anything. Used by selection to drop exhausted accounts.
func (t *Tracker) HasCapacity(ctx context.Context, accountID string, class domain.AccountClass, ageDays int) (bool, error) {
	for _, w := range []Window{Hourly, Daily} {
		rem, err := t.Remaining(ctx, accountID, class, ageDays, w)
		if err != nil {
			return false, err
		}
		if rem == 0 {
			return false, nil
		}
	}
	return true, nil
}

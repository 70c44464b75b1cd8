package executor

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/distlock"
)

// Locker hands out per-account execution leases. At most one job per account
// may hold the lease at a time, across all worker processes.
type Locker interface {
	// Acquire returns the lease (for release) and whether it was obtained.
	Acquire(ctx context.Context, accountID string) (distlock.DistLock, bool, error)
}

// AccountLocks issues distributed per-account leases backed by Redis, with a
// Postgres advisory-lock fallback when Redis is not configured. The TTL
// bounds how long a crashed worker can block an account.
type AccountLocks struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

// NewAccountLocks creates the lease factory.
func NewAccountLocks(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *AccountLocks {
	return &AccountLocks{redis: redisClient, db: db, ttl: ttl}
}

// Acquire tries to take the execution lease for one account.
func (a *AccountLocks) Acquire(ctx context.Context, accountID string) (distlock.DistLock, bool, error) {
	lock := distlock.NewLock(a.redis, a.db, "account:"+accountID, a.ttl)
	ok, err := lock.Acquire(ctx)
	return lock, ok, err
}

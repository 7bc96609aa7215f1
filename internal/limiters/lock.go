package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AccountLock stores time-boxed account locks. The value is
// "<until unix millis>|<reason>" and the key expires at the deadline.
type AccountLock struct {
	redis  redis.UniversalClient
	prefix string
}

// LockInfo describes an active lock.
type LockInfo struct {
	Until  time.Time
	Reason string
}

func NewAccountLock(client redis.UniversalClient, keyPrefix string) *AccountLock {
	return &AccountLock{redis: client, prefix: keyPrefix + ":lock:"}
}

func (l *AccountLock) key(identity string) string {
	return l.prefix + identity
}

// Lock locks identity until `until`. An existing lock is only extended,
// never shortened. It reports the effective deadline.
func (l *AccountLock) Lock(ctx context.Context, identity string, until time.Time, reason string, now time.Time) (time.Time, error) {
	if l == nil {
		return time.Time{}, nil
	}
	if current, ok, err := l.Get(ctx, identity); err != nil {
		return time.Time{}, err
	} else if ok && !current.Until.Before(until) {
		return current.Until, nil
	}

	ttl := until.Sub(now)
	if ttl <= 0 {
		return time.Time{}, nil
	}
	value := strconv.FormatInt(until.UnixMilli(), 10) + "|" + reason
	if err := l.redis.Set(ctx, l.key(identity), value, ttl).Err(); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return until, nil
}

// Get returns the active lock, if any.
func (l *AccountLock) Get(ctx context.Context, identity string) (LockInfo, bool, error) {
	if l == nil {
		return LockInfo{}, false, nil
	}
	raw, err := l.redis.Get(ctx, l.key(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return LockInfo{}, false, nil
		}
		return LockInfo{}, false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	ms, reason, _ := strings.Cut(raw, "|")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return LockInfo{}, false, fmt.Errorf("corrupt lock value for %s", identity)
	}
	return LockInfo{Until: time.UnixMilli(n).UTC(), Reason: reason}, true, nil
}

// Unlock removes the lock and reports whether one existed.
func (l *AccountLock) Unlock(ctx context.Context, identity string) (bool, error) {
	if l == nil {
		return false, nil
	}
	n, err := l.redis.Del(ctx, l.key(identity)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return n > 0, nil
}

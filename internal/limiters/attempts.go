package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited        = errors.New("attempts rate limited")
	ErrLimiterUnavailable = errors.New("limiter backend unavailable")
)

// AttemptConfig holds thresholds for an [AttemptLimiter].
type AttemptConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Cooldown    time.Duration `koanf:"cooldown"`
}

// AttemptLimiter counts failures per identity in a fixed window that starts
// at the first failure.
type AttemptLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	cooldown    time.Duration
}

// NewAttemptLimiter creates a limiter under prefix. Zero-value fields fall
// back to 5 attempts per minute.
func NewAttemptLimiter(client redis.UniversalClient, prefix string, cfg AttemptConfig) *AttemptLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = 5
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = time.Minute
	}
	return &AttemptLimiter{redis: client, prefix: prefix, maxAttempts: int64(max), cooldown: cd}
}

// NewTOTPLimiter namespaces TOTP verification failures.
func NewTOTPLimiter(client redis.UniversalClient, keyPrefix string, cfg AttemptConfig) *AttemptLimiter {
	return NewAttemptLimiter(client, keyPrefix+":att:totp:", cfg)
}

// NewBackupCodeLimiter namespaces backup-code failures.
func NewBackupCodeLimiter(client redis.UniversalClient, keyPrefix string, cfg AttemptConfig) *AttemptLimiter {
	return NewAttemptLimiter(client, keyPrefix+":att:bc:", cfg)
}

func (l *AttemptLimiter) key(identity string) string {
	return l.prefix + identity
}

// Check returns ErrRateLimited when the budget is spent.
func (l *AttemptLimiter) Check(ctx context.Context, identity string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure counts one failure and returns ErrRateLimited once the
// budget is spent.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, identity string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(identity)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(identity), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a success.
func (l *AttemptLimiter) Reset(ctx context.Context, identity string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}

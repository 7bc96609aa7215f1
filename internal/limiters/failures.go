package limiters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FailureWindow keeps a sliding window of failed login timestamps per
// identity in a sorted set.
type FailureWindow struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
}

// NewFailureWindow returns a window of the given length. A zero window
// defaults to one hour.
func NewFailureWindow(client redis.UniversalClient, keyPrefix string, window time.Duration) *FailureWindow {
	if window <= 0 {
		window = time.Hour
	}
	return &FailureWindow{redis: client, prefix: keyPrefix + ":fail:", window: window}
}

func (w *FailureWindow) key(identity string) string {
	return w.prefix + identity
}

// Record adds a failure at `at` and returns the number of failures inside
// the window ending at `at`.
func (w *FailureWindow) Record(ctx context.Context, identity string, at time.Time) (int, error) {
	if w == nil {
		return 0, nil
	}
	k := w.key(identity)
	var card *redis.IntCmd
	_, err := w.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
		pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(at.Add(-w.window).UnixMilli(), 10))
		card = pipe.ZCard(ctx, k)
		pipe.PExpire(ctx, k, w.window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return int(card.Val()), nil
}

// Count returns failures inside the window ending at now.
func (w *FailureWindow) Count(ctx context.Context, identity string, now time.Time) (int, error) {
	if w == nil {
		return 0, nil
	}
	n, err := w.redis.ZCount(ctx, w.key(identity),
		strconv.FormatInt(now.Add(-w.window).UnixMilli(), 10),
		strconv.FormatInt(now.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return int(n), nil
}

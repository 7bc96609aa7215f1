package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const evictScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if redis.call("SCARD", KEYS[2]) == 0 then
  redis.call("DEL", KEYS[2])
end
return existed
`

var evictLua = redis.NewScript(evictScript)

const writeScript = `
local ttl = tonumber(ARGV[3])
redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
redis.call("SADD", KEYS[2], ARGV[2])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var writeLua = redis.NewScript(writeScript)

// Mirror is the Redis fast-access tier. Each session projection lives under
// its own key with a TTL equal to the remaining lifetime; a per-identity set
// indexes mirrored ids so remote logout-all can evict them.
type Mirror struct {
	redis  redis.UniversalClient
	prefix string
}

// NewMirror returns a mirror that namespaces keys under prefix.
func NewMirror(client redis.UniversalClient, prefix string) *Mirror {
	if prefix == "" {
		prefix = "gt"
	}
	return &Mirror{redis: client, prefix: prefix}
}

func (m *Mirror) key(id string) string {
	return m.prefix + ":s:" + id
}

func (m *Mirror) identityKey(identity string) string {
	return m.prefix + ":u:" + identity
}

// Write stores the projection of s for ttl and indexes it under its identity.
func (m *Mirror) Write(ctx context.Context, s *Session, ttl time.Duration) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}

	keys := []string{m.key(s.ID), m.identityKey(s.Identity)}
	if err := writeLua.Run(ctx, m.redis, keys, data, s.ID, ms).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	}
	return nil
}

// Read returns the mirrored projection, or ok=false on a miss.
func (m *Mirror) Read(ctx context.Context, id string) (*Session, bool, error) {
	data, err := m.redis.Get(ctx, m.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	}

	s, err := Decode(data)
	if err != nil {
		// A corrupt entry is treated as a miss and dropped.
		_ = m.redis.Del(ctx, m.key(id)).Err()
		return nil, false, nil
	}
	return s, true, nil
}

// Evict deletes the projection for id. identity may be empty when unknown;
// the index entry is then left to expire.
func (m *Mirror) Evict(ctx context.Context, identity, id string) error {
	if identity == "" {
		if err := m.redis.Del(ctx, m.key(id)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
		}
		return nil
	}
	if err := evictLua.Run(ctx, m.redis, []string{m.key(id), m.identityKey(identity)}, id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	}
	return nil
}

// EvictIdentity deletes every mirrored session of identity and returns how
// many projections existed.
func (m *Mirror) EvictIdentity(ctx context.Context, identity string) (int, error) {
	idxKey := m.identityKey(identity)
	ids, err := m.redis.SMembers(ctx, idxKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, m.key(id))
	}

	var deleted *redis.IntCmd
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, idxKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	}
	return int(deleted.Val()), nil
}

// IDs returns the mirrored session ids indexed for identity. Entries may be
// stale until the next write or eviction.
func (m *Mirror) IDs(ctx context.Context, identity string) ([]string, error) {
	ids, err := m.redis.SMembers(ctx, m.identityKey(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	}
	return ids, nil
}

// Ping measures Redis round-trip latency.
func (m *Mirror) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMirrorUnavailable, err)
	}
	return time.Since(start), nil
}

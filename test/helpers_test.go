//go:build integration
// +build integration

package test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	goTrust "github.com/MrEthical07/goTrust"
	"github.com/MrEthical07/goTrust/store/badgerstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type region struct {
	engine *goTrust.Engine
	redis  *miniredis.Miniredis
}

func newIntegrationStore(t *testing.T) *badgerstore.Store {
	t.Helper()

	st, err := badgerstore.Open(badgerstore.Options{InMemory: true})
	if err != nil {
		t.Fatalf("badger open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func integrationConfig(name string) goTrust.Config {
	cfg := goTrust.DefaultConfig()
	cfg.Region = name
	cfg.MFA.SecretKey = bytes.Repeat([]byte{0x5a}, 32)
	cfg.Notify.Enabled = false
	return cfg
}

// newRegion builds one regional engine with its own Redis over st.
func newRegion(t *testing.T, name string, st *badgerstore.Store, mutate func(*goTrust.Config, *goTrust.Builder)) *region {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := integrationConfig(name)
	b := goTrust.New().
		WithRedis(rdb).
		WithStore(st).
		WithAuditSink(goTrust.NoOpSink{})
	if mutate != nil {
		mutate(&cfg, b)
	}
	b.WithConfig(cfg)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	t.Cleanup(engine.Close)
	return &region{engine: engine, redis: mr}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

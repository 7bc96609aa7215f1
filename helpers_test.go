package goTrust

import (
	"bytes"
	"context"
	"encoding/base32"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
	"github.com/MrEthical07/goTrust/store/badgerstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testEpoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Emit(_ context.Context, ev AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) byType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEvent
	for _, ev := range s.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type alert struct {
	address string
	subject string
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []alert
}

func (r *alertRecorder) SendSecurityAlert(_ context.Context, address, subject, _ string) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, alert{address: address, subject: subject})
	r.mu.Unlock()
	return nil
}

func (r *alertRecorder) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.subject)
	}
	return out
}

type publishRecorder struct {
	mu     sync.Mutex
	events []regionsync.Event
	drop   bool
}

func (p *publishRecorder) Publish(ev regionsync.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drop {
		return false
	}
	p.events = append(p.events, ev)
	return true
}

func (p *publishRecorder) kinds() []regionsync.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]regionsync.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testEnv struct {
	engine    *Engine
	clock     *testClock
	redis     *miniredis.Miniredis
	client    redis.UniversalClient
	store     *badgerstore.Store
	audit     *captureSink
	alerts    *alertRecorder
	published *publishRecorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Region = "us-east"
	cfg.MFA.SecretKey = bytes.Repeat([]byte{0x42}, 32)
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

// newTestEnv builds an engine over miniredis and an in-memory badger store.
// mutate may adjust the configuration and builder before Build.
func newTestEnv(t *testing.T, mutate func(*Config, *Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := badgerstore.Open(badgerstore.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return buildTestEnv(t, mr, rdb, st, mutate)
}

func buildTestEnv(t *testing.T, mr *miniredis.Miniredis, rdb redis.UniversalClient, st *badgerstore.Store, mutate func(*Config, *Builder)) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:     newTestClock(),
		redis:     mr,
		client:    rdb,
		store:     st,
		audit:     &captureSink{},
		alerts:    &alertRecorder{},
		published: &publishRecorder{},
	}

	cfg := testConfig()
	b := New().
		WithRedis(rdb).
		WithStore(st).
		WithClock(env.clock.Now).
		WithAuditSink(env.audit).
		WithNotifier(env.alerts).
		WithPublisher(env.published)
	if mutate != nil {
		mutate(&cfg, b)
	}
	b.WithConfig(cfg)

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// flushAudit stops the audit dispatcher so every queued event reaches the
// sink. The engine stays usable; later events are discarded.
func (env *testEnv) flushAudit() {
	env.engine.audit.Close()
}

func (env *testEnv) counter(id MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}

func (env *testEnv) createSession(t *testing.T, identity, ip string) *session.Session {
	t.Helper()
	s, err := env.engine.CreateSession(context.Background(), CreateSessionRequest{
		Identity: identity,
		Context:  session.Context{IP: ip},
	})
	if err != nil {
		t.Fatalf("create session for %s: %v", identity, err)
	}
	return s
}

func withPolicy(p session.Policy) func(*Config, *Builder) {
	return func(cfg *Config, _ *Builder) {
		cfg.Session.Default = p
	}
}

func browser(ua string) device.Request {
	return device.Request{IP: "198.51.100.20", UserAgent: ua}
}

const (
	uaDesktop = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
	uaMobile  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

// totpCode derives the current code from an enrollment secret.
func totpCode(t *testing.T, secretBase32 string, at time.Time) string {
	t.Helper()
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	code, err := mfa.NewTOTP(mfa.DefaultTOTPConfig()).Code(raw, at)
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

// wrongCode returns a well-formed code that does not match at.
func wrongCode(t *testing.T, secretBase32 string, at time.Time) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[totpCode(t, secretBase32, at.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	return "444444"
}

// enableMFA enrolls identity and returns its secret and backup codes.
func (env *testEnv) enableMFA(t *testing.T, identity string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	enr, err := env.engine.EnrollMFA(ctx, identity, identity+"@example.com")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	codes, err := env.engine.ConfirmMFAEnrollment(ctx, identity, totpCode(t, enr.Secret, env.clock.Now()))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Step past the confirmed counter so the next code is not a replay.
	env.clock.Advance(time.Minute)
	return enr.Secret, codes
}

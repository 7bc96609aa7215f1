package flows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/session"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type deniedErr struct{ reason string }

func (e deniedErr) Error() string { return "denied: " + e.reason }

type sessionEnv struct {
	clock     *testClock
	repo      *session.MemoryRepository
	policy    session.Policy
	published []regionsync.Event
	audited   []string
	deps      SessionDeps
}

func newSessionEnv(t *testing.T, p session.Policy) *sessionEnv {
	t.Helper()
	env := &sessionEnv{
		clock: &testClock{now: t0},
		repo:  session.NewMemoryRepository(),
	}
	env.setPolicy(t, p)

	n := 0
	env.deps = SessionDeps{
		Region: "us-east",
		Now:    env.clock.Now,
		NewID: func() (string, error) {
			n++
			return fmt.Sprintf("s%d", n), nil
		},
		Policy: func(context.Context, string) (session.Policy, error) {
			return env.policy, nil
		},
		Sessions: session.NewTiered(nil, env.repo, env.clock.Now, zerolog.Nop()),
		Publish: func(ev regionsync.Event) {
			env.published = append(env.published, ev)
		},
		EmitAudit: func(_ context.Context, event string, _ bool, _, _ string, _ error, _ func() map[string]string) {
			env.audited = append(env.audited, event)
		},
		Events: SessionEvents{
			Created:    "session.created",
			Denied:     "session.denied",
			Extended:   "session.extended",
			Terminated: "session.terminated",
		},
		Errors: SessionErrors{
			PolicyDenied: func(reason string) error { return deniedErr{reason} },
		},
	}
	return env
}

func (e *sessionEnv) setPolicy(t *testing.T, p session.Policy) {
	t.Helper()
	compiled, err := p.Compile()
	if err != nil {
		t.Fatalf("compile policy: %v", err)
	}
	e.policy = compiled
}

func (e *sessionEnv) create(t *testing.T, identity string) *session.Session {
	t.Helper()
	s, err := RunCreateSession(context.Background(), CreateRequest{
		Identity: identity,
		Context:  session.Context{IP: "198.51.100.10"},
	}, e.deps)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (e *sessionEnv) kinds() []regionsync.Kind {
	out := make([]regionsync.Kind, 0, len(e.published))
	for _, ev := range e.published {
		out = append(out, ev.Kind)
	}
	return out
}

func TestCreateSessionSetsBoundaries(t *testing.T) {
	env := newSessionEnv(t, session.DefaultPolicy())
	s := env.create(t, "alice")

	if !s.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected expiry now+duration, got %v", s.ExpiresAt)
	}
	if !s.AbsoluteExpiresAt.Equal(t0.Add(24 * time.Hour)) {
		t.Fatalf("expected absolute boundary now+absolute, got %v", s.AbsoluteExpiresAt)
	}
	if err := s.CheckInvariant(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
	if len(env.published) != 1 || env.published[0].Kind != regionsync.KindLogin || env.published[0].SessionID != s.ID {
		t.Fatalf("expected one login event for %s, got %+v", s.ID, env.published)
	}
	if env.published[0].Region != "us-east" {
		t.Fatalf("expected origin region tag, got %q", env.published[0].Region)
	}
}

func TestCreateSessionRequiresIdentityAndIP(t *testing.T) {
	env := newSessionEnv(t, session.DefaultPolicy())
	env.deps.Errors.InvalidRequest = errors.New("bad request")

	cases := []CreateRequest{
		{Identity: "", Context: session.Context{IP: "198.51.100.10"}},
		{Identity: "alice", Context: session.Context{IP: "  "}},
	}
	for _, req := range cases {
		if _, err := RunCreateSession(context.Background(), req, env.deps); !errors.Is(err, env.deps.Errors.InvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", req, err)
		}
	}
}

func TestCreateSessionSingleSessionMode(t *testing.T) {
	p := session.DefaultPolicy()
	p.MaxConcurrentSessions = 1
	p.EnforceSingleSession = true
	env := newSessionEnv(t, p)

	s1 := env.create(t, "alice")
	env.clock.Advance(time.Minute)
	s2 := env.create(t, "alice")

	old, err := env.repo.Get(context.Background(), s1.ID)
	if err != nil {
		t.Fatalf("get s1: %v", err)
	}
	if old.IsActive() || old.State.Reason != session.ReasonSingleSession {
		t.Fatalf("expected s1 terminated by single-session mode, got %+v", old.State)
	}

	res, err := RunValidateSession(context.Background(), ValidateRequest{SessionID: s1.ID}, env.deps)
	if err != nil {
		t.Fatalf("validate s1: %v", err)
	}
	if res.Valid || res.Reason != ReasonInactive {
		t.Fatalf("expected s1 inactive, got %+v", res)
	}
	res, err = RunValidateSession(context.Background(), ValidateRequest{SessionID: s2.ID}, env.deps)
	if err != nil || !res.Valid {
		t.Fatalf("expected s2 valid, got %+v err=%v", res, err)
	}

	want := []regionsync.Kind{regionsync.KindLogin, regionsync.KindLogout, regionsync.KindLogin}
	got := env.kinds()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestCreateSessionDeniedAtLimit(t *testing.T) {
	p := session.DefaultPolicy()
	p.MaxConcurrentSessions = 2
	env := newSessionEnv(t, p)

	env.create(t, "alice")
	env.create(t, "alice")
	_, err := RunCreateSession(context.Background(), CreateRequest{
		Identity: "alice",
		Context:  session.Context{IP: "198.51.100.10"},
	}, env.deps)

	var denied deniedErr
	if !errors.As(err, &denied) || denied.reason != DenyMaxSessions {
		t.Fatalf("expected max-sessions denial, got %v", err)
	}
	active, _ := env.repo.ListActive(context.Background(), "alice")
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
}

func TestCreateSessionExpiredSessionsDoNotCount(t *testing.T) {
	p := session.DefaultPolicy()
	p.MaxConcurrentSessions = 1
	env := newSessionEnv(t, p)

	env.create(t, "alice")
	env.clock.Advance(2 * time.Hour)
	env.create(t, "alice")
}

func TestCreateSessionIdleSessionsDoNotCount(t *testing.T) {
	p := session.DefaultPolicy()
	p.MaxConcurrentSessions = 1
	env := newSessionEnv(t, p)

	idle := env.create(t, "alice")
	env.clock.Advance(31 * time.Minute)
	fresh := env.create(t, "alice")

	stored, err := env.repo.Get(context.Background(), idle.ID)
	if err != nil {
		t.Fatalf("get idle session: %v", err)
	}
	if stored.IsActive() || stored.State.Reason != session.ReasonInactivityTimeout {
		t.Fatalf("expected idle session terminated for inactivity, got %+v", stored.State)
	}
	active, _ := env.repo.ListActive(context.Background(), "alice")
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Fatalf("expected only %s active, got %v", fresh.ID, active)
	}
}

func TestCreateSessionIPRestricted(t *testing.T) {
	p := session.DefaultPolicy()
	p.RestrictIP = true
	p.AllowedCIDRs = []string{"10.0.0.0/8"}
	env := newSessionEnv(t, p)

	_, err := RunCreateSession(context.Background(), CreateRequest{
		Identity: "alice",
		Context:  session.Context{IP: "198.51.100.10"},
	}, env.deps)
	var denied deniedErr
	if !errors.As(err, &denied) || denied.reason != session.ReasonIPRestricted {
		t.Fatalf("expected ip-restricted denial, got %v", err)
	}

	if _, err := RunCreateSession(context.Background(), CreateRequest{
		Identity: "alice",
		Context:  session.Context{IP: "10.1.2.3"},
	}, env.deps); err != nil {
		t.Fatalf("expected allowed address to pass: %v", err)
	}
}

func TestCreateSessionAccountLocked(t *testing.T) {
	env := newSessionEnv(t, session.DefaultPolicy())
	lockedErr := errors.New("locked")
	env.deps.Errors.AccountLocked = lockedErr
	env.deps.AccountLocked = func(context.Context, string) (bool, error) { return true, nil }

	if _, err := RunCreateSession(context.Background(), CreateRequest{
		Identity: "alice",
		Context:  session.Context{IP: "198.51.100.10"},
	}, env.deps); !errors.Is(err, lockedErr) {
		t.Fatalf("expected account locked, got %v", err)
	}
}

func TestValidateSessionExpired(t *testing.T) {
	p := session.DefaultPolicy()
	p.SessionDuration = 3600 * time.Second
	p.InactivityTimeout = 0
	env := newSessionEnv(t, p)
	s := env.create(t, "alice")

	env.clock.Advance(3601 * time.Second)
	res, err := RunValidateSession(context.Background(), ValidateRequest{SessionID: s.ID}, env.deps)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Valid || res.Reason != session.ReasonExpired {
		t.Fatalf("expected expired, got %+v", res)
	}

	stored, _ := env.repo.Get(context.Background(), s.ID)
	if stored.IsActive() || stored.State.Reason != session.ReasonExpired {
		t.Fatalf("expected session terminated as expired, got %+v", stored.State)
	}

	res, _ = RunValidateSession(context.Background(), ValidateRequest{SessionID: s.ID}, env.deps)
	if res.Valid || res.Reason != ReasonInactive {
		t.Fatalf("expected inactive on second validation, got %+v", res)
	}
}

func TestValidateSessionReasons(t *testing.T) {
	p := session.DefaultPolicy()
	p.InactivityTimeout = 10 * time.Minute
	p.RestrictIP = true
	p.AllowedCIDRs = []string{"198.51.100.0/24"}

	t.Run("not found", func(t *testing.T) {
		env := newSessionEnv(t, p)
		res, err := RunValidateSession(context.Background(), ValidateRequest{SessionID: "missing"}, env.deps)
		if err != nil || res.Valid || res.Reason != ReasonNotFound {
			t.Fatalf("expected not-found, got %+v err=%v", res, err)
		}
	})

	t.Run("identity mismatch keeps session", func(t *testing.T) {
		env := newSessionEnv(t, p)
		s := env.create(t, "alice")
		res, _ := RunValidateSession(context.Background(), ValidateRequest{SessionID: s.ID, Identity: "mallory"}, env.deps)
		if res.Valid || res.Reason != ReasonIdentityMismatch {
			t.Fatalf("expected identity mismatch, got %+v", res)
		}
		stored, _ := env.repo.Get(context.Background(), s.ID)
		if !stored.IsActive() {
			t.Fatalf("identity mismatch must not terminate")
		}
	})

	t.Run("ip restricted terminates", func(t *testing.T) {
		env := newSessionEnv(t, p)
		s := env.create(t, "alice")
		res, _ := RunValidateSession(context.Background(), ValidateRequest{SessionID: s.ID, IP: "203.0.113.5"}, env.deps)
		if res.Valid || res.Reason != session.ReasonIPRestricted {
			t.Fatalf("expected ip-restricted, got %+v", res)
		}
		stored, _ := env.repo.Get(context.Background(), s.ID)
		if stored.IsActive() {
			t.Fatalf("expected termination")
		}
	})

	t.Run("inactivity terminates", func(t *testing.T) {
		env := newSessionEnv(t, p)
		s := env.create(t, "alice")
		env.clock.Advance(11 * time.Minute)
		res, _ := RunValidateSession(context.Background(), ValidateRequest{SessionID: s.ID}, env.deps)
		if res.Valid || res.Reason != session.ReasonInactivityTimeout {
			t.Fatalf("expected inactivity-timeout, got %+v", res)
		}
	})

	t.Run("valid bumps activity", func(t *testing.T) {
		env := newSessionEnv(t, p)
		s := env.create(t, "alice")
		env.clock.Advance(5 * time.Minute)
		res, err := RunValidateSession(context.Background(), ValidateRequest{SessionID: s.ID, Identity: "alice", IP: "198.51.100.99"}, env.deps)
		if err != nil || !res.Valid {
			t.Fatalf("expected valid, got %+v err=%v", res, err)
		}
		if !res.Session.LastActivityAt.Equal(env.clock.Now()) {
			t.Fatalf("expected activity bump, got %v", res.Session.LastActivityAt)
		}
		if err := res.Session.CheckInvariant(); err != nil {
			t.Fatalf("invariant: %v", err)
		}
	})
}

type mapCache struct {
	entries map[string]*session.Session
	evicted []string
}

func newMapCache() *mapCache { return &mapCache{entries: map[string]*session.Session{}} }

func (c *mapCache) Read(_ context.Context, id string) (*session.Session, bool, error) {
	s, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (c *mapCache) Write(_ context.Context, s *session.Session, _ time.Duration) error {
	c.entries[s.ID] = s.Clone()
	return nil
}

func (c *mapCache) Evict(_ context.Context, _, id string) error {
	delete(c.entries, id)
	c.evicted = append(c.evicted, id)
	return nil
}

func TestValidateSessionStaleMirrorReportsInactive(t *testing.T) {
	cases := []struct {
		name    string
		advance time.Duration
		ip      string
	}{
		{name: "inactivity window passed", advance: 31 * time.Minute},
		{name: "expiry passed", advance: 2 * time.Hour},
		{name: "address outside allowed range", ip: "203.0.113.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := session.DefaultPolicy()
			p.RestrictIP = true
			p.AllowedCIDRs = []string{"198.51.100.0/24"}
			env := newSessionEnv(t, p)
			cache := newMapCache()
			env.deps.Sessions = session.NewTiered(cache, env.repo, env.clock.Now, zerolog.Nop())

			s := env.create(t, "alice")
			if _, ok := cache.entries[s.ID]; !ok {
				t.Fatalf("expected session mirrored on create")
			}
			// A peer region terminated the session and its eviction never arrived.
			if _, _, err := env.repo.Terminate(context.Background(), s.ID, session.ReasonLogout, env.clock.Now()); err != nil {
				t.Fatalf("terminate durably: %v", err)
			}

			env.clock.Advance(tc.advance)
			res, err := RunValidateSession(context.Background(), ValidateRequest{SessionID: s.ID, IP: tc.ip}, env.deps)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if res.Valid || res.Reason != ReasonInactive {
				t.Fatalf("expected inactive, got valid=%v reason=%q", res.Valid, res.Reason)
			}
			if _, ok := cache.entries[s.ID]; ok {
				t.Fatalf("expected stale mirror entry evicted")
			}
			stored, _ := env.repo.Get(context.Background(), s.ID)
			if stored.State.Reason != session.ReasonLogout {
				t.Fatalf("expected first termination reason kept, got %q", stored.State.Reason)
			}
		})
	}
}

func TestExtendSessionNeverCrossesAbsolute(t *testing.T) {
	p := session.DefaultPolicy()
	p.SessionDuration = time.Hour
	p.AbsoluteTimeout = 3 * time.Hour
	p.InactivityTimeout = 0
	env := newSessionEnv(t, p)
	s := env.create(t, "alice")

	for i := 0; i < 8; i++ {
		env.clock.Advance(40 * time.Minute)
		ok, err := RunExtendSession(context.Background(), s.ID, false, env.deps)
		if err != nil {
			t.Fatalf("extend %d: %v", i, err)
		}
		stored, _ := env.repo.Get(context.Background(), s.ID)
		if stored.ExpiresAt.After(s.CreatedAt.Add(p.AbsoluteTimeout)) {
			t.Fatalf("extension %d crossed the absolute boundary: %v", i, stored.ExpiresAt)
		}
		if err := stored.CheckInvariant(); err != nil {
			t.Fatalf("invariant after extension %d: %v", i, err)
		}
		if !ok && stored.IsActive() {
			t.Fatalf("extension %d refused for a live session", i)
		}
	}
}

func TestExtendSessionFailsClosedWithoutMFA(t *testing.T) {
	env := newSessionEnv(t, session.DefaultPolicy())
	s := env.create(t, "alice")
	env.clock.Advance(10 * time.Minute)

	ok, err := RunExtendSession(context.Background(), s.ID, true, env.deps)
	if err != nil || ok {
		t.Fatalf("expected refusal, got ok=%v err=%v", ok, err)
	}
	stored, _ := env.repo.Get(context.Background(), s.ID)
	if !stored.ExpiresAt.Equal(s.ExpiresAt) {
		t.Fatalf("refused extension must not mutate expiry")
	}

	p := session.DefaultPolicy()
	p.RequireMFAToExtend = true
	env.setPolicy(t, p)
	if ok, _ := RunExtendSession(context.Background(), s.ID, false, env.deps); ok {
		t.Fatalf("expected policy-required MFA to refuse")
	}
}

func TestTerminateSessionIdempotent(t *testing.T) {
	env := newSessionEnv(t, session.DefaultPolicy())
	s := env.create(t, "alice")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := RunTerminateSession(ctx, s.ID, session.ReasonLogout, env.deps); err != nil {
			t.Fatalf("terminate %d: %v", i, err)
		}
	}
	if err := RunTerminateSession(ctx, "unknown", "", env.deps); err != nil {
		t.Fatalf("terminate unknown: %v", err)
	}

	logouts := 0
	for _, ev := range env.published {
		if ev.Kind == regionsync.KindLogout {
			logouts++
		}
	}
	if logouts != 1 {
		t.Fatalf("expected one logout event, got %d", logouts)
	}
}

func TestTerminateAllSessionsExcept(t *testing.T) {
	env := newSessionEnv(t, session.DefaultPolicy())
	keep := env.create(t, "alice")
	env.create(t, "alice")
	env.create(t, "alice")
	env.create(t, "bob")
	env.published = nil

	n, err := RunTerminateAllSessions(context.Background(), "alice", keep.ID, session.ReasonForcedLogout, true, env.deps)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 terminated, got %d err=%v", n, err)
	}
	active, _ := env.repo.ListActive(context.Background(), "alice")
	if len(active) != 1 || active[0].ID != keep.ID {
		t.Fatalf("expected only %s to survive, got %+v", keep.ID, active)
	}
	if len(env.published) != 1 || env.published[0].ExceptSessionID != keep.ID || env.published[0].SessionID != "" {
		t.Fatalf("expected one identity-wide logout, got %+v", env.published)
	}
}

func TestCompleteSessionMFAIsOneWay(t *testing.T) {
	env := newSessionEnv(t, session.DefaultPolicy())
	invalid := errors.New("invalid code")
	env.deps.Errors.InvalidMFACode = invalid
	env.deps.VerifyMFA = func(_ context.Context, _ string, code string) (bool, error) {
		return code == "123456", nil
	}

	s, err := RunCreateSession(context.Background(), CreateRequest{
		Identity:   "alice",
		Context:    session.Context{IP: "198.51.100.10"},
		MFAPending: true,
	}, env.deps)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := RunExtendSession(context.Background(), s.ID, false, env.deps); ok {
		t.Fatalf("pending session must not be extended")
	}

	if _, err := RunCompleteSessionMFA(context.Background(), s.ID, "000000", env.deps); !errors.Is(err, invalid) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	got, err := RunCompleteSessionMFA(context.Background(), s.ID, "123456", env.deps)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !got.MFACompleted || got.MFAPending {
		t.Fatalf("expected completed flag, got %+v", got)
	}

	env.deps.VerifyMFA = func(context.Context, string, string) (bool, error) { return false, nil }
	again, err := RunCompleteSessionMFA(context.Background(), s.ID, "anything", env.deps)
	if err != nil || !again.MFACompleted {
		t.Fatalf("completed flag must stick, got %+v err=%v", again, err)
	}
}

package flows

import (
	"bytes"
	"context"
	"encoding/base32"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goTrust/internal/limiters"
	"github.com/MrEthical07/goTrust/internal/secretbox"
	"github.com/MrEthical07/goTrust/internal/stores"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/store/badgerstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type mfaEnv struct {
	clock *testClock
	totp  *mfa.TOTP
	store *badgerstore.Store
	deps  MFADeps
}

func newRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

func newBadger(t *testing.T) *badgerstore.Store {
	t.Helper()
	opts := badgerstore.DefaultOptions(t.TempDir())
	opts.SyncWrites = false
	s, err := badgerstore.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMFAEnv(t *testing.T) *mfaEnv {
	t.Helper()
	rdb := newRedis(t)
	box, err := secretbox.New(bytes.Repeat([]byte{9}, 32), "totp")
	if err != nil {
		t.Fatalf("secretbox: %v", err)
	}
	env := &mfaEnv{
		clock: &testClock{now: t0},
		totp:  mfa.NewTOTP(mfa.DefaultTOTPConfig()),
		store: newBadger(t),
	}
	env.deps = MFADeps{
		Now:           env.clock.Now,
		Store:         env.store,
		Enrollment:    stores.NewEnrollmentStore(rdb, "gt", env.clock.Now),
		Box:           box,
		TOTP:          env.totp,
		TOTPLimiter:   limiters.NewTOTPLimiter(rdb, "gt", limiters.AttemptConfig{MaxAttempts: 3, Cooldown: time.Minute}),
		BackupLimiter: limiters.NewBackupCodeLimiter(rdb, "gt", limiters.AttemptConfig{MaxAttempts: 5, Cooldown: time.Minute}),
		IsRateLimited: func(err error) bool { return errors.Is(err, limiters.ErrRateLimited) },
		TOTPDigits:    6,
		EnrollmentTTL: 10 * time.Minute,
	}
	return env
}

func (e *mfaEnv) code(t *testing.T, secret string) string {
	t.Helper()
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	c, err := e.totp.Code(raw, e.clock.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	return c
}

func (e *mfaEnv) enable(t *testing.T, identity string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	enr, err := RunEnrollMFA(ctx, identity, identity+"@example.com", e.deps)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	codes, err := RunConfirmEnrollment(ctx, identity, e.code(t, enr.Secret), e.deps)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return enr.Secret, codes
}

func TestEnrollAndConfirm(t *testing.T) {
	env := newMFAEnv(t)
	ctx := context.Background()

	enr, err := RunEnrollMFA(ctx, "alice", "alice@example.com", env.deps)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if !strings.HasPrefix(enr.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri %q", enr.ProvisioningURI)
	}
	if st, _ := env.store.GetMFA(ctx, "alice"); st != nil && st.Enabled {
		t.Fatalf("enrollment must stay pending until confirmed")
	}

	codes, err := RunConfirmEnrollment(ctx, "alice", env.code(t, enr.Secret), env.deps)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(codes) != mfa.DefaultBackupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", mfa.DefaultBackupCodeCount, len(codes))
	}
	st, err := env.store.GetMFA(ctx, "alice")
	if err != nil || st == nil || !st.Enabled || st.Method != mfa.MethodTOTP {
		t.Fatalf("expected enabled totp state, got %+v err=%v", st, err)
	}
	if bytes.Contains(st.SealedSecret, []byte(enr.Secret)) {
		t.Fatalf("secret must be stored sealed")
	}

	if _, err := RunConfirmEnrollment(ctx, "alice", "123456", env.deps); !errors.Is(err, stores.ErrEnrollmentNotFound) {
		t.Fatalf("expected pending enrollment discarded, got %v", err)
	}
	if _, err := RunEnrollMFA(ctx, "alice", "", env.deps); err == nil {
		t.Fatalf("expected enroll on enabled identity to fail")
	}
}

func TestConfirmEnrollmentAttemptBudget(t *testing.T) {
	env := newMFAEnv(t)
	env.deps.MaxEnrollAttempts = 2
	attempts := errors.New("attempts")
	env.deps.Errors.EnrollmentAttempts = attempts
	ctx := context.Background()

	if _, err := RunEnrollMFA(ctx, "alice", "", env.deps); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := RunConfirmEnrollment(ctx, "alice", "000000", env.deps); err == nil || errors.Is(err, attempts) {
		t.Fatalf("expected invalid code on first miss, got %v", err)
	}
	if _, err := RunConfirmEnrollment(ctx, "alice", "000000", env.deps); !errors.Is(err, attempts) {
		t.Fatalf("expected attempts exceeded, got %v", err)
	}
}

func TestVerifyTOTPRejectsReplay(t *testing.T) {
	env := newMFAEnv(t)
	ctx := context.Background()
	secret, _ := env.enable(t, "alice")

	// The confirmation code was already consumed.
	if ok, err := RunVerifyMFA(ctx, "alice", env.code(t, secret), env.deps); err != nil || ok {
		t.Fatalf("expected replayed code to fail, got ok=%v err=%v", ok, err)
	}

	env.clock.Advance(30 * time.Second)
	code := env.code(t, secret)
	if ok, err := RunVerifyMFA(ctx, "alice", code, env.deps); err != nil || !ok {
		t.Fatalf("expected fresh code to verify, got ok=%v err=%v", ok, err)
	}
	if ok, _ := RunVerifyMFA(ctx, "alice", code, env.deps); ok {
		t.Fatalf("expected second use of the same code to fail")
	}

	st, _ := env.store.GetMFA(ctx, "alice")
	if !st.LastVerifiedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected last verified to advance, got %v", st.LastVerifiedAt)
	}
}

func TestBackupCodeVerifiesOnce(t *testing.T) {
	env := newMFAEnv(t)
	ctx := context.Background()
	_, codes := env.enable(t, "alice")

	if ok, err := RunVerifyMFA(ctx, "alice", strings.ToLower(codes[0]), env.deps); err != nil || !ok {
		t.Fatalf("expected backup code to verify, got ok=%v err=%v", ok, err)
	}
	if ok, err := RunVerifyMFA(ctx, "alice", codes[0], env.deps); err != nil || ok {
		t.Fatalf("expected consumed backup code to fail, got ok=%v err=%v", ok, err)
	}

	st, _ := env.store.GetMFA(ctx, "alice")
	if got := st.RemainingBackupCodes(env.clock.Now()); got != len(codes)-1 {
		t.Fatalf("expected %d remaining codes, got %d", len(codes)-1, got)
	}
	if len(st.BackupCodes) != len(codes) {
		t.Fatalf("consumed codes must be kept, pool has %d", len(st.BackupCodes))
	}
}

func TestVerifyRateLimited(t *testing.T) {
	env := newMFAEnv(t)
	limited := errors.New("limited")
	env.deps.Errors.RateLimited = limited
	ctx := context.Background()
	env.enable(t, "alice")

	for i := 0; i < 3; i++ {
		if ok, err := RunVerifyMFA(ctx, "alice", "000000", env.deps); ok || err != nil {
			t.Fatalf("attempt %d: ok=%v err=%v", i, ok, err)
		}
	}
	if _, err := RunVerifyMFA(ctx, "alice", "000000", env.deps); !errors.Is(err, limited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestDisableMFA(t *testing.T) {
	env := newMFAEnv(t)
	notEnabled := errors.New("not enabled")
	env.deps.Errors.NotEnabled = notEnabled
	var alerts []string
	env.deps.Notify = func(_ context.Context, identity, subject, _ string) {
		alerts = append(alerts, identity+":"+subject)
	}
	ctx := context.Background()
	_, codes := env.enable(t, "alice")

	if err := RunDisableMFA(ctx, "alice", env.deps); err != nil {
		t.Fatalf("disable: %v", err)
	}
	st, _ := env.store.GetMFA(ctx, "alice")
	if st.Enabled || len(st.SealedSecret) != 0 || st.RemainingBackupCodes(env.clock.Now()) != 0 {
		t.Fatalf("expected cleared state, got %+v", st)
	}
	if _, err := RunVerifyMFA(ctx, "alice", codes[1], env.deps); !errors.Is(err, notEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}
	if err := RunDisableMFA(ctx, "alice", env.deps); !errors.Is(err, notEnabled) {
		t.Fatalf("expected second disable to fail, got %v", err)
	}
	if len(alerts) != 2 || !strings.HasSuffix(alerts[1], "disabled") {
		t.Fatalf("expected enable and disable alerts, got %v", alerts)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	env := newMFAEnv(t)
	ctx := context.Background()
	secret, old := env.enable(t, "alice")

	if _, err := RunRegenerateBackupCodes(ctx, "alice", "000000", env.deps); err == nil {
		t.Fatalf("expected regeneration without a valid code to fail")
	}

	env.clock.Advance(30 * time.Second)
	fresh, err := RunRegenerateBackupCodes(ctx, "alice", env.code(t, secret), env.deps)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if ok, _ := RunVerifyMFA(ctx, "alice", old[2], env.deps); ok {
		t.Fatalf("old backup codes must be retired")
	}
	if ok, err := RunVerifyMFA(ctx, "alice", fresh[0], env.deps); err != nil || !ok {
		t.Fatalf("new backup code should verify, got ok=%v err=%v", ok, err)
	}
}

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goTrust/device"
	"github.com/MrEthical07/goTrust/mfa"
	"github.com/MrEthical07/goTrust/regionsync"
	"github.com/MrEthical07/goTrust/risk"
	"github.com/MrEthical07/goTrust/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GOTRUST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOTRUST_TEST_POSTGRES_DSN not set")
	}
	if err := Migrate(dsn, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := Open(Options{DSN: dsn})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateRejectsBadInput(t *testing.T) {
	if err := Migrate("", "up"); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if err := Migrate("postgres://localhost/x", "sideways"); err == nil {
		t.Fatalf("expected error for bad direction")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	identity := "pg-" + uuid.NewString()
	sess := &session.Session{
		ID:                uuid.NewString(),
		Identity:          identity,
		Region:            "us-east",
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(time.Hour),
		AbsoluteExpiresAt: now.Add(24 * time.Hour),
		Context:           session.Context{IP: "198.51.100.4", Country: "US", Latitude: 40.7, Longitude: -74},
		State:             session.Active(),
	}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Touch(ctx, sess.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !got.LastActivityAt.Equal(now.Add(time.Minute)) || got.Context.Country != "US" {
		t.Fatalf("unexpected session after touch: %+v", got)
	}

	list, err := s.ListActive(ctx, identity)
	if err != nil || len(list) != 1 {
		t.Fatalf("list active: %v err=%v", list, err)
	}

	if _, changed, err := s.Terminate(ctx, sess.ID, session.ReasonLogout, now.Add(2*time.Minute)); err != nil || !changed {
		t.Fatalf("terminate: changed=%v err=%v", changed, err)
	}
	if _, err := s.CompleteMFA(ctx, sess.ID); !errors.Is(err, session.ErrTransition) {
		t.Fatalf("expected ErrTransition, got %v", err)
	}
	if _, err := s.Get(ctx, uuid.NewString()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryDevicesMFAUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	identity := "pg-" + uuid.NewString()

	for i := 0; i < 3; i++ {
		rec := risk.LoginRecord{Identity: identity, At: now.Add(time.Duration(i) * time.Minute), Succeeded: true,
			Geo: &risk.GeoPoint{Latitude: 1, Longitude: 2, Country: "US"}}
		if err := s.RecordLogin(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	hist, err := s.LoginHistory(ctx, identity, time.Time{}, 2)
	if err != nil || len(hist) != 2 || hist[0].Geo == nil {
		t.Fatalf("history: %+v err=%v", hist, err)
	}

	if err := s.AppendAssessment(ctx, risk.Assessment{Identity: identity, Score: 70, AssessedAt: now,
		Factors: risk.Factors{NewDevice: true}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	as, err := s.ListAssessments(ctx, identity, 0)
	if err != nil || len(as) != 1 || !as[0].Factors.NewDevice {
		t.Fatalf("assessments: %+v err=%v", as, err)
	}

	_, created, err := s.RecordDeviceUse(ctx, device.TrustedDevice{Identity: identity, Fingerprint: "v1:pg", LastUsedAt: now})
	if err != nil || !created {
		t.Fatalf("device: created=%v err=%v", created, err)
	}
	d, err := s.SetDeviceTrust(ctx, identity, "v1:pg", device.TrustElevated, now)
	if err != nil || d == nil || d.Level != device.TrustElevated {
		t.Fatalf("elevate: %+v err=%v", d, err)
	}

	_, codes, err := mfa.GenerateBackupCodes(identity, 3, 10, 0, now)
	if err != nil {
		t.Fatalf("codes: %v", err)
	}
	if _, err := s.UpdateMFA(ctx, identity, func(st *mfa.State) error {
		st.Enabled = true
		st.Method = mfa.MethodTOTP
		st.BackupCodes = codes
		return nil
	}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	st, err := s.UpdateMFA(ctx, identity, func(st *mfa.State) error {
		if !st.ConsumeBackupCode(codes[1].Hash, now) {
			return errors.New("code not consumed")
		}
		return nil
	})
	if err != nil || st.RemainingBackupCodes(now) != 2 {
		t.Fatalf("consume: %+v err=%v", st, err)
	}

	uid := uuid.NewString()
	if ok, err := s.ApplyUser(ctx, regionsync.UserRecord{ID: uid, UpdatedAt: now, Region: "us-east"}); err != nil || !ok {
		t.Fatalf("apply user: ok=%v err=%v", ok, err)
	}
	if ok, err := s.ApplyUser(ctx, regionsync.UserRecord{ID: uid, UpdatedAt: now.Add(-time.Second)}); err != nil || ok {
		t.Fatalf("stale user update must lose: ok=%v err=%v", ok, err)
	}
}

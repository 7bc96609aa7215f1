package mfa

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateBackupCodes(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	codes, pool, err := GenerateBackupCodes("u-1", DefaultBackupCodeCount, 10, 0, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(codes) != 10 || len(pool) != 10 {
		t.Fatalf("got %d codes, %d entries", len(codes), len(pool))
	}
	seen := map[string]bool{}
	for i, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Fatalf("unexpected format %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
		if pool[i].Hash != HashBackupCode("u-1", c) {
			t.Fatalf("hash mismatch for %q", c)
		}
		if !pool[i].ExpiresAt.IsZero() {
			t.Fatal("ttl=0 must not set expiry")
		}
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	codes, pool, err := GenerateBackupCodes("u-1", 3, 10, time.Hour, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	st := &State{Identity: "u-1", Enabled: true, BackupCodes: pool}

	h := HashBackupCode("u-1", strings.ToLower(codes[1]))
	if !st.ConsumeBackupCode(h, now) {
		t.Fatal("first use must succeed")
	}
	if st.ConsumeBackupCode(h, now) {
		t.Fatal("second use must fail")
	}
	if st.RemainingBackupCodes(now) != 2 {
		t.Fatalf("remaining = %d", st.RemainingBackupCodes(now))
	}
	if st.ConsumeBackupCode(HashBackupCode("u-1", codes[0]), now.Add(2*time.Hour)) {
		t.Fatal("expired code must fail")
	}
	if st.ConsumeBackupCode(HashBackupCode("u-2", codes[0]), now) {
		t.Fatal("code bound to another identity must fail")
	}
}

func TestDisableRetiresCodes(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	_, pool, _ := GenerateBackupCodes("u-1", 4, 10, 0, now)
	st := &State{Identity: "u-1", Enabled: true, Method: MethodTOTP, SealedSecret: []byte("x"), BackupCodes: pool}

	st.Disable(now)
	if st.Enabled || st.SealedSecret != nil || st.Method != MethodNone {
		t.Fatalf("state not cleared: %+v", st)
	}
	if len(st.BackupCodes) != 4 {
		t.Fatal("codes must be retained for audit")
	}
	if st.RemainingBackupCodes(now) != 0 {
		t.Fatal("all codes must be retired")
	}
}

func TestCanonicalBackupCode(t *testing.T) {
	if got := CanonicalBackupCode(" abcde-fghjk "); got != "ABCDEFGHJK" {
		t.Fatalf("got %q", got)
	}
	if FormatBackupCode("ABC") != "ABC" {
		t.Fatal("short codes stay unformatted")
	}
}

package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestThrottledPerAddress(t *testing.T) {
	var sent []string
	next := NotifierFunc(func(_ context.Context, address, _, _ string) error {
		sent = append(sent, address)
		return nil
	})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewThrottled(next, ThrottleConfig{Every: time.Minute, Burst: 2, IdleTTL: time.Hour})
	th.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := th.SendSecurityAlert(ctx, "a@example.com", "s", "b"); err != nil {
			t.Fatalf("alert %d: %v", i, err)
		}
	}
	if err := th.SendSecurityAlert(ctx, "a@example.com", "s", "b"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if err := th.SendSecurityAlert(ctx, "b@example.com", "s", "b"); err != nil {
		t.Fatalf("other address must not be throttled: %v", err)
	}

	now = now.Add(time.Minute)
	if err := th.SendSecurityAlert(ctx, "a@example.com", "s", "b"); err != nil {
		t.Fatalf("bucket must refill: %v", err)
	}
	if len(sent) != 4 {
		t.Fatalf("expected 4 delivered alerts, got %d", len(sent))
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))
	if err := n.SendSecurityAlert(context.Background(), "a@example.com", "New sign-in", "Chrome on Linux"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), `"subject":"New sign-in"`) {
		t.Fatalf("unexpected log output %s", buf.String())
	}
}

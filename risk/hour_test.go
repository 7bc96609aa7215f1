package risk

import (
	"testing"
	"time"
)

func at(hour int) time.Time {
	return time.Date(2026, 5, 1, hour, 30, 0, 0, time.UTC)
}

func TestHourWindow(t *testing.T) {
	w := DefaultHourWindow()
	for h, want := range map[int]bool{1: false, 2: true, 4: true, 5: false, 14: false} {
		if got := w.Unusual("", at(h), nil); got != want {
			t.Errorf("hour %d: got %v want %v", h, got, want)
		}
	}

	wrap := HourWindow{Start: 22, End: 4}
	for h, want := range map[int]bool{21: false, 22: true, 0: true, 3: true, 4: false} {
		if got := wrap.Unusual("", at(h), nil); got != want {
			t.Errorf("wrap hour %d: got %v want %v", h, got, want)
		}
	}
}

func TestHourBaseline(t *testing.T) {
	history := make([]LoginRecord, 0, 10)
	for i := 0; i < 10; i++ {
		history = append(history, LoginRecord{At: at(9).Add(-time.Duration(i+1) * 24 * time.Hour), Succeeded: true})
	}

	b := HourBaseline{MinSamples: 5, MinShare: 0.1, Tolerance: 1, Fallback: DefaultHourWindow()}
	if b.Unusual("u", at(10), history) {
		t.Fatal("10:30 is within an hour of the 09:30 habit")
	}
	if !b.Unusual("u", at(20), history) {
		t.Fatal("20:30 has no history support")
	}
	if !b.Unusual("u", at(3), history[:2]) {
		t.Fatal("thin history must fall back to the window")
	}
	if hourDistance(23, 1) != 2 {
		t.Fatal("hour distance must wrap midnight")
	}
}

func TestPrefixDetector(t *testing.T) {
	d, err := NewPrefixDetector([]string{"203.0.113.0/24", "2001:db8::/32", "192.0.2.7", " "})
	if err != nil {
		t.Fatalf("NewPrefixDetector: %v", err)
	}
	if d.Len() != 3 {
		t.Fatalf("Len = %d", d.Len())
	}
	for ip, want := range map[string]bool{
		"203.0.113.200":       true,
		"::ffff:203.0.113.1":  true,
		"2001:db8::1":         true,
		"192.0.2.7":           true,
		"192.0.2.8":           false,
		"not-an-ip":           false,
	} {
		if got := d.Suspicious(ip); got != want {
			t.Errorf("Suspicious(%q) = %v, want %v", ip, got, want)
		}
	}
	if _, err := NewPrefixDetector([]string{"300.1.1.1/8"}); err == nil {
		t.Fatal("expected parse error")
	}
}

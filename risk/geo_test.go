package risk

import (
	"math"
	"testing"
	"time"
)

func TestDistanceMiles(t *testing.T) {
	got := DistanceMiles(*newYork, *london)
	if math.Abs(got-3461) > 15 {
		t.Fatalf("NY-London = %.1f miles, want about 3461", got)
	}
	if d := DistanceMiles(*newYork, *newYork); d != 0 {
		t.Fatalf("same point distance = %f", d)
	}
}

func TestImpossibleTravel(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		prev    *GeoPoint
		elapsed time.Duration
		cur     *GeoPoint
		want    bool
	}{
		{"coast to coast in one hour", newYork, time.Hour, losAngeles, true},
		{"coast to coast in a day", newYork, 24 * time.Hour, losAngeles, false},
		{"transatlantic in six hours", newYork, 6 * time.Hour, london, true},
		{"transatlantic in eight hours", newYork, 8 * time.Hour, london, false},
		{"no movement", newYork, 0, newYork, false},
		{"prev unknown", nil, time.Hour, losAngeles, false},
		{"cur unknown", newYork, time.Hour, nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ImpossibleTravel(tc.prev, now.Add(-tc.elapsed), tc.cur, now, 500)
			if got != tc.want {
				t.Fatalf("ImpossibleTravel = %v, want %v", got, tc.want)
			}
		})
	}
}

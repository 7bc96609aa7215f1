package risk

import (
	"reflect"
	"testing"
	"time"

	"github.com/MrEthical07/goTrust/device"
)

var (
	newYork    = &GeoPoint{Latitude: 40.7128, Longitude: -74.0060, Country: "US", City: "New York"}
	losAngeles = &GeoPoint{Latitude: 34.0522, Longitude: -118.2437, Country: "US", City: "Los Angeles"}
	london     = &GeoPoint{Latitude: 51.5074, Longitude: -0.1278, Country: "GB", City: "London"}
)

const knownFP = "v1:0123456789abcdef0123456789abcdef"

func baseInput(now time.Time) Input {
	return Input{
		Identity:     "user-1",
		Now:          now,
		Device:       device.Info{Fingerprint: knownFP, IP: "198.51.100.10"},
		Geo:          newYork,
		Succeeded:    true,
		KnownDevices: []string{knownFP},
		History: []LoginRecord{{
			Identity:    "user-1",
			At:          now.Add(-time.Hour),
			Succeeded:   true,
			IP:          "198.51.100.10",
			Fingerprint: knownFP,
			Geo:         newYork,
		}},
	}
}

func afternoon() time.Time {
	return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
}

func TestAssessBaselineIsZero(t *testing.T) {
	e := NewEngine(DefaultConfig())
	got := e.Assess(baseInput(afternoon()))
	if got.Score != 0 {
		t.Fatalf("expected zero score, got %d (%v)", got.Score, got.Factors.Names())
	}
	if got.Factors.Count() != 0 {
		t.Fatalf("expected no factors, got %v", got.Factors.Names())
	}
}

func TestAssessImpossibleTravelRaisesScore(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := afternoon()

	if d := DistanceMiles(*newYork, *losAngeles); d < 2000 {
		t.Fatalf("fixture distance too small: %.0f", d)
	}

	baseline := e.Assess(baseInput(now))

	in := baseInput(now)
	in.Geo = losAngeles
	got := e.Assess(in)

	if !got.Factors.RapidGeoImpossibility {
		t.Fatal("expected rapidGeoImpossibility")
	}
	if got.Score-baseline.Score < 60 {
		t.Fatalf("expected at least +60, baseline=%d got=%d", baseline.Score, got.Score)
	}
}

func TestAssessImpossibleTravelFailsOpenWithoutGeo(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := afternoon()

	t.Run("current missing", func(t *testing.T) {
		in := baseInput(now)
		in.Geo = nil
		if e.Assess(in).Factors.RapidGeoImpossibility {
			t.Fatal("factor must be false without current geolocation")
		}
	})
	t.Run("previous missing", func(t *testing.T) {
		in := baseInput(now)
		in.History[0].Geo = nil
		in.Geo = losAngeles
		if e.Assess(in).Factors.RapidGeoImpossibility {
			t.Fatal("factor must be false without previous geolocation")
		}
	})
	t.Run("placeholder coordinates", func(t *testing.T) {
		in := baseInput(now)
		in.Geo = &GeoPoint{Country: "US"}
		if e.Assess(in).Factors.RapidGeoImpossibility {
			t.Fatal("0,0 must be treated as unknown")
		}
	})
}

func TestAssessIsPure(t *testing.T) {
	e := NewEngine(DefaultConfig(), WithProxyDetector(mustPrefixes(t, "203.0.113.0/24")))
	in := baseInput(afternoon())
	in.Geo = london
	in.Device.IP = "203.0.113.5"
	in.Device.Fingerprint = "v1:ffffffffffffffffffffffffffffffff"
	in.Succeeded = false

	a := e.Assess(in)
	b := e.Assess(in)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("assessments differ:\n%+v\n%+v", a, b)
	}
}

func TestAssessFactors(t *testing.T) {
	now := afternoon()
	cfg := DefaultConfig()
	cfg.HighRiskCountries = []string{"gb"}
	e := NewEngine(cfg, WithProxyDetector(mustPrefixes(t, "203.0.113.0/24")))

	tests := []struct {
		name   string
		mutate func(*Input)
		check  func(Factors) bool
	}{
		{"new device", func(in *Input) { in.Device.Fingerprint = "v1:other" }, func(f Factors) bool { return f.NewDevice }},
		{"location change", func(in *Input) {
			in.Geo = london
			in.History[0].At = now.Add(-48 * time.Hour)
		}, func(f Factors) bool { return f.LocationChange && !f.RapidGeoImpossibility }},
		{"high risk country", func(in *Input) { in.Geo = london }, func(f Factors) bool { return f.HighRiskCountry }},
		{"unusual ip range", func(in *Input) { in.Device.IP = "192.0.2.1" }, func(f Factors) bool { return f.UnusualIPRange }},
		{"same /16 is usual", func(in *Input) { in.Device.IP = "198.51.7.7" }, func(f Factors) bool { return !f.UnusualIPRange }},
		{"vpn", func(in *Input) { in.Device.IP = "203.0.113.77" }, func(f Factors) bool { return f.VPNProxySuspected }},
		{"unusual hour", func(in *Input) { in.Now = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC) }, func(f Factors) bool { return f.UnusualHour }},
		{"brute force from history", func(in *Input) {
			for i := 0; i < 5; i++ {
				in.History = append(in.History, LoginRecord{At: now.Add(-time.Duration(i+1) * time.Minute)})
			}
		}, func(f Factors) bool { return f.BruteForce }},
		{"brute force from counter", func(in *Input) { in.RecentFailures = 5 }, func(f Factors) bool { return f.BruteForce }},
		{"old failures ignored", func(in *Input) {
			for i := 0; i < 5; i++ {
				in.History = append(in.History, LoginRecord{At: now.Add(-2 * time.Hour)})
			}
		}, func(f Factors) bool { return !f.BruteForce }},
		{"prior suspicious", func(in *Input) {
			in.History = append(in.History, LoginRecord{At: now.Add(-10 * 24 * time.Hour), Flagged: true})
		}, func(f Factors) bool { return f.PriorSuspiciousActivity }},
		{"stale suspicious ignored", func(in *Input) {
			in.History = append(in.History, LoginRecord{At: now.Add(-31 * 24 * time.Hour), Flagged: true})
		}, func(f Factors) bool { return !f.PriorSuspiciousActivity }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := baseInput(now)
			in.History = append([]LoginRecord(nil), in.History...)
			tc.mutate(&in)
			got := e.Assess(in)
			if !tc.check(got.Factors) {
				t.Fatalf("unexpected factors: %v", got.Factors.Names())
			}
		})
	}
}

func TestScoreAdjustments(t *testing.T) {
	now := afternoon()
	e := NewEngine(DefaultConfig())

	in := baseInput(now)
	in.Device.Fingerprint = "v1:new"

	tests := []struct {
		name      string
		createdAt time.Time
		succeeded bool
		want      int
	}{
		{"unknown age", time.Time{}, true, 20},
		{"new account", now.Add(-24 * time.Hour), true, 30},
		{"mature 100d", now.Add(-100 * 24 * time.Hour), true, 15},
		{"mature 200d", now.Add(-200 * 24 * time.Hour), true, 10},
		{"mature 400d", now.Add(-400 * 24 * time.Hour), true, 5},
		{"failed login", time.Time{}, false, 35},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := in
			in.AccountCreatedAt = tc.createdAt
			in.Succeeded = tc.succeeded
			if got := e.Assess(in).Score; got != tc.want {
				t.Fatalf("score = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestScoreCombinedSurchargesAndClamp(t *testing.T) {
	now := afternoon()
	e := NewEngine(DefaultConfig())

	in := baseInput(now)
	in.Device.Fingerprint = "v1:new"
	in.Geo = losAngeles
	got := e.Assess(in)
	// new device 20 + travel 60 + combined 20
	if got.Score != 100 {
		t.Fatalf("score = %d, want 100", got.Score)
	}

	in.Succeeded = false
	in.RecentFailures = 10
	if got := e.Assess(in).Score; got != 100 {
		t.Fatalf("score must clamp at 100, got %d", got)
	}

	mature := baseInput(now)
	mature.AccountCreatedAt = now.Add(-1000 * 24 * time.Hour)
	if got := e.Assess(mature).Score; got != 0 {
		t.Fatalf("score must clamp at 0, got %d", got)
	}
}

func TestScoreCompounding(t *testing.T) {
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	e := NewEngine(DefaultConfig())

	in := baseInput(now)
	in.History[0].At = now.Add(-72 * time.Hour)
	in.Device.Fingerprint = "v1:new"
	in.Device.IP = "192.0.2.1"
	in.Geo = london

	got := e.Assess(in)
	if got.Factors.Count() != 4 {
		t.Fatalf("expected 4 factors, got %v", got.Factors.Names())
	}
	// 20 + 15 + 10 + 10 + compounding 10
	if got.Score != 65 {
		t.Fatalf("score = %d, want 65", got.Score)
	}
}

func TestDecide(t *testing.T) {
	e := NewEngine(DefaultConfig())
	tests := []struct {
		score int
		want  Decision
	}{
		{0, Decision{}},
		{49, Decision{}},
		{50, Decision{RequireMFA: true}},
		{84, Decision{RequireMFA: true}},
		{85, Decision{RequireMFA: true, Block: true}},
		{100, Decision{RequireMFA: true, Block: true}},
	}
	for _, tc := range tests {
		if got := e.Decide(tc.score); got != tc.want {
			t.Errorf("Decide(%d) = %+v, want %+v", tc.score, got, tc.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.BlockThreshold = 40
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when block < mfa threshold")
	}
	cfg = DefaultConfig()
	cfg.IPv4PrefixBits = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for prefix bits")
	}
}

func TestFactorsNames(t *testing.T) {
	f := Factors{NewDevice: true, RapidGeoImpossibility: true}
	want := []string{"newDevice", "rapidGeoImpossibility"}
	if got := f.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func mustPrefixes(t *testing.T, cidrs ...string) *PrefixDetector {
	t.Helper()
	d, err := NewPrefixDetector(cidrs)
	if err != nil {
		t.Fatalf("NewPrefixDetector: %v", err)
	}
	return d
}

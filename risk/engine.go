package risk

import (
	"errors"
	"net/netip"
	"strings"
	"time"
)

// Weights are the fixed point values of each factor and adjustment.
type Weights struct {
	NewDevice               int `koanf:"new_device"`
	LocationChange          int `koanf:"location_change"`
	UnusualHour             int `koanf:"unusual_hour"`
	UnusualIPRange          int `koanf:"unusual_ip_range"`
	VPNProxySuspected       int `koanf:"vpn_proxy"`
	RapidGeoImpossibility   int `koanf:"impossible_travel"`
	BruteForce              int `koanf:"brute_force"`
	HighRiskCountry         int `koanf:"high_risk_country"`
	PriorSuspiciousActivity int `koanf:"prior_suspicious"`

	FailedLogin        int `koanf:"failed_login"`
	NewAccount         int `koanf:"new_account"`
	TravelAndNewDevice int `koanf:"travel_and_new_device"`
	Compounding        int `koanf:"compounding"`
	Maturity90         int `koanf:"maturity_90"`
	Maturity180        int `koanf:"maturity_180"`
	Maturity365        int `koanf:"maturity_365"`
}

// DefaultWeights returns the documented weight table.
//
//	new device               20
//	location change          15
//	unusual hour             10
//	unusual ip range         10
//	vpn / proxy              15
//	impossible travel        60
//	brute force              30
//	high-risk country        20
//	prior suspicious         15
//	failed login            +15
//	account < 2 days        +10
//	travel + new device     +20
//	4+ factors              +10
//	account > 90/180/365d   -5/-10/-15
func DefaultWeights() Weights {
	return Weights{
		NewDevice:               20,
		LocationChange:          15,
		UnusualHour:             10,
		UnusualIPRange:          10,
		VPNProxySuspected:       15,
		RapidGeoImpossibility:   60,
		BruteForce:              30,
		HighRiskCountry:         20,
		PriorSuspiciousActivity: 15,
		FailedLogin:             15,
		NewAccount:              10,
		TravelAndNewDevice:      20,
		Compounding:             10,
		Maturity90:              5,
		Maturity180:             10,
		Maturity365:             15,
	}
}

// Config controls scoring and decision thresholds.
type Config struct {
	Weights             Weights       `koanf:"weights"`
	MFAThreshold        int           `koanf:"mfa_threshold"`
	BlockThreshold      int           `koanf:"block_threshold"`
	BruteForceThreshold int           `koanf:"brute_force_threshold"`
	BruteForceWindow    time.Duration `koanf:"brute_force_window"`
	SuspiciousLookback  time.Duration `koanf:"suspicious_lookback"`
	MaxTravelMPH        float64       `koanf:"max_travel_mph"`
	HighRiskCountries   []string      `koanf:"high_risk_countries"`
	IPv4PrefixBits      int           `koanf:"ipv4_prefix_bits"`
	IPv6PrefixBits      int           `koanf:"ipv6_prefix_bits"`
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		MFAThreshold:        50,
		BlockThreshold:      85,
		BruteForceThreshold: 5,
		BruteForceWindow:    time.Hour,
		SuspiciousLookback:  30 * 24 * time.Hour,
		MaxTravelMPH:        500,
		IPv4PrefixBits:      16,
		IPv6PrefixBits:      48,
	}
}

// Validate checks threshold ordering and window sizes.
func (c Config) Validate() error {
	if c.MFAThreshold <= 0 || c.MFAThreshold > 100 {
		return errors.New("risk: mfa threshold must be in (0,100]")
	}
	if c.BlockThreshold < c.MFAThreshold || c.BlockThreshold > 100 {
		return errors.New("risk: block threshold must be in [mfa threshold,100]")
	}
	if c.BruteForceThreshold <= 0 || c.BruteForceWindow <= 0 {
		return errors.New("risk: brute force threshold and window must be > 0")
	}
	if c.SuspiciousLookback <= 0 {
		return errors.New("risk: suspicious lookback must be > 0")
	}
	if c.MaxTravelMPH <= 0 {
		return errors.New("risk: max travel speed must be > 0")
	}
	if c.IPv4PrefixBits < 1 || c.IPv4PrefixBits > 32 || c.IPv6PrefixBits < 1 || c.IPv6PrefixBits > 128 {
		return errors.New("risk: invalid ip prefix bits")
	}
	return nil
}

// Engine computes assessments. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	highRisk map[string]struct{}
	hours    HourStrategy
	proxies  ProxyDetector
}

// EngineOption customizes an [Engine].
type EngineOption func(*Engine)

// WithHourStrategy replaces the unusual-hour heuristic.
func WithHourStrategy(s HourStrategy) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.hours = s
		}
	}
}

// WithProxyDetector installs a VPN/proxy detector.
func WithProxyDetector(d ProxyDetector) EngineOption {
	return func(e *Engine) {
		if d != nil {
			e.proxies = d
		}
	}
}

// NewEngine returns an engine for cfg. The default hour strategy is
// [DefaultHourWindow] and no addresses are treated as proxies.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:      cfg,
		highRisk: make(map[string]struct{}, len(cfg.HighRiskCountries)),
		hours:    DefaultHourWindow(),
		proxies:  noProxies{},
	}
	for _, c := range cfg.HighRiskCountries {
		e.highRisk[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Assess scores one login attempt. The returned assessment has no ID; the
// caller assigns one when persisting it.
func (e *Engine) Assess(in Input) Assessment {
	now := in.Now
	lastSuccess := lastSuccessfulLogin(in.History, now)

	var f Factors
	f.NewDevice = isNewDevice(in.Device.Fingerprint, in.KnownDevices)
	if lastSuccess != nil && lastSuccess.Geo != nil && in.Geo != nil &&
		lastSuccess.Geo.Country != "" && in.Geo.Country != "" {
		f.LocationChange = !strings.EqualFold(lastSuccess.Geo.Country, in.Geo.Country)
	}
	f.UnusualHour = e.hours.Unusual(in.Identity, now, in.History)
	if lastSuccess != nil {
		f.UnusualIPRange = e.differentRange(lastSuccess.IP, in.Device.IP)
	}
	f.VPNProxySuspected = e.proxies.Suspicious(in.Device.IP)
	if lastSuccess != nil {
		f.RapidGeoImpossibility = ImpossibleTravel(lastSuccess.Geo, lastSuccess.At, in.Geo, now, e.cfg.MaxTravelMPH)
	}
	f.BruteForce = e.recentFailures(in) >= e.cfg.BruteForceThreshold
	if in.Geo != nil {
		_, f.HighRiskCountry = e.highRisk[strings.ToUpper(in.Geo.Country)]
	}
	f.PriorSuspiciousActivity = e.priorSuspicious(in.History, now)

	ageDays := 0
	if !in.AccountCreatedAt.IsZero() && now.After(in.AccountCreatedAt) {
		ageDays = int(now.Sub(in.AccountCreatedAt) / (24 * time.Hour))
	}

	out := Assessment{
		Identity:       in.Identity,
		Factors:        f,
		AccountAgeDays: ageDays,
		Succeeded:      in.Succeeded,
		IP:             in.Device.IP,
		Fingerprint:    in.Device.Fingerprint,
		AssessedAt:     now,
	}
	if in.Geo != nil {
		out.Country = in.Geo.Country
	}
	out.Score = e.score(f, ageDays, !in.AccountCreatedAt.IsZero(), in.Succeeded)
	return out
}

func (e *Engine) score(f Factors, ageDays int, ageKnown, succeeded bool) int {
	w := e.cfg.Weights
	score := 0
	add := func(on bool, pts int) {
		if on {
			score += pts
		}
	}
	add(f.NewDevice, w.NewDevice)
	add(f.LocationChange, w.LocationChange)
	add(f.UnusualHour, w.UnusualHour)
	add(f.UnusualIPRange, w.UnusualIPRange)
	add(f.VPNProxySuspected, w.VPNProxySuspected)
	add(f.RapidGeoImpossibility, w.RapidGeoImpossibility)
	add(f.BruteForce, w.BruteForce)
	add(f.HighRiskCountry, w.HighRiskCountry)
	add(f.PriorSuspiciousActivity, w.PriorSuspiciousActivity)

	if ageKnown {
		switch {
		case ageDays > 365:
			score -= w.Maturity365
		case ageDays > 180:
			score -= w.Maturity180
		case ageDays > 90:
			score -= w.Maturity90
		case ageDays < 2:
			score += w.NewAccount
		}
	}
	add(!succeeded, w.FailedLogin)
	add(f.RapidGeoImpossibility && f.NewDevice, w.TravelAndNewDevice)
	add(f.Count() >= 4, w.Compounding)

	return clamp(score, 0, 100)
}

// Decide maps a score onto the configured thresholds.
func (e *Engine) Decide(score int) Decision {
	return Decide(score, e.cfg.MFAThreshold, e.cfg.BlockThreshold)
}

// Decide maps score onto the given thresholds. Block implies RequireMFA.
func Decide(score, mfaThreshold, blockThreshold int) Decision {
	return Decision{
		RequireMFA: score >= mfaThreshold,
		Block:      score >= blockThreshold,
	}
}

func (e *Engine) recentFailures(in Input) int {
	since := in.Now.Add(-e.cfg.BruteForceWindow)
	n := 0
	for i := range in.History {
		r := &in.History[i]
		if !r.Succeeded && r.At.After(since) && !r.At.After(in.Now) {
			n++
		}
	}
	if in.RecentFailures > n {
		return in.RecentFailures
	}
	return n
}

func (e *Engine) priorSuspicious(history []LoginRecord, now time.Time) bool {
	since := now.Add(-e.cfg.SuspiciousLookback)
	for i := range history {
		if history[i].Flagged && history[i].At.After(since) && !history[i].At.After(now) {
			return true
		}
	}
	return false
}

func (e *Engine) differentRange(prev, cur string) bool {
	a, errA := netip.ParseAddr(prev)
	b, errB := netip.ParseAddr(cur)
	if errA != nil || errB != nil {
		return false
	}
	a, b = a.Unmap(), b.Unmap()
	if a.Is4() != b.Is4() {
		return true
	}
	bits := e.cfg.IPv6PrefixBits
	if a.Is4() {
		bits = e.cfg.IPv4PrefixBits
	}
	pa, err := a.Prefix(bits)
	if err != nil {
		return false
	}
	return !pa.Contains(b)
}

func lastSuccessfulLogin(history []LoginRecord, now time.Time) *LoginRecord {
	var best *LoginRecord
	for i := range history {
		r := &history[i]
		if !r.Succeeded || r.At.After(now) {
			continue
		}
		if best == nil || r.At.After(best.At) {
			best = r
		}
	}
	return best
}

func isNewDevice(fp string, known []string) bool {
	if fp == "" {
		return true
	}
	for _, k := range known {
		if k == fp {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

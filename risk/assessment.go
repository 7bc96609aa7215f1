package risk

import (
	"time"

	"github.com/MrEthical07/goTrust/device"
)

// GeoPoint is an approximate location resolved from a client address.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
}

// LoginRecord is one entry of an identity's login history.
type LoginRecord struct {
	Identity    string    `json:"identity"`
	At          time.Time `json:"at"`
	Succeeded   bool      `json:"succeeded"`
	IP          string    `json:"ip,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Geo         *GeoPoint `json:"geo,omitempty"`
	Flagged     bool      `json:"flagged,omitempty"`
}

// Input carries everything a single assessment needs.
type Input struct {
	Identity         string
	Now              time.Time
	Device           device.Info
	Geo              *GeoPoint
	Succeeded        bool
	AccountCreatedAt time.Time

	// KnownDevices holds the identity's non-revoked trusted fingerprints.
	KnownDevices []string
	// History is the identity's login history, newest first or in any order.
	History []LoginRecord
	// RecentFailures is an externally tracked failure count for the
	// brute-force window. The larger of this and the count derived from
	// History is used.
	RecentFailures int
}

// Factors is the boolean risk-factor set of one assessment.
type Factors struct {
	NewDevice               bool `json:"newDevice"`
	LocationChange          bool `json:"locationChange"`
	UnusualHour             bool `json:"unusualHour"`
	UnusualIPRange          bool `json:"unusualIpRange"`
	VPNProxySuspected       bool `json:"vpnProxySuspected"`
	RapidGeoImpossibility   bool `json:"rapidGeoImpossibility"`
	BruteForce              bool `json:"bruteForce"`
	HighRiskCountry         bool `json:"highRiskCountry"`
	PriorSuspiciousActivity bool `json:"priorSuspiciousActivity"`
}

// Count returns how many factors are set.
func (f Factors) Count() int {
	n := 0
	for _, v := range f.values() {
		if v.on {
			n++
		}
	}
	return n
}

// Names returns the wire names of the set factors in a fixed order.
func (f Factors) Names() []string {
	out := make([]string, 0, 4)
	for _, v := range f.values() {
		if v.on {
			out = append(out, v.name)
		}
	}
	return out
}

type namedFactor struct {
	name string
	on   bool
}

func (f Factors) values() [9]namedFactor {
	return [9]namedFactor{
		{"newDevice", f.NewDevice},
		{"locationChange", f.LocationChange},
		{"unusualHour", f.UnusualHour},
		{"unusualIpRange", f.UnusualIPRange},
		{"vpnProxySuspected", f.VPNProxySuspected},
		{"rapidGeoImpossibility", f.RapidGeoImpossibility},
		{"bruteForce", f.BruteForce},
		{"highRiskCountry", f.HighRiskCountry},
		{"priorSuspiciousActivity", f.PriorSuspiciousActivity},
	}
}

// Assessment is the immutable result of one scoring run.
type Assessment struct {
	ID             string    `json:"id"`
	Identity       string    `json:"identity"`
	Score          int       `json:"score"`
	Factors        Factors   `json:"factors"`
	AccountAgeDays int       `json:"accountAgeDays"`
	Succeeded      bool      `json:"succeeded"`
	IP             string    `json:"ip,omitempty"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	Country        string    `json:"country,omitempty"`
	AssessedAt     time.Time `json:"assessedAt"`
}

// Decision is the action derived from a score.
type Decision struct {
	RequireMFA bool `json:"requireMfa"`
	Block      bool `json:"block"`
}

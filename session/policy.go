package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Policy is the per-identity-class session policy. Policies are compiled
// once at construction and never mutated afterwards.
type Policy struct {
	MaxConcurrentSessions int           `koanf:"max_concurrent_sessions"`
	SessionDuration       time.Duration `koanf:"session_duration"`
	InactivityTimeout     time.Duration `koanf:"inactivity_timeout"`
	AbsoluteTimeout       time.Duration `koanf:"absolute_timeout"`
	RequireMFAToExtend    bool          `koanf:"require_mfa_to_extend"`
	EnforceSingleSession  bool          `koanf:"enforce_single_session"`
	RestrictIP            bool          `koanf:"restrict_ip"`
	AllowedCIDRs          []string      `koanf:"allowed_cidrs"`
	CrossDeviceLogout     bool          `koanf:"cross_device_logout"`
	CrossRegionSync       bool          `koanf:"cross_region_sync"`

	allowed []netip.Prefix
}

// DefaultPolicy returns the policy used for identities without a class.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrentSessions: 5,
		SessionDuration:       time.Hour,
		InactivityTimeout:     30 * time.Minute,
		AbsoluteTimeout:       24 * time.Hour,
		CrossDeviceLogout:     true,
		CrossRegionSync:       true,
	}
}

// Validate checks durations and limits.
func (p Policy) Validate() error {
	if p.MaxConcurrentSessions <= 0 {
		return errors.New("max concurrent sessions must be > 0")
	}
	if p.SessionDuration <= 0 {
		return errors.New("session duration must be > 0")
	}
	if p.AbsoluteTimeout < p.SessionDuration {
		return errors.New("absolute timeout must be >= session duration")
	}
	if p.InactivityTimeout < 0 {
		return errors.New("inactivity timeout must be >= 0")
	}
	if p.RestrictIP && len(p.AllowedCIDRs) == 0 {
		return errors.New("ip restriction enabled without allowed ranges")
	}
	return nil
}

// Compile validates p and parses its allowed ranges.
func (p Policy) Compile() (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	allowed := make([]netip.Prefix, 0, len(p.AllowedCIDRs))
	for _, raw := range p.AllowedCIDRs {
		raw = strings.TrimSpace(raw)
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return Policy{}, fmt.Errorf("allowed range %q: %w", raw, err)
			}
			addr = addr.Unmap()
			allowed = append(allowed, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		pfx, err := netip.ParsePrefix(raw)
		if err != nil {
			return Policy{}, fmt.Errorf("allowed range %q: %w", raw, err)
		}
		allowed = append(allowed, pfx.Masked())
	}
	p.AllowedCIDRs = append([]string(nil), p.AllowedCIDRs...)
	p.allowed = allowed
	return p, nil
}

// AllowsIP reports whether ip satisfies the IP restriction. It is always
// true when the restriction is disabled and always false for unparsable
// addresses when it is enabled.
func (p Policy) AllowsIP(ip string) bool {
	if !p.RestrictIP {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, pfx := range p.allowed {
		if pfx.Contains(addr) {
			return true
		}
	}
	return false
}

// PolicySource resolves the policy that applies to an identity.
type PolicySource interface {
	PolicyFor(ctx context.Context, identity string) (Policy, error)
}

// ClassifyFunc maps an identity onto a policy class name. An empty class
// selects the default policy.
type ClassifyFunc func(ctx context.Context, identity string) string

// StaticPolicies serves compiled policies from a fixed table.
type StaticPolicies struct {
	def      Policy
	classes  map[string]Policy
	classify ClassifyFunc
}

// NewStaticPolicies compiles def and every class policy.
func NewStaticPolicies(def Policy, classes map[string]Policy, classify ClassifyFunc) (*StaticPolicies, error) {
	compiledDef, err := def.Compile()
	if err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	out := &StaticPolicies{
		def:      compiledDef,
		classes:  make(map[string]Policy, len(classes)),
		classify: classify,
	}
	for name, p := range classes {
		c, err := p.Compile()
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		out.classes[name] = c
	}
	return out, nil
}

func (s *StaticPolicies) PolicyFor(ctx context.Context, identity string) (Policy, error) {
	if s.classify == nil {
		return s.def, nil
	}
	if p, ok := s.classes[s.classify(ctx, identity)]; ok {
		return p, nil
	}
	return s.def, nil
}

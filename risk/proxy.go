package risk

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
)

// ProxyDetector reports whether an address looks like a VPN or proxy exit.
type ProxyDetector interface {
	Suspicious(ip string) bool
}

type noProxies struct{}

func (noProxies) Suspicious(string) bool { return false }

// PrefixDetector matches addresses against known VPN/proxy ranges. It is
// safe for concurrent use and may be reloaded while serving.
type PrefixDetector struct {
	mu       sync.RWMutex
	prefixes []netip.Prefix
}

// NewPrefixDetector parses cidrs. Bare addresses are treated as /32 or /128.
func NewPrefixDetector(cidrs []string) (*PrefixDetector, error) {
	d := &PrefixDetector{}
	if err := d.Load(cidrs); err != nil {
		return nil, err
	}
	return d, nil
}

// Load replaces the prefix set.
func (d *PrefixDetector) Load(cidrs []string) error {
	parsed, err := ParsePrefixes(cidrs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.prefixes = parsed
	d.mu.Unlock()
	return nil
}

// Len returns the number of loaded prefixes.
func (d *PrefixDetector) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.prefixes)
}

func (d *PrefixDetector) Suspicious(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDR strings or bare addresses.
func ParsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("parse prefix %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

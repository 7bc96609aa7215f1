package device

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// FromHTTP builds a [Request] from r. When trustProxy is set the left-most
// valid address in X-Forwarded-For (or X-Real-IP) wins over RemoteAddr.
func FromHTTP(r *http.Request, trustProxy bool) Request {
	return Request{
		IP:        ClientIP(r, trustProxy),
		UserAgent: r.UserAgent(),
		Header:    r.Header,
	}
}

// ClientIP resolves the caller address of r.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip := normalizeIP(part); ip != "" {
					return ip
				}
			}
		}
		if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalizeIP(host)
}

// normalizeIP returns the canonical text form of raw, or "" if it does not
// parse. IPv4-mapped IPv6 addresses are unmapped.
func normalizeIP(raw string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

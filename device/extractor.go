package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"github.com/mssola/useragent"
)

const (
	fingerprintVersion = "v1:"
	fingerprintHashLen = 16
	fingerprintLen     = len(fingerprintVersion) + fingerprintHashLen*2
)

// Device classes reported in [Info.Class].
const (
	ClassDesktop = "desktop"
	ClassMobile  = "mobile"
	ClassBot     = "bot"
	ClassUnknown = "unknown"
)

// Request is the transport-neutral view of an inbound call.
type Request struct {
	IP        string
	UserAgent string
	Header    http.Header
}

// Info is the normalized device context attached to sessions and risk input.
type Info struct {
	Fingerprint    string `json:"fingerprint"`
	IP             string `json:"ip"`
	UserAgent      string `json:"user_agent"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Class          string `json:"class"`
}

// Option customizes an [Extractor].
type Option func(*Extractor)

// WithIP mixes the client address into the fingerprint. Mobile and VPN users
// will see a new fingerprint whenever their address changes.
func WithIP() Option {
	return func(e *Extractor) { e.includeIP = true }
}

// WithoutHeaderSet drops the header-presence component.
func WithoutHeaderSet() Option {
	return func(e *Extractor) { e.includeHeaderSet = false }
}

// Extractor computes fingerprints and device metadata.
type Extractor struct {
	includeIP        bool
	includeHeaderSet bool
}

// NewExtractor returns an extractor. By default the fingerprint covers the
// user agent, the Accept* headers and the set of stable header names.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{includeHeaderSet: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the fingerprint plus parsed user-agent metadata.
func (e *Extractor) Extract(req Request) Info {
	ua := req.UserAgent
	if ua == "" && req.Header != nil {
		ua = req.Header.Get("User-Agent")
	}

	info := Info{
		Fingerprint: e.Fingerprint(req),
		IP:          normalizeIP(req.IP),
		UserAgent:   ua,
		Class:       ClassUnknown,
	}
	if ua == "" {
		return info
	}

	parsed := useragent.New(ua)
	info.Browser, info.BrowserVersion = parsed.Browser()
	osInfo := parsed.OSInfo()
	info.OS = osInfo.Name
	info.OSVersion = osInfo.Version
	info.Platform = parsed.Platform()

	switch {
	case parsed.Bot():
		info.Class = ClassBot
	case parsed.Mobile():
		info.Class = ClassMobile
	case info.OS != "":
		info.Class = ClassDesktop
	}
	return info
}

// Fingerprint returns the version-prefixed fingerprint for req.
func (e *Extractor) Fingerprint(req Request) string {
	ua := req.UserAgent
	if ua == "" && req.Header != nil {
		ua = req.Header.Get("User-Agent")
	}

	components := []string{ua}
	if req.Header != nil {
		components = append(components,
			req.Header.Get("Accept-Language"),
			req.Header.Get("Accept-Encoding"),
			req.Header.Get("Accept"),
		)
	}
	if e.includeIP {
		components = append(components, normalizeIP(req.IP))
	}
	if e.includeHeaderSet && req.Header != nil {
		components = append(components, headerSet(req.Header))
	}

	filtered := components[:0]
	for _, c := range components {
		if c != "" {
			filtered = append(filtered, c)
		}
	}

	// "|" keeps ["ab","c"] and ["a","bc"] apart.
	sum := sha256.Sum256([]byte(strings.Join(filtered, "|")))
	return fingerprintVersion + hex.EncodeToString(sum[:fingerprintHashLen])
}

// ValidFingerprint reports whether fp has the current fingerprint format.
func ValidFingerprint(fp string) bool {
	if len(fp) != fingerprintLen || !strings.HasPrefix(fp, fingerprintVersion) {
		return false
	}
	_, err := hex.DecodeString(fp[len(fingerprintVersion):])
	return err == nil
}

func headerSet(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		switch lower := strings.ToLower(name); lower {
		case "user-agent", "accept", "accept-language", "accept-encoding",
			"connection", "upgrade-insecure-requests", "sec-fetch-dest",
			"sec-fetch-mode", "sec-fetch-site", "cache-control":
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

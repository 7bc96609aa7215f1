package middleware

import (
	"context"
	"net/http"
	"strings"

	goTrust "github.com/MrEthical07/goTrust"
	"github.com/MrEthical07/goTrust/device"
	"github.com/rs/zerolog"
)

// Default carriers for the session ID.
const (
	DefaultHeader = "X-Session-ID"
	DefaultCookie = "gt_session"
)

type resultContextKey struct{}

// ResultFromContext returns the validation result stored by [RequireSession].
func ResultFromContext(ctx context.Context) (goTrust.ValidationResult, bool) {
	res, ok := ctx.Value(resultContextKey{}).(goTrust.ValidationResult)
	return res, ok
}

// Option customizes [RequireSession].
type Option func(*options)

type options struct {
	header     string
	cookie     string
	trustProxy bool
	identity   func(*http.Request) string
	logger     zerolog.Logger
}

// WithHeader reads the session ID from name instead of X-Session-ID.
func WithHeader(name string) Option { return func(o *options) { o.header = name } }

// WithCookie reads the session ID from the named cookie when the header is
// absent.
func WithCookie(name string) Option { return func(o *options) { o.cookie = name } }

// WithTrustProxy takes the client address from X-Forwarded-For. Enable only
// behind a proxy that overwrites the header.
func WithTrustProxy() Option { return func(o *options) { o.trustProxy = true } }

// WithIdentity supplies the identity the session must belong to, typically
// taken from an upstream credential.
func WithIdentity(fn func(*http.Request) string) Option {
	return func(o *options) { o.identity = fn }
}

// WithLogger logs backend failures.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = l } }

// RequireSession rejects requests without a valid session. Invalid sessions
// get 401; backend failures get 503. The client address is attached with
// [goTrust.WithClientIP] so handlers downstream see the same IP.
func RequireSession(engine *goTrust.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := options{header: DefaultHeader, cookie: DefaultCookie, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sessionID, ok := sessionIDFrom(r, o.header, o.cookie)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ip := device.ClientIP(r, o.trustProxy)
			ctx := goTrust.WithClientIP(r.Context(), ip)

			var identity string
			if o.identity != nil {
				identity = o.identity(r)
			}

			res, err := engine.ValidateSession(ctx, sessionID, identity, ip)
			if err != nil {
				o.logger.Error().Err(err).Str("ip", ip).Msg("session validation failed")
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !res.Valid {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, resultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionIDFrom(r *http.Request, header, cookie string) (string, bool) {
	if header != "" {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v, true
		}
	}
	if cookie != "" {
		if c, err := r.Cookie(cookie); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

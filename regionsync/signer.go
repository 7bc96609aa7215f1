package regionsync

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnsigned is returned when a message carries no envelope signature.
	ErrUnsigned = errors.New("regionsync: unsigned event")
	// ErrBadSignature is returned for forged or mismatched envelopes.
	ErrBadSignature = errors.New("regionsync: bad envelope signature")
	// ErrStaleEvent is returned for events older than the accepted age.
	ErrStaleEvent = errors.New("regionsync: stale event")
)

const minKeyLen = 32

// SignerConfig holds the shared HS256 keys. VerifyKeys lets peers accept
// envelopes signed with a previous key while the fleet rotates.
type SignerConfig struct {
	KeyID      string
	Key        []byte
	VerifyKeys map[string][]byte
	// MaxAge rejects events whose timestamp is older than now-MaxAge.
	MaxAge time.Duration
	// MaxFutureSkew rejects events stamped too far ahead of the local clock.
	MaxFutureSkew time.Duration
}

// Signer produces and checks the envelope JWT carried in message metadata.
// The token binds the event id, origin region and a digest of the payload.
type Signer struct {
	cfg SignerConfig
	now func() time.Time
}

type envelopeClaims struct {
	Digest string `json:"dig"`
	Kind   Kind   `json:"knd"`
	jwt.RegisteredClaims
}

// NewSigner validates cfg.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if len(cfg.Key) < minKeyLen {
		return nil, fmt.Errorf("regionsync: signing key must be at least %d bytes", minKeyLen)
	}
	for kid, k := range cfg.VerifyKeys {
		if len(k) < minKeyLen {
			return nil, fmt.Errorf("regionsync: verify key %q shorter than %d bytes", kid, minKeyLen)
		}
	}
	return &Signer{cfg: cfg, now: time.Now}, nil
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign returns the envelope token for ev serialized as payload.
func (s *Signer) Sign(ev Event, payload []byte) (string, error) {
	claims := envelopeClaims{
		Digest: digest(payload),
		Kind:   ev.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       ev.ID,
			Issuer:   ev.Region,
			IssuedAt: jwt.NewNumericDate(ev.At),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.cfg.KeyID != "" {
		token.Header["kid"] = s.cfg.KeyID
	}
	return token.SignedString(s.cfg.Key)
}

// Verify checks token against ev and payload.
func (s *Signer) Verify(token string, ev Event, payload []byte) error {
	if token == "" {
		return ErrUnsigned
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ev.Region),
	)
	parsed, err := parser.ParseWithClaims(token, &envelopeClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" || kid == s.cfg.KeyID {
			return s.cfg.Key, nil
		}
		if k, ok := s.cfg.VerifyKeys[kid]; ok {
			return k, nil
		}
		return nil, errors.New("unknown kid")
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	claims, ok := parsed.Claims.(*envelopeClaims)
	if !ok || !parsed.Valid {
		return ErrBadSignature
	}
	if claims.ID != ev.ID || claims.Kind != ev.Kind || claims.Digest != digest(payload) {
		return fmt.Errorf("%w: envelope does not match payload", ErrBadSignature)
	}

	now := s.now()
	if s.cfg.MaxAge > 0 && now.Sub(ev.At) > s.cfg.MaxAge {
		return fmt.Errorf("%w: %s old", ErrStaleEvent, now.Sub(ev.At).Round(time.Second))
	}
	if s.cfg.MaxFutureSkew > 0 && ev.At.Sub(now) > s.cfg.MaxFutureSkew {
		return fmt.Errorf("%w: timestamp in the future", ErrStaleEvent)
	}
	return nil
}

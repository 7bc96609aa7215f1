package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

// ErrEmptySecret is returned when verifying against an empty secret.
var ErrEmptySecret = errors.New("empty totp secret")

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTPConfig controls code generation and verification.
type TOTPConfig struct {
	Issuer    string `koanf:"issuer"`
	Digits    int    `koanf:"digits"`
	Period    int    `koanf:"period"`
	Skew      int    `koanf:"skew"`
	Algorithm string `koanf:"algorithm"`
}

// DefaultTOTPConfig returns 6 digits, 30 second steps, one step of skew,
// SHA1.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{Issuer: "goTrust", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"}
}

// Validate checks the configuration against authenticator app limits.
func (c TOTPConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("totp issuer must not be empty")
	}
	if c.Digits != 6 && c.Digits != 8 {
		return errors.New("totp digits must be 6 or 8")
	}
	if c.Period <= 0 {
		return errors.New("totp period must be > 0")
	}
	if c.Skew < 0 || c.Skew > 3 {
		return errors.New("totp skew must be in [0,3]")
	}
	if _, err := hmacFor(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// TOTP generates and checks time-based codes.
type TOTP struct {
	cfg TOTPConfig
}

// NewTOTP returns a TOTP for cfg.
func NewTOTP(cfg TOTPConfig) *TOTP {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &TOTP{cfg: cfg}
}

// GenerateSecret returns a fresh raw secret and its base32 form.
func (t *TOTP) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, base32NoPad.EncodeToString(raw), nil
}

// ProvisioningURI returns the otpauth:// URI for authenticator apps.
func (t *TOTP) ProvisioningURI(secretBase32, account string) string {
	q := url.Values{}
	q.Set("secret", secretBase32)
	q.Set("issuer", t.cfg.Issuer)
	q.Set("algorithm", strings.ToUpper(t.cfg.Algorithm))
	q.Set("digits", strconv.Itoa(t.cfg.Digits))
	q.Set("period", strconv.Itoa(t.cfg.Period))
	return "otpauth://totp/" + url.PathEscape(t.cfg.Issuer+":"+account) + "?" + q.Encode()
}

// Verify checks code against secret within the configured skew and returns
// the matched time-step counter.
func (t *TOTP) Verify(secret []byte, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != t.cfg.Digits || !digitsOnly(code) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, ErrEmptySecret
	}

	current := now.Unix() / int64(t.cfg.Period)
	for offset := -t.cfg.Skew; offset <= t.cfg.Skew; offset++ {
		counter := current + int64(offset)
		if counter < 0 {
			continue
		}
		want, err := t.codeAt(secret, counter)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// Code returns the code for the time step containing at.
func (t *TOTP) Code(secret []byte, at time.Time) (string, error) {
	return t.codeAt(secret, at.Unix()/int64(t.cfg.Period))
}

func (t *TOTP) codeAt(secret []byte, counter int64) (string, error) {
	newHash, err := hmacFor(t.cfg.Algorithm)
	if err != nil {
		return "", err
	}
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(newHash, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation.
	off := int(sum[len(sum)-1] & 0x0f)
	bin := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < t.cfg.Digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", t.cfg.Digits, bin%mod), nil
}

func hmacFor(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	}
	return nil, fmt.Errorf("unsupported totp algorithm %q", algorithm)
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

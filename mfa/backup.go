package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
	"time"
)

// BackupCodeAlphabet omits look-alike characters (0/O, 1/I).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultBackupCodeCount is the number of codes issued per enrollment.
const DefaultBackupCodeCount = 10

// GenerateBackupCodes returns count formatted codes and the matching pool
// entries for identity. ttl of zero means the codes do not expire.
func GenerateBackupCodes(identity string, count, length int, ttl time.Duration, now time.Time) ([]string, []BackupCode, error) {
	codes := make([]string, 0, count)
	pool := make([]BackupCode, 0, count)
	for i := 0; i < count; i++ {
		raw, err := randomCode(length)
		if err != nil {
			return nil, nil, err
		}
		entry := BackupCode{Hash: HashBackupCode(identity, raw)}
		if ttl > 0 {
			entry.ExpiresAt = now.Add(ttl)
		}
		codes = append(codes, FormatBackupCode(raw))
		pool = append(pool, entry)
	}
	return codes, pool, nil
}

// FormatBackupCode splits codes of 8+ characters with a dash.
func FormatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalBackupCode strips separators and upper-cases user input.
func CanonicalBackupCode(input string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(strings.ToUpper(strings.TrimSpace(input)))
}

// HashBackupCode binds a canonical code to identity so equal codes of
// different identities never share a hash.
func HashBackupCode(identity, code string) [32]byte {
	canonical := CanonicalBackupCode(code)
	buf := make([]byte, 0, len(identity)+1+len(canonical))
	buf = append(buf, identity...)
	buf = append(buf, 0)
	buf = append(buf, canonical...)
	return sha256.Sum256(buf)
}

func randomCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

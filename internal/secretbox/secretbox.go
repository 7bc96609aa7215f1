// Package secretbox seals small secrets (TOTP seeds) at rest with AES-256-GCM
// under a key derived from a master secret with HKDF-SHA256. The identity is
// bound as associated data so a sealed value cannot be moved between
// accounts.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	version byte = 1
	keyLen       = 32
	// MinMasterKeyLen is the shortest accepted master secret.
	MinMasterKeyLen = 32
)

var (
	ErrShortKey = errors.New("secretbox: master key too short")
	ErrOpen     = errors.New("secretbox: cannot open sealed value")
)

// Box seals and opens values.
type Box struct {
	aead cipher.AEAD
}

// New derives the sealing key for purpose from master.
func New(master []byte, purpose string) (*Box, error) {
	if len(master) < MinMasterKeyLen {
		return nil, ErrShortKey
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte("goTrust/"+purpose)), key); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext bound to identity. The layout is
// version || nonce || ciphertext.
func (b *Box) Seal(identity string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+b.aead.Overhead())
	out = append(out, version)
	out = append(out, nonce...)
	return b.aead.Seal(out, nonce, plaintext, []byte(identity)), nil
}

// Open decrypts a value produced by Seal for the same identity.
func (b *Box) Open(identity string, sealed []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(sealed) < 1+ns+b.aead.Overhead() || sealed[0] != version {
		return nil, ErrOpen
	}
	plain, err := b.aead.Open(nil, sealed[1:1+ns], sealed[1+ns:], []byte(identity))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

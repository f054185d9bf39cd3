package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations matches the vault format: PBKDF2-SHA-256 with 100k rounds.
	// Changing this invalidates every existing vault, so it is a format
	// constant rather than configuration.
	KDFIterations = 100_000

	MasterKeySize = 32
	SaltSize      = 16
)

// MasterKey is an opaque handle around the derived AEAD key. The raw bytes
// never leave this package; callers hold the handle for the lifetime of an
// unlocked session and call Zero when the session ends.
type MasterKey struct {
	key []byte
}

// DeriveKey derives a MasterKey from a password and salt. Deterministic for a
// given (password, salt) pair. The backing buffer is locked into memory where
// the platform supports it.
func DeriveKey(password string, salt []byte) *MasterKey {
	k := pbkdf2.Key([]byte(password), salt, KDFIterations, MasterKeySize, sha256.New)
	_ = lockMemory(k)
	return &MasterKey{key: k}
}

// Zero wipes the key material and releases the handle. Safe to call more than
// once and on a nil handle.
func (m *MasterKey) Zero() {
	if m == nil || m.key == nil {
		return
	}
	Zero(m.key)
	_ = unlockMemory(m.key)
	m.key = nil
}

func (m *MasterKey) valid() bool {
	return m != nil && len(m.key) == MasterKeySize
}

// GenerateSalt returns n cryptographically random bytes. Salts are stored in
// plaintext next to the ciphertext; they only need to be unique per vault.
func GenerateSalt(n int) []byte {
	if n <= 0 {
		n = SaltSize
	}
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func EncodeSalt(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeSalt(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

const envelopeIVSize = 12 // AES-GCM standard nonce size

var (
	// ErrAuthentication is returned whenever an AEAD tag fails to verify.
	// A wrong password and a tampered ciphertext are deliberately
	// indistinguishable through this error.
	ErrAuthentication = errors.New("crypto: message authentication failed")

	ErrInvalidKey = errors.New("crypto: invalid master key handle")
)

// Blob is the output of one envelope encryption: the AEAD ciphertext (tag
// included) and the IV it was produced under. A fresh IV is generated on
// every call to Encrypt; an IV is never reused with the same key.
type Blob struct {
	Ciphertext []byte
	IV         []byte
}

// Encrypt seals plaintext under the master key with AES-256-GCM.
func Encrypt(key *MasterKey, plaintext []byte) (Blob, error) {
	if !key.valid() {
		return Blob{}, ErrInvalidKey
	}
	aead, err := newGCM(key.key)
	if err != nil {
		return Blob{}, err
	}
	iv := make([]byte, envelopeIVSize)
	if _, err := rand.Read(iv); err != nil {
		return Blob{}, err
	}
	ct := aead.Seal(nil, iv, plaintext, nil)
	return Blob{Ciphertext: ct, IV: iv}, nil
}

// Decrypt opens a blob previously produced by Encrypt. Any verification
// failure, including a key derived from the wrong password, surfaces as
// ErrAuthentication.
func Decrypt(key *MasterKey, iv, ciphertext []byte) ([]byte, error) {
	if !key.valid() {
		return nil, ErrInvalidKey
	}
	if len(iv) != envelopeIVSize {
		return nil, ErrAuthentication
	}
	aead, err := newGCM(key.key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

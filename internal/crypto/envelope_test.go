package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func randBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt := GenerateSalt(0)
	key := DeriveKey("correct horse battery staple", salt)
	defer key.Zero()

	pt := randBytes(t, 4096)
	blob, err := Encrypt(key, pt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	out, err := Decrypt(key, blob.IV, blob.Ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(pt, out) {
		t.Fatal("plaintext mismatch")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := GenerateSalt(16)
	k1 := DeriveKey("pw", salt)
	defer k1.Zero()
	k2 := DeriveKey("pw", salt)
	defer k2.Zero()

	blob, err := Encrypt(k1, []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(k2, blob.IV, blob.Ciphertext); err != nil {
		t.Fatalf("same (password, salt) should decrypt: %v", err)
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	salt := GenerateSalt(16)
	k1 := DeriveKey("pw1", salt)
	defer k1.Zero()
	k2 := DeriveKey("pw2", salt)
	defer k2.Zero()

	blob, err := Encrypt(k1, []byte("secret-data"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(k2, blob.IV, blob.Ciphertext); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
}

func TestDifferentSaltsDifferentKeys(t *testing.T) {
	k1 := DeriveKey("pw", GenerateSalt(16))
	defer k1.Zero()
	k2 := DeriveKey("pw", GenerateSalt(16))
	defer k2.Zero()

	blob, err := Encrypt(k1, []byte("data"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(k2, blob.IV, blob.Ciphertext); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
}

func TestTagTamperRejected(t *testing.T) {
	key := DeriveKey("pw", GenerateSalt(16))
	defer key.Zero()

	blob, err := Encrypt(key, []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	mut := append([]byte(nil), blob.Ciphertext...)
	mut[len(mut)-1] ^= 0xFF
	if _, err := Decrypt(key, blob.IV, mut); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("want ErrAuthentication after tamper, got %v", err)
	}
}

func TestEncryptFreshIV(t *testing.T) {
	key := DeriveKey("pw", GenerateSalt(16))
	defer key.Zero()

	b1, err := Encrypt(key, []byte("data"))
	if err != nil {
		t.Fatalf("encrypt1: %v", err)
	}
	b2, err := Encrypt(key, []byte("data"))
	if err != nil {
		t.Fatalf("encrypt2: %v", err)
	}
	if bytes.Equal(b1.IV, b2.IV) {
		t.Fatal("expected distinct IVs")
	}
	if bytes.Equal(b1.Ciphertext, b2.Ciphertext) {
		t.Fatal("expected distinct ciphertexts")
	}
}

func TestZeroedKeyUnusable(t *testing.T) {
	key := DeriveKey("pw", GenerateSalt(16))
	key.Zero()
	key.Zero() // idempotent

	if _, err := Encrypt(key, []byte("data")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
	var nilKey *MasterKey
	if _, err := Encrypt(nilKey, []byte("data")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey on nil handle, got %v", err)
	}
}

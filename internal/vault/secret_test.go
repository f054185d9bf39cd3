package vault

import (
	"testing"

	"github.com/ftlframe/auto-pgp/internal/crypto"
)

func testKey() *crypto.MasterKey {
	return crypto.DeriveKey("pw", crypto.GenerateSalt(16))
}

func TestSecretStorePairing(t *testing.T) {
	s := NewSecretStore()
	if s.Unlocked() {
		t.Fatal("new store should be locked")
	}
	if s.Key() != nil || s.Vault() != nil {
		t.Fatal("locked store must expose neither key nor vault")
	}

	s.SetSession(testKey(), New())
	if !s.Unlocked() {
		t.Fatal("store should be unlocked")
	}
	if s.Key() == nil || s.Vault() == nil {
		t.Fatal("unlocked store must expose both key and vault")
	}
}

func TestSecretStoreRejectsHalfSession(t *testing.T) {
	s := NewSecretStore()

	s.SetSession(testKey(), nil)
	if s.Key() != nil || s.Vault() != nil {
		t.Fatal("half session (no vault) must wipe, not install")
	}
	s.SetSession(nil, New())
	if s.Key() != nil || s.Vault() != nil {
		t.Fatal("half session (no key) must wipe, not install")
	}
}

func TestSecretStoreWipeIdempotent(t *testing.T) {
	s := NewSecretStore()
	s.Wipe() // wiping a locked store is fine

	s.SetSession(testKey(), New())
	s.Wipe()
	if s.Unlocked() || s.Key() != nil || s.Vault() != nil {
		t.Fatal("store should be empty after wipe")
	}
	s.Wipe()
	if s.Unlocked() {
		t.Fatal("second wipe should be a no-op")
	}
}

package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ftlframe/auto-pgp/internal/pgp"
	"github.com/ftlframe/auto-pgp/internal/storage"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

const testKeyBits = 1024

func newRegistry(t *testing.T) (*Registry, *vault.SecretStore) {
	t.Helper()
	secrets := vault.NewSecretStore()
	persist := vault.NewPersister(storage.NewMemStore())
	key, v, err := persist.Initialize(context.Background(), "pw")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	secrets.SetSession(key, v)
	return New(secrets, persist), secrets
}

func TestGenerateAndList(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	fp, err := r.Generate(ctx, "a@x.com", "", pgp.KeyOptions{Bits: testKeyBits})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if fp == "" {
		t.Fatal("empty fingerprint")
	}

	infos, err := r.List("a@x.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Fingerprint != fp {
		t.Fatalf("infos = %+v", infos)
	}
	if !strings.Contains(infos[0].ArmoredPublicKey, "PUBLIC KEY BLOCK") {
		t.Fatal("listing lacks armored public key")
	}

	// The public view must not expose private material.
	raw, err := json.Marshal(infos[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "PRIVATE KEY") {
		t.Fatalf("listing leaks private key: %s", raw)
	}
}

func TestGeneratePersistsCiphertextOnly(t *testing.T) {
	r, secrets := newRegistry(t)
	ctx := context.Background()

	fp, err := r.Generate(ctx, "a@x.com", "topsecret", pgp.KeyOptions{Bits: testKeyBits})
	if err != nil {
		t.Fatal(err)
	}
	kp := secrets.Vault().Entry("a@x.com").KeyPairs[fp]
	if kp == nil {
		t.Fatal("key pair missing from vault")
	}
	if len(kp.EncryptedPrivateKey) == 0 || len(kp.IV) == 0 {
		t.Fatal("private key not sealed")
	}
	if strings.Contains(string(kp.EncryptedPrivateKey), "PRIVATE KEY") {
		t.Fatal("private key stored in the clear")
	}
	// Generated keys are unencrypted, so the supplied passphrase has nothing
	// to unlock and must not be kept.
	if kp.HasPassphrase() {
		t.Fatal("stored a passphrase for an unencrypted generated key")
	}
}

func TestGenerateRequiresEmail(t *testing.T) {
	r, _ := newRegistry(t)
	if _, err := r.Generate(context.Background(), "", "", pgp.KeyOptions{Bits: testKeyBits}); err == nil {
		t.Fatal("generate without email succeeded")
	}
}

func TestLockedRegistry(t *testing.T) {
	r, secrets := newRegistry(t)
	secrets.Wipe()

	if _, err := r.Generate(context.Background(), "a@x.com", "", pgp.KeyOptions{Bits: testKeyBits}); !errors.Is(err, vault.ErrLocked) {
		t.Fatalf("generate: want ErrLocked, got %v", err)
	}
	if _, err := r.List("a@x.com"); !errors.Is(err, vault.ErrLocked) {
		t.Fatalf("list: want ErrLocked, got %v", err)
	}
	if err := r.Delete(context.Background(), "a@x.com", "fp"); !errors.Is(err, vault.ErrLocked) {
		t.Fatalf("delete: want ErrLocked, got %v", err)
	}
}

func TestImportRoundTrip(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	gk, err := pgp.GenerateKeyPair("move@x.com", pgp.KeyOptions{Bits: testKeyBits})
	if err != nil {
		t.Fatal(err)
	}
	fp, err := r.Import(ctx, "move@x.com", gk.ArmoredPrivateKey, "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if fp != gk.Fingerprint {
		t.Fatalf("fingerprint = %q, want %q", fp, gk.Fingerprint)
	}
	infos, err := r.List("move@x.com")
	if err != nil || len(infos) != 1 {
		t.Fatalf("list after import: %v %+v", err, infos)
	}
}

func TestImportDropsUselessPassphrase(t *testing.T) {
	r, secrets := newRegistry(t)
	ctx := context.Background()

	gk, err := pgp.GenerateKeyPair("move@x.com", pgp.KeyOptions{Bits: testKeyBits})
	if err != nil {
		t.Fatal(err)
	}
	// The generated key is unencrypted, so a supplied passphrase has
	// nothing to unlock and must not be kept.
	fp, err := r.Import(ctx, "move@x.com", gk.ArmoredPrivateKey, "pointless")
	if err != nil {
		t.Fatal(err)
	}
	kp := secrets.Vault().Entry("move@x.com").KeyPairs[fp]
	if kp.HasPassphrase() {
		t.Fatal("stored a passphrase for an unencrypted key")
	}
}

func TestImportGarbageRejected(t *testing.T) {
	r, _ := newRegistry(t)
	if _, err := r.Import(context.Background(), "a@x.com", "not a key", ""); err == nil {
		t.Fatal("garbage import succeeded")
	}
}

func TestDelete(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	fp, err := r.Generate(ctx, "a@x.com", "", pgp.KeyOptions{Bits: testKeyBits})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(ctx, "a@x.com", fp); err != nil {
		t.Fatalf("delete: %v", err)
	}
	infos, err := r.List("a@x.com")
	if err != nil || len(infos) != 0 {
		t.Fatalf("list after delete: %v %+v", err, infos)
	}
	if err := r.Delete(ctx, "a@x.com", fp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: want ErrNotFound, got %v", err)
	}
	if err := r.Delete(ctx, "nobody@x.com", fp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown email: want ErrNotFound, got %v", err)
	}
}

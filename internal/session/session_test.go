package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/storage"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

func newManager(t *testing.T, cfg Config) (*Manager, *vault.SecretStore) {
	t.Helper()
	secrets := vault.NewSecretStore()
	persist := vault.NewPersister(storage.NewMemStore())
	return New(secrets, persist, cfg), secrets
}

func TestInitializeUnlocksImmediately(t *testing.T) {
	m, _ := newManager(t, Config{})
	if err := m.Initialize(context.Background(), "pw"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !m.Unlocked() {
		t.Fatal("vault locked after initialize")
	}
}

func TestUnlockWrongPassword(t *testing.T) {
	m, _ := newManager(t, Config{})
	ctx := context.Background()
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatal(err)
	}
	m.Lock(ctx)

	if err := m.Unlock(ctx, "wrong"); !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
	if m.Unlocked() {
		t.Fatal("unlocked after failed attempt")
	}
	if err := m.Unlock(ctx, "pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestUnlockBeforeInit(t *testing.T) {
	m, _ := newManager(t, Config{})
	if err := m.Unlock(context.Background(), "pw"); !errors.Is(err, vault.ErrNotInitialized) {
		t.Fatalf("want ErrNotInitialized, got %v", err)
	}
}

func TestLoginInitializesThenUnlocks(t *testing.T) {
	m, _ := newManager(t, Config{})
	ctx := context.Background()

	if err := m.Login(ctx, "pw"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	m.Lock(ctx)
	if err := m.Login(ctx, "pw"); err != nil {
		t.Fatalf("second login: %v", err)
	}
	m.Lock(ctx)
	if err := m.Login(ctx, "nope"); !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("login with wrong password: %v", err)
	}
}

func TestLockIdempotent(t *testing.T) {
	m, secrets := newManager(t, Config{})
	ctx := context.Background()
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatal(err)
	}
	m.Lock(ctx)
	m.Lock(ctx)
	if secrets.Key() != nil || secrets.Vault() != nil {
		t.Fatal("secrets survive lock")
	}
}

func TestLockPersistsChanges(t *testing.T) {
	secrets := vault.NewSecretStore()
	persist := vault.NewPersister(storage.NewMemStore())
	m := New(secrets, persist, Config{})
	ctx := context.Background()
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatal(err)
	}
	secrets.Vault().EnsureEntry("a@x.com")
	m.Lock(ctx)

	if err := m.Unlock(ctx, "pw"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if secrets.Vault().Entry("a@x.com") == nil {
		t.Fatal("mutation lost across lock/unlock")
	}
}

func TestOnLockHook(t *testing.T) {
	m, _ := newManager(t, Config{})
	ctx := context.Background()
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatal(err)
	}
	fired := 0
	m.SetOnLock(func() { fired++ })
	m.Lock(ctx)
	if fired != 1 {
		t.Fatalf("hook fired %d times, want 1", fired)
	}
}

func TestAutoLock(t *testing.T) {
	m, _ := newManager(t, Config{AutoLock: 30 * time.Millisecond})
	ctx := context.Background()
	if err := m.Initialize(ctx, "pw"); err != nil {
		t.Fatal(err)
	}

	locked := make(chan struct{})
	m.SetOnLock(func() { close(locked) })
	m.Touch()

	select {
	case <-locked:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-lock never fired")
	}
	if m.Unlocked() {
		t.Fatal("still unlocked after auto-lock")
	}
}

func TestAutoLockDisabled(t *testing.T) {
	m, _ := newManager(t, Config{AutoLock: -1})
	if err := m.Initialize(context.Background(), "pw"); err != nil {
		t.Fatal(err)
	}
	m.Touch()
	time.Sleep(50 * time.Millisecond)
	if !m.Unlocked() {
		t.Fatal("locked despite disabled timer")
	}
}

package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/storage"
)

func TestInitializeThenLoad(t *testing.T) {
	ctx := context.Background()
	p := NewPersister(storage.NewMemStore())

	if _, _, _, err := p.Load(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("want ErrNotInitialized before init, got %v", err)
	}

	key, v, err := p.Initialize(ctx, "pw1")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer key.Zero()
	if len(v.Entries) != 0 {
		t.Fatalf("initial vault should be empty, got %d entries", len(v.Entries))
	}

	if _, _, err := p.Initialize(ctx, "pw1"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("want ErrAlreadyInitialized, got %v", err)
	}

	salt, iv, ct, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(salt) != crypto.SaltSize {
		t.Fatalf("salt length = %d", len(salt))
	}
	key2 := crypto.DeriveKey("pw1", salt)
	defer key2.Zero()
	if _, err := crypto.Decrypt(key2, iv, ct); err != nil {
		t.Fatalf("decrypt with correct password: %v", err)
	}

	key3 := crypto.DeriveKey("pw2", salt)
	defer key3.Zero()
	if _, err := crypto.Decrypt(key3, iv, ct); !errors.Is(err, crypto.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication with wrong password, got %v", err)
	}
}

func TestSaveRotatesIV(t *testing.T) {
	ctx := context.Background()
	p := NewPersister(storage.NewMemStore())
	key, v, err := p.Initialize(ctx, "pw")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer key.Zero()

	_, iv1, _, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := p.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, iv2, _, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(iv1) == string(iv2) {
		t.Fatal("expected a fresh IV on every save")
	}
}

func TestSaveRequiresSession(t *testing.T) {
	ctx := context.Background()
	p := NewPersister(storage.NewMemStore())
	if err := p.Save(ctx, nil, nil); !errors.Is(err, ErrLocked) {
		t.Fatalf("want ErrLocked, got %v", err)
	}
}

func TestSaveRoundTripsContent(t *testing.T) {
	ctx := context.Background()
	p := NewPersister(storage.NewMemStore())
	key, v, err := p.Initialize(ctx, "pw")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer key.Zero()

	v.EnsureEntry("alice@example.com").KeyPairs["FP"] = &KeyPair{Fingerprint: "FP"}
	if err := p.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	salt, iv, ct, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_ = salt
	pt, err := crypto.Decrypt(key, iv, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	got := New()
	if err := got.UnmarshalJSON(pt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Entry("alice@example.com") == nil || got.Entry("alice@example.com").KeyPairs["FP"] == nil {
		t.Fatal("persisted vault lost content")
	}
}

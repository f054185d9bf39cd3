package tests

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ftlframe/auto-pgp/internal/contacts"
	"github.com/ftlframe/auto-pgp/internal/keyring"
	"github.com/ftlframe/auto-pgp/internal/ops"
	"github.com/ftlframe/auto-pgp/internal/router"
	"github.com/ftlframe/auto-pgp/internal/session"
	"github.com/ftlframe/auto-pgp/internal/storage"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

func buildRouter(t *testing.T, dir string) *router.Router {
	t.Helper()
	secrets := vault.NewSecretStore()
	persist := vault.NewPersister(storage.NewFileStore(dir))
	contactReg := contacts.New(secrets, persist)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return router.New(
		session.New(secrets, persist, session.Config{}),
		keyring.New(secrets, persist),
		contactReg,
		ops.New(secrets, contactReg, ops.PendingReplace),
		log,
	)
}

func op(t *testing.T, r *router.Router, typ router.Op, payload any) router.Response {
	t.Helper()
	req := router.Request{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		req.Payload = raw
	}
	return r.Dispatch(context.Background(), req)
}

// TestVaultSurvivesRestart drives the full stack over a real directory:
// keys and contacts created through one router instance are visible through
// a fresh instance after unlock.
func TestVaultSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	r1 := buildRouter(t, dir)
	if resp := op(t, r1, router.OpInitVault, map[string]string{"password": "pw"}); !resp.Success {
		t.Fatalf("init: %+v", resp)
	}
	gen := op(t, r1, router.OpGenerateKeys, map[string]any{
		"email":    "a@x.com",
		"settings": map[string]any{"bits": 1024},
	})
	if !gen.Success {
		t.Fatalf("generate: %+v", gen)
	}
	keys := op(t, r1, router.OpGetKeys, map[string]string{"email": "a@x.com"})
	if !keys.Success || len(keys.Keys) != 1 {
		t.Fatalf("list: %+v", keys)
	}
	add := op(t, r1, router.OpAddContact, map[string]any{
		"currentUserEmail": "a@x.com",
		"newContact": map[string]string{
			"email":            "b@y.com",
			"name":             "Bee",
			"publicKeyArmored": keys.Keys[0].ArmoredPublicKey,
		},
	})
	if !add.Success {
		t.Fatalf("add contact: %+v", add)
	}
	if resp := op(t, r1, router.OpLock, nil); !resp.Success {
		t.Fatalf("lock: %+v", resp)
	}

	// Fresh process over the same directory.
	r2 := buildRouter(t, dir)
	if resp := op(t, r2, router.OpUnlock, map[string]string{"password": "pw"}); !resp.Success {
		t.Fatalf("unlock after restart: %+v", resp)
	}
	keys2 := op(t, r2, router.OpGetKeys, map[string]string{"email": "a@x.com"})
	if !keys2.Success || len(keys2.Keys) != 1 || keys2.Keys[0].Fingerprint != gen.Fingerprint {
		t.Fatalf("keys after restart: %+v", keys2)
	}
	cts := op(t, r2, router.OpGetContacts, map[string]string{"email": "a@x.com"})
	if !cts.Success || len(cts.Contacts) != 1 || cts.Contacts[0].Email != "b@y.com" {
		t.Fatalf("contacts after restart: %+v", cts)
	}
}

// TestUnlockEmptyVault covers the init-then-unlock sequence: a fresh vault
// unlocks to zero identities and the wrong password is rejected.
func TestUnlockEmptyVault(t *testing.T) {
	dir := t.TempDir()

	r := buildRouter(t, dir)
	if resp := op(t, r, router.OpInitVault, map[string]string{"password": "pw1"}); !resp.Success {
		t.Fatalf("init: %+v", resp)
	}
	op(t, r, router.OpLock, nil)

	if resp := op(t, r, router.OpUnlock, map[string]string{"password": "pw1"}); !resp.Success {
		t.Fatalf("unlock: %+v", resp)
	}
	keys := op(t, r, router.OpGetKeys, map[string]string{"email": "anyone@x.com"})
	if !keys.Success || len(keys.Keys) != 0 {
		t.Fatalf("fresh vault not empty: %+v", keys)
	}
	op(t, r, router.OpLock, nil)

	if resp := op(t, r, router.OpUnlock, map[string]string{"password": "pw2"}); resp.Success {
		t.Fatal("wrong password accepted")
	}
}

// TestReinitRejected ensures INIT_VAULT refuses to clobber an existing
// vault.
func TestReinitRejected(t *testing.T) {
	dir := t.TempDir()
	r := buildRouter(t, dir)

	if resp := op(t, r, router.OpInitVault, map[string]string{"password": "pw"}); !resp.Success {
		t.Fatalf("init: %+v", resp)
	}
	if resp := op(t, r, router.OpInitVault, map[string]string{"password": "other"}); resp.Success {
		t.Fatal("second init succeeded")
	}
}

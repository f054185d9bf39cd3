package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/storage"
)

// Persisted state layout: three top-level keys in the external store. The
// writes are independent; a crash between them leaves iv/vault inconsistent,
// which the next unlock surfaces as an authentication failure.
const (
	storageKeySalt  = "salt"
	storageKeyIV    = "iv"
	storageKeyVault = "vault"
)

// Persister moves the vault between its in-memory form and the encrypted
// form in the external key-value store.
type Persister struct {
	store storage.Store
}

func NewPersister(store storage.Store) *Persister {
	return &Persister{store: store}
}

// Initialized reports whether a salt has been persisted. The salt's absence
// is the "vault not yet initialized" signal.
func (p *Persister) Initialized(ctx context.Context) (bool, error) {
	_, err := p.store.Get(ctx, storageKeySalt)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load reads salt, iv and ciphertext from the store. Returns
// ErrNotInitialized when no salt exists.
func (p *Persister) Load(ctx context.Context) (salt, iv, ciphertext []byte, err error) {
	saltB64, err := p.store.Get(ctx, storageKeySalt)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, nil, ErrNotInitialized
	}
	if err != nil {
		return nil, nil, nil, err
	}
	ivB64, err := p.store.Get(ctx, storageKeyIV)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("vault: load iv: %w", err)
	}
	ctB64, err := p.store.Get(ctx, storageKeyVault)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("vault: load ciphertext: %w", err)
	}
	if salt, err = base64.StdEncoding.DecodeString(saltB64); err != nil {
		return nil, nil, nil, fmt.Errorf("vault: decode salt: %w", err)
	}
	if iv, err = base64.StdEncoding.DecodeString(ivB64); err != nil {
		return nil, nil, nil, fmt.Errorf("vault: decode iv: %w", err)
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(ctB64); err != nil {
		return nil, nil, nil, fmt.Errorf("vault: decode ciphertext: %w", err)
	}
	return salt, iv, ciphertext, nil
}

// Save serializes the vault to its wire form, encrypts it under key with a
// fresh IV and writes ciphertext and iv back to the store. Called after every
// mutating registry operation and on lock.
func (p *Persister) Save(ctx context.Context, v *Vault, key *crypto.MasterKey) error {
	if v == nil || key == nil {
		return ErrLocked
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("vault: serialize: %w", err)
	}
	blob, err := crypto.Encrypt(key, plaintext)
	crypto.Zero(plaintext)
	if err != nil {
		return fmt.Errorf("vault: encrypt: %w", err)
	}
	if err := p.store.Set(ctx, storageKeyVault, base64.StdEncoding.EncodeToString(blob.Ciphertext)); err != nil {
		return fmt.Errorf("vault: write ciphertext: %w", err)
	}
	if err := p.store.Set(ctx, storageKeyIV, base64.StdEncoding.EncodeToString(blob.IV)); err != nil {
		return fmt.Errorf("vault: write iv: %w", err)
	}
	return nil
}

// Initialize bootstraps an empty vault: generates the salt, derives the
// master key and persists salt plus an encrypted empty vault. Fails with
// ErrAlreadyInitialized if a salt exists, so a repeated init cannot clobber a
// populated vault. Returns the live session pair on success.
func (p *Persister) Initialize(ctx context.Context, password string) (*crypto.MasterKey, *Vault, error) {
	initialized, err := p.Initialized(ctx)
	if err != nil {
		return nil, nil, err
	}
	if initialized {
		return nil, nil, ErrAlreadyInitialized
	}
	salt := crypto.GenerateSalt(crypto.SaltSize)
	key := crypto.DeriveKey(password, salt)
	v := New()
	if err := p.store.Set(ctx, storageKeySalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
		key.Zero()
		return nil, nil, fmt.Errorf("vault: write salt: %w", err)
	}
	if err := p.Save(ctx, v, key); err != nil {
		key.Zero()
		return nil, nil, err
	}
	return key, v, nil
}

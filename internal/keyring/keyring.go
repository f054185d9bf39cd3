// Package keyring manages the current user's own key pairs inside the vault.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/pgp"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

var ErrNotFound = errors.New("keyring: key not found")

// Info is the public, non-secret view of a key pair. Private key ciphertext
// and IVs never leave this package.
type Info struct {
	Fingerprint      string     `json:"fingerprint"`
	ArmoredPublicKey string     `json:"publicKey"`
	Created          time.Time  `json:"created"`
	Expires          *time.Time `json:"expires,omitempty"`
}

// Registry performs CRUD over the user's key pairs. It reads and mutates the
// vault held by the injected SecretStore and persists after every mutation.
type Registry struct {
	secrets *vault.SecretStore
	persist *vault.Persister
}

func New(secrets *vault.SecretStore, persist *vault.Persister) *Registry {
	return &Registry{secrets: secrets, persist: persist}
}

func (r *Registry) session() (*crypto.MasterKey, *vault.Vault, error) {
	key, v := r.secrets.Key(), r.secrets.Vault()
	if key == nil || v == nil {
		return nil, nil, vault.ErrLocked
	}
	return key, v, nil
}

// Generate creates a fresh key pair for email and stores it with the private
// key AEAD-encrypted under the master key. Generated private keys are never
// passphrase-protected, so a supplied passphrase is dropped rather than
// stored. The vault entry for email is created if absent.
func (r *Registry) Generate(ctx context.Context, email, passphrase string, opts pgp.KeyOptions) (string, error) {
	key, v, err := r.session()
	if err != nil {
		return "", err
	}
	if email == "" {
		return "", errors.New("keyring: email is required")
	}
	gk, err := pgp.GenerateKeyPair(email, opts)
	if err != nil {
		return "", err
	}
	passphrase = "" // nothing for it to unlock
	kp, err := sealKeyPair(key, gk.Fingerprint, gk.ArmoredPublicKey, gk.ArmoredPrivateKey, passphrase, gk.Created)
	if err != nil {
		return "", err
	}
	v.EnsureEntry(email).KeyPairs[gk.Fingerprint] = kp
	return gk.Fingerprint, r.persist.Save(ctx, v, key)
}

// Import stores an existing armored private key for email. A key that
// carries its own PGP passphrase may be imported with or without it; without
// it, decryption later suspends with a passphrase prompt.
func (r *Registry) Import(ctx context.Context, email, armoredPrivateKey, passphrase string) (string, error) {
	key, v, err := r.session()
	if err != nil {
		return "", err
	}
	info, err := pgp.InspectPrivateKey(armoredPrivateKey)
	if err != nil {
		return "", err
	}
	if !info.Encrypted && passphrase != "" {
		passphrase = "" // nothing for it to unlock
	}
	kp, err := sealKeyPair(key, info.Fingerprint, info.ArmoredPublicKey, armoredPrivateKey, passphrase, info.Created)
	if err != nil {
		return "", err
	}
	v.EnsureEntry(email).KeyPairs[info.Fingerprint] = kp
	return info.Fingerprint, r.persist.Save(ctx, v, key)
}

// List returns the public view of email's key pairs.
func (r *Registry) List(email string) ([]Info, error) {
	_, v, err := r.session()
	if err != nil {
		return nil, err
	}
	entry := v.Entry(email)
	if entry == nil {
		return []Info{}, nil
	}
	out := make([]Info, 0, len(entry.KeyPairs))
	for _, kp := range entry.KeyPairs {
		out = append(out, Info{
			Fingerprint:      kp.Fingerprint,
			ArmoredPublicKey: kp.ArmoredPublicKey,
			Created:          kp.Created,
			Expires:          kp.Expires,
		})
	}
	return out, nil
}

// Delete removes one key pair and persists.
func (r *Registry) Delete(ctx context.Context, email, fingerprint string) error {
	key, v, err := r.session()
	if err != nil {
		return err
	}
	entry := v.Entry(email)
	if entry == nil {
		return ErrNotFound
	}
	if _, ok := entry.KeyPairs[fingerprint]; !ok {
		return ErrNotFound
	}
	delete(entry.KeyPairs, fingerprint)
	return r.persist.Save(ctx, v, key)
}

func sealKeyPair(key *crypto.MasterKey, fingerprint, armoredPub, armoredPriv, passphrase string, created time.Time) (*vault.KeyPair, error) {
	privBlob, err := crypto.Encrypt(key, []byte(armoredPriv))
	if err != nil {
		return nil, fmt.Errorf("keyring: encrypt private key: %w", err)
	}
	kp := &vault.KeyPair{
		Fingerprint:         fingerprint,
		ArmoredPublicKey:    armoredPub,
		Created:             created,
		EncryptedPrivateKey: privBlob.Ciphertext,
		IV:                  privBlob.IV,
	}
	if passphrase != "" {
		passBlob, err := crypto.Encrypt(key, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("keyring: encrypt passphrase: %w", err)
		}
		kp.EncryptedPassphrase = passBlob.Ciphertext
		kp.IVPassphrase = passBlob.IV
	}
	return kp, nil
}

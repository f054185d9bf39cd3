// Package contacts manages a user's contacts and their public keys inside
// the vault.
package contacts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/pgp"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

var (
	ErrNotFound   = errors.New("contacts: not found")
	ErrNoIdentity = errors.New("contacts: generate a key pair for yourself first")
)

// NewContact is the input for adding a contact or another key for an
// existing one.
type NewContact struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email"`
	ArmoredKey string `json:"publicKeyArmored"`
	Nickname   string `json:"nickname,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

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

// Add parses the armored public key and attaches it to owner's contact list.
// A contact list is scoped to an identity that exists, so the owner must
// already hold at least one key pair. Keys are deduplicated by fingerprint
// within a contact; adding a known fingerprint again is a no-op.
func (r *Registry) Add(ctx context.Context, owner string, nc NewContact) (*vault.Contact, error) {
	key, v, err := r.session()
	if err != nil {
		return nil, err
	}
	entry := v.Entry(owner)
	if entry == nil || len(entry.KeyPairs) == 0 {
		return nil, ErrNoIdentity
	}
	info, err := pgp.InspectPublicKey(nc.ArmoredKey)
	if err != nil {
		return nil, err
	}
	keyInfo := vault.PublicKeyInfo{
		ArmoredKey:  nc.ArmoredKey,
		Fingerprint: info.Fingerprint,
		Created:     info.Created,
		Nickname:    nc.Nickname,
	}

	contact := entry.Contacts[nc.Email]
	if contact != nil {
		known := false
		for _, pk := range contact.PublicKeys {
			if pk.Fingerprint == keyInfo.Fingerprint {
				known = true
				break
			}
		}
		if !known {
			contact.PublicKeys = append(contact.PublicKeys, keyInfo)
		}
	} else {
		now := time.Now()
		contact = &vault.Contact{
			ID:         uuid.NewString(),
			Name:       nc.Name,
			Email:      nc.Email,
			PublicKeys: []vault.PublicKeyInfo{keyInfo},
			DateAdded:  &now,
			Notes:      nc.Notes,
		}
		entry.Contacts[nc.Email] = contact
	}
	return contact, r.persist.Save(ctx, v, key)
}

// List returns owner's contacts.
func (r *Registry) List(owner string) ([]*vault.Contact, error) {
	_, v, err := r.session()
	if err != nil {
		return nil, err
	}
	entry := v.Entry(owner)
	if entry == nil {
		return []*vault.Contact{}, nil
	}
	out := make([]*vault.Contact, 0, len(entry.Contacts))
	for _, c := range entry.Contacts {
		out = append(out, c)
	}
	return out, nil
}

// Get returns one contact by email, or nil.
func (r *Registry) Get(owner, email string) (*vault.Contact, error) {
	_, v, err := r.session()
	if err != nil {
		return nil, err
	}
	entry := v.Entry(owner)
	if entry == nil {
		return nil, nil
	}
	return entry.Contacts[email], nil
}

// DeleteKey removes one public key from a contact's key list. The contact
// itself survives even when its last key is removed.
func (r *Registry) DeleteKey(ctx context.Context, owner, contactEmail, fingerprint string) error {
	key, v, err := r.session()
	if err != nil {
		return err
	}
	entry := v.Entry(owner)
	if entry == nil {
		return ErrNotFound
	}
	contact := entry.Contacts[contactEmail]
	if contact == nil {
		return ErrNotFound
	}
	for i, pk := range contact.PublicKeys {
		if pk.Fingerprint == fingerprint {
			contact.PublicKeys = append(contact.PublicKeys[:i], contact.PublicKeys[i+1:]...)
			return r.persist.Save(ctx, v, key)
		}
	}
	return ErrNotFound
}

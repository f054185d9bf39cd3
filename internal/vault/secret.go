package vault

import (
	"sync"

	"github.com/ftlframe/auto-pgp/internal/crypto"
)

// SecretStore holds the master key and decrypted vault for the lifetime of an
// unlocked session. The pair is set and cleared together: there is no state
// where a key exists without a vault or the other way around. Safe for
// concurrent use.
type SecretStore struct {
	mu    sync.Mutex
	key   *crypto.MasterKey
	vault *Vault
}

func NewSecretStore() *SecretStore {
	return &SecretStore{}
}

// SetSession installs an unlocked session. If either part is missing the
// store wipes instead, preserving the both-or-neither invariant.
func (s *SecretStore) SetSession(key *crypto.MasterKey, v *Vault) {
	if key == nil || v == nil {
		s.Wipe()
		return
	}
	s.mu.Lock()
	old := s.key
	s.key = key
	s.vault = v
	s.mu.Unlock()
	if old != nil && old != key {
		old.Zero()
	}
}

func (s *SecretStore) Key() *crypto.MasterKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *SecretStore) Vault() *Vault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault
}

func (s *SecretStore) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != nil && s.vault != nil
}

// Wipe clears the session and zeroes the key material. Idempotent.
func (s *SecretStore) Wipe() {
	s.mu.Lock()
	key := s.key
	s.key = nil
	s.vault = nil
	s.mu.Unlock()
	if key != nil {
		key.Zero()
	}
}

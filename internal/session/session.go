// Package session owns the locked/unlocked lifecycle of the vault.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

// DefaultAutoLock is the inactivity window before the vault locks itself.
const DefaultAutoLock = 2 * time.Minute

type Config struct {
	// AutoLock disables the inactivity timer when zero or negative.
	AutoLock time.Duration
	// OnLock runs after every lock, auto or explicit, so collaborators can
	// clear their own volatile state.
	OnLock func()
}

// Manager drives unlock, lock and the inactivity auto-lock timer. Locking is
// fail-safe: a failed persist is logged and never prevents the wipe.
type Manager struct {
	secrets *vault.SecretStore
	persist *vault.Persister
	cfg     Config

	mu    sync.Mutex
	timer *time.Timer
}

func New(secrets *vault.SecretStore, persist *vault.Persister, cfg Config) *Manager {
	return &Manager{secrets: secrets, persist: persist, cfg: cfg}
}

// Initialize bootstraps a new vault and leaves it unlocked.
func (m *Manager) Initialize(ctx context.Context, password string) error {
	key, v, err := m.persist.Initialize(ctx, password)
	if err != nil {
		return err
	}
	m.secrets.SetSession(key, v)
	m.Touch()
	return nil
}

// Unlock loads the encrypted vault, derives the master key and populates the
// secret store. A wrong password and corrupted ciphertext both surface as
// crypto.ErrAuthentication.
func (m *Manager) Unlock(ctx context.Context, password string) error {
	salt, iv, ciphertext, err := m.persist.Load(ctx)
	if err != nil {
		return err
	}
	key := crypto.DeriveKey(password, salt)
	plaintext, err := crypto.Decrypt(key, iv, ciphertext)
	if err != nil {
		key.Zero()
		return err
	}
	v := vault.New()
	err = json.Unmarshal(plaintext, v)
	crypto.Zero(plaintext)
	if err != nil {
		key.Zero()
		return fmt.Errorf("session: deserialize vault: %w", err)
	}
	m.secrets.SetSession(key, v)
	m.Touch()
	return nil
}

// Login unlocks an existing vault, or initializes a fresh one when no salt
// has been persisted yet.
func (m *Manager) Login(ctx context.Context, password string) error {
	initialized, err := m.persist.Initialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return m.Unlock(ctx, password)
	}
	return m.Initialize(ctx, password)
}

// Lock persists the current vault best-effort, then unconditionally wipes
// the secret store. Idempotent; locking an already-locked manager succeeds.
func (m *Manager) Lock(ctx context.Context) {
	key, v := m.secrets.Key(), m.secrets.Vault()
	if key != nil && v != nil {
		if err := m.persist.Save(ctx, v, key); err != nil {
			logrus.WithError(err).Warn("session: could not persist vault before locking; recent changes may be lost")
		}
	}
	m.secrets.Wipe()

	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	onLock := m.cfg.OnLock
	m.mu.Unlock()

	if onLock != nil {
		onLock()
	}
}

// SetOnLock installs the post-lock hook. Collaborators built after the
// manager use this to register volatile-state cleanup.
func (m *Manager) SetOnLock(fn func()) {
	m.mu.Lock()
	m.cfg.OnLock = fn
	m.mu.Unlock()
}

// Unlocked reports the current lifecycle state.
func (m *Manager) Unlocked() bool {
	return m.secrets.Unlocked()
}

// Touch reschedules the inactivity auto-lock. Only active while unlocked.
func (m *Manager) Touch() {
	if m.cfg.AutoLock <= 0 || !m.secrets.Unlocked() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.cfg.AutoLock, func() {
		logrus.Info("session: auto-locking due to inactivity")
		m.Lock(context.Background())
	})
}

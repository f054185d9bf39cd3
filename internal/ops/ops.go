// Package ops implements the encrypt/decrypt request state machine: resolving
// which keys to use, suspending on ambiguity or a missing passphrase, and
// retrying requests that arrived while the vault was locked.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ftlframe/auto-pgp/internal/contacts"
	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

var (
	ErrNoMatchingKey = errors.New("ops: no private key on file matches this message")
	ErrNoSigningKey  = errors.New("ops: no key pair for this identity")
	ErrBusy          = errors.New("ops: another request is already awaiting input")
	ErrNoPending     = errors.New("ops: no pending action")
)

// KeyCandidate is one enumerable choice in a selection prompt.
type KeyCandidate struct {
	Fingerprint string    `json:"fingerprint"`
	Created     time.Time `json:"created"`
}

// SelectionRequiredError is the structured suspend signal returned when an
// encrypt request cannot uniquely resolve its keys. The caller is expected to
// re-invoke the same operation with Selections filled in.
type SelectionRequiredError struct {
	UserKeyOptions      []KeyCandidate            `json:"userKeyOptions,omitempty"`
	RecipientKeyOptions map[string][]KeyCandidate `json:"recipientKeyOptions,omitempty"`
	NewContacts         []string                  `json:"newContacts,omitempty"`
}

func (e *SelectionRequiredError) Error() string { return "ops: key selection required" }

// PassphraseRequiredError is the decrypt-side suspend signal: a matching key
// was found but its own PGP passphrase is not on file.
type PassphraseRequiredError struct {
	Fingerprint string `json:"keyFingerprint"`
}

func (e *PassphraseRequiredError) Error() string {
	return fmt.Sprintf("ops: passphrase required for key %s", e.Fingerprint)
}

// Selections carries the caller's answers to a previous selection prompt.
type Selections struct {
	UserKeyFingerprint       string            `json:"userKeyFingerprint,omitempty"`
	RecipientKeyFingerprints map[string]string `json:"recipientKeyFingerprints,omitempty"`
}

type EncryptRequest struct {
	Owner          string                `json:"owner"`
	Recipients     []string              `json:"recipients"`
	Content        string                `json:"content"`
	Selections     *Selections           `json:"selections,omitempty"`
	NewContactKeys []contacts.NewContact `json:"newContactKeys,omitempty"`
	Origin         string                `json:"origin,omitempty"`
}

type EncryptResult struct {
	EncryptedContent string `json:"encryptedContent"`
}

type DecryptRequest struct {
	ArmoredMessage string `json:"armoredMessage"`
	Origin         string `json:"origin,omitempty"`
}

type DecryptResult struct {
	DecryptedContent string `json:"decryptedContent"`
	Verification     string `json:"verification"`
}

// PendingPolicy decides what happens when a second request blocks while one
// is already pending. The source behavior silently replaced the earlier
// request; rejecting with ErrBusy is the stricter alternative.
type PendingPolicy int

const (
	PendingReplace PendingPolicy = iota
	PendingReject
)

type ActionKind string

const (
	ActionEncrypt ActionKind = "encrypt"
	ActionDecrypt ActionKind = "decrypt"
)

// PendingAction is the single-slot record of a request that could not
// proceed. It is consumed exactly once, by Retry or SubmitPassphrase.
type PendingAction struct {
	Kind    ActionKind
	Encrypt *EncryptRequest
	Decrypt *pendingDecrypt
	Origin  string
}

type pendingDecrypt struct {
	ArmoredMessage string
	Owner          string // vault entry holding the matched key
	Fingerprint    string // set once a key has been matched
}

// Orchestrator mediates encrypt/decrypt requests against the vault.
type Orchestrator struct {
	secrets  *vault.SecretStore
	contacts *contacts.Registry
	policy   PendingPolicy

	mu      sync.Mutex
	pending *PendingAction
}

func New(secrets *vault.SecretStore, contactReg *contacts.Registry, policy PendingPolicy) *Orchestrator {
	return &Orchestrator{secrets: secrets, contacts: contactReg, policy: policy}
}

// Pending returns the currently suspended action, if any.
func (o *Orchestrator) Pending() *PendingAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

func (o *Orchestrator) setPending(p *PendingAction) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil && o.policy == PendingReject {
		return ErrBusy
	}
	o.pending = p
	return nil
}

func (o *Orchestrator) takePending() *PendingAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.pending
	o.pending = nil
	return p
}

// RetryResult carries the outcome of re-executing a pending action along
// with the origin context it should be pushed back to.
type RetryResult struct {
	Kind    ActionKind
	Origin  string
	Encrypt *EncryptResult
	Decrypt *DecryptResult
}

// Retry re-executes the stored pending action. A retry that blocks again
// (vault still locked, passphrase still unknown) re-records itself; the
// caller sees the same suspend signal the original request produced.
func (o *Orchestrator) Retry(ctx context.Context) (*RetryResult, error) {
	p := o.takePending()
	if p == nil {
		return nil, ErrNoPending
	}
	switch p.Kind {
	case ActionEncrypt:
		res, err := o.Encrypt(ctx, *p.Encrypt)
		if err != nil {
			return nil, err
		}
		return &RetryResult{Kind: ActionEncrypt, Origin: p.Origin, Encrypt: res}, nil
	case ActionDecrypt:
		res, err := o.Decrypt(ctx, DecryptRequest{ArmoredMessage: p.Decrypt.ArmoredMessage, Origin: p.Origin})
		if err != nil {
			return nil, err
		}
		return &RetryResult{Kind: ActionDecrypt, Origin: p.Origin, Decrypt: res}, nil
	default:
		return nil, fmt.Errorf("ops: unknown pending action kind %q", p.Kind)
	}
}

// openPrivateKey decrypts a key pair's armored private key, and its stored
// PGP passphrase when one is on file, under the master key. The caller owns
// zeroing both buffers.
func openPrivateKey(key *crypto.MasterKey, kp *vault.KeyPair) (armoredPriv, passphrase []byte, err error) {
	armoredPriv, err = crypto.Decrypt(key, kp.IV, kp.EncryptedPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("ops: open private key %s: %w", kp.Fingerprint, err)
	}
	if kp.HasPassphrase() {
		passphrase, err = crypto.Decrypt(key, kp.IVPassphrase, kp.EncryptedPassphrase)
		if err != nil {
			crypto.Zero(armoredPriv)
			return nil, nil, fmt.Errorf("ops: open passphrase for %s: %w", kp.Fingerprint, err)
		}
	}
	return armoredPriv, passphrase, nil
}

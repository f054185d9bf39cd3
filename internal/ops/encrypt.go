package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/ftlframe/auto-pgp/internal/contacts"
	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/keyring"
	"github.com/ftlframe/auto-pgp/internal/pgp"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

// Encrypt resolves the signing key and one public key per recipient, then
// signs and encrypts the content. When the vault is locked the request is
// recorded as the pending action and vault.ErrLocked is returned. When key
// choices cannot be made automatically a *SelectionRequiredError enumerates
// them; the caller re-invokes with Selections and NewContactKeys filled in.
func (o *Orchestrator) Encrypt(ctx context.Context, req EncryptRequest) (*EncryptResult, error) {
	if !o.secrets.Unlocked() {
		stored := req
		if err := o.setPending(&PendingAction{Kind: ActionEncrypt, Encrypt: &stored, Origin: req.Origin}); err != nil {
			return nil, err
		}
		return nil, vault.ErrLocked
	}

	key := o.secrets.Key()
	v := o.secrets.Vault()
	entry := v.Entry(req.Owner)
	if entry == nil || len(entry.KeyPairs) == 0 {
		return nil, ErrNoSigningKey
	}

	sel := &SelectionRequiredError{}

	signing, err := resolveSigningKey(entry, req.Selections, sel)
	if err != nil {
		return nil, err
	}

	newByEmail := make(map[string]contacts.NewContact, len(req.NewContactKeys))
	for _, nc := range req.NewContactKeys {
		newByEmail[nc.Email] = nc
	}

	recipientKeys := make([]string, 0, len(req.Recipients))
	for _, email := range req.Recipients {
		armored, err := o.resolveRecipient(ctx, req.Owner, entry, email, req.Selections, newByEmail, sel)
		if err != nil {
			return nil, err
		}
		if armored != "" {
			recipientKeys = append(recipientKeys, armored)
		}
	}

	if len(sel.UserKeyOptions) > 0 || len(sel.RecipientKeyOptions) > 0 || len(sel.NewContacts) > 0 {
		return nil, sel
	}

	armoredPriv, passphrase, err := openPrivateKey(key, signing)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(armoredPriv)
	defer crypto.Zero(passphrase)

	encrypted, err := pgp.EncryptMessage(string(armoredPriv), passphrase, recipientKeys, []byte(req.Content))
	if err != nil {
		return nil, err
	}
	return &EncryptResult{EncryptedContent: encrypted}, nil
}

// resolveSigningKey picks the owner's signing key pair: an explicit
// selection wins, a sole key pair auto-resolves, anything else flags the
// full candidate list.
func resolveSigningKey(entry *vault.Entry, sel *Selections, out *SelectionRequiredError) (*vault.KeyPair, error) {
	if sel != nil && sel.UserKeyFingerprint != "" {
		kp, ok := entry.KeyPairs[sel.UserKeyFingerprint]
		if !ok {
			return nil, keyring.ErrNotFound
		}
		return kp, nil
	}
	if len(entry.KeyPairs) == 1 {
		for _, kp := range entry.KeyPairs {
			return kp, nil
		}
	}
	for _, fp := range sortedFingerprints(entry.KeyPairs) {
		out.UserKeyOptions = append(out.UserKeyOptions, KeyCandidate{
			Fingerprint: fp,
			Created:     entry.KeyPairs[fp].Created,
		})
	}
	return nil, nil
}

// resolveRecipient produces the armored public key to encrypt to for one
// recipient email. Keys supplied inline via NewContactKeys are persisted to
// the owner's contact list before use; persistence is idempotent since the
// registry dedupes by fingerprint.
func (o *Orchestrator) resolveRecipient(ctx context.Context, owner string, entry *vault.Entry, email string, sel *Selections, newByEmail map[string]contacts.NewContact, out *SelectionRequiredError) (string, error) {
	if nc, ok := newByEmail[email]; ok {
		if _, err := o.contacts.Add(ctx, owner, nc); err != nil {
			return "", fmt.Errorf("ops: persist key for %s: %w", email, err)
		}
		return nc.ArmoredKey, nil
	}

	contact := entry.Contacts[email]
	if contact == nil || len(contact.PublicKeys) == 0 {
		out.NewContacts = append(out.NewContacts, email)
		return "", nil
	}

	if sel != nil {
		if fp, ok := sel.RecipientKeyFingerprints[email]; ok {
			for _, pk := range contact.PublicKeys {
				if pk.Fingerprint == fp {
					return pk.ArmoredKey, nil
				}
			}
			return "", contacts.ErrNotFound
		}
	}
	if len(contact.PublicKeys) == 1 {
		return contact.PublicKeys[0].ArmoredKey, nil
	}

	if out.RecipientKeyOptions == nil {
		out.RecipientKeyOptions = make(map[string][]KeyCandidate)
	}
	candidates := make([]KeyCandidate, 0, len(contact.PublicKeys))
	for _, pk := range contact.PublicKeys {
		candidates = append(candidates, KeyCandidate{Fingerprint: pk.Fingerprint, Created: pk.Created})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Fingerprint < candidates[j].Fingerprint })
	out.RecipientKeyOptions[email] = candidates
	return "", nil
}

func sortedFingerprints(m map[string]*vault.KeyPair) []string {
	fps := make([]string, 0, len(m))
	for fp := range m {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps
}

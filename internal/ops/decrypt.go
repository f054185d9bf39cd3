package ops

import (
	"context"
	"sort"

	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/pgp"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

// Decrypt locates the private key a message was encrypted to, across every
// identity in the vault, and decrypts it. A message addressed to a
// passphrase-protected key with no passphrase on file suspends with
// *PassphraseRequiredError; SubmitPassphrase completes it.
func (o *Orchestrator) Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResult, error) {
	if !o.secrets.Unlocked() {
		if err := o.setPending(&PendingAction{
			Kind:    ActionDecrypt,
			Decrypt: &pendingDecrypt{ArmoredMessage: req.ArmoredMessage},
			Origin:  req.Origin,
		}); err != nil {
			return nil, err
		}
		return nil, vault.ErrLocked
	}

	key := o.secrets.Key()
	v := o.secrets.Vault()

	ids, err := pgp.RecipientKeyIDs(req.ArmoredMessage)
	if err != nil {
		return nil, err
	}

	owner, kp, err := findRecipientKey(v, ids)
	if err != nil {
		return nil, err
	}

	armoredPriv, passphrase, err := openPrivateKey(key, kp)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(armoredPriv)
	defer crypto.Zero(passphrase)

	info, err := pgp.InspectPrivateKey(string(armoredPriv))
	if err != nil {
		return nil, err
	}
	if info.Encrypted && len(passphrase) == 0 {
		if err := o.setPending(&PendingAction{
			Kind: ActionDecrypt,
			Decrypt: &pendingDecrypt{
				ArmoredMessage: req.ArmoredMessage,
				Owner:          owner,
				Fingerprint:    kp.Fingerprint,
			},
			Origin: req.Origin,
		}); err != nil {
			return nil, err
		}
		return nil, &PassphraseRequiredError{Fingerprint: kp.Fingerprint}
	}

	return decryptWith(v, owner, armoredPriv, passphrase, req.ArmoredMessage)
}

// SubmitPassphrase completes a decrypt suspended on a missing passphrase.
// The pending slot is kept on a wrong passphrase so the caller can try
// again, and cleared on success.
func (o *Orchestrator) SubmitPassphrase(ctx context.Context, passphrase string) (*DecryptResult, error) {
	o.mu.Lock()
	p := o.pending
	o.mu.Unlock()
	if p == nil || p.Kind != ActionDecrypt || p.Decrypt.Fingerprint == "" {
		return nil, ErrNoPending
	}
	if !o.secrets.Unlocked() {
		return nil, vault.ErrLocked
	}

	key := o.secrets.Key()
	v := o.secrets.Vault()

	entry := v.Entry(p.Decrypt.Owner)
	if entry == nil {
		return nil, ErrNoMatchingKey
	}
	kp, ok := entry.KeyPairs[p.Decrypt.Fingerprint]
	if !ok {
		return nil, ErrNoMatchingKey
	}

	armoredPriv, err := crypto.Decrypt(key, kp.IV, kp.EncryptedPrivateKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(armoredPriv)

	res, err := decryptWith(v, p.Decrypt.Owner, armoredPriv, []byte(passphrase), p.Decrypt.ArmoredMessage)
	if err != nil {
		return nil, err
	}
	o.takePending()
	return res, nil
}

// findRecipientKey scans every identity's key pairs, in deterministic order,
// for one whose key ID appears in the message's recipient list.
func findRecipientKey(v *vault.Vault, ids []uint64) (string, *vault.KeyPair, error) {
	emails := make([]string, 0, len(v.Entries))
	for email := range v.Entries {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	for _, email := range emails {
		entry := v.Entries[email]
		for _, fp := range sortedFingerprints(entry.KeyPairs) {
			kp := entry.KeyPairs[fp]
			match, err := pgp.MatchesKeyID(kp.ArmoredPublicKey, ids)
			if err != nil {
				continue
			}
			if match {
				return email, kp, nil
			}
		}
	}
	return "", nil, ErrNoMatchingKey
}

// decryptWith runs the PGP decryption, verifying the signature against
// every public key in the owner's contact list.
func decryptWith(v *vault.Vault, owner string, armoredPriv, passphrase []byte, armoredMessage string) (*DecryptResult, error) {
	var senderKeys []string
	if entry := v.Entry(owner); entry != nil {
		for _, email := range sortedContactEmails(entry) {
			for _, pk := range entry.Contacts[email].PublicKeys {
				senderKeys = append(senderKeys, pk.ArmoredKey)
			}
		}
	}

	plaintext, verification, err := pgp.DecryptMessage(string(armoredPriv), passphrase, senderKeys, armoredMessage)
	if err != nil {
		return nil, err
	}
	return &DecryptResult{DecryptedContent: string(plaintext), Verification: verification}, nil
}

func sortedContactEmails(entry *vault.Entry) []string {
	emails := make([]string, 0, len(entry.Contacts))
	for email := range entry.Contacts {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

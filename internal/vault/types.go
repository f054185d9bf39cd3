package vault

import "time"

// KeyPair is one of the user's own asymmetric key pairs. The private key and
// its optional unlocking passphrase are each independently AEAD-encrypted
// under the master key; neither is ever held in the vault in clear.
// EncryptedPassphrase and IVPassphrase are present together or not at all;
// their absence means the underlying PGP private key has no passphrase.
type KeyPair struct {
	Fingerprint         string     `json:"fingerprint"`
	ArmoredPublicKey    string     `json:"publicKey"`
	Created             time.Time  `json:"created"`
	Expires             *time.Time `json:"expires,omitempty"`
	EncryptedPrivateKey []byte     `json:"encryptedPrivateKey"`
	IV                  []byte     `json:"iv"`
	EncryptedPassphrase []byte     `json:"encryptedPassphrase,omitempty"`
	IVPassphrase        []byte     `json:"ivPassphrase,omitempty"`
}

// HasPassphrase reports whether a PGP-level passphrase is on file for this
// key pair.
func (kp *KeyPair) HasPassphrase() bool {
	return len(kp.EncryptedPassphrase) > 0 && len(kp.IVPassphrase) > 0
}

// PublicKeyInfo is one public key belonging to a contact. Fingerprint is the
// dedup identity within a contact's key list.
type PublicKeyInfo struct {
	ArmoredKey  string    `json:"armoredKey"`
	Fingerprint string    `json:"fingerprint"`
	Created     time.Time `json:"created"`
	Nickname    string    `json:"nickname,omitempty"`
}

// Contact may hold multiple public keys (key rotation, multiple devices).
type Contact struct {
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Email      string          `json:"email"`
	PublicKeys []PublicKeyInfo `json:"publicKeys"`
	DateAdded  *time.Time      `json:"dateAdded,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// Entry holds everything the vault knows for one of the user's identities:
// their own key pairs by fingerprint and their contacts by email.
type Entry struct {
	KeyPairs map[string]*KeyPair
	Contacts map[string]*Contact
}

func NewEntry() *Entry {
	return &Entry{
		KeyPairs: map[string]*KeyPair{},
		Contacts: map[string]*Contact{},
	}
}

// Vault maps user email to Entry. Exactly one instance lives in process
// memory while unlocked; none exists while locked.
type Vault struct {
	Entries map[string]*Entry
}

func New() *Vault {
	return &Vault{Entries: map[string]*Entry{}}
}

// Entry returns the entry for email, or nil.
func (v *Vault) Entry(email string) *Entry {
	return v.Entries[email]
}

// EnsureEntry returns the entry for email, creating it if absent.
func (v *Vault) EnsureEntry(email string) *Entry {
	e := v.Entries[email]
	if e == nil {
		e = NewEntry()
		v.Entries[email] = e
	}
	return e
}

// Package pgp wraps the external OpenPGP primitive library behind armored
// string inputs and outputs so the rest of the system never handles entity
// objects directly.
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
	_ "golang.org/x/crypto/ripemd160"
)

const messageType = "PGP MESSAGE"

var (
	ErrWrongPassphrase = errors.New("pgp: wrong passphrase")
	ErrNotAMessage     = errors.New("pgp: input is not an armored PGP message")
)

// Verification is the informational outcome of a signature check during
// decryption. It never blocks returning the decrypted content.
const (
	VerificationValid    = "valid"
	VerificationInvalid  = "invalid"
	VerificationUnsigned = "unsigned"
)

// KeyOptions controls key generation.
type KeyOptions struct {
	Name    string
	Comment string
	Bits    int // RSA modulus size; 2048 if zero
}

// GeneratedKey is the armored output of a fresh key pair.
type GeneratedKey struct {
	ArmoredPublicKey  string
	ArmoredPrivateKey string
	Fingerprint       string
	Created           time.Time
}

// KeyInfo is the non-secret description of a parsed key.
type KeyInfo struct {
	Fingerprint      string
	Created          time.Time
	Encrypted        bool // private key carries its own passphrase
	ArmoredPublicKey string
}

// GenerateKeyPair creates an RSA key pair bound to email. The library cannot
// passphrase-protect a generated private key; protecting the serialized key
// at rest is the caller's job.
func GenerateKeyPair(email string, opts KeyOptions) (*GeneratedKey, error) {
	name := opts.Name
	if name == "" {
		name = email
	}
	cfg := &packet.Config{RSABits: opts.Bits}
	if cfg.RSABits == 0 {
		cfg.RSABits = 2048
	}
	entity, err := openpgp.NewEntity(name, opts.Comment, email, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgp: generate: %w", err)
	}

	// SerializePrivate signs the identities and subkeys, so it has to run
	// before the public serialization.
	var privBuf bytes.Buffer
	privArmor, err := armor.Encode(&privBuf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := entity.SerializePrivate(privArmor, cfg); err != nil {
		return nil, fmt.Errorf("pgp: serialize private key: %w", err)
	}
	if err := privArmor.Close(); err != nil {
		return nil, err
	}

	var pubBuf bytes.Buffer
	pubArmor, err := armor.Encode(&pubBuf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := entity.Serialize(pubArmor); err != nil {
		return nil, fmt.Errorf("pgp: serialize public key: %w", err)
	}
	if err := pubArmor.Close(); err != nil {
		return nil, err
	}

	return &GeneratedKey{
		ArmoredPublicKey:  pubBuf.String(),
		ArmoredPrivateKey: privBuf.String(),
		Fingerprint:       fingerprintOf(entity),
		Created:           entity.PrimaryKey.CreationTime,
	}, nil
}

// InspectPublicKey parses an armored public key and returns its fingerprint
// and creation time.
func InspectPublicKey(armored string) (KeyInfo, error) {
	entity, err := readEntity(armored)
	if err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{
		Fingerprint: fingerprintOf(entity),
		Created:     entity.PrimaryKey.CreationTime,
	}, nil
}

// InspectPrivateKey parses an armored private key, reporting whether it is
// passphrase-protected and carrying the derived armored public key so an
// imported key pair can be stored alongside its public half.
func InspectPrivateKey(armored string) (KeyInfo, error) {
	entity, err := readEntity(armored)
	if err != nil {
		return KeyInfo{}, err
	}
	if entity.PrivateKey == nil {
		return KeyInfo{}, errors.New("pgp: armored key has no private key material")
	}
	var pubBuf bytes.Buffer
	pubArmor, err := armor.Encode(&pubBuf, openpgp.PublicKeyType, nil)
	if err != nil {
		return KeyInfo{}, err
	}
	if err := entity.Serialize(pubArmor); err != nil {
		return KeyInfo{}, fmt.Errorf("pgp: derive public key: %w", err)
	}
	if err := pubArmor.Close(); err != nil {
		return KeyInfo{}, err
	}
	// A passphrase on any key in the bundle means unlocking needs one, even
	// when the primary key itself is stored in the clear.
	encrypted := entity.PrivateKey.Encrypted
	for _, sk := range entity.Subkeys {
		if sk.PrivateKey != nil && sk.PrivateKey.Encrypted {
			encrypted = true
		}
	}
	return KeyInfo{
		Fingerprint:      fingerprintOf(entity),
		Created:          entity.PrimaryKey.CreationTime,
		Encrypted:        encrypted,
		ArmoredPublicKey: pubBuf.String(),
	}, nil
}

// RecipientKeyIDs scans the message's public-key-encrypted session key
// packets and returns the 64-bit key IDs it is addressed to. No keyring is
// needed for this.
func RecipientKeyIDs(armoredMessage string) ([]uint64, error) {
	block, err := armor.Decode(strings.NewReader(armoredMessage))
	if err != nil {
		return nil, ErrNotAMessage
	}
	if block.Type != messageType {
		return nil, ErrNotAMessage
	}
	var ids []uint64
	reader := packet.NewReader(block.Body)
	for {
		p, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch pkt := p.(type) {
		case *packet.EncryptedKey:
			ids = append(ids, pkt.KeyId)
		case *packet.SymmetricallyEncrypted:
			// Session key packets always precede the encrypted body.
			return ids, nil
		}
	}
	if len(ids) == 0 {
		return nil, ErrNotAMessage
	}
	return ids, nil
}

// MatchesKeyID reports whether the armored key's primary key or any subkey
// carries one of the given key IDs. PGP key IDs are the 64-bit suffixes of
// full fingerprints, which is exactly what the library exposes as KeyId.
func MatchesKeyID(armoredKey string, ids []uint64) (bool, error) {
	entity, err := readEntity(armoredKey)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if entity.PrimaryKey.KeyId == id {
			return true, nil
		}
		for _, sk := range entity.Subkeys {
			if sk.PublicKey.KeyId == id {
				return true, nil
			}
		}
	}
	return false, nil
}

// EncryptMessage produces a signed, multi-recipient armored message. The
// signer's armored private key must already be unlockable with passphrase
// (nil when the key carries none).
func EncryptMessage(armoredSignerKey string, passphrase []byte, recipientKeys []string, content []byte) (string, error) {
	signer, err := readEntity(armoredSignerKey)
	if err != nil {
		return "", err
	}
	if err := unlockEntity(signer, passphrase); err != nil {
		return "", err
	}

	recipients := make([]*openpgp.Entity, 0, len(recipientKeys))
	for _, armored := range recipientKeys {
		e, err := readEntity(armored)
		if err != nil {
			return "", err
		}
		recipients = append(recipients, e)
	}

	var buf bytes.Buffer
	msgArmor, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return "", err
	}
	w, err := openpgp.Encrypt(msgArmor, recipients, signer, nil, nil)
	if err != nil {
		return "", fmt.Errorf("pgp: encrypt: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	if err := msgArmor.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DecryptMessage decrypts an armored message with the given private key and
// opportunistically verifies a signature against senderKeys. The verification
// outcome is informational; plaintext is returned whenever decryption itself
// succeeds.
func DecryptMessage(armoredPrivateKey string, passphrase []byte, senderKeys []string, armoredMessage string) ([]byte, string, error) {
	entity, err := readEntity(armoredPrivateKey)
	if err != nil {
		return nil, "", err
	}
	if err := unlockEntity(entity, passphrase); err != nil {
		return nil, "", err
	}

	keyring := openpgp.EntityList{entity}
	for _, armored := range senderKeys {
		if e, err := readEntity(armored); err == nil {
			keyring = append(keyring, e)
		}
	}

	block, err := armor.Decode(strings.NewReader(armoredMessage))
	if err != nil || block.Type != messageType {
		return nil, "", ErrNotAMessage
	}
	md, err := openpgp.ReadMessage(block.Body, keyring, nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("pgp: read message: %w", err)
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, "", fmt.Errorf("pgp: decrypt body: %w", err)
	}

	verification := VerificationUnsigned
	if md.IsSigned {
		if md.SignedBy != nil && md.SignatureError == nil {
			verification = VerificationValid
		} else {
			verification = VerificationInvalid
		}
	}
	return plaintext, verification, nil
}

func readEntity(armored string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("pgp: read key: %w", err)
	}
	if len(entities) == 0 {
		return nil, errors.New("pgp: no key in armored block")
	}
	return entities[0], nil
}

func unlockEntity(entity *openpgp.Entity, passphrase []byte) error {
	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return ErrWrongPassphrase
		}
	}
	for _, sk := range entity.Subkeys {
		if sk.PrivateKey != nil && sk.PrivateKey.Encrypted {
			if err := sk.PrivateKey.Decrypt(passphrase); err != nil {
				return ErrWrongPassphrase
			}
		}
	}
	return nil
}

func fingerprintOf(entity *openpgp.Entity) string {
	return fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint[:])
}

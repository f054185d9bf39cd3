// Command autopgpctl drives the vault in-process: key management, contacts
// and PGP operations against a file-backed (or Mongo-backed) vault.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ftlframe/auto-pgp/internal/contacts"
	"github.com/ftlframe/auto-pgp/internal/keyring"
	"github.com/ftlframe/auto-pgp/internal/ops"
	"github.com/ftlframe/auto-pgp/internal/router"
	"github.com/ftlframe/auto-pgp/internal/session"
	"github.com/ftlframe/auto-pgp/internal/storage"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

type app struct {
	r       *router.Router
	persist *vault.Persister
	mongo   *storage.MongoStore
}

func main() {
	// Shared storage flags, mirrored across every subcommand.
	type storeFlags struct {
		dir, mongo, db, coll *string
	}
	addStoreFlags := func(fs *flag.FlagSet) storeFlags {
		return storeFlags{
			dir:   fs.String("dir", "./vault", "vault storage directory"),
			mongo: fs.String("mongo", "", "MongoDB URI (optional)"),
			db:    fs.String("db", "autopgp", "Mongo database name"),
			coll:  fs.String("coll", "kv", "Mongo collection name"),
		}
	}

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initStore := addStoreFlags(initCmd)

	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
	statusStore := addStoreFlags(statusCmd)

	genkeyCmd := flag.NewFlagSet("genkey", flag.ExitOnError)
	genkeyStore := addStoreFlags(genkeyCmd)
	genkeyEmail := genkeyCmd.String("email", "", "identity email")
	genkeyName := genkeyCmd.String("name", "", "key holder name")
	genkeyBits := genkeyCmd.Int("bits", 0, "RSA key size (default 2048)")
	genkeyPassphrase := genkeyCmd.String("passphrase", "", "key passphrase to keep on file")

	keysCmd := flag.NewFlagSet("keys", flag.ExitOnError)
	keysStore := addStoreFlags(keysCmd)
	keysEmail := keysCmd.String("email", "", "identity email")

	delkeyCmd := flag.NewFlagSet("delkey", flag.ExitOnError)
	delkeyStore := addStoreFlags(delkeyCmd)
	delkeyEmail := delkeyCmd.String("email", "", "identity email")
	delkeyFp := delkeyCmd.String("fingerprint", "", "key fingerprint")

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importStore := addStoreFlags(importCmd)
	importEmail := importCmd.String("email", "", "identity email")
	importFile := importCmd.String("key-file", "", "armored private key file")
	importPassphrase := importCmd.String("passphrase", "", "key passphrase, if protected")

	addcCmd := flag.NewFlagSet("addcontact", flag.ExitOnError)
	addcStore := addStoreFlags(addcCmd)
	addcOwner := addcCmd.String("owner", "", "identity the contact belongs to")
	addcEmail := addcCmd.String("email", "", "contact email")
	addcName := addcCmd.String("name", "", "contact name")
	addcFile := addcCmd.String("key-file", "", "armored public key file")

	contactsCmd := flag.NewFlagSet("contacts", flag.ExitOnError)
	contactsStore := addStoreFlags(contactsCmd)
	contactsOwner := contactsCmd.String("owner", "", "identity email")

	delckCmd := flag.NewFlagSet("delcontactkey", flag.ExitOnError)
	delckStore := addStoreFlags(delckCmd)
	delckOwner := delckCmd.String("owner", "", "identity email")
	delckContact := delckCmd.String("contact", "", "contact email")
	delckFp := delckCmd.String("fingerprint", "", "key fingerprint")

	encryptCmd := flag.NewFlagSet("encrypt", flag.ExitOnError)
	encryptStore := addStoreFlags(encryptCmd)
	encryptOwner := encryptCmd.String("owner", "", "sending identity")
	encryptTo := encryptCmd.String("to", "", "comma-separated recipient emails")
	encryptIn := encryptCmd.String("in", "", "plaintext file (default stdin)")

	decryptCmd := flag.NewFlagSet("decrypt", flag.ExitOnError)
	decryptStore := addStoreFlags(decryptCmd)
	decryptIn := decryptCmd.String("in", "", "armored message file (default stdin)")

	if len(os.Args) < 2 {
		usage()
		return
	}

	run := func(fs *flag.FlagSet, sf storeFlags, fn func(a *app) error) {
		_ = fs.Parse(os.Args[2:])
		a, err := buildApp(*sf.dir, *sf.mongo, *sf.db, *sf.coll)
		dieIf(err)
		defer a.close()
		dieIf(fn(a))
	}

	switch os.Args[1] {
	case "init":
		run(initCmd, initStore, cmdInit)
	case "status":
		run(statusCmd, statusStore, cmdStatus)
	case "genkey":
		run(genkeyCmd, genkeyStore, func(a *app) error {
			return cmdGenkey(a, *genkeyEmail, *genkeyName, *genkeyPassphrase, *genkeyBits)
		})
	case "keys":
		run(keysCmd, keysStore, func(a *app) error { return cmdKeys(a, *keysEmail) })
	case "delkey":
		run(delkeyCmd, delkeyStore, func(a *app) error { return cmdDelkey(a, *delkeyEmail, *delkeyFp) })
	case "import":
		run(importCmd, importStore, func(a *app) error {
			return cmdImport(a, *importEmail, *importFile, *importPassphrase)
		})
	case "addcontact":
		run(addcCmd, addcStore, func(a *app) error {
			return cmdAddContact(a, *addcOwner, *addcEmail, *addcName, *addcFile)
		})
	case "contacts":
		run(contactsCmd, contactsStore, func(a *app) error { return cmdContacts(a, *contactsOwner) })
	case "delcontactkey":
		run(delckCmd, delckStore, func(a *app) error {
			return cmdDelContactKey(a, *delckOwner, *delckContact, *delckFp)
		})
	case "encrypt":
		run(encryptCmd, encryptStore, func(a *app) error {
			return cmdEncrypt(a, *encryptOwner, *encryptTo, *encryptIn)
		})
	case "decrypt":
		run(decryptCmd, decryptStore, func(a *app) error { return cmdDecrypt(a, *decryptIn) })
	default:
		usage()
	}
}

func usage() {
	fmt.Print(`autopgpctl commands:

  init          --dir path
  status        --dir path
  genkey        --dir path --email a@x.com [--name N --bits 2048 --passphrase S]
  keys          --dir path --email a@x.com
  delkey        --dir path --email a@x.com --fingerprint FP
  import        --dir path --email a@x.com --key-file key.asc [--passphrase S]
  addcontact    --dir path --owner a@x.com --email b@y.com --key-file pub.asc [--name N]
  contacts      --dir path --owner a@x.com
  delcontactkey --dir path --owner a@x.com --contact b@y.com --fingerprint FP
  encrypt       --dir path --owner a@x.com --to b@y.com,c@z.com [--in msg.txt]
  decrypt       --dir path [--in msg.asc]

Every subcommand accepts --mongo URI --db autopgp --coll kv to use MongoDB
instead of the local directory. Commands that touch secrets prompt for the
master password on stdin.
`)
}

func buildApp(dir, mongoURI, db, coll string) (*app, error) {
	a := &app{}
	var store storage.Store
	if mongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ms, err := storage.NewMongoStore(ctx, mongoURI, db, coll)
		if err != nil {
			return nil, err
		}
		a.mongo = ms
		store = ms
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		store = storage.NewFileStore(dir)
	}

	secrets := vault.NewSecretStore()
	a.persist = vault.NewPersister(store)
	sess := session.New(secrets, a.persist, session.Config{AutoLock: -1})
	contactReg := contacts.New(secrets, a.persist)

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	a.r = router.New(
		sess,
		keyring.New(secrets, a.persist),
		contactReg,
		ops.New(secrets, contactReg, ops.PendingReject),
		log,
	)
	return a, nil
}

func (a *app) close() {
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.mongo.Close(ctx)
	}
}

// dispatch runs one router operation and converts a failure response back
// into an error for dieIf.
func (a *app) dispatch(op router.Op, payload any) (router.Response, error) {
	req := router.Request{Type: op, Origin: "cli"}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return router.Response{}, err
		}
		req.Payload = raw
	}
	resp := a.r.Dispatch(context.Background(), req)
	if !resp.Success {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// unlocked prompts for the master password, unlocks, runs fn and locks
// again, persisting any changes.
func (a *app) unlocked(fn func() error) error {
	master, err := promptSecret("Master password: ")
	if err != nil {
		return err
	}
	if _, err := a.dispatch(router.OpUnlock, map[string]string{"password": string(master)}); err != nil {
		zero(master)
		return err
	}
	zero(master)
	defer a.dispatch(router.OpLock, nil)
	return fn()
}

func cmdInit(a *app) error {
	master, err := promptSecret("New master password: ")
	if err != nil {
		return err
	}
	defer zero(master)
	if _, err := a.dispatch(router.OpInitVault, map[string]string{"password": string(master)}); err != nil {
		return err
	}
	if _, err := a.dispatch(router.OpLock, nil); err != nil {
		return err
	}
	fmt.Println("Vault initialized.")
	return nil
}

func cmdStatus(a *app) error {
	initialized, err := a.persist.Initialized(context.Background())
	if err != nil {
		return err
	}
	fmt.Println("initialized:", initialized)
	return nil
}

func cmdGenkey(a *app, email, name, passphrase string, bits int) error {
	if email == "" {
		return errors.New("--email required")
	}
	return a.unlocked(func() error {
		resp, err := a.dispatch(router.OpGenerateKeys, map[string]any{
			"email":      email,
			"passphrase": passphrase,
			"settings":   map[string]any{"name": name, "bits": bits},
		})
		if err != nil {
			return err
		}
		fmt.Println("Generated key:", resp.Fingerprint)
		return nil
	})
}

func cmdKeys(a *app, email string) error {
	if email == "" {
		return errors.New("--email required")
	}
	return a.unlocked(func() error {
		resp, err := a.dispatch(router.OpGetKeys, map[string]string{"email": email})
		if err != nil {
			return err
		}
		return printJSON(resp.Keys)
	})
}

func cmdDelkey(a *app, email, fingerprint string) error {
	if email == "" || fingerprint == "" {
		return errors.New("--email and --fingerprint required")
	}
	return a.unlocked(func() error {
		if _, err := a.dispatch(router.OpDeleteKey, map[string]string{
			"email": email, "keyId": fingerprint,
		}); err != nil {
			return err
		}
		fmt.Println("Deleted key:", fingerprint)
		return nil
	})
}

func cmdImport(a *app, email, keyFile, passphrase string) error {
	if email == "" || keyFile == "" {
		return errors.New("--email and --key-file required")
	}
	armored, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}
	return a.unlocked(func() error {
		resp, err := a.dispatch(router.OpImportKey, map[string]string{
			"email":             email,
			"armoredPrivateKey": string(armored),
			"passphrase":        passphrase,
		})
		if err != nil {
			return err
		}
		fmt.Println("Imported key:", resp.Fingerprint)
		return nil
	})
}

func cmdAddContact(a *app, owner, email, name, keyFile string) error {
	if owner == "" || email == "" || keyFile == "" {
		return errors.New("--owner, --email and --key-file required")
	}
	armored, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}
	return a.unlocked(func() error {
		resp, err := a.dispatch(router.OpAddContact, map[string]any{
			"currentUserEmail": owner,
			"newContact": map[string]string{
				"email":            email,
				"name":             name,
				"publicKeyArmored": string(armored),
			},
		})
		if err != nil {
			return err
		}
		return printJSON(resp.Contact)
	})
}

func cmdContacts(a *app, owner string) error {
	if owner == "" {
		return errors.New("--owner required")
	}
	return a.unlocked(func() error {
		resp, err := a.dispatch(router.OpGetContacts, map[string]string{"email": owner})
		if err != nil {
			return err
		}
		return printJSON(resp.Contacts)
	})
}

func cmdDelContactKey(a *app, owner, contact, fingerprint string) error {
	if owner == "" || contact == "" || fingerprint == "" {
		return errors.New("--owner, --contact and --fingerprint required")
	}
	return a.unlocked(func() error {
		if _, err := a.dispatch(router.OpDeleteContactKey, map[string]string{
			"currentUserEmail": owner,
			"contactEmail":     contact,
			"keyFingerprint":   fingerprint,
		}); err != nil {
			return err
		}
		fmt.Println("Deleted contact key:", fingerprint)
		return nil
	})
}

func cmdEncrypt(a *app, owner, to, inFile string) error {
	if owner == "" || to == "" {
		return errors.New("--owner and --to required")
	}
	content, err := readInput(inFile)
	if err != nil {
		return err
	}
	recipients := strings.Split(to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}
	return a.unlocked(func() error {
		resp, err := a.dispatch(router.OpEncrypt, map[string]any{
			"owner":      owner,
			"recipients": recipients,
			"content":    string(content),
		})
		if err != nil {
			if resp.Selection != nil {
				// Surface the choices so the user can add contacts or
				// delete spare keys before retrying.
				_ = printJSON(resp.Selection)
			}
			return err
		}
		fmt.Println(resp.EncryptedContent)
		return nil
	})
}

func cmdDecrypt(a *app, inFile string) error {
	armored, err := readInput(inFile)
	if err != nil {
		return err
	}
	return a.unlocked(func() error {
		resp, err := a.dispatch(router.OpDecrypt, map[string]string{
			"armoredMessage": string(armored),
		})
		if err != nil && resp.Error == "password_required" {
			pass, perr := promptSecret("Key passphrase for " + resp.KeyFingerprint + ": ")
			if perr != nil {
				return perr
			}
			defer zero(pass)
			resp, err = a.dispatch(router.OpPerformDecrypt, map[string]string{"passphrase": string(pass)})
		}
		if err != nil {
			return err
		}
		fmt.Println("verification:", resp.Verification)
		fmt.Println(resp.DecryptedContent)
		return nil
	})
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func promptSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	br := bufio.NewReader(os.Stdin)
	secret, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(secret) > 0 && secret[len(secret)-1] == '\n' {
		secret = secret[:len(secret)-1]
	}
	return secret, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Package router dispatches typed {type, payload} requests to the vault
// subsystems and converts every outcome, including panics, into a
// {success, error} response. Callers never see a Go error cross this
// boundary.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ftlframe/auto-pgp/internal/audit"
	"github.com/ftlframe/auto-pgp/internal/contacts"
	"github.com/ftlframe/auto-pgp/internal/crypto"
	"github.com/ftlframe/auto-pgp/internal/keyring"
	"github.com/ftlframe/auto-pgp/internal/ops"
	"github.com/ftlframe/auto-pgp/internal/session"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

type Op string

const (
	OpInitVault        Op = "INIT_VAULT"
	OpUnlock           Op = "UNLOCK"
	OpLock             Op = "LOCK"
	OpLogin            Op = "LOGIN"
	OpGenerateKeys     Op = "GENERATE_KEYS"
	OpGetKeys          Op = "GET_KEYS"
	OpDeleteKey        Op = "DELETE_KEY"
	OpImportKey        Op = "IMPORT_KEY"
	OpAddContact       Op = "ADD_CONTACT"
	OpGetContacts      Op = "GET_CONTACTS"
	OpDeleteContactKey Op = "DELETE_CONTACT_KEY"
	OpSetActiveEmail   Op = "SET_ACTIVE_EMAIL"
	OpGetActiveEmail   Op = "GET_ACTIVE_EMAIL"
	OpEncrypt          Op = "PGP_ENCRYPT_REQUEST"
	OpDecrypt          Op = "PGP_DECRYPT_REQUEST"
	OpPerformDecrypt   Op = "PERFORM_DECRYPTION"
	OpRetryPending     Op = "RETRY_PENDING_ACTION"
)

// Error codes the host UI switches on. Anything else is a literal message.
const (
	errVaultLocked          = "vault_locked"
	errKeySelectionRequired = "key_selection_required"
	errPasswordRequired     = "password_required"
	errBusy                 = "busy"
	errWrongPassword        = "Decryption failed. Incorrect password?"
)

type Request struct {
	Type    Op              `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

// Response is the single wire shape for every operation; unused fields stay
// omitted.
type Response struct {
	Success          bool                        `json:"success"`
	Error            string                      `json:"error,omitempty"`
	Fingerprint      string                      `json:"fingerprint,omitempty"`
	Keys             []keyring.Info              `json:"keys,omitempty"`
	Contact          *vault.Contact              `json:"contact,omitempty"`
	Contacts         []*vault.Contact            `json:"contacts,omitempty"`
	Email            string                      `json:"email,omitempty"`
	EncryptedContent string                      `json:"encryptedContent,omitempty"`
	DecryptedContent string                      `json:"decryptedContent,omitempty"`
	Verification     string                      `json:"verification,omitempty"`
	KeyFingerprint   string                      `json:"keyFingerprint,omitempty"`
	Selection        *ops.SelectionRequiredError `json:"payload,omitempty"`
}

func ok() Response { return Response{Success: true} }

func fail(msg string) Response { return Response{Success: false, Error: msg} }

func failf(f string, a ...any) Response {
	return Response{Success: false, Error: fmt.Sprintf(f, a...)}
}

// Notifier receives results of retried pending actions, addressed to the
// origin recorded with the original request.
type Notifier interface {
	Notify(origin string, resp Response)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, Response) {}

// Router holds the volatile active-identity state and fans requests out to
// the session manager, registries and orchestrator.
type Router struct {
	session  *session.Manager
	keys     *keyring.Registry
	contacts *contacts.Registry
	orch     *ops.Orchestrator
	notify   Notifier
	log      *logrus.Logger
	trail    *audit.Trail

	mu          sync.Mutex
	activeEmail string
}

func New(sess *session.Manager, keys *keyring.Registry, contactReg *contacts.Registry, orch *ops.Orchestrator, log *logrus.Logger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Router{
		session:  sess,
		keys:     keys,
		contacts: contactReg,
		orch:     orch,
		notify:   noopNotifier{},
		log:      log,
		trail:    audit.New(),
	}
	sess.SetOnLock(r.clearActiveEmail)
	return r
}

// SetNotifier installs the out-of-band result channel for retried actions.
func (r *Router) SetNotifier(n Notifier) {
	if n != nil {
		r.notify = n
	}
}

func (r *Router) clearActiveEmail() {
	r.mu.Lock()
	r.activeEmail = ""
	r.mu.Unlock()
}

// Audit returns the router's operation trail.
func (r *Router) Audit() *audit.Trail {
	return r.trail
}

// ActiveEmail returns the current identity, empty when none is set.
func (r *Router) ActiveEmail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeEmail
}

// Dispatch executes one request. It never panics; an unexpected panic in a
// handler is logged and reported as a generic failure.
func (r *Router) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("op", req.Type).Errorf("router: panic in handler: %v", rec)
			resp = fail("internal error")
		}
		r.trail.Record(string(req.Type), resp.Success)
	}()

	r.session.Touch()

	switch req.Type {
	case OpInitVault:
		return r.handleInitVault(ctx, req)
	case OpUnlock:
		return r.handleUnlock(ctx, req)
	case OpLock:
		r.session.Lock(ctx)
		return ok()
	case OpLogin:
		return r.handleLogin(ctx, req)
	case OpGenerateKeys:
		return r.handleGenerateKeys(ctx, req)
	case OpGetKeys:
		return r.handleGetKeys(req)
	case OpDeleteKey:
		return r.handleDeleteKey(ctx, req)
	case OpImportKey:
		return r.handleImportKey(ctx, req)
	case OpAddContact:
		return r.handleAddContact(ctx, req)
	case OpGetContacts:
		return r.handleGetContacts(req)
	case OpDeleteContactKey:
		return r.handleDeleteContactKey(ctx, req)
	case OpSetActiveEmail:
		return r.handleSetActiveEmail(req)
	case OpGetActiveEmail:
		return Response{Success: true, Email: r.ActiveEmail()}
	case OpEncrypt:
		return r.handleEncrypt(ctx, req)
	case OpDecrypt:
		return r.handleDecrypt(ctx, req)
	case OpPerformDecrypt:
		return r.handlePerformDecryption(ctx, req)
	case OpRetryPending:
		return r.handleRetryPending(ctx)
	default:
		return failf("unknown operation %q", req.Type)
	}
}

// errResponse maps the layered error vocabulary onto the wire codes.
func errResponse(err error) Response {
	var sel *ops.SelectionRequiredError
	var pass *ops.PassphraseRequiredError
	switch {
	case errors.Is(err, vault.ErrLocked):
		return fail(errVaultLocked)
	case errors.As(err, &sel):
		return Response{Success: false, Error: errKeySelectionRequired, Selection: sel}
	case errors.As(err, &pass):
		return Response{Success: false, Error: errPasswordRequired, KeyFingerprint: pass.Fingerprint}
	case errors.Is(err, crypto.ErrAuthentication):
		return fail(errWrongPassword)
	case errors.Is(err, ops.ErrBusy):
		return fail(errBusy)
	default:
		return fail(err.Error())
	}
}

func decodePayload(req Request, into any) error {
	if len(req.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(req.Payload, into)
}

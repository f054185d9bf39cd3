package router

import (
	"context"

	"github.com/ftlframe/auto-pgp/internal/contacts"
	"github.com/ftlframe/auto-pgp/internal/ops"
	"github.com/ftlframe/auto-pgp/internal/pgp"
)

type passwordPayload struct {
	Password string `json:"password"`
}

func (r *Router) handleInitVault(ctx context.Context, req Request) Response {
	var p passwordPayload
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	if err := r.session.Initialize(ctx, p.Password); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (r *Router) handleUnlock(ctx context.Context, req Request) Response {
	var p passwordPayload
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	if err := r.session.Unlock(ctx, p.Password); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (r *Router) handleLogin(ctx context.Context, req Request) Response {
	var p passwordPayload
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	if err := r.session.Login(ctx, p.Password); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (r *Router) handleGenerateKeys(ctx context.Context, req Request) Response {
	var p struct {
		Email      string `json:"email"`
		Passphrase string `json:"passphrase,omitempty"`
		Settings   struct {
			Name    string `json:"name,omitempty"`
			Comment string `json:"comment,omitempty"`
			Bits    int    `json:"bits,omitempty"`
		} `json:"settings,omitempty"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	fp, err := r.keys.Generate(ctx, p.Email, p.Passphrase, pgp.KeyOptions{
		Name:    p.Settings.Name,
		Comment: p.Settings.Comment,
		Bits:    p.Settings.Bits,
	})
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, Fingerprint: fp}
}

// handleGetKeys lists public key material for the active identity. An
// explicit email in the payload overrides it.
func (r *Router) handleGetKeys(req Request) Response {
	email, resp := r.resolveEmail(req)
	if resp != nil {
		return *resp
	}
	keys, err := r.keys.List(email)
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, Keys: keys}
}

func (r *Router) handleDeleteKey(ctx context.Context, req Request) Response {
	var p struct {
		KeyID string `json:"keyId"`
		Email string `json:"email"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	if err := r.keys.Delete(ctx, p.Email, p.KeyID); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (r *Router) handleImportKey(ctx context.Context, req Request) Response {
	var p struct {
		Email             string `json:"email"`
		ArmoredPrivateKey string `json:"armoredPrivateKey"`
		Passphrase        string `json:"passphrase,omitempty"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	fp, err := r.keys.Import(ctx, p.Email, p.ArmoredPrivateKey, p.Passphrase)
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, Fingerprint: fp}
}

func (r *Router) handleAddContact(ctx context.Context, req Request) Response {
	var p struct {
		CurrentUserEmail string              `json:"currentUserEmail"`
		NewContact       contacts.NewContact `json:"newContact"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	c, err := r.contacts.Add(ctx, p.CurrentUserEmail, p.NewContact)
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, Contact: c}
}

func (r *Router) handleGetContacts(req Request) Response {
	email, resp := r.resolveEmail(req)
	if resp != nil {
		return *resp
	}
	list, err := r.contacts.List(email)
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, Contacts: list}
}

func (r *Router) handleDeleteContactKey(ctx context.Context, req Request) Response {
	var p struct {
		CurrentUserEmail string `json:"currentUserEmail"`
		ContactEmail     string `json:"contactEmail"`
		KeyFingerprint   string `json:"keyFingerprint"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	if err := r.contacts.DeleteKey(ctx, p.CurrentUserEmail, p.ContactEmail, p.KeyFingerprint); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (r *Router) handleSetActiveEmail(req Request) Response {
	var p struct {
		Email string `json:"email"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	r.mu.Lock()
	r.activeEmail = p.Email
	r.mu.Unlock()
	return ok()
}

func (r *Router) handleEncrypt(ctx context.Context, req Request) Response {
	var p struct {
		Owner          string                `json:"owner,omitempty"`
		Recipients     []string              `json:"recipients"`
		Content        string                `json:"content"`
		Selections     *ops.Selections       `json:"selections,omitempty"`
		NewContactKeys []contacts.NewContact `json:"newContactKeys,omitempty"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	owner := p.Owner
	if owner == "" {
		owner = r.ActiveEmail()
	}
	if owner == "" {
		return fail("no active identity")
	}
	res, err := r.orch.Encrypt(ctx, ops.EncryptRequest{
		Owner:          owner,
		Recipients:     p.Recipients,
		Content:        p.Content,
		Selections:     p.Selections,
		NewContactKeys: p.NewContactKeys,
		Origin:         req.Origin,
	})
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, EncryptedContent: res.EncryptedContent}
}

func (r *Router) handleDecrypt(ctx context.Context, req Request) Response {
	var p struct {
		ArmoredMessage string `json:"armoredMessage"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	res, err := r.orch.Decrypt(ctx, ops.DecryptRequest{ArmoredMessage: p.ArmoredMessage, Origin: req.Origin})
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, DecryptedContent: res.DecryptedContent, Verification: res.Verification}
}

func (r *Router) handlePerformDecryption(ctx context.Context, req Request) Response {
	var p struct {
		Passphrase string `json:"passphrase"`
	}
	if err := decodePayload(req, &p); err != nil {
		return errResponse(err)
	}
	res, err := r.orch.SubmitPassphrase(ctx, p.Passphrase)
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, DecryptedContent: res.DecryptedContent, Verification: res.Verification}
}

// handleRetryPending re-executes the stored action and pushes the result to
// the original origin via the notifier. The inline response reports only
// dispatch success; a retry that suspends again surfaces its suspend code.
func (r *Router) handleRetryPending(ctx context.Context) Response {
	res, err := r.orch.Retry(ctx)
	if err != nil {
		return errResponse(err)
	}
	var out Response
	switch res.Kind {
	case ops.ActionEncrypt:
		out = Response{Success: true, EncryptedContent: res.Encrypt.EncryptedContent}
	case ops.ActionDecrypt:
		out = Response{Success: true, DecryptedContent: res.Decrypt.DecryptedContent, Verification: res.Decrypt.Verification}
	}
	r.notify.Notify(res.Origin, out)
	return out
}

// resolveEmail picks the payload email when present, otherwise the active
// identity. The second return is non-nil when neither is available.
func (r *Router) resolveEmail(req Request) (string, *Response) {
	var p struct {
		Email string `json:"email,omitempty"`
	}
	if len(req.Payload) > 0 {
		if err := decodePayload(req, &p); err != nil {
			resp := errResponse(err)
			return "", &resp
		}
	}
	email := p.Email
	if email == "" {
		email = r.ActiveEmail()
	}
	if email == "" {
		resp := fail("no active identity")
		return "", &resp
	}
	return email, nil
}

// Package httpapi exposes the operation router over a small HTTP surface
// for development transports and the CLI daemon mode.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ftlframe/auto-pgp/internal/contacts"
	"github.com/ftlframe/auto-pgp/internal/keyring"
	"github.com/ftlframe/auto-pgp/internal/ops"
	"github.com/ftlframe/auto-pgp/internal/router"
	"github.com/ftlframe/auto-pgp/internal/session"
	"github.com/ftlframe/auto-pgp/internal/storage"
	"github.com/ftlframe/auto-pgp/internal/vault"
)

type Server struct {
	cfg    Config
	mux    *http.ServeMux
	router *router.Router
	sess   *session.Manager
	log    *logrus.Logger

	mongo *storage.MongoStore

	// Unlock attempts carry password guesses, so they are throttled per
	// client IP.
	rlUnlockIP *multiLimiter
}

func New(ctx context.Context, cfg Config, log *logrus.Logger) (*Server, error) {
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{cfg: cfg, mux: http.NewServeMux(), log: log}

	var store storage.Store
	if cfg.MongoURI != "" {
		ms, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
		if err != nil {
			return nil, err
		}
		s.mongo = ms
		store = ms
	} else {
		if err := os.MkdirAll(cfg.VaultDir, 0o700); err != nil {
			return nil, err
		}
		store = storage.NewFileStore(cfg.VaultDir)
	}

	secrets := vault.NewSecretStore()
	persist := vault.NewPersister(store)
	s.sess = session.New(secrets, persist, session.Config{AutoLock: cfg.AutoLock})
	contactReg := contacts.New(secrets, persist)

	policy := ops.PendingReplace
	if cfg.PendingPolicy == "reject" {
		policy = ops.PendingReject
	}
	s.router = router.New(
		s.sess,
		keyring.New(secrets, persist),
		contactReg,
		ops.New(secrets, contactReg, policy),
		log,
	)

	perWindow := func(n int, window time.Duration) float64 { return float64(n) / window.Seconds() }
	s.rlUnlockIP = newMultiLimiter(rate.Limit(perWindow(10, time.Minute)), 10, time.Hour)

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/op", s.handleOp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req router.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if guessesPassword(req.Type) && !s.rlUnlockIP.allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}
	writeJSON(w, s.router.Dispatch(r.Context(), req))
}

// guessesPassword reports whether an operation carries a master password
// attempt and therefore needs throttling.
func guessesPassword(op router.Op) bool {
	switch op {
	case router.OpUnlock, router.OpLogin, router.OpInitVault:
		return true
	default:
		return false
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorf("httpapi: panic: %v", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()
	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

// Addr returns the listen address after defaulting.
func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
}

// Close locks the vault, persisting it, and releases the storage backend.
func (s *Server) Close(ctx context.Context) error {
	s.sess.Lock(ctx)
	if s.mongo != nil {
		return s.mongo.Close(ctx)
	}
	return nil
}

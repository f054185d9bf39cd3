// Command autopgpd serves the vault operation router over HTTP for
// development transports. Configuration comes from the environment, with an
// optional .env file.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ftlframe/auto-pgp/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(envOr("AUTOPGP_LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	cfg := httpapi.Config{
		Addr:            os.Getenv("AUTOPGP_ADDR"),
		VaultDir:        os.Getenv("AUTOPGP_VAULT_DIR"),
		MongoURI:        os.Getenv("AUTOPGP_MONGO_URI"),
		MongoDB:         os.Getenv("AUTOPGP_MONGO_DB"),
		MongoCollection: os.Getenv("AUTOPGP_MONGO_COLLECTION"),
		PendingPolicy:   os.Getenv("AUTOPGP_PENDING_POLICY"),
	}
	if raw := os.Getenv("AUTOPGP_AUTO_LOCK"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.WithError(err).Fatal("invalid AUTOPGP_AUTO_LOCK")
		}
		cfg.AutoLock = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := httpapi.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("could not start")
	}

	srv := &http.Server{
		Addr:              api.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("autopgpd listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
	if err := api.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("close storage")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

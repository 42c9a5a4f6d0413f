package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hamzasheedi/secure-hub/internal/app"
	"github.com/hamzasheedi/secure-hub/internal/auth"
	"github.com/hamzasheedi/secure-hub/internal/config"
	"github.com/hamzasheedi/secure-hub/internal/platform"
	"github.com/hamzasheedi/secure-hub/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := app.NewLogger(cfg)

	if err := platform.DisableCoreDumps(); err != nil {
		log.WithError(err).Warn("could not disable core dumps")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open vault")
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.WithError(err).Warn("close stores")
		}
	}()

	seed, err := cfg.JWTSeedBytes()
	if err != nil {
		log.WithError(err).Fatal("jwt seed")
	}
	if seed == nil {
		log.Warn("VAULT_JWT_SEED not set, using an ephemeral signing key")
	}
	signer, err := auth.NewJWTSignerFromSeed(seed, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		log.WithError(err).Fatal("jwt signer")
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.New(server.Config{
			MaxPayloadBytes:  cfg.MaxPayloadBytes,
			DecryptPerWindow: cfg.DecryptAttempts,
			DecryptWindow:    cfg.DecryptWindow,
			TrustProxy:       cfg.TrustProxy,
		}, a.Vault, signer, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "suite": a.Vault.SuiteID()}).Info("vaultd listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("graceful shutdown")
	}
}

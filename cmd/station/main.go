// Command station runs the trust station: the registry of agents, the
// owner of the signing key pair, and the issuer of certificates.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenttrust/station/internal/certs"
	"github.com/agenttrust/station/internal/config"
	"github.com/agenttrust/station/internal/stationapi"
	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/internal/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("agent trust station starting")

	cfg := config.LoadStation()
	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer shutdownTelemetry(ctx)

	st, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer st.Close()

	if cfg.PrivateKeyPEM == "" {
		log.Fatal().Msg("STATION_PRIVATE_KEY is required and has no default")
	}
	if cfg.PublicKeyPEM == "" {
		log.Fatal().Msg("STATION_PUBLIC_KEY is required and has no default")
	}

	privateKey, err := certs.ParsePrivateKeyPEM(cfg.PrivateKeyPEM)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse station signing key")
	}

	issuer := certs.NewIssuer(st, privateKey, cfg.CertificateExpirySeconds)
	publicKey, err := certs.ParsePublicKeyPEM(cfg.PublicKeyPEM)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse station public key")
	}
	localVerifier := certs.NewLocalVerifier(publicKey)
	remoteVerifier := certs.NewRemoteVerifier(localVerifier, st)

	router := stationapi.NewRouter(cfg, &stationapi.Server{
		Store:             st,
		Issuer:            issuer,
		RemoteVerifier:    remoteVerifier,
		PublicKeyPEM:      cfg.PublicKeyPEM,
		ServiceName:       cfg.Telemetry.ServiceName,
		CertExpirySeconds: cfg.CertificateExpirySeconds,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Msg("agent trust station ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func buildStore(ctx context.Context, cfg *config.StationConfig) (store.Store, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required and has no default")
	}
	return store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/keyvault/internal/adapter/driven/filesystem"
	"github.com/ericfisherdev/keyvault/internal/adapter/driven/logo"
	sqliteadapter "github.com/ericfisherdev/keyvault/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/keyvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/keyvault/internal/application"
	"github.com/ericfisherdev/keyvault/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"upload_dir", cfg.UploadDir,
		"max_upload_bytes", cfg.MaxUploadBytes,
		"password_sealing", cfg.HasSecretKey(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Storage supervisor: connects, bootstraps schema and indexes, and
	// reconnects on failure. Requests fail with storage_unavailable meanwhile.
	supervisor := sqliteadapter.NewSupervisor(cfg.DBPath,
		sqliteadapter.WithRetryDelay(cfg.ReconnectDelay),
		sqliteadapter.WithProbeInterval(cfg.ProbeInterval),
		sqliteadapter.WithLogger(logger.With("component", "storage")),
	)

	accountRepo, err := sqliteadapter.NewAccountRepo(supervisor, cfg.SecretKey)
	if err != nil {
		return err
	}

	// 4. Driven adapters for logos and attachments.
	logos := logo.New(&http.Client{}, logo.Config{Timeout: cfg.LogoTimeout}, logger.With("component", "logo"))
	attachments := filesystem.NewAttachmentStore(cfg.UploadDir, cfg.MaxUploadBytes, logger.With("component", "attachments"))

	// 5. Application services.
	accountSvc := application.NewAccountService(accountRepo, logos, attachments, logger)
	healthSvc := application.NewHealthService(supervisor)

	// 6. HTTP server.
	handler := httphandler.NewHandler(accountSvc, healthSvc, attachments.MaxSize(), logger)
	auth := httphandler.NewAuthenticator([]byte(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, auth, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		supervisor.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 7. Wait for shutdown signal (or a server failure), then drain.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	logger.Info("keyvault started", "listen_addr", cfg.ListenAddr)

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

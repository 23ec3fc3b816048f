package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/backend"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/config"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/httpapi"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/hub"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/journal"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/logging"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/surface"
	"github.com/DoyleJ11/ecosmart-kiosk/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	be := backend.New(cfg.BackendURL,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithLogger(log),
	)

	opts := surface.Options{
		PollInterval:      cfg.PollInterval,
		Grace:             cfg.LogoutGrace,
		ScanAutoLogout:    cfg.ScanAutoLogout,
		PetugasAutoLogout: cfg.PetugasAutoLogout,
		Logger:            log,
	}
	var journalReader httpapi.Journal
	if cfg.JournalDSN != "" {
		store, openErr := journal.Open(cfg.JournalDSN, log)
		if openErr != nil {
			return fmt.Errorf("open journal: %w", openErr)
		}
		defer func() { err = multierr.Append(err, store.Close()) }()
		opts.Journal = store
		journalReader = store
	}

	// The hub outlives the signal so surfaces stop after the listener.
	h := hub.NewHub(context.WithoutCancel(ctx), be, opts)
	api := httpapi.New(h, be, httpapi.Options{ChatRate: cfg.ChatRate, Journal: journalReader, Logger: log})

	var origins []string
	if cfg.Dev {
		origins = []string{"localhost:*", "127.0.0.1:*"}
	}
	handler := httpapi.SetupRoutes(api, ws.Handler(h, ws.Options{OriginPatterns: origins, PingInterval: cfg.WSPingInterval, Logger: log}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("backend", cfg.BackendURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Combine(
			srv.Shutdown(sctx),
			h.Shutdown(sctx),
		)
	})
	return g.Wait()
}
